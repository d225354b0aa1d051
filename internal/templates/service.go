// Package templates manages the lifecycle of recurring expense templates:
// creation, partial updates, soft deletion and occurrence previews.
// Run state (next and last run) is only advanced by the recurrence runner.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 100
	maxPreviewCount  = 100
)

// CreateInput is the payload for a new template.
type CreateInput struct {
	OrganizationID string `json:"-"`
	CreatedBy      string `json:"-"`

	Name       string             `json:"name"`
	Frequency  schedule.Frequency `json:"frequency"`
	Interval   int                `json:"interval"`
	DayOfWeek  *int               `json:"dayOfWeek,omitempty"`
	DayOfMonth *int               `json:"dayOfMonth,omitempty"`

	StartDate Date  `json:"startDate"`
	EndDate   *Date `json:"endDate,omitempty"`
	// NextRunAt overrides the first occurrence. Defaults to StartDate.
	NextRunAt *Date `json:"nextRunAt,omitempty"`

	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Category      string          `json:"category"`
	Vendor        string          `json:"vendor"`
	PaymentMethod string          `json:"paymentMethod"`
	AutoPost      bool            `json:"autoPost"`
}

// Service implements template CRUD on top of a TemplateRepository.
type Service struct {
	store storage.TemplateRepository
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewService creates a template service.
func NewService(store storage.TemplateRepository, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Create validates in and stores a new active template.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.RecurringTemplate, error) {
	if strings.TrimSpace(in.OrganizationID) == "" {
		return nil, invalid("organizationId", "is required")
	}

	freq, err := schedule.ParseFrequency(string(in.Frequency))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &domain.RecurringTemplate{
		ID:             s.newID(),
		OrganizationID: in.OrganizationID,
		Name:           strings.TrimSpace(in.Name),
		Frequency:      freq,
		Interval:       in.Interval,
		DayOfWeek:      in.DayOfWeek,
		DayOfMonth:     in.DayOfMonth,
		StartDate:      wallClockUTC(in.StartDate.Time),
		NextRunAt:      wallClockUTC(in.StartDate.Time),
		Amount:         in.Amount,
		Currency:       in.Currency,
		Category:       strings.TrimSpace(in.Category),
		Vendor:         strings.TrimSpace(in.Vendor),
		PaymentMethod:  strings.TrimSpace(in.PaymentMethod),
		AutoPost:       in.AutoPost,
		Status:         domain.TemplateActive,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.EndDate != nil {
		end := wallClockUTC(in.EndDate.Time)
		t.EndDate = &end
	}
	if in.NextRunAt != nil {
		t.NextRunAt = wallClockUTC(in.NextRunAt.Time)
	}

	if err := validate(t); err != nil {
		return nil, err
	}
	if t.PastEnd(t.NextRunAt) {
		return nil, invalid("nextRunAt", "must not be after endDate")
	}

	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("Create: store template: %w", err)
	}

	s.log.Info().
		Str("template_id", t.ID).
		Str("organization_id", t.OrganizationID).
		Str("frequency", string(t.Frequency)).
		Time("next_run_at", t.NextRunAt).
		Msg("Recurring template created")
	return t, nil
}

// Get returns one template.
func (s *Service) Get(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error) {
	t, err := s.store.GetTemplate(ctx, organizationID, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return t, nil
}

// List returns templates of an organization.
func (s *Service) List(ctx context.Context, filter storage.TemplateFilter) ([]*domain.RecurringTemplate, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	items, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return items, nil
}

// patchFields lists the fields Update accepts, each with its coercion.
var patchFields = map[string]func(t *domain.RecurringTemplate, raw json.RawMessage) error{
	"name": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Name, err = decodeString("name", raw)
		return err
	},
	"amount": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Amount, err = decodeAmount("amount", raw)
		return err
	},
	"currency": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Currency, err = decodeString("currency", raw)
		return err
	},
	"category": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Category, err = decodeString("category", raw)
		return err
	},
	"vendor": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Vendor, err = decodeString("vendor", raw)
		return err
	},
	"paymentMethod": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.PaymentMethod, err = decodeString("paymentMethod", raw)
		return err
	},
	"autoPost": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.AutoPost, err = decodeBool("autoPost", raw)
		return err
	},
	"frequency": func(t *domain.RecurringTemplate, raw json.RawMessage) error {
		s, err := decodeString("frequency", raw)
		if err != nil {
			return err
		}
		t.Frequency, err = schedule.ParseFrequency(s)
		return err
	},
	"interval": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.Interval, err = decodeInt("interval", raw)
		return err
	},
	"dayOfWeek": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.DayOfWeek, err = decodeOptionalInt("dayOfWeek", raw)
		return err
	},
	"dayOfMonth": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.DayOfMonth, err = decodeOptionalInt("dayOfMonth", raw)
		return err
	},
	"startDate": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.StartDate, err = decodeDate("startDate", raw)
		return err
	},
	"endDate": func(t *domain.RecurringTemplate, raw json.RawMessage) (err error) {
		t.EndDate, err = decodeOptionalDate("endDate", raw)
		return err
	},
	"status": func(t *domain.RecurringTemplate, raw json.RawMessage) error {
		s, err := decodeString("status", raw)
		if err != nil {
			return err
		}
		switch st := domain.TemplateStatus(s); st {
		case domain.TemplateActive, domain.TemplatePaused:
			t.Status = st
			return nil
		case domain.TemplateEnded:
			return invalid("status", "use delete to end a template")
		default:
			return invalid("status", "unknown status %q", s)
		}
	},
}

// Update applies a partial update. Unknown fields are rejected; nextRunAt and
// lastRunAt cannot be patched. Ended templates cannot be updated.
func (s *Service) Update(ctx context.Context, organizationID, id string, patch map[string]json.RawMessage) (*domain.RecurringTemplate, error) {
	if len(patch) == 0 {
		return nil, invalid("body", "no fields to update")
	}

	cur, err := s.store.GetTemplate(ctx, organizationID, id)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	if cur.Status == domain.TemplateEnded {
		return nil, fmt.Errorf("Update: template has ended: %w", storage.ErrConflict)
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := cur.Clone()
	for _, k := range keys {
		apply, ok := patchFields[k]
		if !ok {
			return nil, invalid(k, "field cannot be updated")
		}
		if err := apply(&next, patch[k]); err != nil {
			return nil, err
		}
	}

	if err := validate(&next); err != nil {
		return nil, err
	}

	// A shortened end date that already excludes the next occurrence ends the template.
	if next.Status == domain.TemplateActive && next.PastEnd(next.NextRunAt) {
		next.Status = domain.TemplateEnded
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateTemplateDetails(ctx, &next); err != nil {
		return nil, fmt.Errorf("Update: store template: %w", err)
	}

	s.log.Info().
		Str("template_id", id).
		Str("organization_id", organizationID).
		Strs("fields", keys).
		Str("status", string(next.Status)).
		Msg("Recurring template updated")
	return &next, nil
}

// Delete soft-deletes a template by ending it. Deleting an ended template is a no-op.
func (s *Service) Delete(ctx context.Context, organizationID, id string) error {
	cur, err := s.store.GetTemplate(ctx, organizationID, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if cur.Status == domain.TemplateEnded {
		return nil
	}

	cur.Status = domain.TemplateEnded
	cur.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTemplateDetails(ctx, cur); err != nil {
		return fmt.Errorf("Delete: store template: %w", err)
	}

	s.log.Info().Str("template_id", id).Str("organization_id", organizationID).Msg("Recurring template ended")
	return nil
}

// Preview returns up to n upcoming occurrences starting at the template's
// NextRunAt and not exceeding its end date. Ended templates have none.
func (s *Service) Preview(ctx context.Context, organizationID, id string, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, invalid("count", "must be at least 1")
	}
	if n > maxPreviewCount {
		n = maxPreviewCount
	}

	t, err := s.store.GetTemplate(ctx, organizationID, id)
	if err != nil {
		return nil, fmt.Errorf("Preview: %w", err)
	}
	if t.Status == domain.TemplateEnded || t.PastEnd(t.NextRunAt) {
		return []time.Time{}, nil
	}

	rule, err := t.Rule()
	if err != nil {
		return nil, fmt.Errorf("Preview: %w", err)
	}
	rest, err := schedule.Preview(t.NextRunAt, rule, n-1)
	if err != nil {
		return nil, fmt.Errorf("Preview: %w", err)
	}

	out := []time.Time{t.NextRunAt}
	for _, ts := range rest {
		if t.PastEnd(ts) {
			break
		}
		out = append(out, ts)
	}
	return out, nil
}

// validate checks a template and normalizes its currency.
func validate(t *domain.RecurringTemplate) error {
	if t.Name == "" {
		return invalid("name", "is required")
	}
	if _, err := t.Rule(); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return invalid("amount", "must not be negative")
	}

	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if len(t.Currency) != 3 || strings.Trim(t.Currency, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		return invalid("currency", "must be a 3-letter ISO 4217 code")
	}

	if t.StartDate.IsZero() {
		return invalid("startDate", "is required")
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return invalid("endDate", "must not be before startDate")
	}
	if !t.Status.Valid() {
		return invalid("status", "unknown status %q", t.Status)
	}
	return nil
}

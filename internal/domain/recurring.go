package domain

import (
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/shopspring/decimal"
)

// TemplateStatus is the lifecycle state of a recurring template.
type TemplateStatus string

const (
	TemplateActive TemplateStatus = "active"
	TemplatePaused TemplateStatus = "paused"
	// TemplateEnded is terminal: the runner never reactivates an ended template.
	TemplateEnded TemplateStatus = "ended"
)

// Valid reports whether s is a known template status.
func (s TemplateStatus) Valid() bool {
	switch s {
	case TemplateActive, TemplatePaused, TemplateEnded:
		return true
	}
	return false
}

// RecurringTemplate is a standing instruction to produce periodic expense transactions.
// NextRunAt is the scheduling cursor: the date of the next occurrence not yet materialized.
type RecurringTemplate struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`

	Frequency  schedule.Frequency `json:"frequency"`
	Interval   int                `json:"interval"`
	DayOfWeek  *int               `json:"dayOfWeek,omitempty"`
	DayOfMonth *int               `json:"dayOfMonth,omitempty"`

	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Category      string          `json:"category"`
	Vendor        string          `json:"vendor"`
	PaymentMethod string          `json:"paymentMethod"`
	AutoPost      bool            `json:"autoPost"`

	Status    TemplateStatus `json:"status"`
	CreatedBy string         `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Rule derives the schedule rule from the template's nullable schedule fields.
func (t *RecurringTemplate) Rule() (schedule.Rule, error) {
	return schedule.RuleFromFields(t.Frequency, t.Interval, t.DayOfWeek, t.DayOfMonth)
}

// PastEnd reports whether ts falls strictly after the template's end date.
func (t *RecurringTemplate) PastEnd(ts time.Time) bool {
	return t.EndDate != nil && ts.After(*t.EndDate)
}

// Clone returns a deep copy so callers can hold an immutable snapshot.
func (t RecurringTemplate) Clone() RecurringTemplate {
	cp := t
	cp.DayOfWeek = cloneInt(t.DayOfWeek)
	cp.DayOfMonth = cloneInt(t.DayOfMonth)
	cp.EndDate = cloneTime(t.EndDate)
	cp.LastRunAt = cloneTime(t.LastRunAt)
	return cp
}

// UTC returns a deep copy with every timestamp converted to UTC, the form in
// which storage drivers persist templates.
func (t RecurringTemplate) UTC() RecurringTemplate {
	cp := t.Clone()
	cp.StartDate = cp.StartDate.UTC()
	cp.NextRunAt = cp.NextRunAt.UTC()
	cp.CreatedAt = cp.CreatedAt.UTC()
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	if cp.EndDate != nil {
		*cp.EndDate = cp.EndDate.UTC()
	}
	if cp.LastRunAt != nil {
		*cp.LastRunAt = cp.LastRunAt.UTC()
	}
	return cp
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
// It is safe for concurrent use and copies records on the way in and out.
// Timestamps are stored in UTC like the SQL drivers.
// Data is lost on restart; use it for tests and single-process demos.
type Store struct {
	mu           sync.RWMutex
	templates    map[string]*domain.RecurringTemplate
	transactions map[string]*domain.LedgerTransaction
	dedup        map[dedupKey]string
}

type dedupKey struct {
	org      string
	template string
	date     int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		templates:    make(map[string]*domain.RecurringTemplate),
		transactions: make(map[string]*domain.LedgerTransaction),
		dedup:        make(map[dedupKey]string),
	}
}

// Close implements storage.Store.
func (s *Store) Close() error { return nil }

// CreateTemplate implements storage.TemplateRepository.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.RecurringTemplate) error {
	if t.ID == "" {
		return fmt.Errorf("template ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID]; exists {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	cp := t.UTC()
	s.templates[t.ID] = &cp
	return nil
}

// GetTemplate implements storage.TemplateRepository.
func (s *Store) GetTemplate(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok || t.OrganizationID != organizationID {
		return nil, storage.ErrNotFound
	}
	cp := t.Clone()
	return &cp, nil
}

// ListTemplates implements storage.TemplateRepository.
func (s *Store) ListTemplates(ctx context.Context, filter storage.TemplateFilter) ([]*domain.RecurringTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RecurringTemplate
	for _, t := range s.templates {
		if filter.OrganizationID != "" && t.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := t.Clone()
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

// UpdateTemplateDetails implements storage.TemplateRepository.
func (s *Store) UpdateTemplateDetails(ctx context.Context, t *domain.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[t.ID]
	if !ok || cur.OrganizationID != t.OrganizationID {
		return storage.ErrNotFound
	}
	if cur.Status == domain.TemplateEnded {
		return storage.ErrConflict
	}

	next := t.UTC()
	next.NextRunAt = cur.NextRunAt
	next.LastRunAt = cur.LastRunAt
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	s.templates[t.ID] = &next
	return nil
}

// ListDueTemplates implements storage.TemplateRepository.
func (s *Store) ListDueTemplates(ctx context.Context, filter storage.DueFilter) ([]*domain.RecurringTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RecurringTemplate
	for _, t := range s.templates {
		if t.Status != domain.TemplateActive || t.NextRunAt.After(filter.Now) {
			continue
		}
		if filter.OrganizationID != "" && t.OrganizationID != filter.OrganizationID {
			continue
		}
		cp := t.Clone()
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].NextRunAt.Equal(result[j].NextRunAt) {
			return result[i].NextRunAt.Before(result[j].NextRunAt)
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, 0, filter.Limit), nil
}

// AdvanceTemplate implements storage.TemplateRepository.
// The compare-and-set runs under the write lock, so it is atomic.
func (s *Store) AdvanceTemplate(ctx context.Context, adv storage.TemplateAdvance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[adv.ID]
	if !ok || cur.OrganizationID != adv.OrganizationID {
		return storage.ErrNotFound
	}
	if cur.Status != domain.TemplateActive || !cur.NextRunAt.Equal(adv.PrevNextRunAt) {
		return storage.ErrConflict
	}

	cur.NextRunAt = adv.NextRunAt.UTC()
	if adv.LastRunAt != nil {
		last := adv.LastRunAt.UTC()
		cur.LastRunAt = &last
	}
	cur.Status = adv.Status
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// TransactionExists implements storage.LedgerRepository.
func (s *Store) TransactionExists(ctx context.Context, organizationID, templateID string, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.dedup[dedupKey{org: organizationID, template: templateID, date: date.UnixNano()}]
	return ok, nil
}

// InsertTransaction implements storage.LedgerRepository.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.SourceTemplateID != nil {
		key := dedupKey{org: tx.OrganizationID, template: *tx.SourceTemplateID, date: tx.Date.UnixNano()}
		if _, dup := s.dedup[key]; dup {
			return storage.ErrDuplicate
		}
		s.dedup[key] = tx.ID
	}

	cp := *tx
	cp.Date = cp.Date.UTC()
	cp.CreatedAt = cp.CreatedAt.UTC()
	s.transactions[tx.ID] = &cp
	return nil
}

// ListTransactions implements storage.LedgerRepository.
func (s *Store) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerTransaction
	for _, tx := range s.transactions {
		if filter.OrganizationID != "" && tx.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.TemplateID != "" && (tx.SourceTemplateID == nil || *tx.SourceTemplateID != filter.TemplateID) {
			continue
		}
		if !filter.From.IsZero() && tx.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.Date.After(filter.To) {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ storage.Store = (*Store)(nil)

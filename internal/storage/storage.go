// Package storage defines the persistence contract shared by the recurring
// template service, the recurrence runner and the storage drivers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist in the caller's organization.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional write lost a race: the template's
	// next_run_at or status no longer matches what the caller read.
	ErrConflict = errors.New("record changed concurrently")

	// ErrDuplicate is returned when a ledger transaction with the same
	// (organization, source template, date) key already exists.
	ErrDuplicate = errors.New("duplicate ledger transaction")
)

// DueFilter selects active templates whose next run is at or before Now.
type DueFilter struct {
	Now            time.Time
	OrganizationID string // empty means all organizations
	Limit          int
}

// TemplateFilter is used for listing templates.
type TemplateFilter struct {
	OrganizationID string
	Status         domain.TemplateStatus
	Limit          int
	Offset         int
}

// TransactionFilter is used for listing ledger transactions.
type TransactionFilter struct {
	OrganizationID string
	TemplateID     string
	From           time.Time // inclusive, zero means unbounded
	To             time.Time // inclusive, zero means unbounded
	Limit          int
	Offset         int
}

// TemplateAdvance carries the runner's write for one template. It applies only if
// the stored template is still active and its next_run_at equals PrevNextRunAt.
type TemplateAdvance struct {
	ID             string
	OrganizationID string
	PrevNextRunAt  time.Time

	NextRunAt time.Time
	LastRunAt *time.Time
	Status    domain.TemplateStatus
}

// TemplateRepository provides recurring template persistence.
type TemplateRepository interface {
	// CreateTemplate inserts a new template.
	CreateTemplate(ctx context.Context, t *domain.RecurringTemplate) error

	// GetTemplate fetches one template scoped to its organization.
	GetTemplate(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error)

	// ListTemplates lists templates ordered by name.
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*domain.RecurringTemplate, error)

	// UpdateTemplateDetails writes every field except the run state
	// (next_run_at, last_run_at). Ended templates are not updated (ErrConflict).
	UpdateTemplateDetails(ctx context.Context, t *domain.RecurringTemplate) error

	// ListDueTemplates returns active templates due at filter.Now, oldest first.
	ListDueTemplates(ctx context.Context, filter DueFilter) ([]*domain.RecurringTemplate, error)

	// AdvanceTemplate applies the runner's conditional write (ErrConflict if stale).
	AdvanceTemplate(ctx context.Context, adv TemplateAdvance) error
}

// LedgerRepository provides ledger transaction persistence.
type LedgerRepository interface {
	// TransactionExists checks the (organization, template, date) dedup key.
	TransactionExists(ctx context.Context, organizationID, templateID string, date time.Time) (bool, error)

	// InsertTransaction inserts one transaction (ErrDuplicate on dedup key collision).
	InsertTransaction(ctx context.Context, tx *domain.LedgerTransaction) error

	// ListTransactions lists transactions ordered by date then creation time.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.LedgerTransaction, error)
}

// Store is the complete persistence handle passed to services at construction.
type Store interface {
	TemplateRepository
	LedgerRepository
	Close() error
}

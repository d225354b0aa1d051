// Package recurrence walks due recurring templates, materializes one ledger
// transaction per due occurrence and advances each template's schedule.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/runlock"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBatchLimit caps the templates considered by one run when the caller
// does not pass a limit.
const DefaultBatchLimit = 500

const (
	lockKey        = "recurring-run"
	defaultLockTTL = 10 * time.Minute
)

// runLockKey scopes the run lock so runs for different organizations do not
// skip each other. A global run and a scoped run may still overlap; the
// optimistic advance keeps that from double-posting.
func runLockKey(organizationID string) string {
	if organizationID == "" {
		return lockKey
	}
	return lockKey + ":" + organizationID
}

// Failure stages reported in TemplateFailure.Stage.
const (
	StageSchedule = "schedule"
	StageLookup   = "lookup"
	StageInsert   = "insert"
	StageAdvance  = "advance"
)

// RunOptions controls a single run.
type RunOptions struct {
	// Now is the reference time for "due". Zero means the runner's clock.
	Now time.Time

	// OrganizationID restricts the run to one organization. Empty runs globally.
	OrganizationID string

	// Limit caps the templates selected. <= 0 means DefaultBatchLimit.
	Limit int
}

// TemplateFailure records why one template could not be processed.
type TemplateFailure struct {
	TemplateID     string `json:"templateId"`
	OrganizationID string `json:"organizationId"`
	Stage          string `json:"stage"`
	Error          string `json:"error"`
}

// RunResult summarizes a run.
type RunResult struct {
	Now time.Time `json:"now"`

	ProcessedTemplates  int `json:"processedTemplates"`
	CreatedTransactions int `json:"createdTransactions"`
	EndedTemplates      int `json:"endedTemplates"`

	Succeeded []string          `json:"succeeded,omitempty"`
	Failures  []TemplateFailure `json:"failures,omitempty"`
	Conflicts int               `json:"conflicts"`

	// Skipped is true when another run held the lock and nothing was done.
	Skipped bool `json:"skipped"`
}

// Runner executes recurrence runs against a Store.
type Runner struct {
	store   storage.Store
	log     zerolog.Logger
	locker  runlock.Locker
	lockTTL time.Duration
	now     func() time.Time
	newID   func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLocker serializes runs through l. ttl <= 0 uses a 10 minute hold.
func WithLocker(l runlock.Locker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = l
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithClock overrides the clock used when RunOptions.Now is zero.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides how transaction IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner creates a Runner over an explicit storage handle.
func NewRunner(store storage.Store, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:   store,
		log:     log,
		locker:  runlock.Nop{},
		lockTTL: defaultLockTTL,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run selects due templates and processes each one independently.
// Only a failure of the selection query (or of the lock backend) is returned as
// an error; per-template failures are logged and reported in the result.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = r.now()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	result := RunResult{Now: now}
	log := r.log.With().
		Time("now", now).
		Str("organization_id", opts.OrganizationID).
		Int("limit", limit).
		Logger()

	release, ok, err := r.locker.Acquire(ctx, runLockKey(opts.OrganizationID), r.lockTTL)
	if err != nil {
		return result, fmt.Errorf("Run: acquire lock: %w", err)
	}
	if !ok {
		log.Info().Msg("Recurrence run skipped: another run holds the lock")
		result.Skipped = true
		return result, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	due, err := r.store.ListDueTemplates(ctx, storage.DueFilter{
		Now:            now,
		OrganizationID: opts.OrganizationID,
		Limit:          limit,
	})
	if err != nil {
		return result, fmt.Errorf("Run: list due templates: %w", err)
	}

	log.Info().Int("due_templates", len(due)).Msg("Starting recurrence run")

	for _, tpl := range due {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("Recurrence run interrupted")
			return result, fmt.Errorf("Run: %w", err)
		}
		r.processTemplate(ctx, tpl, now, &result)
	}

	log.Info().
		Int("processed_templates", result.ProcessedTemplates).
		Int("created_transactions", result.CreatedTransactions).
		Int("ended_templates", result.EndedTemplates).
		Int("failures", len(result.Failures)).
		Int("conflicts", result.Conflicts).
		Msg("Recurrence run completed")

	return result, nil
}

// processTemplate materializes every occurrence of tpl that is due at now.
// Each occurrence is an independent read-compute-write unit: a failure or
// conflict stops this template without undoing occurrences already advanced.
func (r *Runner) processTemplate(ctx context.Context, tpl *domain.RecurringTemplate, now time.Time, result *RunResult) {
	log := r.log.With().
		Str("template_id", tpl.ID).
		Str("organization_id", tpl.OrganizationID).
		Logger()

	cur := tpl.Clone()
	progressed := false

	fail := func(stage string, err error) {
		log.Error().Err(err).Str("stage", stage).Time("next_run_at", cur.NextRunAt).Msg("Failed to process recurring template")
		result.Failures = append(result.Failures, TemplateFailure{
			TemplateID:     cur.ID,
			OrganizationID: cur.OrganizationID,
			Stage:          stage,
			Error:          err.Error(),
		})
	}

	for cur.Status == domain.TemplateActive && !cur.NextRunAt.After(now) {
		if ctx.Err() != nil {
			break
		}

		if cur.PastEnd(cur.NextRunAt) {
			err := r.store.AdvanceTemplate(ctx, storage.TemplateAdvance{
				ID:             cur.ID,
				OrganizationID: cur.OrganizationID,
				PrevNextRunAt:  cur.NextRunAt,
				NextRunAt:      cur.NextRunAt,
				LastRunAt:      cur.LastRunAt,
				Status:         domain.TemplateEnded,
			})
			if r.handleAdvanceErr(err, &log, result, fail) {
				break
			}
			log.Warn().Time("next_run_at", cur.NextRunAt).Msg("Template was due past its end date, marked ended")
			cur.Status = domain.TemplateEnded
			result.EndedTemplates++
			progressed = true
			break
		}

		rule, err := cur.Rule()
		if err != nil {
			fail(StageSchedule, err)
			break
		}
		next, err := schedule.Next(cur.NextRunAt, rule)
		if err != nil {
			fail(StageSchedule, err)
			break
		}

		created, stage, err := r.materialize(ctx, &cur)
		if err != nil {
			fail(stage, err)
			break
		}
		if created {
			result.CreatedTransactions++
		}

		status := domain.TemplateActive
		if cur.PastEnd(next) {
			status = domain.TemplateEnded
		}
		last := cur.NextRunAt
		err = r.store.AdvanceTemplate(ctx, storage.TemplateAdvance{
			ID:             cur.ID,
			OrganizationID: cur.OrganizationID,
			PrevNextRunAt:  cur.NextRunAt,
			NextRunAt:      next,
			LastRunAt:      &last,
			Status:         status,
		})
		if r.handleAdvanceErr(err, &log, result, fail) {
			break
		}

		log.Debug().
			Time("occurrence", last).
			Time("next_run_at", next).
			Bool("created", created).
			Str("status", string(status)).
			Msg("Advanced recurring template")

		cur.LastRunAt = &last
		cur.NextRunAt = next
		cur.Status = status
		progressed = true
		if status == domain.TemplateEnded {
			result.EndedTemplates++
		}
	}

	if progressed {
		result.ProcessedTemplates++
		result.Succeeded = append(result.Succeeded, cur.ID)
	}
}

// handleAdvanceErr reports whether processing of the template must stop.
func (r *Runner) handleAdvanceErr(err error, log *zerolog.Logger, result *RunResult, fail func(string, error)) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, storage.ErrConflict):
		log.Info().Msg("Template changed concurrently, skipping for this run")
		result.Conflicts++
	default:
		fail(StageAdvance, err)
	}
	return true
}

// materialize inserts the ledger transaction for cur.NextRunAt unless it already exists.
func (r *Runner) materialize(ctx context.Context, cur *domain.RecurringTemplate) (bool, string, error) {
	exists, err := r.store.TransactionExists(ctx, cur.OrganizationID, cur.ID, cur.NextRunAt)
	if err != nil {
		return false, StageLookup, fmt.Errorf("materialize: check existing transaction: %w", err)
	}
	if exists {
		return false, "", nil
	}

	tx := domain.Materialize(cur)
	tx.ID = r.newID()
	tx.CreatedAt = r.now().UTC()

	if err := r.store.InsertTransaction(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return false, "", nil
		}
		return false, StageInsert, fmt.Errorf("materialize: insert transaction: %w", err)
	}
	return true, "", nil
}

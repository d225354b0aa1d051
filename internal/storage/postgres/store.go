// Package postgres implements storage.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const templateColumns = `id, organization_id, name, frequency, interval_count, day_of_week, day_of_month,
	start_date, end_date, next_run_at, last_run_at, amount::text, currency, category, vendor,
	payment_method, auto_post, status, created_by, created_at, updated_at`

const transactionColumns = `id, organization_id, source_template_id, date, amount::text, currency,
	category, vendor, payment_method, notes, status, created_by, created_at`

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, maxConns int32, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Open: ping: %w", err)
	}

	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Debug().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("Postgres store opened")
	return s, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// argList numbers positional parameters as they are appended.
type argList []any

func (a *argList) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanTemplate(row pgx.Row) (*domain.RecurringTemplate, error) {
	var (
		t                    domain.RecurringTemplate
		freq, amount, status string
		dow, dom             *int
		end, last            *time.Time
	)
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &freq, &t.Interval, &dow, &dom,
		&t.StartDate, &end, &t.NextRunAt, &last, &amount, &t.Currency, &t.Category, &t.Vendor,
		&t.PaymentMethod, &t.AutoPost, &status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Frequency = schedule.Frequency(freq)
	t.Status = domain.TemplateStatus(status)
	t.DayOfWeek, t.DayOfMonth = dow, dom
	t.StartDate = t.StartDate.UTC()
	t.NextRunAt = t.NextRunAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.EndDate = utcPtr(end)
	t.LastRunAt = utcPtr(last)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("template %s: amount %q: %w", t.ID, amount, err)
	}
	return &t, nil
}

func scanTransaction(row pgx.Row) (*domain.LedgerTransaction, error) {
	var (
		tx             domain.LedgerTransaction
		amount, status string
	)
	err := row.Scan(&tx.ID, &tx.OrganizationID, &tx.SourceTemplateID, &tx.Date, &amount, &tx.Currency,
		&tx.Category, &tx.Vendor, &tx.PaymentMethod, &tx.Notes, &status, &tx.CreatedBy, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.Status = domain.TransactionStatus(status)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s: amount %q: %w", tx.ID, amount, err)
	}
	return &tx, nil
}

// CreateTemplate implements storage.TemplateRepository.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.RecurringTemplate) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO recurring_templates (id, organization_id, name, frequency, interval_count, day_of_week, day_of_month,
	start_date, end_date, next_run_at, last_run_at, amount, currency, category, vendor,
	payment_method, auto_post, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::numeric,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.OrganizationID, t.Name, string(t.Frequency), t.Interval, t.DayOfWeek, t.DayOfMonth,
		t.StartDate, t.EndDate, t.NextRunAt, t.LastRunAt, t.Amount.String(), t.Currency, t.Category, t.Vendor,
		t.PaymentMethod, t.AutoPost, string(t.Status), t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateTemplate: insert: %w", err)
	}
	return nil
}

// GetTemplate implements storage.TemplateRepository.
func (s *Store) GetTemplate(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE id = $1 AND organization_id = $2`,
		id, organizationID)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetTemplate: %w", err)
	}
	return t, nil
}

// ListTemplates implements storage.TemplateRepository.
func (s *Store) ListTemplates(ctx context.Context, filter storage.TemplateFilter) ([]*domain.RecurringTemplate, error) {
	var (
		where []string
		args  argList
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = "+args.add(filter.OrganizationID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+args.add(string(filter.Status)))
	}

	q := `SELECT ` + templateColumns + ` FROM recurring_templates`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY name, id` + pageClause(&args, filter.Limit, filter.Offset)

	return s.queryTemplates(ctx, "ListTemplates", q, args...)
}

// UpdateTemplateDetails implements storage.TemplateRepository.
func (s *Store) UpdateTemplateDetails(ctx context.Context, t *domain.RecurringTemplate) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE recurring_templates SET
	name = $1, frequency = $2, interval_count = $3, day_of_week = $4, day_of_month = $5,
	start_date = $6, end_date = $7, amount = $8::numeric, currency = $9, category = $10, vendor = $11,
	payment_method = $12, auto_post = $13, status = $14, updated_at = $15
WHERE id = $16 AND organization_id = $17 AND status <> 'ended'`,
		t.Name, string(t.Frequency), t.Interval, t.DayOfWeek, t.DayOfMonth,
		t.StartDate, t.EndDate, t.Amount.String(), t.Currency, t.Category, t.Vendor,
		t.PaymentMethod, t.AutoPost, string(t.Status), t.UpdatedAt,
		t.ID, t.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("UpdateTemplateDetails: update: %w", err)
	}
	return s.resolveNoRows(ctx, tag, t.OrganizationID, t.ID)
}

// ListDueTemplates implements storage.TemplateRepository.
func (s *Store) ListDueTemplates(ctx context.Context, filter storage.DueFilter) ([]*domain.RecurringTemplate, error) {
	var args argList
	q := `SELECT ` + templateColumns + ` FROM recurring_templates
		WHERE status = 'active' AND next_run_at <= ` + args.add(filter.Now)
	if filter.OrganizationID != "" {
		q += ` AND organization_id = ` + args.add(filter.OrganizationID)
	}
	q += ` ORDER BY next_run_at, id` + pageClause(&args, filter.Limit, 0)

	return s.queryTemplates(ctx, "ListDueTemplates", q, args...)
}

// AdvanceTemplate implements storage.TemplateRepository as a single conditional UPDATE.
func (s *Store) AdvanceTemplate(ctx context.Context, adv storage.TemplateAdvance) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE recurring_templates
SET next_run_at = $1, last_run_at = COALESCE($2, last_run_at), status = $3, updated_at = now()
WHERE id = $4 AND organization_id = $5 AND status = 'active' AND next_run_at = $6`,
		adv.NextRunAt, adv.LastRunAt, string(adv.Status),
		adv.ID, adv.OrganizationID, adv.PrevNextRunAt,
	)
	if err != nil {
		return fmt.Errorf("AdvanceTemplate: update: %w", err)
	}
	return s.resolveNoRows(ctx, tag, adv.OrganizationID, adv.ID)
}

func (s *Store) resolveNoRows(ctx context.Context, tag pgconn.CommandTag, organizationID, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recurring_templates WHERE id = $1 AND organization_id = $2)`,
		id, organizationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *Store) queryTemplates(ctx context.Context, op, q string, args ...any) ([]*domain.RecurringTemplate, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// TransactionExists implements storage.LedgerRepository.
func (s *Store) TransactionExists(ctx context.Context, organizationID, templateID string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM ledger_transactions
	WHERE organization_id = $1 AND source_template_id = $2 AND date = $3
)`, organizationID, templateID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: %w", err)
	}
	return exists, nil
}

// InsertTransaction implements storage.LedgerRepository.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_transactions (id, organization_id, source_template_id, date, amount, currency,
	category, vendor, payment_method, notes, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tx.ID, tx.OrganizationID, tx.SourceTemplateID, tx.Date, tx.Amount.String(), tx.Currency,
		tx.Category, tx.Vendor, tx.PaymentMethod, tx.Notes, string(tx.Status), tx.CreatedBy, tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("InsertTransaction: insert: %w", err)
	}
	return nil
}

// ListTransactions implements storage.LedgerRepository.
func (s *Store) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*domain.LedgerTransaction, error) {
	var (
		where []string
		args  argList
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = "+args.add(filter.OrganizationID))
	}
	if filter.TemplateID != "" {
		where = append(where, "source_template_id = "+args.add(filter.TemplateID))
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= "+args.add(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= "+args.add(filter.To))
	}

	q := `SELECT ` + transactionColumns + ` FROM ledger_transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY date, created_at` + pageClause(&args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.LedgerTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: rows: %w", err)
	}
	return out, nil
}

func pageClause(args *argList, limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT " + args.add(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + args.add(offset))
	}
	return b.String()
}

var _ storage.Store = (*Store)(nil)

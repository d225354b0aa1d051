// Package sqlite implements storage.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

const templateColumns = `id, organization_id, name, frequency, interval_count, day_of_week, day_of_month,
	start_date, end_date, next_run_at, last_run_at, amount, currency, category, vendor,
	payment_method, auto_post, status, created_by, created_at, updated_at`

const transactionColumns = `id, organization_id, source_template_id, date, amount, currency,
	category, vendor, payment_method, notes, status, created_by, created_at`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, busyTimeout time.Duration, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite.Open: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite.Open: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("SQLite store opened")
	return &Store{db: db, log: log}, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*domain.RecurringTemplate, error) {
	var (
		t                    domain.RecurringTemplate
		freq, amount, status string
		dow, dom             sql.NullInt64
		start, next          int64
		created, updated     int64
		end, last            sql.NullInt64
		autoPost             bool
	)
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &freq, &t.Interval, &dow, &dom,
		&start, &end, &next, &last, &amount, &t.Currency, &t.Category, &t.Vendor,
		&t.PaymentMethod, &autoPost, &status, &t.CreatedBy, &created, &updated)
	if err != nil {
		return nil, err
	}

	t.Frequency = schedule.Frequency(freq)
	t.Status = domain.TemplateStatus(status)
	t.AutoPost = autoPost
	t.StartDate = fromMillis(start)
	t.NextRunAt = fromMillis(next)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	if dow.Valid {
		v := int(dow.Int64)
		t.DayOfWeek = &v
	}
	if dom.Valid {
		v := int(dom.Int64)
		t.DayOfMonth = &v
	}
	if end.Valid {
		v := fromMillis(end.Int64)
		t.EndDate = &v
	}
	if last.Valid {
		v := fromMillis(last.Int64)
		t.LastRunAt = &v
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("template %s: amount %q: %w", t.ID, amount, err)
	}
	return &t, nil
}

func scanTransaction(row scanner) (*domain.LedgerTransaction, error) {
	var (
		tx             domain.LedgerTransaction
		src            sql.NullString
		date, created  int64
		amount, status string
	)
	err := row.Scan(&tx.ID, &tx.OrganizationID, &src, &date, &amount, &tx.Currency,
		&tx.Category, &tx.Vendor, &tx.PaymentMethod, &tx.Notes, &status, &tx.CreatedBy, &created)
	if err != nil {
		return nil, err
	}
	if src.Valid {
		v := src.String
		tx.SourceTemplateID = &v
	}
	tx.Date = fromMillis(date)
	tx.CreatedAt = fromMillis(created)
	tx.Status = domain.TransactionStatus(status)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s: amount %q: %w", tx.ID, amount, err)
	}
	return &tx, nil
}

// CreateTemplate implements storage.TemplateRepository.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.RecurringTemplate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recurring_templates (`+templateColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrganizationID, t.Name, string(t.Frequency), t.Interval, nullInt(t.DayOfWeek), nullInt(t.DayOfMonth),
		toMillis(t.StartDate), nullMillis(t.EndDate), toMillis(t.NextRunAt), nullMillis(t.LastRunAt),
		t.Amount.String(), t.Currency, t.Category, t.Vendor,
		t.PaymentMethod, t.AutoPost, string(t.Status), t.CreatedBy, toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("CreateTemplate: insert: %w", err)
	}
	return nil
}

// GetTemplate implements storage.TemplateRepository.
func (s *Store) GetTemplate(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE id = ? AND organization_id = ?`,
		id, organizationID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		args  []any
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	q := `SELECT ` + templateColumns + ` FROM recurring_templates`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY name, id` + limitClause(filter.Limit, filter.Offset)

	return s.queryTemplates(ctx, "ListTemplates", q, args...)
}

// UpdateTemplateDetails implements storage.TemplateRepository.
func (s *Store) UpdateTemplateDetails(ctx context.Context, t *domain.RecurringTemplate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurring_templates SET
			name = ?, frequency = ?, interval_count = ?, day_of_week = ?, day_of_month = ?,
			start_date = ?, end_date = ?, amount = ?, currency = ?, category = ?, vendor = ?,
			payment_method = ?, auto_post = ?, status = ?, updated_at = ?
		 WHERE id = ? AND organization_id = ? AND status <> 'ended'`,
		t.Name, string(t.Frequency), t.Interval, nullInt(t.DayOfWeek), nullInt(t.DayOfMonth),
		toMillis(t.StartDate), nullMillis(t.EndDate), t.Amount.String(), t.Currency, t.Category, t.Vendor,
		t.PaymentMethod, t.AutoPost, string(t.Status), toMillis(t.UpdatedAt),
		t.ID, t.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("UpdateTemplateDetails: update: %w", err)
	}
	return s.resolveNoRows(ctx, res, t.OrganizationID, t.ID)
}

// ListDueTemplates implements storage.TemplateRepository.
func (s *Store) ListDueTemplates(ctx context.Context, filter storage.DueFilter) ([]*domain.RecurringTemplate, error) {
	q := `SELECT ` + templateColumns + ` FROM recurring_templates
		WHERE status = 'active' AND next_run_at <= ?`
	args := []any{toMillis(filter.Now)}
	if filter.OrganizationID != "" {
		q += ` AND organization_id = ?`
		args = append(args, filter.OrganizationID)
	}
	q += ` ORDER BY next_run_at, id` + limitClause(filter.Limit, 0)

	return s.queryTemplates(ctx, "ListDueTemplates", q, args...)
}

// AdvanceTemplate implements storage.TemplateRepository as a single conditional UPDATE.
func (s *Store) AdvanceTemplate(ctx context.Context, adv storage.TemplateAdvance) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurring_templates
		 SET next_run_at = ?, last_run_at = COALESCE(?, last_run_at), status = ?, updated_at = ?
		 WHERE id = ? AND organization_id = ? AND status = 'active' AND next_run_at = ?`,
		toMillis(adv.NextRunAt), nullMillis(adv.LastRunAt), string(adv.Status), toMillis(time.Now()),
		adv.ID, adv.OrganizationID, toMillis(adv.PrevNextRunAt),
	)
	if err != nil {
		return fmt.Errorf("AdvanceTemplate: update: %w", err)
	}
	return s.resolveNoRows(ctx, res, adv.OrganizationID, adv.ID)
}

// resolveNoRows turns a zero-row conditional update into ErrNotFound or ErrConflict.
func (s *Store) resolveNoRows(ctx context.Context, res sql.Result, organizationID, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM recurring_templates WHERE id = ? AND organization_id = ?`, id, organizationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check template: %w", err)
	}
	return storage.ErrConflict
}

func (s *Store) queryTemplates(ctx context.Context, op, q string, args ...any) ([]*domain.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM ledger_transactions
		 WHERE organization_id = ? AND source_template_id = ? AND date = ? LIMIT 1`,
		organizationID, templateID, toMillis(date)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("TransactionExists: %w", err)
	}
	return true, nil
}

// InsertTransaction implements storage.LedgerRepository.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_transactions (`+transactionColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, tx.OrganizationID, nullString(tx.SourceTemplateID), toMillis(tx.Date), tx.Amount.String(), tx.Currency,
		tx.Category, tx.Vendor, tx.PaymentMethod, tx.Notes, string(tx.Status), tx.CreatedBy, toMillis(tx.CreatedAt),
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
		args  []any
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.TemplateID != "" {
		where = append(where, "source_template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, toMillis(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, toMillis(filter.To))
	}

	q := `SELECT ` + transactionColumns + ` FROM ledger_transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY date, created_at` + limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
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

// limitClause renders LIMIT/OFFSET. SQLite requires a LIMIT before OFFSET.
func limitClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

var _ storage.Store = (*Store)(nil)

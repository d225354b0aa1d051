// Package bigquery implements storage.Store on BigQuery tables in one dataset.
// All writes are DML statements; the streaming inserter is not used.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

const (
	templatesTable    = "recurring_templates"
	transactionsTable = "ledger_transactions"
)

const templateColumns = `template_id, organization_id, name, frequency, interval_count, day_of_week, day_of_month,
	start_date, end_date, next_run_at, last_run_at, amount, currency, category, vendor,
	payment_method, auto_post, status, created_by, created_ts, updated_ts`

const transactionColumns = `transaction_id, organization_id, source_template_id, transaction_date, amount, currency,
	category, vendor, payment_method, notes, status, created_by, created_ts`

var errNoDMLStats = errors.New("job finished without DML statistics")

// Store is a BigQuery-backed storage.Store.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	log       zerolog.Logger
	ownClient bool
}

// NewStore creates a BigQuery client for projectID and wraps it.
func NewStore(ctx context.Context, projectID, datasetID string, log zerolog.Logger) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: bigquery client: %w", err)
	}
	s := NewStoreWithClient(client, projectID, datasetID, log)
	s.ownClient = true
	return s, nil
}

// NewStoreWithClient wraps an existing client. Close leaves the client open.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string, log zerolog.Logger) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID, log: log}
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s.ownClient && s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return qualifiedTable(s.projectID, s.datasetID, name)
}

func qualifiedTable(projectID, datasetID, name string) string {
	return "`" + projectID + "." + datasetID + "." + name + "`"
}

// runDML runs a DML statement and returns the number of affected rows.
func (s *Store) runDML(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, errNoDMLStats
}

func templateParams(r *TemplateRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "template_id", Value: r.TemplateID},
		{Name: "organization_id", Value: r.OrganizationID},
		{Name: "name", Value: r.Name},
		{Name: "frequency", Value: r.Frequency},
		{Name: "interval_count", Value: r.IntervalCount},
		{Name: "day_of_week", Value: r.DayOfWeek},
		{Name: "day_of_month", Value: r.DayOfMonth},
		{Name: "start_date", Value: r.StartDate},
		{Name: "end_date", Value: r.EndDate},
		{Name: "next_run_at", Value: r.NextRunAt},
		{Name: "last_run_at", Value: r.LastRunAt},
		{Name: "amount", Value: r.Amount},
		{Name: "currency", Value: r.Currency},
		{Name: "category", Value: r.Category},
		{Name: "vendor", Value: r.Vendor},
		{Name: "payment_method", Value: r.PaymentMethod},
		{Name: "auto_post", Value: r.AutoPost},
		{Name: "status", Value: r.Status},
		{Name: "created_by", Value: r.CreatedBy},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}

func withoutParams(params []bigquery.QueryParameter, names ...string) []bigquery.QueryParameter {
	out := params[:0:0]
	for _, p := range params {
		drop := false
		for _, n := range names {
			if p.Name == n {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, p)
		}
	}
	return out
}

// CreateTemplate implements storage.TemplateRepository.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.RecurringTemplate) error {
	sql := `INSERT INTO ` + s.table(templatesTable) + ` (` + templateColumns + `)
		VALUES (@template_id, @organization_id, @name, @frequency, @interval_count, @day_of_week, @day_of_month,
			@start_date, @end_date, @next_run_at, @last_run_at, @amount, @currency, @category, @vendor,
			@payment_method, @auto_post, @status, @created_by, @created_ts, @updated_ts)`
	if _, err := s.runDML(ctx, sql, templateParams(TemplateToRow(t))); err != nil {
		return fmt.Errorf("CreateTemplate: %w", err)
	}
	return nil
}

// GetTemplate implements storage.TemplateRepository.
func (s *Store) GetTemplate(ctx context.Context, organizationID, id string) (*domain.RecurringTemplate, error) {
	q := s.client.Query(`SELECT ` + templateColumns + ` FROM ` + s.table(templatesTable) + `
		WHERE template_id = @template_id AND organization_id = @organization_id
		LIMIT 1`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "template_id", Value: id},
		{Name: "organization_id", Value: organizationID},
	}
	out, err := readTemplates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetTemplate: %w", err)
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out[0], nil
}

// ListTemplates implements storage.TemplateRepository.
func (s *Store) ListTemplates(ctx context.Context, filter storage.TemplateFilter) ([]*domain.RecurringTemplate, error) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = @organization_id")
		params = append(params, bigquery.QueryParameter{Name: "organization_id", Value: filter.OrganizationID})
	}
	if filter.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}

	sql := `SELECT ` + templateColumns + ` FROM ` + s.table(templatesTable) +
		whereClause(where) + ` ORDER BY name, template_id` + pageClause(filter.Limit, filter.Offset)

	q := s.client.Query(sql)
	q.Parameters = params
	out, err := readTemplates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListTemplates: %w", err)
	}
	return out, nil
}

// UpdateTemplateDetails implements storage.TemplateRepository.
func (s *Store) UpdateTemplateDetails(ctx context.Context, t *domain.RecurringTemplate) error {
	sql := `UPDATE ` + s.table(templatesTable) + ` SET
			name = @name, frequency = @frequency, interval_count = @interval_count,
			day_of_week = @day_of_week, day_of_month = @day_of_month,
			start_date = @start_date, end_date = @end_date, amount = @amount, currency = @currency,
			category = @category, vendor = @vendor, payment_method = @payment_method,
			auto_post = @auto_post, status = @status, updated_ts = @updated_ts
		WHERE template_id = @template_id AND organization_id = @organization_id AND status != 'ended'`

	params := withoutParams(templateParams(TemplateToRow(t)), "next_run_at", "last_run_at", "created_by", "created_ts")
	n, err := s.runDML(ctx, sql, params)
	if err != nil {
		return fmt.Errorf("UpdateTemplateDetails: %w", err)
	}
	if n == 0 {
		return s.resolveNoRows(ctx, t.OrganizationID, t.ID)
	}
	return nil
}

// ListDueTemplates implements storage.TemplateRepository.
func (s *Store) ListDueTemplates(ctx context.Context, filter storage.DueFilter) ([]*domain.RecurringTemplate, error) {
	where := []string{"status = 'active'", "next_run_at <= @now"}
	params := []bigquery.QueryParameter{{Name: "now", Value: filter.Now.UTC()}}
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = @organization_id")
		params = append(params, bigquery.QueryParameter{Name: "organization_id", Value: filter.OrganizationID})
	}

	q := s.client.Query(`SELECT ` + templateColumns + ` FROM ` + s.table(templatesTable) +
		whereClause(where) + ` ORDER BY next_run_at, template_id` + pageClause(filter.Limit, 0))
	q.Parameters = params

	out, err := readTemplates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListDueTemplates: %w", err)
	}
	return out, nil
}

// AdvanceTemplate implements storage.TemplateRepository as one conditional UPDATE.
func (s *Store) AdvanceTemplate(ctx context.Context, adv storage.TemplateAdvance) error {
	sql := `UPDATE ` + s.table(templatesTable) + `
		SET next_run_at = @next_run_at,
			last_run_at = COALESCE(@last_run_at, last_run_at),
			status = @status,
			updated_ts = CURRENT_TIMESTAMP()
		WHERE template_id = @template_id AND organization_id = @organization_id
			AND status = 'active' AND next_run_at = @prev_next_run_at`

	n, err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "next_run_at", Value: adv.NextRunAt.UTC()},
		{Name: "last_run_at", Value: nullTimestamp(adv.LastRunAt)},
		{Name: "status", Value: string(adv.Status)},
		{Name: "template_id", Value: adv.ID},
		{Name: "organization_id", Value: adv.OrganizationID},
		{Name: "prev_next_run_at", Value: adv.PrevNextRunAt.UTC()},
	})
	if err != nil {
		return fmt.Errorf("AdvanceTemplate: %w", err)
	}
	if n == 0 {
		return s.resolveNoRows(ctx, adv.OrganizationID, adv.ID)
	}
	return nil
}

func (s *Store) resolveNoRows(ctx context.Context, organizationID, id string) error {
	if _, err := s.GetTemplate(ctx, organizationID, id); err != nil {
		return err
	}
	return storage.ErrConflict
}

func readTemplates(ctx context.Context, q *bigquery.Query) ([]*domain.RecurringTemplate, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var out []*domain.RecurringTemplate
	for {
		var r TemplateRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		t, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TransactionExists implements storage.LedgerRepository.
func (s *Store) TransactionExists(ctx context.Context, organizationID, templateID string, date time.Time) (bool, error) {
	q := s.client.Query(`SELECT COUNT(1) AS n FROM ` + s.table(transactionsTable) + `
		WHERE organization_id = @organization_id
			AND source_template_id = @source_template_id
			AND transaction_date = @transaction_date`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "organization_id", Value: organizationID},
		{Name: "source_template_id", Value: templateID},
		{Name: "transaction_date", Value: date.UTC()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: query read: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("TransactionExists: iter next: %w", err)
	}
	return row.N > 0, nil
}

// InsertTransaction implements storage.LedgerRepository. BigQuery has no unique
// constraints, so the insert is guarded by NOT EXISTS on the occurrence key and
// zero affected rows means the occurrence is already recorded.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	r := TransactionToRow(tx)
	table := s.table(transactionsTable)
	sql := `INSERT INTO ` + table + ` (` + transactionColumns + `)
		SELECT @transaction_id, @organization_id, @source_template_id, @transaction_date, @amount, @currency,
			@category, @vendor, @payment_method, @notes, @status, @created_by, @created_ts
		FROM UNNEST([1])
		WHERE NOT EXISTS (
			SELECT 1 FROM ` + table + `
			WHERE organization_id = @organization_id
				AND source_template_id = @source_template_id
				AND transaction_date = @transaction_date
		)`

	n, err := s.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "organization_id", Value: r.OrganizationID},
		{Name: "source_template_id", Value: r.SourceTemplateID},
		{Name: "transaction_date", Value: r.TransactionDate},
		{Name: "amount", Value: r.Amount},
		{Name: "currency", Value: r.Currency},
		{Name: "category", Value: r.Category},
		{Name: "vendor", Value: r.Vendor},
		{Name: "payment_method", Value: r.PaymentMethod},
		{Name: "notes", Value: r.Notes},
		{Name: "status", Value: r.Status},
		{Name: "created_by", Value: r.CreatedBy},
		{Name: "created_ts", Value: r.CreatedTS},
	})
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	if n == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

// ListTransactions implements storage.LedgerRepository.
func (s *Store) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*domain.LedgerTransaction, error) {
	sql, params := transactionQuery(s.table(transactionsTable), filter)
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var out []*domain.LedgerTransaction
	for {
		var r LedgerTransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		tx, err := r.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func transactionQuery(table string, filter storage.TransactionFilter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = @organization_id")
		params = append(params, bigquery.QueryParameter{Name: "organization_id", Value: filter.OrganizationID})
	}
	if filter.TemplateID != "" {
		where = append(where, "source_template_id = @template_id")
		params = append(params, bigquery.QueryParameter{Name: "template_id", Value: filter.TemplateID})
	}
	if !filter.From.IsZero() {
		where = append(where, "transaction_date >= @from")
		params = append(params, bigquery.QueryParameter{Name: "from", Value: filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		where = append(where, "transaction_date <= @to")
		params = append(params, bigquery.QueryParameter{Name: "to", Value: filter.To.UTC()})
	}

	sql := `SELECT ` + transactionColumns + ` FROM ` + table +
		whereClause(where) + ` ORDER BY transaction_date, created_ts` + pageClause(filter.Limit, filter.Offset)
	return sql, params
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func pageClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		// BigQuery requires LIMIT before OFFSET.
		return fmt.Sprintf(" LIMIT %d OFFSET %d", int64(1)<<62, offset)
	}
	return ""
}

var _ storage.Store = (*Store)(nil)

package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/shopspring/decimal"
)

// TemplateRow mirrors finance.recurring_templates.
type TemplateRow struct {
	TemplateID     string `bigquery:"template_id"`     // REQUIRED
	OrganizationID string `bigquery:"organization_id"` // REQUIRED

	Name          string             `bigquery:"name"`
	Frequency     string             `bigquery:"frequency"`
	IntervalCount int64              `bigquery:"interval_count"`
	DayOfWeek     bigquery.NullInt64 `bigquery:"day_of_week"`  // NULLABLE
	DayOfMonth    bigquery.NullInt64 `bigquery:"day_of_month"` // NULLABLE

	StartDate time.Time              `bigquery:"start_date"`
	EndDate   bigquery.NullTimestamp `bigquery:"end_date"` // NULLABLE
	NextRunAt time.Time              `bigquery:"next_run_at"`
	LastRunAt bigquery.NullTimestamp `bigquery:"last_run_at"` // NULLABLE

	Amount        *big.Rat `bigquery:"amount"` // NUMERIC
	Currency      string   `bigquery:"currency"`
	Category      string   `bigquery:"category"`
	Vendor        string   `bigquery:"vendor"`
	PaymentMethod string   `bigquery:"payment_method"`
	AutoPost      bool     `bigquery:"auto_post"`
	Status        string   `bigquery:"status"`

	CreatedBy string    `bigquery:"created_by"`
	CreatedTS time.Time `bigquery:"created_ts"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// LedgerTransactionRow mirrors finance.ledger_transactions.
type LedgerTransactionRow struct {
	TransactionID    string              `bigquery:"transaction_id"`     // REQUIRED
	OrganizationID   string              `bigquery:"organization_id"`    // REQUIRED
	SourceTemplateID bigquery.NullString `bigquery:"source_template_id"` // NULLABLE, empty for manual entries

	TransactionDate time.Time `bigquery:"transaction_date"`
	Amount          *big.Rat  `bigquery:"amount"` // NUMERIC
	Currency        string    `bigquery:"currency"`
	Category        string    `bigquery:"category"`
	Vendor          string    `bigquery:"vendor"`
	PaymentMethod   string    `bigquery:"payment_method"`
	Notes           string    `bigquery:"notes"`
	Status          string    `bigquery:"status"`

	CreatedBy string    `bigquery:"created_by"`
	CreatedTS time.Time `bigquery:"created_ts"`
}

func nullInt(p *int) bigquery.NullInt64 {
	if p == nil {
		return bigquery.NullInt64{}
	}
	return bigquery.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n bigquery.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullTimestamp(p *time.Time) bigquery.NullTimestamp {
	if p == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: p.UTC(), Valid: true}
}

func timePtr(n bigquery.NullTimestamp) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Timestamp.UTC()
	return &v
}

// ratToDecimal converts a NUMERIC column. NUMERIC carries at most 9 fractional digits.
func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(bigquery.NumericString(r))
}

// TemplateToRow converts a domain template for writing.
func TemplateToRow(t *domain.RecurringTemplate) *TemplateRow {
	return &TemplateRow{
		TemplateID:     t.ID,
		OrganizationID: t.OrganizationID,
		Name:           t.Name,
		Frequency:      string(t.Frequency),
		IntervalCount:  int64(t.Interval),
		DayOfWeek:      nullInt(t.DayOfWeek),
		DayOfMonth:     nullInt(t.DayOfMonth),
		StartDate:      t.StartDate.UTC(),
		EndDate:        nullTimestamp(t.EndDate),
		NextRunAt:      t.NextRunAt.UTC(),
		LastRunAt:      nullTimestamp(t.LastRunAt),
		Amount:         t.Amount.Rat(),
		Currency:       t.Currency,
		Category:       t.Category,
		Vendor:         t.Vendor,
		PaymentMethod:  t.PaymentMethod,
		AutoPost:       t.AutoPost,
		Status:         string(t.Status),
		CreatedBy:      t.CreatedBy,
		CreatedTS:      t.CreatedAt.UTC(),
		UpdatedTS:      t.UpdatedAt.UTC(),
	}
}

// ToDomain converts a row read from BigQuery.
func (r *TemplateRow) ToDomain() (*domain.RecurringTemplate, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("template %s: amount: %w", r.TemplateID, err)
	}
	return &domain.RecurringTemplate{
		ID:             r.TemplateID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Frequency:      schedule.Frequency(r.Frequency),
		Interval:       int(r.IntervalCount),
		DayOfWeek:      intPtr(r.DayOfWeek),
		DayOfMonth:     intPtr(r.DayOfMonth),
		StartDate:      r.StartDate.UTC(),
		EndDate:        timePtr(r.EndDate),
		NextRunAt:      r.NextRunAt.UTC(),
		LastRunAt:      timePtr(r.LastRunAt),
		Amount:         amount,
		Currency:       r.Currency,
		Category:       r.Category,
		Vendor:         r.Vendor,
		PaymentMethod:  r.PaymentMethod,
		AutoPost:       r.AutoPost,
		Status:         domain.TemplateStatus(r.Status),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedTS.UTC(),
		UpdatedAt:      r.UpdatedTS.UTC(),
	}, nil
}

// TransactionToRow converts a domain ledger transaction for writing.
func TransactionToRow(tx *domain.LedgerTransaction) *LedgerTransactionRow {
	row := &LedgerTransactionRow{
		TransactionID:   tx.ID,
		OrganizationID:  tx.OrganizationID,
		TransactionDate: tx.Date.UTC(),
		Amount:          tx.Amount.Rat(),
		Currency:        tx.Currency,
		Category:        tx.Category,
		Vendor:          tx.Vendor,
		PaymentMethod:   tx.PaymentMethod,
		Notes:           tx.Notes,
		Status:          string(tx.Status),
		CreatedBy:       tx.CreatedBy,
		CreatedTS:       tx.CreatedAt.UTC(),
	}
	if tx.SourceTemplateID != nil {
		row.SourceTemplateID = bigquery.NullString{StringVal: *tx.SourceTemplateID, Valid: true}
	}
	return row
}

// ToDomain converts a row read from BigQuery.
func (r *LedgerTransactionRow) ToDomain() (*domain.LedgerTransaction, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: amount: %w", r.TransactionID, err)
	}
	tx := &domain.LedgerTransaction{
		ID:             r.TransactionID,
		OrganizationID: r.OrganizationID,
		Date:           r.TransactionDate.UTC(),
		Amount:         amount,
		Currency:       r.Currency,
		Category:       r.Category,
		Vendor:         r.Vendor,
		PaymentMethod:  r.PaymentMethod,
		Notes:          r.Notes,
		Status:         domain.TransactionStatus(r.Status),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedTS.UTC(),
	}
	if r.SourceTemplateID.Valid {
		v := r.SourceTemplateID.StringVal
		tx.SourceTemplateID = &v
	}
	return tx, nil
}

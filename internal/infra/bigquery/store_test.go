package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/shopspring/decimal"
)

func TestTemplateRow_Conversion(t *testing.T) {
	dom := 31
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CET", 3600)
	tpl := &domain.RecurringTemplate{
		ID:             "t1",
		OrganizationID: "org-1",
		Name:           "Rent",
		Frequency:      schedule.Monthly,
		Interval:       1,
		DayOfMonth:     &dom,
		StartDate:      time.Date(2026, 1, 31, 1, 0, 0, 0, berlin),
		EndDate:        &end,
		NextRunAt:      time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.RequireFromString("1250.125"),
		Currency:       "EUR",
		Status:         domain.TemplateActive,
	}

	row := TemplateToRow(tpl)
	if row.DayOfWeek.Valid || !row.DayOfMonth.Valid || row.DayOfMonth.Int64 != 31 {
		t.Errorf("anchors = %+v / %+v", row.DayOfWeek, row.DayOfMonth)
	}
	if row.LastRunAt.Valid || !row.EndDate.Valid {
		t.Errorf("nullable timestamps = last %+v end %+v", row.LastRunAt, row.EndDate)
	}
	if row.StartDate.Location() != time.UTC || !row.StartDate.Equal(tpl.StartDate) {
		t.Errorf("StartDate = %s, want the same instant in UTC", row.StartDate)
	}
	if row.Amount.Cmp(big.NewRat(10001, 8)) != 0 {
		t.Errorf("Amount = %s, want 10001/8", row.Amount.RatString())
	}

	back, err := row.ToDomain()
	if err != nil {
		t.Fatalf("ToDomain() error = %v", err)
	}
	if !back.Amount.Equal(tpl.Amount) || back.DayOfWeek != nil || *back.DayOfMonth != 31 || back.LastRunAt != nil {
		t.Errorf("ToDomain() = %+v", back)
	}
}

func TestLedgerTransactionRow_Source(t *testing.T) {
	src := "t1"
	auto := TransactionToRow(&domain.LedgerTransaction{ID: "x1", SourceTemplateID: &src, Amount: decimal.NewFromInt(5)})
	if !auto.SourceTemplateID.Valid || auto.SourceTemplateID.StringVal != "t1" {
		t.Errorf("SourceTemplateID = %+v, want t1", auto.SourceTemplateID)
	}

	manual := TransactionToRow(&domain.LedgerTransaction{ID: "x2", Amount: decimal.NewFromInt(5)})
	if manual.SourceTemplateID.Valid {
		t.Errorf("manual SourceTemplateID = %+v, want NULL", manual.SourceTemplateID)
	}
	back, err := manual.ToDomain()
	if err != nil {
		t.Fatal(err)
	}
	if back.SourceTemplateID != nil {
		t.Errorf("ToDomain() SourceTemplateID = %v, want nil", *back.SourceTemplateID)
	}
}

func TestRatToDecimal(t *testing.T) {
	tests := []struct {
		in   *big.Rat
		want string
	}{
		{nil, "0"},
		{big.NewRat(1999, 100), "19.99"},
		{big.NewRat(-5, 1), "-5"},
		{big.NewRat(1, 3), "0.333333333"},
	}
	for _, tt := range tests {
		got, err := ratToDecimal(tt.in)
		if err != nil {
			t.Fatalf("ratToDecimal(%v) error = %v", tt.in, err)
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ratToDecimal(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTransactionQuery(t *testing.T) {
	table := qualifiedTable("proj", "finance", transactionsTable)
	sql, params := transactionQuery(table, storage.TransactionFilter{
		OrganizationID: "org-1",
		TemplateID:     "t1",
		From:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Offset:         20,
	})

	for _, want := range []string{
		"FROM `proj.finance.ledger_transactions`",
		"organization_id = @organization_id AND source_template_id = @template_id AND transaction_date >= @from",
		"ORDER BY transaction_date, created_ts",
		"OFFSET 20",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "@to") {
		t.Errorf("unbounded To must not be filtered:\n%s", sql)
	}
	if len(params) != 3 {
		t.Errorf("params = %d, want 3", len(params))
	}
}

func TestWithoutParams(t *testing.T) {
	params := []bigquery.QueryParameter{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got := withoutParams(params, "b")
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("withoutParams() = %v", got)
	}
	if len(params) != 3 || params[1].Name != "b" {
		t.Errorf("input was modified: %v", params)
	}
}

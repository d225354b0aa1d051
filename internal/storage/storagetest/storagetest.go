// Package storagetest is a conformance suite run against every storage.Store driver.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.Store

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func template(id, org string, next time.Time) *domain.RecurringTemplate {
	dom := next.Day()
	created := day(2025, 12, 1)
	return &domain.RecurringTemplate{
		ID:             id,
		OrganizationID: org,
		Name:           "Template " + id,
		Frequency:      schedule.Monthly,
		Interval:       1,
		DayOfMonth:     &dom,
		StartDate:      next,
		NextRunAt:      next,
		Amount:         decimal.RequireFromString("99.95"),
		Currency:       "EUR",
		Category:       "Software",
		Vendor:         "Acme",
		PaymentMethod:  "card",
		Status:         domain.TemplateActive,
		CreatedBy:      "user-1",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("TemplateRoundTrip", func(t *testing.T) { testTemplateRoundTrip(t, newStore(t)) })
	t.Run("DueSelection", func(t *testing.T) { testDueSelection(t, newStore(t)) })
	t.Run("ConditionalAdvance", func(t *testing.T) { testConditionalAdvance(t, newStore(t)) })
	t.Run("UpdateDetails", func(t *testing.T) { testUpdateDetails(t, newStore(t)) })
	t.Run("LedgerDedup", func(t *testing.T) { testLedgerDedup(t, newStore(t)) })
	t.Run("ListTransactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("RunnerOverOffsetTemplate", func(t *testing.T) { testRunnerOverOffsetTemplate(t, newStore(t)) })
}

func mustCreate(t *testing.T, s storage.Store, tpls ...*domain.RecurringTemplate) {
	t.Helper()
	for _, tpl := range tpls {
		if err := s.CreateTemplate(context.Background(), tpl); err != nil {
			t.Fatalf("CreateTemplate(%s) error = %v", tpl.ID, err)
		}
	}
}

func testTemplateRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	in := template("t1", "org-1", day(2026, 1, 10))
	end := day(2026, 12, 31)
	in.EndDate = &end
	in.AutoPost = true
	mustCreate(t, s, in)

	got, err := s.GetTemplate(ctx, "org-1", "t1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.Name != in.Name || got.Frequency != schedule.Monthly || got.Interval != 1 {
		t.Errorf("identity fields = %+v", got)
	}
	if got.DayOfMonth == nil || *got.DayOfMonth != 10 || got.DayOfWeek != nil {
		t.Errorf("anchors = %v/%v, want dom 10 only", got.DayOfWeek, got.DayOfMonth)
	}
	if !got.Amount.Equal(in.Amount) || got.Currency != "EUR" || !got.AutoPost {
		t.Errorf("financial fields = %s %s autoPost=%v", got.Amount, got.Currency, got.AutoPost)
	}
	if !got.NextRunAt.Equal(in.NextRunAt) || got.EndDate == nil || !got.EndDate.Equal(end) || got.LastRunAt != nil {
		t.Errorf("dates = next %s end %v last %v", got.NextRunAt, got.EndDate, got.LastRunAt)
	}

	if _, err := s.GetTemplate(ctx, "org-2", "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-org GetTemplate() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTemplate(ctx, "org-1", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing GetTemplate() error = %v, want ErrNotFound", err)
	}
}

func testDueSelection(t *testing.T, s storage.Store) {
	ctx := context.Background()
	paused := template("paused", "org-1", day(2026, 1, 1))
	paused.Status = domain.TemplatePaused
	mustCreate(t, s,
		template("late", "org-1", day(2026, 1, 20)),
		template("early", "org-1", day(2026, 1, 5)),
		template("other", "org-2", day(2026, 1, 10)),
		template("future", "org-1", day(2026, 2, 5)),
		paused,
	)

	ids := func(f storage.DueFilter) []string {
		t.Helper()
		got, err := s.ListDueTemplates(ctx, f)
		if err != nil {
			t.Fatalf("ListDueTemplates() error = %v", err)
		}
		var out []string
		for _, tpl := range got {
			out = append(out, tpl.ID)
		}
		return out
	}

	assert := func(name string, got, want []string) {
		t.Helper()
		if len(got) != len(want) {
			t.Errorf("%s = %v, want %v", name, got, want)
			return
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("%s = %v, want %v", name, got, want)
				return
			}
		}
	}

	assert("global", ids(storage.DueFilter{Now: day(2026, 2, 1)}), []string{"early", "other", "late"})
	assert("inclusive", ids(storage.DueFilter{Now: day(2026, 1, 10)}), []string{"early", "other"})
	assert("scoped", ids(storage.DueFilter{Now: day(2026, 2, 1), OrganizationID: "org-1"}), []string{"early", "late"})
	assert("limited", ids(storage.DueFilter{Now: day(2026, 2, 1), Limit: 1}), []string{"early"})
}

func testConditionalAdvance(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, template("t1", "org-1", day(2026, 1, 10)))

	last := day(2026, 1, 10)
	adv := storage.TemplateAdvance{
		ID: "t1", OrganizationID: "org-1",
		PrevNextRunAt: day(2026, 1, 10),
		NextRunAt:     day(2026, 2, 10),
		LastRunAt:     &last,
		Status:        domain.TemplateActive,
	}
	if err := s.AdvanceTemplate(ctx, adv); err != nil {
		t.Fatalf("AdvanceTemplate() error = %v", err)
	}
	if err := s.AdvanceTemplate(ctx, adv); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("stale AdvanceTemplate() error = %v, want ErrConflict", err)
	}

	got, err := s.GetTemplate(ctx, "org-1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextRunAt.Equal(day(2026, 2, 10)) || got.LastRunAt == nil || !got.LastRunAt.Equal(last) {
		t.Errorf("run state = %s / %v", got.NextRunAt, got.LastRunAt)
	}

	end := storage.TemplateAdvance{
		ID: "t1", OrganizationID: "org-1",
		PrevNextRunAt: day(2026, 2, 10),
		NextRunAt:     day(2026, 3, 10),
		LastRunAt:     &last,
		Status:        domain.TemplateEnded,
	}
	if err := s.AdvanceTemplate(ctx, end); err != nil {
		t.Fatalf("ending AdvanceTemplate() error = %v", err)
	}
	end.PrevNextRunAt = day(2026, 3, 10)
	end.NextRunAt = day(2026, 4, 10)
	if err := s.AdvanceTemplate(ctx, end); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("advance of ended template error = %v, want ErrConflict", err)
	}

	adv.ID = "missing"
	if err := s.AdvanceTemplate(ctx, adv); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AdvanceTemplate(missing) error = %v, want ErrNotFound", err)
	}
}

func testUpdateDetails(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, template("t1", "org-1", day(2026, 1, 10)))

	upd, err := s.GetTemplate(ctx, "org-1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	upd.Name = "Renamed"
	upd.Amount = decimal.RequireFromString("10.01")
	upd.DayOfMonth = nil
	upd.Status = domain.TemplatePaused
	upd.NextRunAt = day(2031, 1, 1)
	if err := s.UpdateTemplateDetails(ctx, upd); err != nil {
		t.Fatalf("UpdateTemplateDetails() error = %v", err)
	}

	got, err := s.GetTemplate(ctx, "org-1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || !got.Amount.Equal(upd.Amount) || got.DayOfMonth != nil || got.Status != domain.TemplatePaused {
		t.Errorf("updated fields = %+v", got)
	}
	if !got.NextRunAt.Equal(day(2026, 1, 10)) {
		t.Errorf("NextRunAt = %s, details update must not move the run cursor", got.NextRunAt)
	}

	got.Status = domain.TemplateEnded
	if err := s.UpdateTemplateDetails(ctx, got); err != nil {
		t.Fatal(err)
	}
	got.Status = domain.TemplateActive
	if err := s.UpdateTemplateDetails(ctx, got); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("update of ended template error = %v, want ErrConflict", err)
	}

	got.ID = "missing"
	if err := s.UpdateTemplateDetails(ctx, got); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("update of missing template error = %v, want ErrNotFound", err)
	}
}

func testLedgerDedup(t *testing.T, s storage.Store) {
	ctx := context.Background()
	src := "t1"
	date := day(2026, 1, 10)
	tx := &domain.LedgerTransaction{
		ID: "x1", OrganizationID: "org-1", SourceTemplateID: &src, Date: date,
		Amount: decimal.RequireFromString("99.95"), Currency: "EUR", Status: domain.TransactionPending,
		CreatedAt: day(2026, 1, 11),
	}

	exists, err := s.TransactionExists(ctx, "org-1", "t1", date)
	if err != nil || exists {
		t.Fatalf("TransactionExists() before insert = %v, %v", exists, err)
	}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	if exists, err = s.TransactionExists(ctx, "org-1", "t1", date); err != nil || !exists {
		t.Errorf("TransactionExists() after insert = %v, %v", exists, err)
	}

	dup := *tx
	dup.ID = "x2"
	if err := s.InsertTransaction(ctx, &dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("duplicate InsertTransaction() error = %v, want ErrDuplicate", err)
	}

	for i, id := range []string{"m1", "m2"} {
		manual := &domain.LedgerTransaction{
			ID: id, OrganizationID: "org-1", Date: date,
			Amount: decimal.NewFromInt(int64(i + 1)), Currency: "EUR", Status: domain.TransactionPaid,
			CreatedAt: day(2026, 1, 11),
		}
		if err := s.InsertTransaction(ctx, manual); err != nil {
			t.Errorf("manual InsertTransaction(%s) error = %v", id, err)
		}
	}
}

func testListTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	src := "t1"
	for i, d := range []time.Time{day(2026, 3, 10), day(2026, 1, 10), day(2026, 2, 10)} {
		tx := &domain.LedgerTransaction{
			ID: []string{"c", "a", "b"}[i], OrganizationID: "org-1", SourceTemplateID: &src, Date: d,
			Amount: decimal.RequireFromString("12.34"), Currency: "EUR", Status: domain.TransactionPending,
			Notes: "Auto-generated", CreatedAt: d,
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}
	other := &domain.LedgerTransaction{
		ID: "z", OrganizationID: "org-2", Date: day(2026, 1, 10),
		Amount: decimal.NewFromInt(1), Currency: "EUR", Status: domain.TransactionPaid, CreatedAt: day(2026, 1, 10),
	}
	if err := s.InsertTransaction(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[1].ID != "b" || all[2].ID != "c" {
		t.Fatalf("ListTransactions() order = %v", all)
	}
	if !all[0].Amount.Equal(decimal.RequireFromString("12.34")) || all[0].SourceTemplateID == nil || *all[0].SourceTemplateID != "t1" {
		t.Errorf("round trip = %+v", all[0])
	}

	ranged, err := s.ListTransactions(ctx, storage.TransactionFilter{
		OrganizationID: "org-1", TemplateID: "t1", From: day(2026, 2, 1), To: day(2026, 2, 28),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 1 || ranged[0].ID != "b" {
		t.Errorf("ranged = %v, want [b]", ranged)
	}

	page, err := s.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1", Limit: 1, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "c" {
		t.Errorf("page = %v, want [c]", page)
	}
}

// testRunnerOverOffsetTemplate stores a template whose cursor carries a +09:00
// offset. Every driver hands it back in UTC, so weekday anchoring is evaluated
// on the UTC calendar and all drivers produce the same occurrences.
func testRunnerOverOffsetTemplate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tokyo := time.FixedZone("JST", 9*3600)

	// Monday 01:00 in Tokyo is Sunday 16:00 UTC.
	start := time.Date(2026, 2, 2, 1, 0, 0, 0, tokyo)
	monday := 1
	tpl := template("w1", "org-1", start)
	tpl.Frequency = schedule.Weekly
	tpl.DayOfMonth = nil
	tpl.DayOfWeek = &monday
	mustCreate(t, s, tpl)

	got, err := s.GetTemplate(ctx, "org-1", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt.Location() != time.UTC || !got.NextRunAt.Equal(start) {
		t.Fatalf("NextRunAt = %s, want %s in UTC", got.NextRunAt, start.UTC())
	}

	runner := recurrence.NewRunner(s, zerolog.Nop())
	res, err := runner.Run(ctx, recurrence.RunOptions{Now: day(2026, 2, 20)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.CreatedTransactions != 3 {
		t.Fatalf("CreatedTransactions = %d, want 3", res.CreatedTransactions)
	}

	txs, err := s.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1", TemplateID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		time.Date(2026, 2, 1, 16, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 9, 16, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 16, 16, 0, 0, 0, time.UTC),
	}
	if len(txs) != len(want) {
		t.Fatalf("transactions = %d, want %d", len(txs), len(want))
	}
	for i, w := range want {
		if !txs[i].Date.Equal(w) {
			t.Errorf("transaction %d date = %s, want %s", i, txs[i].Date, w)
		}
	}

	after, err := s.GetTemplate(ctx, "org-1", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if next := time.Date(2026, 2, 23, 16, 0, 0, 0, time.UTC); !after.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt after run = %s, want %s", after.NextRunAt, next)
	}
}

package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/shopspring/decimal"
)

func TestMaterialize(t *testing.T) {
	tpl := &RecurringTemplate{
		ID:             "tpl-1",
		OrganizationID: "org-1",
		Name:           "Office rent",
		NextRunAt:      time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.RequireFromString("1200.50"),
		Currency:       "USD",
		Category:       "Rent",
		Vendor:         "Landlord LLC",
		PaymentMethod:  "bank_transfer",
		CreatedBy:      "user-7",
	}

	tx := Materialize(tpl)
	if tx.Status != TransactionPending {
		t.Errorf("Status = %q, want pending", tx.Status)
	}
	if tx.SourceTemplateID == nil || *tx.SourceTemplateID != "tpl-1" {
		t.Errorf("SourceTemplateID = %v, want tpl-1", tx.SourceTemplateID)
	}
	if !tx.Date.Equal(tpl.NextRunAt) {
		t.Errorf("Date = %s, want %s", tx.Date, tpl.NextRunAt)
	}
	if !tx.Amount.Equal(tpl.Amount) || tx.Currency != "USD" || tx.Vendor != "Landlord LLC" {
		t.Errorf("financial fields not copied: %+v", tx)
	}
	if !strings.Contains(tx.Notes, "Office rent") {
		t.Errorf("Notes = %q, want template name", tx.Notes)
	}
	if tx.CreatedBy != "user-7" || tx.OrganizationID != "org-1" {
		t.Errorf("ownership not copied: %+v", tx)
	}

	tpl.AutoPost = true
	if got := Materialize(tpl).Status; got != TransactionPaid {
		t.Errorf("autoPost Status = %q, want paid", got)
	}
}

func TestRecurringTemplate_PastEndAndRule(t *testing.T) {
	end := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	dom := 10
	tpl := &RecurringTemplate{Frequency: schedule.Monthly, Interval: 1, DayOfMonth: &dom, EndDate: &end}

	if tpl.PastEnd(end) {
		t.Error("end date itself must be allowed")
	}
	if !tpl.PastEnd(end.Add(time.Second)) {
		t.Error("after end date should be past end")
	}

	r, err := tpl.Rule()
	if err != nil {
		t.Fatalf("Rule() error = %v", err)
	}
	if r.Anchor != schedule.OnDayOfMonth(10) {
		t.Errorf("Anchor = %+v, want day 10", r.Anchor)
	}

	open := &RecurringTemplate{}
	if open.PastEnd(time.Now().AddDate(100, 0, 0)) {
		t.Error("template without end date is never past end")
	}
}

func TestRecurringTemplate_Clone(t *testing.T) {
	dow := 1
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := RecurringTemplate{ID: "a", DayOfWeek: &dow, LastRunAt: &last}

	cp := orig.Clone()
	*cp.DayOfWeek = 5
	*cp.LastRunAt = last.AddDate(1, 0, 0)

	if *orig.DayOfWeek != 1 || !orig.LastRunAt.Equal(last) {
		t.Errorf("Clone shares pointers with original: %+v", orig)
	}
}

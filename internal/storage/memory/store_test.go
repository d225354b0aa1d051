package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/storagetest"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTemplate(id, org string, next time.Time) *domain.RecurringTemplate {
	return &domain.RecurringTemplate{
		ID:             id,
		OrganizationID: org,
		Name:           "tpl " + id,
		Frequency:      schedule.Monthly,
		Interval:       1,
		StartDate:      next,
		NextRunAt:      next,
		Amount:         decimal.NewFromInt(10),
		Currency:       "USD",
		Status:         domain.TemplateActive,
	}
}

func TestStore_ListDueTemplates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	seed := []*domain.RecurringTemplate{
		newTemplate("c", "org-1", day(2026, 1, 20)),
		newTemplate("a", "org-1", day(2026, 1, 5)),
		newTemplate("b", "org-2", day(2026, 1, 10)),
		newTemplate("future", "org-1", day(2026, 3, 1)),
	}
	paused := newTemplate("paused", "org-1", day(2026, 1, 1))
	paused.Status = domain.TemplatePaused
	seed = append(seed, paused)

	for _, tpl := range seed {
		if err := s.CreateTemplate(ctx, tpl); err != nil {
			t.Fatalf("CreateTemplate(%s) error = %v", tpl.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter storage.DueFilter
		want   []string
	}{
		{"all orgs ordered by next run", storage.DueFilter{Now: day(2026, 2, 1)}, []string{"a", "b", "c"}},
		{"boundary is inclusive", storage.DueFilter{Now: day(2026, 1, 10)}, []string{"a", "b"}},
		{"org scope", storage.DueFilter{Now: day(2026, 2, 1), OrganizationID: "org-2"}, []string{"b"}},
		{"limit", storage.DueFilter{Now: day(2026, 2, 1), Limit: 2}, []string{"a", "b"}},
		{"nothing due", storage.DueFilter{Now: day(2025, 12, 31)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListDueTemplates(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListDueTemplates() error = %v", err)
			}
			var ids []string
			for _, tpl := range got {
				ids = append(ids, tpl.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}

func TestStore_AdvanceTemplate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.CreateTemplate(ctx, newTemplate("t1", "org-1", day(2026, 1, 10))); err != nil {
		t.Fatal(err)
	}

	last := day(2026, 1, 10)
	adv := storage.TemplateAdvance{
		ID:             "t1",
		OrganizationID: "org-1",
		PrevNextRunAt:  day(2026, 1, 10),
		NextRunAt:      day(2026, 2, 10),
		LastRunAt:      &last,
		Status:         domain.TemplateActive,
	}
	if err := s.AdvanceTemplate(ctx, adv); err != nil {
		t.Fatalf("AdvanceTemplate() error = %v", err)
	}

	got, err := s.GetTemplate(ctx, "org-1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextRunAt.Equal(day(2026, 2, 10)) || got.LastRunAt == nil || !got.LastRunAt.Equal(last) {
		t.Errorf("run state = %s / %v, want 2026-02-10 / 2026-01-10", got.NextRunAt, got.LastRunAt)
	}

	// Replaying the same advance is stale.
	if err := s.AdvanceTemplate(ctx, adv); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("stale AdvanceTemplate() error = %v, want ErrConflict", err)
	}

	adv.OrganizationID = "org-2"
	if err := s.AdvanceTemplate(ctx, adv); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-org AdvanceTemplate() error = %v, want ErrNotFound", err)
	}
}

func TestStore_AdvanceTemplate_NotActive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	tpl := newTemplate("t1", "org-1", day(2026, 1, 10))
	tpl.Status = domain.TemplatePaused
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	err := s.AdvanceTemplate(ctx, storage.TemplateAdvance{
		ID: "t1", OrganizationID: "org-1",
		PrevNextRunAt: day(2026, 1, 10), NextRunAt: day(2026, 2, 10),
		Status: domain.TemplateActive,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("AdvanceTemplate() on paused error = %v, want ErrConflict", err)
	}
}

func TestStore_UpdateTemplateDetails(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.CreateTemplate(ctx, newTemplate("t1", "org-1", day(2026, 1, 10))); err != nil {
		t.Fatal(err)
	}

	upd, _ := s.GetTemplate(ctx, "org-1", "t1")
	upd.Name = "renamed"
	upd.NextRunAt = day(2030, 1, 1)
	if err := s.UpdateTemplateDetails(ctx, upd); err != nil {
		t.Fatalf("UpdateTemplateDetails() error = %v", err)
	}

	got, _ := s.GetTemplate(ctx, "org-1", "t1")
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", got.Name)
	}
	if !got.NextRunAt.Equal(day(2026, 1, 10)) {
		t.Errorf("NextRunAt = %s, run state must not change through details update", got.NextRunAt)
	}

	got.Status = domain.TemplateEnded
	if err := s.UpdateTemplateDetails(ctx, got); err != nil {
		t.Fatal(err)
	}
	got.Status = domain.TemplateActive
	if err := s.UpdateTemplateDetails(ctx, got); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("update of ended template error = %v, want ErrConflict", err)
	}
}

func TestStore_InsertTransaction_Dedup(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	src := "t1"
	date := day(2026, 1, 10)

	tx := &domain.LedgerTransaction{ID: "x1", OrganizationID: "org-1", SourceTemplateID: &src, Date: date}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	exists, err := s.TransactionExists(ctx, "org-1", "t1", date)
	if err != nil || !exists {
		t.Errorf("TransactionExists() = %v, %v; want true", exists, err)
	}
	if exists, _ := s.TransactionExists(ctx, "org-2", "t1", date); exists {
		t.Error("dedup key must include the organization")
	}

	dup := &domain.LedgerTransaction{ID: "x2", OrganizationID: "org-1", SourceTemplateID: &src, Date: date}
	if err := s.InsertTransaction(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("duplicate InsertTransaction() error = %v, want ErrDuplicate", err)
	}

	manual := &domain.LedgerTransaction{ID: "x3", OrganizationID: "org-1", Date: date}
	if err := s.InsertTransaction(ctx, manual); err != nil {
		t.Errorf("manual InsertTransaction() error = %v", err)
	}

	got, err := s.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1", TemplateID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "x1" {
		t.Errorf("ListTransactions() = %v, want only x1", got)
	}
}

func TestStore_ListTransactions_Range(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i, d := range []time.Time{day(2026, 3, 1), day(2026, 1, 1), day(2026, 2, 1)} {
		tx := &domain.LedgerTransaction{ID: string(rune('a' + i)), OrganizationID: "org-1", Date: d}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListTransactions(ctx, storage.TransactionFilter{
		OrganizationID: "org-1",
		From:           day(2026, 1, 15),
		To:             day(2026, 3, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[0].Date.Equal(day(2026, 2, 1)) || !got[1].Date.Equal(day(2026, 3, 1)) {
		t.Errorf("ListTransactions() dates = %v", got)
	}

	page, _ := s.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1", Offset: 1, Limit: 1})
	if len(page) != 1 || !page[0].Date.Equal(day(2026, 2, 1)) {
		t.Errorf("page = %v, want the February entry", page)
	}
}

func TestStore_CopiesOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.CreateTemplate(ctx, newTemplate("t1", "org-1", day(2026, 1, 10))); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetTemplate(ctx, "org-1", "t1")
	got.Status = domain.TemplateEnded

	again, _ := s.GetTemplate(ctx, "org-1", "t1")
	if again.Status != domain.TemplateActive {
		t.Errorf("stored template was mutated through a returned copy")
	}

	if _, err := s.GetTemplate(ctx, "org-2", "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-org GetTemplate() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return NewStore() })
}

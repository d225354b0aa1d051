package templates

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	svc := NewService(store, zerolog.New(io.Discard))
	svc.now = func() time.Time { return day(2026, 1, 1) }
	svc.newID = func() string { return "tpl-1" }
	return svc, store
}

func validInput() CreateInput {
	return CreateInput{
		OrganizationID: "org-1",
		CreatedBy:      "user-1",
		Name:           "Office rent",
		Frequency:      schedule.Monthly,
		Interval:       1,
		DayOfMonth:     intPtr(10),
		StartDate:      Date{day(2026, 1, 10)},
		Amount:         decimal.RequireFromString("1200.50"),
		Currency:       "usd",
		Category:       "Rent",
	}
}

func TestService_Create(t *testing.T) {
	svc, store := newTestService()

	tpl, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tpl.Status != domain.TemplateActive || !tpl.NextRunAt.Equal(day(2026, 1, 10)) {
		t.Errorf("template = %s/%s, want active starting 2026-01-10", tpl.Status, tpl.NextRunAt)
	}
	if tpl.Currency != "USD" {
		t.Errorf("Currency = %q, want upper-cased USD", tpl.Currency)
	}
	if _, err := store.GetTemplate(context.Background(), "org-1", "tpl-1"); err != nil {
		t.Errorf("template not stored: %v", err)
	}
}

func TestService_Create_NextRunOverride(t *testing.T) {
	svc, _ := newTestService()
	in := validInput()
	in.NextRunAt = &Date{day(2026, 2, 10)}

	tpl, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !tpl.NextRunAt.Equal(day(2026, 2, 10)) {
		t.Errorf("NextRunAt = %s, want override", tpl.NextRunAt)
	}
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"missing org", func(in *CreateInput) { in.OrganizationID = "" }, "organizationId"},
		{"missing name", func(in *CreateInput) { in.Name = "  " }, "name"},
		{"negative amount", func(in *CreateInput) { in.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"bad currency", func(in *CreateInput) { in.Currency = "dollars" }, "currency"},
		{"missing start", func(in *CreateInput) { in.StartDate = Date{} }, "startDate"},
		{"end before start", func(in *CreateInput) { in.EndDate = &Date{day(2025, 12, 1)} }, "endDate"},
		{"override past end", func(in *CreateInput) {
			in.EndDate = &Date{day(2026, 3, 1)}
			in.NextRunAt = &Date{day(2026, 4, 1)}
		}, "nextRunAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("Create() error = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestService_Create_InvalidSchedule(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero interval", func(in *CreateInput) { in.Interval = 0 }},
		{"negative interval", func(in *CreateInput) { in.Interval = -2 }},
		{"day of week 7", func(in *CreateInput) { in.Frequency = schedule.Weekly; in.DayOfWeek = intPtr(7) }},
		{"day of month 0", func(in *CreateInput) { in.DayOfMonth = intPtr(0) }},
		{"unknown frequency", func(in *CreateInput) { in.Frequency = "hourly" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			if !schedule.IsInvalidSchedule(err) || !IsValidation(err) {
				t.Errorf("Create() error = %v, want InvalidScheduleError", err)
			}
		})
	}
}

func patch(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var p map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx, "org-1", "tpl-1", patch(t, `{
		"name": "  HQ rent ",
		"amount": "1500.25",
		"interval": "2",
		"autoPost": "true",
		"dayOfMonth": null,
		"endDate": "2026-12-31",
		"status": "paused"
	}`))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got.Name != "HQ rent" || !got.Amount.Equal(decimal.RequireFromString("1500.25")) {
		t.Errorf("name/amount = %q/%s", got.Name, got.Amount)
	}
	if got.Interval != 2 || !got.AutoPost || got.DayOfMonth != nil {
		t.Errorf("interval/autoPost/dayOfMonth = %d/%v/%v", got.Interval, got.AutoPost, got.DayOfMonth)
	}
	if got.EndDate == nil || !got.EndDate.Equal(day(2026, 12, 31)) {
		t.Errorf("EndDate = %v", got.EndDate)
	}
	if got.Status != domain.TemplatePaused {
		t.Errorf("Status = %s, want paused", got.Status)
	}
	if !got.NextRunAt.Equal(day(2026, 1, 10)) {
		t.Errorf("NextRunAt = %s, must not change on update", got.NextRunAt)
	}
}

func TestService_Update_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"color": "red"}`},
		{"run state", `{"nextRunAt": "2030-01-01"}`},
		{"ended via patch", `{"status": "ended"}`},
		{"bad status", `{"status": "archived"}`},
		{"bad amount", `{"amount": "lots"}`},
		{"null amount", `{"amount": null}`},
		{"bad interval", `{"interval": 1.5}`},
		{"zero interval", `{"interval": 0}`},
		{"bad date", `{"startDate": "10/01/2026"}`},
		{"anchor out of range", `{"dayOfMonth": 32}`},
		{"empty patch", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newTestService()
			if _, err := svc.Create(ctx, validInput()); err != nil {
				t.Fatal(err)
			}
			if _, err := svc.Update(ctx, "org-1", "tpl-1", patch(t, tt.body)); !IsValidation(err) {
				t.Errorf("Update(%s) error = %v, want validation error", tt.body, err)
			}
		})
	}
}

func TestService_Update_ShortenedEndDateEndsTemplate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatal(err)
	}
	last := day(2026, 1, 10)
	if err := store.AdvanceTemplate(ctx, storage.TemplateAdvance{
		ID: "tpl-1", OrganizationID: "org-1",
		PrevNextRunAt: day(2026, 1, 10), NextRunAt: day(2026, 2, 10),
		LastRunAt: &last, Status: domain.TemplateActive,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx, "org-1", "tpl-1", patch(t, `{"endDate": "2026-01-31"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TemplateEnded {
		t.Errorf("Status = %s, want ended when next run is past the new end date", got.Status)
	}
}

func TestService_DeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, "org-1", "tpl-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := svc.Get(ctx, "org-1", "tpl-1")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if got.Status != domain.TemplateEnded {
		t.Errorf("Status = %s, want ended", got.Status)
	}

	if err := svc.Delete(ctx, "org-1", "tpl-1"); err != nil {
		t.Errorf("second Delete() error = %v, want no-op", err)
	}
	if _, err := svc.Update(ctx, "org-1", "tpl-1", patch(t, `{"status": "active"}`)); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("reactivating ended template error = %v, want ErrConflict", err)
	}
	if err := svc.Delete(ctx, "org-2", "tpl-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-org Delete() error = %v, want ErrNotFound", err)
	}
}

func TestService_Preview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	in := validInput()
	in.StartDate = Date{day(2026, 1, 31)}
	in.DayOfMonth = intPtr(31)
	in.EndDate = &Date{day(2026, 4, 15)}
	if _, err := svc.Create(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Preview(ctx, "org-1", "tpl-1", 10)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := []time.Time{day(2026, 1, 31), day(2026, 2, 28), day(2026, 3, 31)}
	if len(got) != len(want) {
		t.Fatalf("Preview() = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Preview()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := svc.Preview(ctx, "org-1", "tpl-1", 0); !IsValidation(err) {
		t.Errorf("Preview(0) error = %v, want validation error", err)
	}
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	ids := []string{"a", "b"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	for _, name := range []string{"Zoom", "Adobe"} {
		in := validInput()
		in.Name = name
		if _, err := svc.Create(ctx, in); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Delete(ctx, "org-1", "a"); err != nil {
		t.Fatal(err)
	}

	active, err := svc.List(ctx, storage.TemplateFilter{OrganizationID: "org-1", Status: domain.TemplateActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "Adobe" {
		t.Errorf("active = %v, want only Adobe", active)
	}

	if _, err := svc.List(ctx, storage.TemplateFilter{OrganizationID: "org-1", Status: "archived"}); !IsValidation(err) {
		t.Errorf("List(bad status) error = %v, want validation error", err)
	}
}

func TestDate_UnmarshalJSON(t *testing.T) {
	var in struct {
		A Date `json:"a"`
		B Date `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2026-01-10","b":"2026-01-10T09:30:00Z"}`), &in); err != nil {
		t.Fatal(err)
	}
	if !in.A.Equal(day(2026, 1, 10)) {
		t.Errorf("A = %s", in.A.Time)
	}
	if !in.B.Equal(time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("B = %s", in.B.Time)
	}
	if err := json.Unmarshal([]byte(`{"a":"yesterday"}`), &in); err == nil {
		t.Error("invalid date accepted")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-02-01", day(2026, 2, 1)},
		{"2026-02-01T00:00:00Z", day(2026, 2, 1)},
		{"2026-02-01T00:00:00+09:00", day(2026, 2, 1)},
		{" 2026-01-31T23:30:00-05:00 ", time.Date(2026, 1, 31, 23, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if err != nil {
				t.Fatalf("ParseDate() error = %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("ParseDate() = %s, want %s", got, tt.want)
			}
		})
	}
}

// An offset on the start date must not shift day-of-month anchoring.
func TestService_Create_OffsetStartDate(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	var in CreateInput
	body := `{"name":"Rent","frequency":"monthly","interval":1,"dayOfMonth":1,
		"startDate":"2026-02-01T00:00:00+09:00","endDate":"2026-06-30T18:00:00-05:00",
		"amount":"950","currency":"eur"}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatal(err)
	}
	in.OrganizationID = "org-1"

	tpl, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !tpl.StartDate.Equal(day(2026, 2, 1)) || !tpl.NextRunAt.Equal(day(2026, 2, 1)) {
		t.Errorf("start/next = %s/%s, want 2026-02-01 UTC", tpl.StartDate, tpl.NextRunAt)
	}
	if want := time.Date(2026, 6, 30, 18, 0, 0, 0, time.UTC); tpl.EndDate == nil || !tpl.EndDate.Equal(want) {
		t.Errorf("EndDate = %v, want %s", tpl.EndDate, want)
	}

	runner := recurrence.NewRunner(store, zerolog.New(io.Discard))
	res, err := runner.Run(ctx, recurrence.RunOptions{Now: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.CreatedTransactions != 2 {
		t.Fatalf("CreatedTransactions = %d, want 2", res.CreatedTransactions)
	}
	txs, err := store.ListTransactions(ctx, storage.TransactionFilter{OrganizationID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || !txs[0].Date.Equal(day(2026, 2, 1)) || !txs[1].Date.Equal(day(2026, 3, 1)) {
		t.Errorf("transactions = %v, want Feb 1 and Mar 1", txs)
	}
}

func TestService_Update_OffsetDate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx, "org-1", "tpl-1", map[string]json.RawMessage{
		"endDate": json.RawMessage(`"2026-12-31T00:00:00+14:00"`),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.EndDate == nil || !got.EndDate.Equal(day(2026, 12, 31)) {
		t.Errorf("EndDate = %v, want 2026-12-31 UTC", got.EndDate)
	}
}

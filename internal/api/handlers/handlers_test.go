package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/app"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs/inmemory"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/memory"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const rentBody = `{
	"name": "Office rent",
	"frequency": "monthly",
	"interval": 1,
	"dayOfMonth": 10,
	"startDate": "2026-01-10",
	"amount": "1200.50",
	"currency": "usd",
	"category": "Rent"
}`

type testServer struct {
	handler http.Handler
	jobs    *inmemory.Store
}

func newTestServer(t *testing.T, runner app.Runner, guard func(http.Handler) http.Handler) *testServer {
	t.Helper()
	log := zerolog.New(io.Discard)
	store := memory.NewStore()
	jobStore := inmemory.NewStore()

	var r app.Runner = recurrence.NewRunner(store, log)
	if runner != nil {
		r = runner
	}

	rt := Router{
		Runs:         NewRunsHandler(r, nil, jobStore, log),
		Templates:    NewTemplatesHandler(templates.NewService(store, log), log),
		Transactions: NewTransactionsHandler(store, log),
		Jobs:         NewJobsHandler(jobStore, log),
		RunGuard:     guard,
	}
	return &testServer{handler: middleware.Tenant(rt.Mux()), jobs: jobStore}
}

func (s *testServer) do(t *testing.T, method, path, org, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if org != "" {
		req.Header.Set(middleware.HeaderOrganizationID, org)
		req.Header.Set(middleware.HeaderUserID, "user-1")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createRent(t *testing.T, s *testServer, org string) domain.RecurringTemplate {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/recurring-expenses", org, rentBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decode[domain.RecurringTemplate](t, rec)
}

func TestTemplates_Lifecycle(t *testing.T) {
	s := newTestServer(t, nil, nil)

	created := createRent(t, s, "org-1")
	if created.ID == "" || created.Currency != "USD" || created.CreatedBy != "user-1" || created.Status != domain.TemplateActive {
		t.Fatalf("created = %+v", created)
	}
	path := "/api/recurring-expenses/" + created.ID

	rec := s.do(t, http.MethodGet, path, "org-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, path, "org-1", `{"amount": "99.90", "vendor": "Landlord LLC"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updated := decode[domain.RecurringTemplate](t, rec)
	if !updated.Amount.Equal(decimal.RequireFromString("99.9")) || updated.Vendor != "Landlord LLC" {
		t.Errorf("updated = %+v", updated)
	}

	rec = s.do(t, http.MethodGet, path+"/preview?count=3", "org-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rec.Code)
	}
	preview := decode[struct {
		Occurrences []string `json:"occurrences"`
	}](t, rec)
	want := []string{"2026-01-10T00:00:00Z", "2026-02-10T00:00:00Z", "2026-03-10T00:00:00Z"}
	if strings.Join(preview.Occurrences, ",") != strings.Join(want, ",") {
		t.Errorf("preview = %v, want %v", preview.Occurrences, want)
	}

	rec = s.do(t, http.MethodGet, "/api/recurring-expenses", "org-1", "")
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 1 {
		t.Errorf("list count = %d, want 1", list.Count)
	}

	if rec = s.do(t, http.MethodDelete, path, "org-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	got := decode[domain.RecurringTemplate](t, s.do(t, http.MethodGet, path, "org-1", ""))
	if got.Status != domain.TemplateEnded {
		t.Errorf("status after delete = %q, want ended", got.Status)
	}

	if rec = s.do(t, http.MethodPatch, path, "org-1", `{"name": "New rent"}`); rec.Code != http.StatusConflict {
		t.Errorf("patch ended template status = %d, want 409", rec.Code)
	}
}

func TestTemplates_Errors(t *testing.T) {
	s := newTestServer(t, nil, nil)
	tpl := createRent(t, s, "org-1")
	path := "/api/recurring-expenses/" + tpl.ID

	tests := []struct {
		name   string
		method string
		path   string
		org    string
		body   string
		want   int
	}{
		{"missing tenant", http.MethodGet, "/api/recurring-expenses", "", "", http.StatusBadRequest},
		{"unknown create field", http.MethodPost, "/api/recurring-expenses", "org-1", `{"name":"x","color":"red"}`, http.StatusBadRequest},
		{"bad frequency", http.MethodPost, "/api/recurring-expenses", "org-1", strings.Replace(rentBody, "monthly", "fortnightly", 1), http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/recurring-expenses?status=archived", "org-1", "", http.StatusBadRequest},
		{"missing template", http.MethodGet, "/api/recurring-expenses/nope", "org-1", "", http.StatusNotFound},
		{"other organization", http.MethodGet, path, "org-2", "", http.StatusNotFound},
		{"runner-owned field", http.MethodPatch, path, "org-1", `{"nextRunAt": "2027-01-01"}`, http.StatusBadRequest},
		{"patch not an object", http.MethodPatch, path, "org-1", `[1,2]`, http.StatusBadRequest},
		{"bad preview count", http.MethodGet, path + "/preview?count=abc", "org-1", "", http.StatusBadRequest},
		{"zero preview count", http.MethodGet, path + "/preview?count=0", "org-1", "", http.StatusBadRequest},
		{"method not allowed", http.MethodPut, path, "org-1", "{}", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.org, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

type runResponseBody struct {
	JobID               string `json:"jobId"`
	ProcessedTemplates  int    `json:"processedTemplates"`
	CreatedTransactions int    `json:"createdTransactions"`
	EndedTemplates      int    `json:"endedTemplates"`
}

func TestTriggerRun_MaterializesAndRecordsJob(t *testing.T) {
	s := newTestServer(t, nil, nil)
	tpl := createRent(t, s, "org-1")

	rec := s.do(t, http.MethodPost, "/api/recurring-runs", "", `{"now": "2026-03-15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decode[runResponseBody](t, rec)
	if res.ProcessedTemplates != 1 || res.CreatedTransactions != 3 || res.EndedTemplates != 0 {
		t.Errorf("run counts = %+v, want 1 processed and 3 created", res)
	}

	rec = s.do(t, http.MethodGet, "/api/transactions?template_id="+tpl.ID, "org-1", "")
	all := decode[[]domain.LedgerTransaction](t, rec)
	if len(all) != 3 {
		t.Fatalf("transactions = %d, want 3", len(all))
	}

	rec = s.do(t, http.MethodGet, "/api/transactions?start_date=2026-02-01&end_date=2026-02-28", "org-1", "")
	if feb := decode[[]domain.LedgerTransaction](t, rec); len(feb) != 1 {
		t.Errorf("February transactions = %d, want 1", len(feb))
	}

	rec = s.do(t, http.MethodGet, "/api/jobs/"+res.JobID, "", "")
	job := decode[jobs.RecurrenceRunJob](t, rec)
	if job.Status != jobs.JobStatusCompleted || job.Trigger != jobs.TriggerAPI || job.Result == nil || job.Result.CreatedTransactions != 3 {
		t.Errorf("recorded job = %+v", job)
	}

	rec = s.do(t, http.MethodPost, "/api/recurring-runs", "", `{"now": "2026-03-15"}`)
	if again := decode[runResponseBody](t, rec); again.CreatedTransactions != 0 {
		t.Errorf("second run created %d transactions, want 0", again.CreatedTransactions)
	}
}

func TestTriggerRun_Requests(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		org  string
		body string
		want int
	}{
		{"empty body", "", "", http.StatusOK},
		{"tenant scoped", "org-1", `{"organizationId": "org-1"}`, http.StatusOK},
		{"tenant mismatch", "org-1", `{"organizationId": "org-2"}`, http.StatusForbidden},
		{"negative limit", "", `{"limit": -1}`, http.StatusBadRequest},
		{"unknown field", "", `{"dryRun": true}`, http.StatusBadRequest},
		{"bad now", "", `{"now": "yesterday"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/recurring-runs", tt.org, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

type failingRunner struct {
	partial recurrence.RunResult
}

func (f failingRunner) Run(context.Context, recurrence.RunOptions) (recurrence.RunResult, error) {
	return f.partial, errors.New("list due templates: connection refused")
}

func TestTriggerRun_Failure(t *testing.T) {
	s := newTestServer(t, failingRunner{}, nil)

	rec := s.do(t, http.MethodPost, "/api/recurring-runs", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	jobID, _ := body["jobId"].(string)

	job, err := s.jobs.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("failed run not recorded: %v", err)
	}
	if job.Status != jobs.JobStatusFailed || !strings.Contains(job.Error, "connection refused") {
		t.Errorf("job = %+v", job)
	}
}

func TestTriggerRun_FailureReportsPartialCounts(t *testing.T) {
	s := newTestServer(t, failingRunner{partial: recurrence.RunResult{
		ProcessedTemplates:  2,
		CreatedTransactions: 3,
		Succeeded:           []string{"t1", "t2"},
	}}, nil)

	rec := s.do(t, http.MethodPost, "/api/recurring-runs", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body struct {
		Error               string   `json:"error"`
		JobID               string   `json:"jobId"`
		ProcessedTemplates  int      `json:"processedTemplates"`
		CreatedTransactions int      `json:"createdTransactions"`
		Succeeded           []string `json:"succeeded"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error == "" || body.JobID == "" {
		t.Errorf("body = %+v, want error and jobId", body)
	}
	if body.ProcessedTemplates != 2 || body.CreatedTransactions != 3 || len(body.Succeeded) != 2 {
		t.Errorf("partial counts = %+v, want 2 processed, 3 created, 2 succeeded", body)
	}
}

func TestTriggerRun_Guard(t *testing.T) {
	s := newTestServer(t, nil, middleware.CronToken("tok"))

	if rec := s.do(t, http.MethodPost, "/api/recurring-runs", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unguarded call status = %d, want 401", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestJobs_TenantScope(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.do(t, http.MethodPost, "/api/recurring-runs", "org-1", "")
	s.do(t, http.MethodPost, "/api/recurring-runs", "org-2", "")

	rec := s.do(t, http.MethodGet, "/api/jobs", "org-1", "")
	list := decode[struct {
		Jobs  []jobs.RecurrenceRunJob `json:"jobs"`
		Count int                     `json:"count"`
	}](t, rec)
	if list.Count != 1 || list.Jobs[0].OrganizationID != "org-1" {
		t.Fatalf("org-1 jobs = %+v", list)
	}

	if rec = s.do(t, http.MethodGet, "/api/jobs/"+list.Jobs[0].JobID, "org-2", ""); rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant job status = %d, want 404", rec.Code)
	}
	if rec = s.do(t, http.MethodGet, "/api/jobs", "", ""); decode[struct {
		Count int `json:"count"`
	}](t, rec).Count != 2 {
		t.Error("unscoped job list should include both organizations")
	}
	if rec = s.do(t, http.MethodGet, "/api/jobs/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestTransactions_BadQuery(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?start_date=03/01/2026", http.StatusBadRequest},
		{"?end_date=soon", http.StatusBadRequest},
		{"?start_date=2026-03-01&end_date=2026-02-01", http.StatusBadRequest},
		{"?limit=-5", http.StatusBadRequest},
		{"?offset=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/transactions"+tt.query, "org-1", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

package handlers

import (
	"net/http"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
)

// Router groups the handlers served by the API.
type Router struct {
	Runs         *RunsHandler
	Templates    *TemplatesHandler
	Transactions *TransactionsHandler
	Jobs         *JobsHandler

	// RunGuard wraps the run endpoint, e.g. with the cron token and rate limit.
	RunGuard func(http.Handler) http.Handler
}

// Mux registers every route on a new ServeMux.
func (rt Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	withID := func(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			h(w, r, r.PathValue("id"))
		}
	}

	var run http.Handler = http.HandlerFunc(rt.Runs.TriggerRun)
	if rt.RunGuard != nil {
		run = rt.RunGuard(run)
	}
	mux.Handle("POST /api/recurring-runs", run)

	mux.HandleFunc("GET /api/recurring-expenses", rt.Templates.ListTemplates)
	mux.HandleFunc("POST /api/recurring-expenses", rt.Templates.CreateTemplate)
	mux.HandleFunc("GET /api/recurring-expenses/{id}", withID(rt.Templates.GetTemplate))
	mux.HandleFunc("PATCH /api/recurring-expenses/{id}", withID(rt.Templates.UpdateTemplate))
	mux.HandleFunc("DELETE /api/recurring-expenses/{id}", withID(rt.Templates.DeleteTemplate))
	mux.HandleFunc("GET /api/recurring-expenses/{id}/preview", withID(rt.Templates.PreviewTemplate))

	mux.HandleFunc("GET /api/transactions", rt.Transactions.ListTransactions)

	mux.HandleFunc("GET /api/jobs", rt.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", withID(rt.Jobs.GetJob))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}

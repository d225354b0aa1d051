package handlers

import (
	"net/http"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/rs/zerolog"
)

// TransactionsHandler handles ledger transaction endpoints.
type TransactionsHandler struct {
	repo storage.LedgerRepository
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo storage.LedgerRepository, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo: repo,
		log:  log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := storage.TransactionFilter{
		OrganizationID: org,
		TemplateID:     query.Get("template_id"),
		Limit:          limit,
		Offset:         offset,
	}

	var err error
	if s := query.Get("start_date"); s != "" {
		if filter.From, err = templates.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	}
	if s := query.Get("end_date"); s != "" {
		if filter.To, err = templates.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		middleware.WriteError(w, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}

	transactions, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []*domain.LedgerTransaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

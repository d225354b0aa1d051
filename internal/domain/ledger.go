package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the settlement state of a ledger transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionPaid      TransactionStatus = "paid"
	TransactionCancelled TransactionStatus = "cancelled"
)

// LedgerTransaction is one concrete financial event. Entries materialized from a
// recurring template carry its ID in SourceTemplateID; at most one entry exists
// per (OrganizationID, SourceTemplateID, Date).
type LedgerTransaction struct {
	ID               string  `json:"id"`
	OrganizationID   string  `json:"organizationId"`
	SourceTemplateID *string `json:"sourceTemplateId,omitempty"`

	Date          time.Time         `json:"date"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Category      string            `json:"category"`
	Vendor        string            `json:"vendor"`
	PaymentMethod string            `json:"paymentMethod"`
	Notes         string            `json:"notes"`
	Status        TransactionStatus `json:"status"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Materialize builds the ledger entry for the template's current occurrence (NextRunAt).
// The caller assigns ID and CreatedAt.
func Materialize(t *RecurringTemplate) *LedgerTransaction {
	status := TransactionPending
	if t.AutoPost {
		status = TransactionPaid
	}
	src := t.ID
	return &LedgerTransaction{
		OrganizationID:   t.OrganizationID,
		SourceTemplateID: &src,
		Date:             t.NextRunAt,
		Amount:           t.Amount,
		Currency:         t.Currency,
		Category:         t.Category,
		Vendor:           t.Vendor,
		PaymentMethod:    t.PaymentMethod,
		Notes:            fmt.Sprintf("Auto-generated from recurring expense %q", t.Name),
		Status:           status,
		CreatedBy:        t.CreatedBy,
	}
}

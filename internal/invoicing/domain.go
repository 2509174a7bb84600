package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates invoice lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusPaid, StatusOverdue},
	StatusSent:    {StatusPaid, StatusOverdue},
	StatusOverdue: {StatusPaid},
}

// CanTransition reports whether an invoice may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ClientRecord is the subset of a client row the invoicing core needs.
type ClientRecord struct {
	ID           int64
	Name         string
	TaxID        string
	PaymentTerms string
	Email        string
	Phone        string
	Address      string
}

// JobRecord is a completed job that can be billed. RawAmount is the
// total_amount column as stored; it may be missing or malformed on
// historical rows.
type JobRecord struct {
	ID           int64
	ClientID     int64
	JobNumber    string
	WorkTypeName string
	Site         string
	JobDate      time.Time
	RawAmount    *string
	InvoiceID    *int64
}

// LineItem is one billable row of an invoice, derived from a single job.
type LineItem struct {
	JobID       int64           `json:"jobId"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// Totals aggregates invoice amounts. Total always equals Subtotal + Tax.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// InvoiceDraft is the assembled, not yet persisted invoice.
type InvoiceDraft struct {
	Number       string
	ClientID     int64
	ClientName   string
	PaymentTerms string
	IssueDate    time.Time
	DueDate      time.Time
	Lines        []LineItem
	Totals       Totals
	TaxRate      decimal.Decimal
	Notes        string
	Warnings     []AmountWarning
}

// JobIDs returns the originating job of every line, in line order.
func (d InvoiceDraft) JobIDs() []int64 {
	ids := make([]int64, 0, len(d.Lines))
	for _, line := range d.Lines {
		ids = append(ids, line.JobID)
	}
	return ids
}

// Invoice is a persisted invoice.
type Invoice struct {
	ID           int64
	Number       string
	ClientID     int64
	ClientName   string
	PaymentTerms string
	IssueDate    time.Time
	DueDate      time.Time
	Lines        []LineItem
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	TaxRate      decimal.Decimal
	Status       Status
	Notes        string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListFilter narrows ListInvoices.
type ListFilter struct {
	Status   Status
	ClientID int64
	Limit    int
	Offset   int
}

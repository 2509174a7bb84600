package invoicing

import "time"

// CreateInvoiceRequest is the body of POST /api/invoices and
// POST /api/invoices/preview.
type CreateInvoiceRequest struct {
	ClientID int64   `json:"clientId" validate:"required,gt=0"`
	JobIDs   []int64 `json:"jobIds" validate:"required,min=1,max=500,dive,gt=0"`
	Notes    string  `json:"notes" validate:"max=2000"`
}

// StatusRequest is the body of PATCH /api/invoices/{id}/status.
type StatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=pending sent paid overdue"`
}

// Receipt summarises a stored invoice.
type Receipt struct {
	InvoiceID     int64     `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	ClientID      int64     `json:"clientId"`
	Status        Status    `json:"status"`
	Subtotal      string    `json:"subtotal"`
	Tax           string    `json:"tax"`
	Total         string    `json:"total"`
	IssueDate     string    `json:"issueDate"`
	DueDate       string    `json:"dueDate"`
	JobCount      int       `json:"jobCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateInvoiceResponse is the success body of POST /api/invoices.
type CreateInvoiceResponse struct {
	Receipt     Receipt     `json:"receipt"`
	InvoiceData InvoiceView `json:"invoiceData"`
}

// PreviewResponse carries an unsaved draft and its amount warnings.
type PreviewResponse struct {
	InvoiceData InvoiceView     `json:"invoiceData"`
	Warnings    []AmountWarning `json:"warnings,omitempty"`
}

// PartialCreationBody is returned when the invoice was stored but its jobs
// are not yet linked.
type PartialCreationBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	InvoiceID     int64  `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}

// LinkJobsResponse is the body of POST /api/invoices/{id}/link-jobs.
type LinkJobsResponse struct {
	InvoiceID int64 `json:"invoiceId"`
	Linked    bool  `json:"linked"`
}

func newReceipt(inv *Invoice) Receipt {
	return Receipt{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		ClientID:      inv.ClientID,
		Status:        inv.Status,
		Subtotal:      inv.Subtotal.StringFixed(currencyPlaces),
		Tax:           inv.Tax.StringFixed(currencyPlaces),
		Total:         inv.Total.StringFixed(currencyPlaces),
		IssueDate:     inv.IssueDate.Format(time.DateOnly),
		DueDate:       inv.DueDate.Format(time.DateOnly),
		JobCount:      len(inv.Lines),
		CreatedAt:     inv.CreatedAt,
	}
}

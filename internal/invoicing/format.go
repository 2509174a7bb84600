package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var currencySymbols = map[string]string{
	"ILS": "₪",
	"USD": "$",
	"EUR": "€",
}

// Formatter renders amounts and dates for display in a locale.
type Formatter struct {
	tag        language.Tag
	printer    *message.Printer
	currency   currency.Unit
	symbol     string
	dateLayout string
}

// NewFormatter builds a formatter for a BCP 47 locale such as "he-IL" and an
// ISO 4217 currency code.
func NewFormatter(locale, currencyCode string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invoicing: locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invoicing: currency %q: %w", currencyCode, err)
	}
	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		symbol = unit.String() + " "
	}
	layout := "2006-01-02"
	if base, _ := tag.Base(); base.String() == "he" {
		layout = "2.1.2006"
	}
	return &Formatter{
		tag:        tag,
		printer:    message.NewPrinter(tag),
		currency:   unit,
		symbol:     symbol,
		dateLayout: layout,
	}, nil
}

// Currency returns the ISO code in use.
func (f *Formatter) Currency() string {
	return f.currency.String()
}

// Amount formats d with the currency symbol prefix and two decimals.
func (f *Formatter) Amount(d decimal.Decimal) string {
	rounded := d.Round(currencyPlaces)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	value, _ := rounded.Float64()
	return sign + f.symbol + f.printer.Sprintf("%.2f", value)
}

// Date formats t in the locale's short date layout.
func (f *Formatter) Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(f.dateLayout)
}

// Percent formats a fractional rate such as 0.18 as "18%".
func (f *Formatter) Percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).Round(2).String() + "%"
}

// LineView is a display-ready line item.
type LineView struct {
	JobID       int64  `json:"jobId"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

// InvoiceView is the presentation model handed to the UI and the renderer.
type InvoiceView struct {
	ID               int64      `json:"id,omitempty"`
	Number           string     `json:"invoiceNumber"`
	Status           Status     `json:"status,omitempty"`
	ClientID         int64      `json:"clientId"`
	ClientName       string     `json:"clientName"`
	IssueDate        string     `json:"issueDate"`
	DueDate          string     `json:"dueDate"`
	PaymentTerms     string     `json:"paymentTerms"`
	PaymentTermsText string     `json:"paymentTermsText"`
	DaysUntilDue     int        `json:"daysUntilDue"`
	Lines            []LineView `json:"lineItems"`
	TaxRate          string     `json:"taxRate"`
	Subtotal         string     `json:"subtotal"`
	Tax              string     `json:"tax"`
	Total            string     `json:"total"`
	Amounts          Totals     `json:"amounts"`
	Currency         string     `json:"currency"`
	Notes            string     `json:"notes,omitempty"`
}

// ViewDraft builds the view of an unsaved draft.
func (f *Formatter) ViewDraft(d InvoiceDraft, today time.Time) InvoiceView {
	return f.view(InvoiceView{
		Number:       d.Number,
		ClientID:     d.ClientID,
		ClientName:   d.ClientName,
		PaymentTerms: d.PaymentTerms,
		Notes:        d.Notes,
	}, d.IssueDate, d.DueDate, d.Lines, d.Totals, d.TaxRate, today)
}

// ViewInvoice builds the view of a persisted invoice.
func (f *Formatter) ViewInvoice(inv Invoice, today time.Time) InvoiceView {
	return f.view(InvoiceView{
		ID:           inv.ID,
		Number:       inv.Number,
		Status:       inv.Status,
		ClientID:     inv.ClientID,
		ClientName:   inv.ClientName,
		PaymentTerms: inv.PaymentTerms,
		Notes:        inv.Notes,
	}, inv.IssueDate, inv.DueDate, inv.Lines, Totals{Subtotal: inv.Subtotal, Tax: inv.Tax, Total: inv.Total}, inv.TaxRate, today)
}

func (f *Formatter) view(v InvoiceView, issue, due time.Time, lines []LineItem, totals Totals, taxRate decimal.Decimal, today time.Time) InvoiceView {
	v.IssueDate = f.Date(issue)
	v.DueDate = f.Date(due)
	v.PaymentTermsText = PaymentTermsDisplayText(v.PaymentTerms)
	v.DaysUntilDue = DaysUntil(due, today)
	v.Lines = make([]LineView, 0, len(lines))
	for _, line := range lines {
		v.Lines = append(v.Lines, LineView{
			JobID:       line.JobID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   f.Amount(line.UnitPrice),
			LineTotal:   f.Amount(line.LineTotal),
		})
	}
	v.TaxRate = f.Percent(taxRate)
	v.Subtotal = f.Amount(totals.Subtotal)
	v.Tax = f.Amount(totals.Tax)
	v.Total = f.Amount(totals.Total)
	v.Amounts = totals
	v.Currency = f.Currency()
	return v
}

package invoicing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssembleOptions carries the non-record inputs of Assemble. Zero values
// select the defaults.
type AssembleOptions struct {
	Now     time.Time
	TaxRate *decimal.Decimal
	Numbers NumberGenerator
	Notes   string
}

type generatorFunc func() string

func (f generatorFunc) Next() string { return f() }

// Assemble builds an invoice draft for client from jobs. It performs no I/O.
// Jobs whose amount is missing, malformed or negative are billed as zero and
// reported in InvoiceDraft.Warnings.
func Assemble(client ClientRecord, jobs []JobRecord, opts AssembleOptions) (InvoiceDraft, error) {
	if len(jobs) == 0 {
		return InvoiceDraft{}, ErrEmptyInvoice
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	taxRate := DefaultTaxRate
	if opts.TaxRate != nil {
		taxRate = *opts.TaxRate
	}
	numbers := opts.Numbers
	if numbers == nil {
		numbers = generatorFunc(GenerateInvoiceNumber)
	}

	lines := make([]LineItem, 0, len(jobs))
	var warnings []AmountWarning
	for _, job := range jobs {
		amount, warning := resolveAmount(job)
		if warning != nil {
			warnings = append(warnings, *warning)
		}
		lines = append(lines, LineItem{
			JobID:       job.ID,
			Description: lineDescription(job),
			Quantity:    1,
			UnitPrice:   amount,
			LineTotal:   amount,
		})
	}

	issueDate := dateOnly(now)
	return InvoiceDraft{
		Number:       numbers.Next(),
		ClientID:     client.ID,
		ClientName:   client.Name,
		PaymentTerms: client.PaymentTerms,
		IssueDate:    issueDate,
		DueDate:      CalculatePaymentDueDate(client.PaymentTerms, issueDate),
		Lines:        lines,
		Totals:       CalculateTotals(lineAmounts(lines), taxRate),
		TaxRate:      taxRate,
		Notes:        strings.TrimSpace(opts.Notes),
		Warnings:     warnings,
	}, nil
}

func resolveAmount(job JobRecord) (decimal.Decimal, *AmountWarning) {
	if job.RawAmount == nil || strings.TrimSpace(*job.RawAmount) == "" {
		return decimal.Zero, &AmountWarning{JobID: job.ID, JobNumber: job.JobNumber, Reason: "missing"}
	}
	raw := strings.TrimSpace(*job.RawAmount)
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &AmountWarning{JobID: job.ID, JobNumber: job.JobNumber, Raw: raw, Reason: "unparseable"}
	}
	if amount.IsNegative() {
		return decimal.Zero, &AmountWarning{JobID: job.ID, JobNumber: job.JobNumber, Raw: raw, Reason: "negative"}
	}
	return amount, nil
}

func lineDescription(job JobRecord) string {
	label := "עבודה מס׳ " + job.JobNumber
	if job.JobNumber == "" {
		label = "עבודה"
	}
	if workType := strings.TrimSpace(job.WorkTypeName); workType != "" {
		return workType + " - " + label
	}
	return label
}

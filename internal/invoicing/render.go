package invoicing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vazana/studio/web"
)

// PDFClient converts HTML to PDF.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Document is a rendered invoice. Fallback documents are plain text and are
// produced when PDF conversion is unavailable.
type Document struct {
	ContentType string
	Filename    string
	Body        []byte
	Fallback    bool
}

// RenderOptions carries per-user presentation choices. An empty Direction
// is derived from the language.
type RenderOptions struct {
	Language  string
	Direction string
	Accent    string
}

type documentLabels struct {
	Title        string
	Invoice      string
	Client       string
	IssueDate    string
	DueDate      string
	PaymentTerms string
	Description  string
	Quantity     string
	UnitPrice    string
	LineTotal    string
	Subtotal     string
	Tax          string
	Total        string
	Notes        string
}

var labelsByLanguage = map[string]documentLabels{
	"he": {
		Title: "חשבונית", Invoice: "חשבונית מס׳", Client: "לקוח", IssueDate: "תאריך הפקה",
		DueDate: "לתשלום עד", PaymentTerms: "תנאי תשלום", Description: "תיאור", Quantity: "כמות",
		UnitPrice: "מחיר יחידה", LineTotal: "סה״כ שורה", Subtotal: "סכום ביניים", Tax: "מע״מ",
		Total: "סה״כ לתשלום", Notes: "הערות",
	},
	"en": {
		Title: "Invoice", Invoice: "Invoice No.", Client: "Client", IssueDate: "Issue date",
		DueDate: "Due date", PaymentTerms: "Payment terms", Description: "Description", Quantity: "Qty",
		UnitPrice: "Unit price", LineTotal: "Line total", Subtotal: "Subtotal", Tax: "VAT",
		Total: "Total due", Notes: "Notes",
	},
}

type documentData struct {
	Invoice InvoiceView
	Labels  documentLabels
	Lang    string
	Dir     string
	Accent  string
}

// renderTimeout bounds a shared conversion, which outlives any single caller.
const renderTimeout = 30 * time.Second

// Renderer turns invoice views into PDF documents, falling back to text.
type Renderer struct {
	tpl     *template.Template
	client  PDFClient
	logger  *slog.Logger
	group   singleflight.Group
	timeout time.Duration
}

// NewRenderer parses the embedded invoice template.
func NewRenderer(client PDFClient, logger *slog.Logger) (*Renderer, error) {
	tpl, err := template.New("invoice.html").ParseFS(web.Templates, "templates/invoices/invoice.html")
	if err != nil {
		return nil, fmt.Errorf("invoicing: parse invoice template: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{tpl: tpl, client: client, logger: logger, timeout: renderTimeout}, nil
}

// Render produces a PDF for view, or a text document if conversion fails.
// Concurrent renders of the same invoice share one conversion. The shared
// conversion is detached from the caller that started it, so one caller
// leaving does not degrade the document the others receive.
func (r *Renderer) Render(ctx context.Context, view InvoiceView, opts RenderOptions) (Document, error) {
	data := r.documentData(view, opts)
	key := fmt.Sprintf("%s:%s:%s:%s:%s", view.Number, data.Lang, data.Dir, view.Status, data.Accent)
	ch := r.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.render(flightCtx, data)
	})
	select {
	case <-ctx.Done():
		return Document{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Document{}, res.Err
		}
		return res.Val.(Document), nil
	}
}

// HTML renders the invoice page without PDF conversion.
func (r *Renderer) HTML(view InvoiceView, opts RenderOptions) (string, error) {
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, r.documentData(view, opts)); err != nil {
		return "", fmt.Errorf("invoicing: execute invoice template: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) render(ctx context.Context, data documentData) (Document, error) {
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, data); err != nil {
		return Document{}, fmt.Errorf("invoicing: execute invoice template: %w", err)
	}
	if r.client != nil {
		pdf, err := r.client.RenderHTML(ctx, buf.String())
		if err == nil {
			return Document{
				ContentType: "application/pdf",
				Filename:    data.Invoice.Number + ".pdf",
				Body:        pdf,
			}, nil
		}
		r.logger.Warn("invoice pdf conversion failed, using text fallback",
			slog.String("invoice_number", data.Invoice.Number), slog.Any("error", err))
	}
	return Document{
		ContentType: "text/plain; charset=utf-8",
		Filename:    data.Invoice.Number + ".txt",
		Body:        []byte(textDocument(data.Invoice, data.Labels)),
		Fallback:    true,
	}, nil
}

func (r *Renderer) documentData(view InvoiceView, opts RenderOptions) documentData {
	lang := opts.Language
	labels, ok := labelsByLanguage[lang]
	if !ok {
		lang = "he"
		labels = labelsByLanguage[lang]
	}
	dir := opts.Direction
	if dir != "rtl" && dir != "ltr" {
		dir = "ltr"
		if lang == "he" {
			dir = "rtl"
		}
	}
	accent := opts.Accent
	if accent == "" {
		accent = "#1e40af"
	}
	return documentData{Invoice: view, Labels: labels, Lang: lang, Dir: dir, Accent: accent}
}

// textDocument is the plain-text representation of an invoice.
func textDocument(v InvoiceView, l documentLabels) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", l.Invoice, v.Number)
	fmt.Fprintf(&b, "%s: %s\n", l.Client, v.ClientName)
	fmt.Fprintf(&b, "%s: %s\n", l.IssueDate, v.IssueDate)
	fmt.Fprintf(&b, "%s: %s\n", l.DueDate, v.DueDate)
	fmt.Fprintf(&b, "%s: %s\n\n", l.PaymentTerms, v.PaymentTermsText)
	for _, line := range v.Lines {
		fmt.Fprintf(&b, "- %s | %d x %s = %s\n", line.Description, line.Quantity, line.UnitPrice, line.LineTotal)
	}
	fmt.Fprintf(&b, "\n%s: %s\n", l.Subtotal, v.Subtotal)
	fmt.Fprintf(&b, "%s (%s): %s\n", l.Tax, v.TaxRate, v.Tax)
	fmt.Fprintf(&b, "%s: %s\n", l.Total, v.Total)
	if v.Notes != "" {
		fmt.Fprintf(&b, "\n%s: %s\n", l.Notes, v.Notes)
	}
	return b.String()
}

package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vazana/studio/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// GetClient loads the billing fields of a client.
func (r *PGRepository) GetClient(ctx context.Context, id int64) (*ClientRecord, error) {
	const q = `
		SELECT id, name, COALESCE(tax_id, ''), COALESCE(payment_terms, ''),
		       COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, '')
		FROM clients
		WHERE id = $1
	`
	var c ClientRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.TaxID, &c.PaymentTerms, &c.Email, &c.Phone, &c.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client %d: %w", id, err)
	}
	return &c, nil
}

// ListJobsByIDs returns the jobs in the order the ids were given. Missing ids
// are simply absent from the result. Jobs without a client carry ClientID 0.
func (r *PGRepository) ListJobsByIDs(ctx context.Context, ids []int64) ([]JobRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT j.id, COALESCE(j.client_id, 0), COALESCE(j.job_number, ''), COALESCE(wt.name_he, ''), COALESCE(j.site, ''),
		       j.job_date, j.total_amount, j.invoice_id
		FROM jobs j
		LEFT JOIN work_types wt ON wt.id = j.work_type_id
		WHERE j.id = ANY($1)
		ORDER BY array_position($1, j.id)
	`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var (
			job       JobRecord
			jobDate   pgtype.Date
			amount    pgtype.Text
			invoiceID pgtype.Int8
		)
		if err := rows.Scan(&job.ID, &job.ClientID, &job.JobNumber, &job.WorkTypeName, &job.Site, &jobDate, &amount, &invoiceID); err != nil {
			return nil, err
		}
		if jobDate.Valid {
			job.JobDate = jobDate.Time
		}
		if amount.Valid {
			raw := amount.String
			job.RawAmount = &raw
		}
		if invoiceID.Valid {
			id := invoiceID.Int64
			job.InvoiceID = &id
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CreateInvoice writes the invoice header and its lines in one transaction.
func (r *PGRepository) CreateInvoice(ctx context.Context, draft InvoiceDraft, createdBy int64) (*Invoice, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const header = `
			INSERT INTO invoices (
				invoice_number, client_id, issue_date, due_date, subtotal, tax, total,
				tax_rate, status, notes, created_by
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)
			RETURNING id
		`
		if err := tx.QueryRow(ctx, header,
			draft.Number, draft.ClientID, draft.IssueDate, draft.DueDate,
			draft.Totals.Subtotal.String(), draft.Totals.Tax.String(), draft.Totals.Total.String(),
			draft.TaxRate.String(), StatusPending, nullableText(draft.Notes), nullableInt(createdBy),
		).Scan(&id); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		const line = `
			INSERT INTO invoice_lines (
				invoice_id, job_id, description, quantity, unit_price, line_total, line_order
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		`
		batch := &pgx.Batch{}
		for i, l := range draft.Lines {
			batch.Queue(line, id, l.JobID, l.Description, l.Quantity, l.UnitPrice.String(), l.LineTotal.String(), i+1)
		}
		results := tx.SendBatch(ctx, batch)
		for range draft.Lines {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert invoice line: %w", err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return nil, err
	}
	return r.GetInvoice(ctx, id)
}

// LinkJobs points every job at invoiceID. Re-linking a job already pointing
// at invoiceID is a no-op; a job linked to a different invoice aborts the
// whole update with ErrJobAlreadyInvoiced.
func (r *PGRepository) LinkJobs(ctx context.Context, invoiceID int64, jobIDs []int64) error {
	ids := uniqueIDs(jobIDs)
	if len(ids) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `
			UPDATE jobs
			SET invoice_id = $1, updated_at = now()
			WHERE id = ANY($2) AND (invoice_id IS NULL OR invoice_id = $1)
		`
		tag, err := tx.Exec(ctx, q, invoiceID, ids)
		if err != nil {
			return fmt.Errorf("link jobs to invoice %d: %w", invoiceID, err)
		}
		if tag.RowsAffected() != int64(len(ids)) {
			return fmt.Errorf("link jobs to invoice %d: %d of %d updated: %w", invoiceID, tag.RowsAffected(), len(ids), ErrJobAlreadyInvoiced)
		}
		return nil
	})
}

// ListInvoiceJobIDs returns the jobs referenced by an invoice's lines.
func (r *PGRepository) ListInvoiceJobIDs(ctx context.Context, invoiceID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT job_id FROM invoice_lines WHERE invoice_id = $1 ORDER BY line_order`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const invoiceColumns = `
	i.id, i.invoice_number, i.client_id, c.name, COALESCE(c.payment_terms, ''),
	i.issue_date, i.due_date, i.subtotal::text, i.tax::text, i.total::text, i.tax_rate::text,
	i.status, COALESCE(i.notes, ''), COALESCE(i.created_by, 0), i.created_at, i.updated_at
`

// GetInvoice loads an invoice with its lines.
func (r *PGRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices i JOIN clients c ON c.id = i.client_id WHERE i.id = $1`
	inv, err := scanInvoice(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	lines, err := r.listLines(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return inv, nil
}

// ListInvoices returns invoice headers, newest first. Lines are not loaded.
func (r *PGRepository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	var conditions []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if filter.ClientID != 0 {
		args = append(args, filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("i.client_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	q := fmt.Sprintf(`SELECT %s FROM invoices i JOIN clients c ON c.id = i.client_id %s
		ORDER BY i.issue_date DESC, i.id DESC LIMIT $%d OFFSET $%d`, invoiceColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// UpdateStatus moves an invoice from one status to another. The update is
// conditional on the current status so concurrent transitions cannot both win.
func (r *PGRepository) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return fmt.Errorf("update invoice %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d is no longer %s: %w", id, from, ErrInvalidStatusTransition)
	}
	return nil
}

// MarkOverdue flags unpaid invoices due before today.
func (r *PGRepository) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	const q = `
		UPDATE invoices
		SET status = $1, updated_at = now()
		WHERE status IN ($2, $3) AND due_date < $4
	`
	tag, err := r.pool.Exec(ctx, q, StatusOverdue, StatusPending, StatusSent, dateOnly(today))
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) listLines(ctx context.Context, q dbtx, invoiceID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT job_id, description, quantity, unit_price::text, line_total::text
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_order, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var (
			line             LineItem
			unitPrice, total string
		)
		if err := rows.Scan(&line.JobID, &line.Description, &line.Quantity, &unitPrice, &total); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		if line.LineTotal, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv                           Invoice
		issue, due                    pgtype.Date
		subtotal, tax, total, taxRate string
		status                        string
	)
	if err := row.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.ClientName, &inv.PaymentTerms,
		&issue, &due, &subtotal, &tax, &total, &taxRate,
		&status, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.IssueDate = issue.Time
	inv.DueDate = due.Time
	inv.Status = Status(status)
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&inv.Subtotal, subtotal}, {&inv.Tax, tax}, {&inv.Total, total}, {&inv.TaxRate, taxRate}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("invoice %d: %w", inv.ID, err)
		}
	}
	return &inv, nil
}

// uniqueIDs drops repeated ids, keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	return lo.Uniq(ids)
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullableInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

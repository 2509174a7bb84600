package invoicing

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memoryRepo struct {
	mu       sync.Mutex
	clients  map[int64]ClientRecord
	jobs     map[int64]JobRecord
	invoices map[int64]*Invoice
	nextID   int64

	createErr  error
	linkErr    error
	linkCalls  int
	linkFailN  int
	statusErrs map[int64]error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clients:  make(map[int64]ClientRecord),
		jobs:     make(map[int64]JobRecord),
		invoices: make(map[int64]*Invoice),
		nextID:   1,
	}
}

func (m *memoryRepo) addClient(c ClientRecord) { m.clients[c.ID] = c }

func (m *memoryRepo) addJob(id int64, number, amount string) {
	m.addClientJob(1, id, number, amount)
}

func (m *memoryRepo) addClientJob(clientID, id int64, number, amount string) {
	job := JobRecord{ID: id, ClientID: clientID, JobNumber: number, WorkTypeName: "אבטחת צומת"}
	if amount != "" {
		a := amount
		job.RawAmount = &a
	}
	m.jobs[id] = job
}

func (m *memoryRepo) GetClient(ctx context.Context, id int64) (*ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (m *memoryRepo) ListJobsByIDs(ctx context.Context, ids []int64) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []JobRecord
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateInvoice(ctx context.Context, draft InvoiceDraft, createdBy int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	inv := &Invoice{
		ID:           m.nextID,
		Number:       draft.Number,
		ClientID:     draft.ClientID,
		ClientName:   draft.ClientName,
		PaymentTerms: draft.PaymentTerms,
		IssueDate:    draft.IssueDate,
		DueDate:      draft.DueDate,
		Lines:        append([]LineItem(nil), draft.Lines...),
		Subtotal:     draft.Totals.Subtotal,
		Tax:          draft.Totals.Tax,
		Total:        draft.Totals.Total,
		TaxRate:      draft.TaxRate,
		Status:       StatusPending,
		Notes:        draft.Notes,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.invoices[inv.ID] = inv
	m.nextID++
	copied := *inv
	return &copied, nil
}

func (m *memoryRepo) LinkJobs(ctx context.Context, invoiceID int64, jobIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkCalls++
	if m.linkErr != nil && (m.linkFailN == 0 || m.linkCalls <= m.linkFailN) {
		return m.linkErr
	}
	for _, id := range jobIDs {
		job := m.jobs[id]
		if job.InvoiceID != nil && *job.InvoiceID != invoiceID {
			return ErrJobAlreadyInvoiced
		}
	}
	for _, id := range jobIDs {
		job := m.jobs[id]
		inv := invoiceID
		job.InvoiceID = &inv
		m.jobs[id] = job
	}
	return nil
}

func (m *memoryRepo) ListInvoiceJobIDs(ctx context.Context, invoiceID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	ids := make([]int64, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		ids = append(ids, line.JobID)
	}
	return ids, nil
}

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (m *memoryRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.ClientID != 0 && inv.ClientID != filter.ClientID {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statusErrs[id]; err != nil {
		return err
	}
	inv, ok := m.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status != from {
		return errors.New("status changed concurrently")
	}
	inv.Status = to
	return nil
}

func (m *memoryRepo) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.invoices {
		if (inv.Status == StatusPending || inv.Status == StatusSent) && inv.DueDate.Before(dateOnly(today)) {
			inv.Status = StatusOverdue
			n++
		}
	}
	return n, nil
}

type sequenceNumbers struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceNumbers) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "INV-TEST-" + strconv.Itoa(s.n)
}

type recordingRetry struct {
	mu      sync.Mutex
	ids     []int64
	ctxErrs []error
	err     error
}

func (r *recordingRetry) ScheduleLinkRetry(ctx context.Context, invoiceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, invoiceID)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	warnings int
}

func (c *countingRecorder) InvoiceOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func (c *countingRecorder) AmountWarnings(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings += n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Repository is the persistence collaborator of the invoicing service.
type Repository interface {
	GetClient(ctx context.Context, id int64) (*ClientRecord, error)
	ListJobsByIDs(ctx context.Context, ids []int64) ([]JobRecord, error)
	CreateInvoice(ctx context.Context, draft InvoiceDraft, createdBy int64) (*Invoice, error)
	LinkJobs(ctx context.Context, invoiceID int64, jobIDs []int64) error
	ListInvoiceJobIDs(ctx context.Context, invoiceID int64) ([]int64, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)
}

// LinkRetryScheduler queues a background retry of the job-linking step.
type LinkRetryScheduler interface {
	ScheduleLinkRetry(ctx context.Context, invoiceID int64) error
}

// Recorder receives invoice outcome events for metrics.
type Recorder interface {
	InvoiceOutcome(outcome string)
	AmountWarnings(n int)
}

// Outcomes reported to Recorder.
const (
	OutcomeCreated = "created"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// ServiceConfig groups optional collaborators. Zero values select defaults.
type ServiceConfig struct {
	TaxRate  *decimal.Decimal
	Numbers  NumberGenerator
	Clock    func() time.Time
	Logger   *slog.Logger
	Retry    LinkRetryScheduler
	Recorder Recorder
}

// Service creates and manages invoices on top of Repository.
type Service struct {
	repo     Repository
	taxRate  decimal.Decimal
	numbers  NumberGenerator
	clock    func() time.Time
	logger   *slog.Logger
	retry    LinkRetryScheduler
	recorder Recorder
}

// NewService builds a Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	s := &Service{
		repo:     repo,
		taxRate:  DefaultTaxRate,
		numbers:  cfg.Numbers,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		retry:    cfg.Retry,
		recorder: cfg.Recorder,
	}
	if cfg.TaxRate != nil {
		s.taxRate = *cfg.TaxRate
	}
	if s.numbers == nil {
		s.numbers = generatorFunc(GenerateInvoiceNumber)
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SetRetryScheduler wires the background retry after construction; the
// worker client and the service depend on each other at startup.
func (s *Service) SetRetryScheduler(retry LinkRetryScheduler) {
	s.retry = retry
}

// CreateInvoiceInput is the request to invoice a client for a set of jobs.
type CreateInvoiceInput struct {
	ClientID  int64
	JobIDs    []int64
	Notes     string
	CreatedBy int64
}

// Preview assembles the invoice without persisting anything.
func (s *Service) Preview(ctx context.Context, in CreateInvoiceInput) (InvoiceDraft, error) {
	client, jobs, err := s.load(ctx, in.ClientID, in.JobIDs)
	if err != nil {
		return InvoiceDraft{}, err
	}
	return s.assemble(*client, jobs, in.Notes)
}

// CreateInvoice assembles, stores and links an invoice in two phases. When
// the invoice row is stored but linking fails, the stored invoice is
// returned together with a *PartialInvoiceCreationError and a background
// retry is requested.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, InvoiceDraft, error) {
	client, jobs, err := s.load(ctx, in.ClientID, in.JobIDs)
	if err != nil {
		s.outcome(OutcomeFailed)
		return nil, InvoiceDraft{}, err
	}
	draft, err := s.assemble(*client, jobs, in.Notes)
	if err != nil {
		s.outcome(OutcomeFailed)
		return nil, InvoiceDraft{}, err
	}

	inv, err := s.repo.CreateInvoice(ctx, draft, in.CreatedBy)
	if err != nil {
		s.outcome(OutcomeFailed)
		return nil, draft, fmt.Errorf("store invoice %s: %w", draft.Number, err)
	}

	logger := s.logger.With(slog.Int64("invoice_id", inv.ID), slog.String("invoice_number", inv.Number))
	if err := s.repo.LinkJobs(ctx, inv.ID, draft.JobIDs()); err != nil {
		s.outcome(OutcomePartial)
		logger.Error("link jobs to invoice", slog.Any("error", err))
		if s.retry != nil {
			// The request context may already be cancelled; the retry must still be queued.
			retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if qErr := s.retry.ScheduleLinkRetry(retryCtx, inv.ID); qErr != nil {
				logger.Error("schedule link retry", slog.Any("error", qErr))
			}
			cancel()
		}
		return inv, draft, &PartialInvoiceCreationError{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			JobIDs:        draft.JobIDs(),
			Err:           err,
		}
	}

	s.outcome(OutcomeCreated)
	logger.Info("invoice created",
		slog.Int64("client_id", inv.ClientID),
		slog.Int("lines", len(draft.Lines)),
		slog.String("total", inv.Total.StringFixed(currencyPlaces)),
	)
	return inv, draft, nil
}

// LinkPendingJobs re-applies the job links of an existing invoice. It is
// safe to call any number of times.
func (s *Service) LinkPendingJobs(ctx context.Context, invoiceID int64) error {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return err
	}
	jobIDs, err := s.repo.ListInvoiceJobIDs(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("list invoice %d jobs: %w", invoiceID, err)
	}
	if err := s.repo.LinkJobs(ctx, invoiceID, jobIDs); err != nil {
		return err
	}
	s.logger.Info("invoice jobs linked", slog.Int64("invoice_id", invoiceID), slog.Int("jobs", len(jobIDs)))
	return nil
}

// GetInvoice returns one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoice headers matching filter.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, filter.Status)
	}
	return s.repo.ListInvoices(ctx, filter)
}

// UpdateStatus moves an invoice to next. Setting the current status again
// is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id int64, next Status) (*Invoice, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, next)
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == next {
		return inv, nil
	}
	if !inv.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, inv.Status, next)
	}
	if err := s.repo.UpdateStatus(ctx, id, inv.Status, next); err != nil {
		return nil, err
	}
	s.logger.Info("invoice status changed", slog.Int64("invoice_id", id), slog.String("from", string(inv.Status)), slog.String("to", string(next)))
	return s.repo.GetInvoice(ctx, id)
}

// MarkOverdue flags every pending or sent invoice whose due date passed.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	return s.repo.MarkOverdue(ctx, s.clock())
}

// Today returns the service clock's current time.
func (s *Service) Today() time.Time {
	return s.clock()
}

func (s *Service) load(ctx context.Context, clientID int64, jobIDs []int64) (*ClientRecord, []JobRecord, error) {
	ids := uniqueIDs(jobIDs)
	if len(ids) == 0 {
		return nil, nil, ErrEmptyInvoice
	}

	var (
		client *ClientRecord
		jobs   []JobRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.repo.GetClient(gctx, clientID)
		client = c
		return err
	})
	g.Go(func() error {
		j, err := s.repo.ListJobsByIDs(gctx, ids)
		jobs = j
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, ErrClientNotFound
	}

	// Another client's jobs are reported as missing.
	jobs = lo.Filter(jobs, func(job JobRecord, _ int) bool { return job.ClientID == client.ID })
	for _, job := range jobs {
		if job.InvoiceID != nil {
			return nil, nil, fmt.Errorf("job %d is on invoice %d: %w", job.ID, *job.InvoiceID, ErrJobAlreadyInvoiced)
		}
	}
	missing := lo.Without(ids, lo.Map(jobs, func(job JobRecord, _ int) int64 { return job.ID })...)
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrJobsNotFound, missing)
	}
	return client, jobs, nil
}

func (s *Service) assemble(client ClientRecord, jobs []JobRecord, notes string) (InvoiceDraft, error) {
	rate := s.taxRate
	draft, err := Assemble(client, jobs, AssembleOptions{
		Now:     s.clock(),
		TaxRate: &rate,
		Numbers: s.numbers,
		Notes:   notes,
	})
	if err != nil {
		return InvoiceDraft{}, err
	}
	for _, w := range draft.Warnings {
		s.logger.Warn("invalid job amount billed as zero",
			slog.Int64("job_id", w.JobID),
			slog.String("job_number", w.JobNumber),
			slog.String("raw", w.Raw),
			slog.String("reason", w.Reason),
		)
	}
	if s.recorder != nil && len(draft.Warnings) > 0 {
		s.recorder.AmountWarnings(len(draft.Warnings))
	}
	return draft, nil
}

func (s *Service) outcome(outcome string) {
	if s.recorder != nil {
		s.recorder.InvoiceOutcome(outcome)
	}
}

// IsPartial reports whether err is a partial creation and returns it.
func IsPartial(err error) (*PartialInvoiceCreationError, bool) {
	var partial *PartialInvoiceCreationError
	if errors.As(err, &partial) {
		return partial, true
	}
	return nil, false
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vazana/studio/internal/jobs"
	"github.com/vazana/studio/internal/platform/httpx"
)

// InvoiceLinker resumes the second phase of invoice creation.
type InvoiceLinker interface {
	LinkPendingJobs(ctx context.Context, invoiceID int64) error
	MarkOverdue(ctx context.Context) (int64, error)
}

// KeyCleaner removes old idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// InvoiceJobs holds the handlers of invoice background tasks.
type InvoiceJobs struct {
	Invoices InvoiceLinker
	Keys     KeyCleaner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handlers lists the task handlers for worker registration.
func (j *InvoiceJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskInvoiceLinkJobs, Handler: j.HandleLinkJobs},
		{Type: TaskInvoiceOverdueSweep, Handler: j.HandleOverdueSweep},
		{Type: TaskIdempotencyCleanup, Handler: j.HandleIdempotencyCleanup},
	}
}

// HandleLinkJobs links the jobs of one invoice. Missing invoices and jobs
// claimed by another invoice cannot succeed on retry and are not retried.
func (j *InvoiceJobs) HandleLinkJobs(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskInvoiceLinkJobs)
	defer func() { err = tracker.End(err) }()

	var payload LinkJobsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.InvoiceID <= 0 {
		return fmt.Errorf("decode link jobs payload: %w", asynq.SkipRetry)
	}
	logger := j.logger().With(slog.Int64("invoice_id", payload.InvoiceID))
	if err := j.Invoices.LinkPendingJobs(ctx, payload.InvoiceID); err != nil {
		if errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrDuplicate) {
			logger.Error("link jobs abandoned", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Warn("link jobs failed, will retry", slog.Any("error", err))
		return err
	}
	logger.Info("link jobs retry succeeded")
	return nil
}

// HandleOverdueSweep marks past-due invoices overdue.
func (j *InvoiceJobs) HandleOverdueSweep(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskInvoiceOverdueSweep)
	defer func() { err = tracker.End(err) }()

	n, err := j.Invoices.MarkOverdue(ctx)
	if err != nil {
		j.logger().Error("overdue sweep", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskInvoiceOverdueSweep, n)
	j.logger().Info("overdue sweep finished", slog.Int64("marked", n))
	return nil
}

// HandleIdempotencyCleanup deletes idempotency keys past retention.
func (j *InvoiceJobs) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	if j.Keys == nil {
		return nil
	}
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode cleanup payload: %w", asynq.SkipRetry)
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 72
	}
	n, err := j.Keys.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err != nil {
		j.logger().Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskIdempotencyCleanup, n)
	j.logger().Info("idempotency keys removed", slog.Int64("count", n))
	return nil
}

func (j *InvoiceJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

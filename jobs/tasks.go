package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskInvoiceLinkJobs re-applies the job links of a stored invoice.
	TaskInvoiceLinkJobs = "invoice:link-jobs"
	// TaskInvoiceOverdueSweep marks past-due invoices as overdue.
	TaskInvoiceOverdueSweep = "invoice:overdue-sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"

	// OverdueSweepCron runs the sweep nightly at 03:00 UTC.
	OverdueSweepCron = "0 3 * * *"
	// IdempotencyCleanupCron runs the cleanup nightly at 03:30 UTC.
	IdempotencyCleanupCron = "30 3 * * *"

	linkRetryMax = 10
)

// LinkJobsPayload identifies the invoice whose jobs must be linked.
type LinkJobsPayload struct {
	InvoiceID int64 `json:"invoiceId"`
}

// NewLinkJobsTask constructs the link-retry task. The task id makes
// repeated scheduling for the same invoice collapse into one queued task.
func NewLinkJobsTask(invoiceID int64) (*asynq.Task, error) {
	if invoiceID <= 0 {
		return nil, fmt.Errorf("link jobs task: invalid invoice id %d", invoiceID)
	}
	body, err := json.Marshal(LinkJobsPayload{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceLinkJobs, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(linkRetryMax),
		asynq.TaskID(fmt.Sprintf("%s:%d", TaskInvoiceLinkJobs, invoiceID)),
		asynq.Timeout(time.Minute),
	), nil
}

// SweepPayload carries scheduling metadata.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOverdueSweepTask constructs the overdue sweep task.
func NewOverdueSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceOverdueSweep, body, asynq.Queue(QueueDefault)), nil
}

// CleanupPayload configures how old a key must be to be removed.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

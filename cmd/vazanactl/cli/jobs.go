package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vazana/studio/jobs"
)

// JobsCLI wraps manual management helpers for the invoice queue.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	retry     *jobs.Client
}

// NewJobsCLI initialises the helpers against the given Redis address.
// Nothing is dialed until a command needs it.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	retry, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{
		client:    asynq.NewClient(opts),
		inspector: asynq.NewInspector(opts),
		retry:     retry,
	}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.retry != nil {
		if closeErr := c.retry.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a periodic job immediately.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	task, err := triggerTask(name, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

func triggerTask(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case jobs.TaskInvoiceOverdueSweep:
		return jobs.NewOverdueSweepTask(now)
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(72 * time.Hour)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %q", name)
	}
}

// Relink queues the link step for an invoice left partially created.
func (c *JobsCLI) Relink(ctx context.Context, invoiceID int64) error {
	if invoiceID <= 0 {
		return fmt.Errorf("jobs cli: invalid invoice id %d", invoiceID)
	}
	if c == nil || c.retry == nil {
		return errors.New("jobs cli: client not configured")
	}
	return c.retry.ScheduleLinkRetry(ctx, invoiceID)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
	}, nil
}

// ListRetry returns tasks waiting for another attempt, such as invoices
// whose jobs could not be linked yet.
func (c *JobsCLI) ListRetry(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/vazana/studio/internal/jobs"
	"github.com/vazana/studio/internal/platform/httpx"
)

type fakeInvoices struct {
	linked   []int64
	linkErr  error
	marked   int64
	sweepErr error
}

func (f *fakeInvoices) LinkPendingJobs(ctx context.Context, invoiceID int64) error {
	f.linked = append(f.linked, invoiceID)
	return f.linkErr
}

func (f *fakeInvoices) MarkOverdue(ctx context.Context) (int64, error) {
	return f.marked, f.sweepErr
}

type fakeKeys struct {
	olderThan time.Duration
	removed   int64
}

func (f *fakeKeys) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, nil
}

func newInvoiceJobs(inv *fakeInvoices, keys KeyCleaner) (*InvoiceJobs, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return &InvoiceJobs{Invoices: inv, Keys: keys, Metrics: jobmetrics.NewMetrics(reg)}, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestHandleLinkJobs(t *testing.T) {
	inv := &fakeInvoices{}
	j, reg := newInvoiceJobs(inv, nil)

	task, err := NewLinkJobsTask(7)
	require.NoError(t, err)
	require.NoError(t, j.HandleLinkJobs(context.Background(), task))
	assert.Equal(t, []int64{7}, inv.linked)
	assert.Equal(t, 1.0, counterValue(t, reg, "vazana_jobs_total", map[string]string{"job": TaskInvoiceLinkJobs, "status": "success"}))
}

func TestHandleLinkJobsRetryPolicy(t *testing.T) {
	task, err := NewLinkJobsTask(3)
	require.NoError(t, err)

	transient := &fakeInvoices{linkErr: errors.New("connection reset")}
	j, _ := newInvoiceJobs(transient, nil)
	err = j.HandleLinkJobs(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	for _, permanent := range []error{
		fmt.Errorf("invoice %w", httpx.ErrNotFound),
		fmt.Errorf("job claimed: %w", httpx.ErrDuplicate),
	} {
		j, _ := newInvoiceJobs(&fakeInvoices{linkErr: permanent}, nil)
		err := j.HandleLinkJobs(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	}
}

func TestHandleLinkJobsBadPayload(t *testing.T) {
	inv := &fakeInvoices{}
	j, reg := newInvoiceJobs(inv, nil)

	for _, body := range [][]byte{[]byte("{"), []byte(`{"invoiceId":0}`)} {
		err := j.HandleLinkJobs(context.Background(), asynq.NewTask(TaskInvoiceLinkJobs, body))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	}
	assert.Empty(t, inv.linked)
	assert.Equal(t, 2.0, counterValue(t, reg, "vazana_jobs_failures_total", map[string]string{"job": TaskInvoiceLinkJobs}))
}

func TestHandleOverdueSweep(t *testing.T) {
	j, reg := newInvoiceJobs(&fakeInvoices{marked: 4}, nil)
	task, err := NewOverdueSweepTask(time.Date(2025, 7, 31, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, j.HandleOverdueSweep(context.Background(), task))
	assert.Equal(t, 4.0, counterValue(t, reg, "vazana_job_affected_rows_total", map[string]string{"job": TaskInvoiceOverdueSweep}))

	failing, _ := newInvoiceJobs(&fakeInvoices{sweepErr: errors.New("db down")}, nil)
	assert.Error(t, failing.HandleOverdueSweep(context.Background(), task))
}

func TestHandleIdempotencyCleanup(t *testing.T) {
	keys := &fakeKeys{removed: 9}
	j, reg := newInvoiceJobs(&fakeInvoices{}, keys)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.HandleIdempotencyCleanup(context.Background(), task))
	assert.Equal(t, 48*time.Hour, keys.olderThan)
	assert.Equal(t, 9.0, counterValue(t, reg, "vazana_job_affected_rows_total", map[string]string{"job": TaskIdempotencyCleanup}))

	require.NoError(t, j.HandleIdempotencyCleanup(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))))
	assert.Equal(t, 72*time.Hour, keys.olderThan)
}

func TestNewLinkJobsTask(t *testing.T) {
	_, err := NewLinkJobsTask(0)
	assert.Error(t, err)

	task, err := NewLinkJobsTask(12)
	require.NoError(t, err)
	assert.Equal(t, TaskInvoiceLinkJobs, task.Type())
	var payload LinkJobsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(12), payload.InvoiceID)
}

func TestLinkRetryDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, linkRetryDelay(0, nil, nil))
	assert.Equal(t, 30*time.Second, linkRetryDelay(2, nil, nil))
	assert.Equal(t, 10*time.Minute, linkRetryDelay(500, nil, nil))
}

func TestHandlersRegistersEveryTask(t *testing.T) {
	j, _ := newInvoiceJobs(&fakeInvoices{}, nil)
	types := make([]string, 0, 3)
	for _, h := range j.Handlers() {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}
	assert.ElementsMatch(t, []string{TaskInvoiceLinkJobs, TaskInvoiceOverdueSweep, TaskIdempotencyCleanup}, types)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
	assert.Zero(t, body.Pending)
}

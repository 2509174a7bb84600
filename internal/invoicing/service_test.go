package invoicing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newScenarioService(t *testing.T) (*Service, *memoryRepo, *recordingRetry, *countingRecorder) {
	t.Helper()
	repo := newMemoryRepo()
	repo.addClient(ClientRecord{ID: 1, Name: "נתיבי ישראל", PaymentTerms: "current+30"})
	repo.addJob(10, "1001", "500.00")
	repo.addJob(11, "1002", "300.50")
	retry := &recordingRetry{}
	recorder := &countingRecorder{}
	svc := NewService(repo, ServiceConfig{
		Numbers:  &sequenceNumbers{},
		Clock:    fixedClock(scenarioNow),
		Retry:    retry,
		Recorder: recorder,
	})
	return svc, repo, retry, recorder
}

func TestServiceCreateInvoice(t *testing.T) {
	svc, repo, retry, recorder := newScenarioService(t)

	inv, draft, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		ClientID:  1,
		JobIDs:    []int64{10, 11, 10},
		Notes:     "יוני",
		CreatedBy: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, "INV-TEST-1", inv.Number)
	assert.Equal(t, StatusPending, inv.Status)
	assert.Equal(t, "944.59", inv.Total.StringFixed(2))
	assert.Equal(t, day(2025, 7, 30), inv.DueDate)
	assert.Equal(t, int64(5), inv.CreatedBy)
	assert.Len(t, draft.Lines, 2)

	for _, id := range []int64{10, 11} {
		require.NotNil(t, repo.jobs[id].InvoiceID)
		assert.Equal(t, inv.ID, *repo.jobs[id].InvoiceID)
	}
	assert.Empty(t, retry.ids)
	assert.Equal(t, 1, recorder.outcomes[OutcomeCreated])
}

func TestServiceCreateInvoiceErrors(t *testing.T) {
	t.Run("empty jobs", func(t *testing.T) {
		svc, _, _, recorder := newScenarioService(t)
		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1})
		require.ErrorIs(t, err, ErrEmptyInvoice)
		assert.Equal(t, 1, recorder.outcomes[OutcomeFailed])
	})
	t.Run("missing client", func(t *testing.T) {
		svc, _, _, _ := newScenarioService(t)
		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 99, JobIDs: []int64{10}})
		require.ErrorIs(t, err, ErrClientNotFound)
	})
	t.Run("missing job", func(t *testing.T) {
		svc, _, _, _ := newScenarioService(t)
		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10, 77}})
		require.ErrorIs(t, err, ErrJobsNotFound)
		assert.Contains(t, err.Error(), "77")
	})
	t.Run("job of another client", func(t *testing.T) {
		svc, repo, _, _ := newScenarioService(t)
		repo.addClient(ClientRecord{ID: 2, Name: "מועצה אזורית", PaymentTerms: "immediate"})
		repo.addClientJob(2, 20, "2001", "700.00")

		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10, 20}})
		require.ErrorIs(t, err, ErrJobsNotFound)
		assert.Contains(t, err.Error(), "20")
		assert.Empty(t, repo.invoices)
		assert.Nil(t, repo.jobs[20].InvoiceID)

		_, err = svc.Preview(context.Background(), CreateInvoiceInput{ClientID: 2, JobIDs: []int64{10}})
		require.ErrorIs(t, err, ErrJobsNotFound)
	})
	t.Run("job already invoiced", func(t *testing.T) {
		svc, repo, _, _ := newScenarioService(t)
		other := int64(40)
		job := repo.jobs[11]
		job.InvoiceID = &other
		repo.jobs[11] = job
		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10, 11}})
		require.ErrorIs(t, err, ErrJobAlreadyInvoiced)
		assert.Empty(t, repo.invoices)
	})
	t.Run("store failure", func(t *testing.T) {
		svc, repo, _, _ := newScenarioService(t)
		repo.createErr = errors.New("connection reset")
		_, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10}})
		require.Error(t, err)
		_, partial := IsPartial(err)
		assert.False(t, partial)
	})
}

func TestServiceCreateInvoicePartialFailure(t *testing.T) {
	svc, repo, retry, recorder := newScenarioService(t)
	repo.linkErr = errors.New("deadlock detected")
	repo.linkFailN = 1

	inv, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10, 11}})
	require.Error(t, err)
	require.NotNil(t, inv)
	assert.ErrorIs(t, err, ErrPartialInvoiceCreation)

	partial, ok := IsPartial(err)
	require.True(t, ok)
	assert.Equal(t, inv.ID, partial.InvoiceID)
	assert.Equal(t, inv.Number, partial.InvoiceNumber)
	assert.Equal(t, []int64{10, 11}, partial.JobIDs)
	assert.Equal(t, []int64{inv.ID}, retry.ids)
	assert.Equal(t, 1, recorder.outcomes[OutcomePartial])
	assert.Nil(t, repo.jobs[10].InvoiceID)

	// The stored invoice survives and the link step can be resumed.
	require.NoError(t, svc.LinkPendingJobs(context.Background(), inv.ID))
	require.NoError(t, svc.LinkPendingJobs(context.Background(), inv.ID))
	assert.Equal(t, inv.ID, *repo.jobs[10].InvoiceID)
	assert.Equal(t, inv.ID, *repo.jobs[11].InvoiceID)
	assert.Len(t, repo.invoices, 1)
}

func TestServiceCreateInvoicePartialWithCancelledContext(t *testing.T) {
	svc, repo, retry, _ := newScenarioService(t)
	repo.linkErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv, _, err := svc.CreateInvoice(ctx, CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10}})
	_, ok := IsPartial(err)
	require.True(t, ok)
	assert.Equal(t, []int64{inv.ID}, retry.ids)
	assert.Equal(t, []error{nil}, retry.ctxErrs)
}

func TestServiceLinkPendingJobsUnknownInvoice(t *testing.T) {
	svc, _, _, _ := newScenarioService(t)
	err := svc.LinkPendingJobs(context.Background(), 404)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestServicePreviewDoesNotPersist(t *testing.T) {
	svc, repo, _, recorder := newScenarioService(t)
	repo.addJob(12, "1003", "oops")

	draft, err := svc.Preview(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10, 12}})
	require.NoError(t, err)
	assert.Equal(t, "500.00", draft.Totals.Subtotal.StringFixed(2))
	require.Len(t, draft.Warnings, 1)
	assert.Equal(t, int64(12), draft.Warnings[0].JobID)
	assert.Equal(t, 1, recorder.warnings)
	assert.Empty(t, repo.invoices)
	assert.Nil(t, repo.jobs[10].InvoiceID)
}

func TestServiceUpdateStatus(t *testing.T) {
	svc, _, _, _ := newScenarioService(t)
	inv, _, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{10}})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, updated.Status)

	same, err := svc.UpdateStatus(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, same.Status)

	_, err = svc.UpdateStatus(context.Background(), inv.ID, StatusPending)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.UpdateStatus(context.Background(), inv.ID, Status("void"))
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	paid, err := svc.UpdateStatus(context.Background(), inv.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)

	_, err = svc.UpdateStatus(context.Background(), inv.ID, StatusOverdue)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusOverdue))
	assert.True(t, StatusOverdue.CanTransition(StatusPaid))
	assert.False(t, StatusPaid.CanTransition(StatusPending))
	assert.False(t, StatusSent.CanTransition(StatusPending))
	assert.False(t, Status("draft").Valid())
}

func TestServiceMarkOverdue(t *testing.T) {
	repo := newMemoryRepo()
	repo.addClient(ClientRecord{ID: 1, PaymentTerms: "immediate"})
	repo.addJob(1, "1", "10")
	repo.addJob(2, "2", "20")

	issuing := NewService(repo, ServiceConfig{Clock: fixedClock(scenarioNow), Numbers: &sequenceNumbers{}})
	_, _, err := issuing.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{1}})
	require.NoError(t, err)

	later := NewService(repo, ServiceConfig{Clock: fixedClock(scenarioNow.AddDate(0, 0, 3)), Numbers: &sequenceNumbers{}})
	_, _, err = later.CreateInvoice(context.Background(), CreateInvoiceInput{ClientID: 1, JobIDs: []int64{2}})
	require.NoError(t, err)

	n, err := later.MarkOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	overdue, err := later.ListInvoices(context.Background(), ListFilter{Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	_, err = later.ListInvoices(context.Background(), ListFilter{Status: "bogus"})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

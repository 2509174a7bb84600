package invoicing

import (
	"errors"
	"fmt"

	"github.com/vazana/studio/internal/platform/httpx"
)

var (
	// ErrEmptyInvoice is returned when an invoice is assembled from zero jobs.
	ErrEmptyInvoice = fmt.Errorf("%w: invoice requires at least one job", httpx.ErrValidation)
	// ErrClientNotFound indicates the billed client does not exist.
	ErrClientNotFound = fmt.Errorf("client %w", httpx.ErrNotFound)
	// ErrJobsNotFound indicates one or more requested jobs do not exist.
	ErrJobsNotFound = fmt.Errorf("jobs %w", httpx.ErrNotFound)
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", httpx.ErrNotFound)
	// ErrJobAlreadyInvoiced is returned when linking a job that belongs to
	// another invoice.
	ErrJobAlreadyInvoiced = fmt.Errorf("%w: job already linked to another invoice", httpx.ErrDuplicate)
	// ErrInvalidStatusTransition rejects lifecycle moves outside the allowed set.
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", httpx.ErrValidation)
	// ErrPartialInvoiceCreation matches any *PartialInvoiceCreationError.
	ErrPartialInvoiceCreation = errors.New("invoice created but job linking failed")
)

// AmountWarning reports a job whose amount could not be used and was billed
// as zero. It never aborts assembly.
type AmountWarning struct {
	JobID     int64  `json:"jobId"`
	JobNumber string `json:"jobNumber"`
	Raw       string `json:"raw,omitempty"`
	Reason    string `json:"reason"`
}

func (w AmountWarning) Error() string {
	return fmt.Sprintf("job %d (%s): amount %q %s, billed as 0", w.JobID, w.JobNumber, w.Raw, w.Reason)
}

// PartialInvoiceCreationError is returned when the invoice row was written
// but the jobs could not be linked to it. Linking is idempotent, so callers
// retry with Service.LinkPendingJobs(InvoiceID).
type PartialInvoiceCreationError struct {
	InvoiceID     int64
	InvoiceNumber string
	JobIDs        []int64
	Err           error
}

func (e *PartialInvoiceCreationError) Error() string {
	return fmt.Sprintf("invoice %s (id %d) created but linking %d jobs failed: %v", e.InvoiceNumber, e.InvoiceID, len(e.JobIDs), e.Err)
}

func (e *PartialInvoiceCreationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPartialInvoiceCreation) match.
func (e *PartialInvoiceCreationError) Is(target error) bool {
	return target == ErrPartialInvoiceCreation
}

package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vazana/studio/internal/platform/httpx"
	"github.com/vazana/studio/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyScope  = "invoice:create"
	codeLinkPending   = "invoice_link_pending"
	codeIdempotent    = "idempotency_conflict"
)

// IdempotencyGuard reserves request keys so retried POSTs are refused.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, key, scope string) error
	Release(ctx context.Context, key, scope string) error
}

// OptionsFunc resolves document options for the requesting user.
type OptionsFunc func(ctx context.Context, userID int64) RenderOptions

// Handler exposes the invoicing HTTP API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	formatter *Formatter
	renderer  *Renderer
	guard     IdempotencyGuard
	options   OptionsFunc
	validator *validator.Validate
}

// NewHandler builds the HTTP handler. guard and options may be nil.
func NewHandler(logger *slog.Logger, service *Service, formatter *Formatter, renderer *Renderer, guard IdempotencyGuard, options OptionsFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		logger:    logger,
		service:   service,
		formatter: formatter,
		renderer:  renderer,
		guard:     guard,
		options:   options,
		validator: v,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	userID := shared.UserIDFromContext(ctx)
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	scope := idempotencyScope + ":" + strconv.FormatInt(userID, 10)
	if key != "" && h.guard != nil {
		if err := h.guard.Reserve(ctx, key, scope); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.JSON(w, http.StatusConflict, httpx.ErrorBody{Error: err.Error(), Code: codeIdempotent})
				return
			}
			h.logger.Error("reserve idempotency key", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	inv, draft, err := h.service.CreateInvoice(ctx, CreateInvoiceInput{
		ClientID:  req.ClientID,
		JobIDs:    req.JobIDs,
		Notes:     req.Notes,
		CreatedBy: userID,
	})
	if err != nil {
		if partial, ok := IsPartial(err); ok {
			// The invoice exists; keep the key so a retry cannot duplicate it.
			httpx.JSON(w, http.StatusInternalServerError, PartialCreationBody{
				Error:         "invoice created but jobs could not be linked; linking will be retried",
				Code:          codeLinkPending,
				InvoiceID:     partial.InvoiceID,
				InvoiceNumber: partial.InvoiceNumber,
			})
			return
		}
		if key != "" && h.guard != nil {
			if rErr := h.guard.Release(context.WithoutCancel(ctx), key, scope); rErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", rErr))
			}
		}
		h.fail(w, "create invoice", err)
		return
	}

	today := h.service.Today()
	view := h.formatter.ViewDraft(draft, today)
	view.ID = inv.ID
	view.Status = inv.Status
	httpx.JSON(w, http.StatusOK, CreateInvoiceResponse{
		Receipt:     newReceipt(inv),
		InvoiceData: view,
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	draft, err := h.service.Preview(r.Context(), CreateInvoiceInput{
		ClientID: req.ClientID,
		JobIDs:   req.JobIDs,
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, "preview invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, PreviewResponse{
		InvoiceData: h.formatter.ViewDraft(draft, h.service.Today()),
		Warnings:    draft.Warnings,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	var err error
	if filter.ClientID, err = optionalInt(q.Get("clientId")); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid clientId")
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := optionalInt(q.Get("offset"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid offset")
		return
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	invoices, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	today := h.service.Today()
	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, h.formatter.ViewInvoice(inv, today))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.formatter.ViewInvoice(*inv, h.service.Today()))
}

func (h *Handler) linkJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if err := h.service.LinkPendingJobs(r.Context(), id); err != nil {
		h.fail(w, "link invoice jobs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, LinkJobsResponse{InvoiceID: id, Linked: true})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, "update invoice status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.formatter.ViewInvoice(*inv, h.service.Today()))
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inv, err := h.service.GetInvoice(ctx, id)
	if err != nil {
		h.fail(w, "get invoice for document", err)
		return
	}
	var opts RenderOptions
	if h.options != nil {
		opts = h.options(ctx, shared.UserIDFromContext(ctx))
	}
	doc, err := h.renderer.Render(ctx, h.formatter.ViewInvoice(*inv, h.service.Today()), opts)
	if err != nil {
		h.fail(w, "render invoice document", err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	if doc.Fallback {
		w.Header().Set("X-Document-Fallback", "text")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *Handler) paymentTerms(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"paymentTerms": KnownPaymentTerms()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fieldErr := range verrs {
				details[fieldErr.Field()] = fieldErr.Tag()
			}
			if _, ok := details["jobIds"]; ok && len(details) == 1 && isEmptyJobs(target) {
				httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: ErrEmptyInvoice.Error(), Details: details})
				return false
			}
			httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "validation failed", Details: details})
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(action, slog.Any("error", err))
	} else {
		h.logger.Debug(action, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid invoice id")
		return 0, false
	}
	return id, true
}

func isEmptyJobs(target any) bool {
	req, ok := target.(*CreateInvoiceRequest)
	return ok && len(req.JobIDs) == 0
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

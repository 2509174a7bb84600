package preferences

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vazana/studio/internal/platform/httpx"
	"github.com/vazana/studio/internal/shared"
)

// Handler serves GET/PUT /api/preferences.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers the preference endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/preferences", h.get)
	r.Put("/preferences", h.put)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.store.Load(r.Context(), shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("load preferences, serving defaults", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, prefs)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var prefs Preferences
	if err := httpx.DecodeJSON(r, &prefs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.Save(r.Context(), shared.UserIDFromContext(r.Context()), prefs); err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("save preferences", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prefs)
}

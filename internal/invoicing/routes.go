package invoicing

import "github.com/go-chi/chi/v5"

// MountRoutes registers invoicing endpoints on an /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payment-terms", h.paymentTerms)
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/preview", h.preview)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/link-jobs", h.linkJobs)
			r.Patch("/status", h.updateStatus)
			r.Get("/document", h.document)
		})
	})
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the attempt lifecycle endpoints on the router. The caller
// is expected to have applied authentication and idempotency middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/attempts", h.CreateAttempt)
	r.Get("/attempts/{orderId}", h.GetAttempt)
	r.Put("/attempts/{orderId}/rail", h.SelectRail)
	r.Put("/attempts/{orderId}/coupon", h.SelectCoupon)
	r.Post("/attempts/{orderId}/quote", h.RequestQuote)
	r.Post("/attempts/{orderId}/confirm", h.Confirm)
	r.Post("/attempts/{orderId}/cancel", h.Cancel)
	return r
}

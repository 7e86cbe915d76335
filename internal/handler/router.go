package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/gophercart-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса гоферкарт.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/cart", func(r chi.Router) {
		r.Use(h.identity.Middleware)

		r.Get("/", h.GetCart)
		r.Delete("/", h.DeleteCart)

		r.Post("/items", h.AddItem)
		r.Delete("/items", h.ClearCart)
		r.Patch("/items/{itemID}", h.UpdateItemQuantity)
		r.Delete("/items/{itemID}", h.RemoveItem)

		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)

		r.Post("/merge", h.Merge)
		r.Get("/pricing", h.CalculatePricing)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

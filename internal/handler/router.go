package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/storefront-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Get("/products", h.GetProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Patch("/cart/items/{productID}", h.UpdateCartItem)
			r.Delete("/cart/items/{productID}", h.RemoveCartItem)

			r.Post("/payments/intent", h.CreatePaymentIntent)

			r.Post("/checkout", h.Checkout)

			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{id}", h.GetOrder)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

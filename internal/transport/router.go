package transport

import (
	"net/http"

	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	JWTSecret []byte
	Limiter   *middleware.Limiter
	Callback  http.HandlerFunc
	Ready     func(r *http.Request) error
	Metrics   *metrics.Registry
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Auth(cfg.JWTSecret))
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Body != nil {
				req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(req); err != nil {
				utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics != nil {
		r.With(middleware.RequireAdmin).Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			utils.WriteJSON(w, http.StatusOK, cfg.Metrics.Snapshot())
		})
	}

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)

	// Providers call back without a session.
	if cfg.Callback != nil {
		r.Get("/orders/payment/callback", cfg.Callback)
		r.Post("/orders/payment/callback", cfg.Callback)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddCartItem)
			r.Patch("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveCartItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Checkout)
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/cancel", h.CancelOrder)
			r.With(middleware.RequireAdmin).Patch("/{orderID}/status", h.UpdateFulfillment)
		})
	})

	return r
}

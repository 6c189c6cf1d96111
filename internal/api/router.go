/**
 * @description
 * HTTP router setup for the payment-service using go-chi/chi. Every payment route
 * requires a Clerk session token; the health check does not.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// requestTimeout bounds a request. Settlement and trust checks finish well within it.
const requestTimeout = 60 * time.Second

// PaymentRoutes creates the router for the payment service. auth authenticates the
// caller and must put the user ID into the request context.
func PaymentRoutes(h *PaymentHandlers, auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Use(auth)

		r.Get("/methods", h.ListPaymentMethodsHandler)
		r.Post("/", h.InitiatePaymentHandler)
		r.Post("/scan", h.ScanPaymentHandler)
		r.Get("/evaluate", h.EvaluateRecipientHandler)

		r.Route("/current", func(r chi.Router) {
			r.Get("/", h.GetCurrentPaymentHandler)
			r.Put("/", h.AmendPaymentHandler)
			r.Post("/submit", h.SubmitPaymentHandler)
			r.Post("/override", h.OverrideAlertHandler)
			r.Post("/confirm", h.ConfirmPaymentHandler)
			r.Post("/cancel", h.CancelPaymentHandler)
			r.Post("/done", h.DonePaymentHandler)
		})

		r.Get("/reports", h.ListReportsHandler)
		r.Post("/reports", h.ReportPayeeHandler)
		r.Get("/reports/categories", h.ListReportCategoriesHandler)
	})

	return r
}

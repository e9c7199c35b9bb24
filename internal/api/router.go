/**
 * @description
 * This file sets up the HTTP router for the donation-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, panic recovery, timeouts and CORS.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the donation page's origin.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the donation-service routes.
func NewRouter(h *DonationHandlers, wh *WebhookHandler, allowedOrigins []string, adminJWTSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Donation service is healthy"))
	})

	r.Route("/api/donations", func(r chi.Router) {
		r.Post("/create-order", h.CreateOrderHandler)
		r.Post("/verify-payment", h.VerifyPaymentHandler)

		// Stats expose aggregate donor money; guarded when an admin secret
		// is configured.
		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminJWTSecret))
			r.Get("/stats/summary", h.GetStatsHandler)
		})

		r.Get("/{id}", h.GetDonationHandler)
	})

	r.Route("/api/subscriptions", func(r chi.Router) {
		r.Post("/create", h.CreateSubscriptionHandler)
		r.Get("/{subscriptionId}", h.GetSubscriptionHandler)
		r.Post("/{subscriptionId}/cancel", h.CancelSubscriptionHandler)
		r.Post("/{subscriptionId}/pause", h.PauseSubscriptionHandler)
		r.Post("/{subscriptionId}/resume", h.ResumeSubscriptionHandler)
	})

	// Gateway webhook endpoint; authenticated by HMAC signature, not JWT.
	r.Post("/api/webhook/razorpay", wh.HandleWebhook)

	return r
}

/**
 * @description
 * This file sets up the HTTP router for the collab-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for party identity and internal-key auth.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CollabRoutes creates and returns a new router for the collab service.
func CollabRoutes(h *CollabHandlers, webhook *WebhookHandler, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Party-ID", "X-Internal-API-Key"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhook intake. Authenticated by HMAC signature, not party headers.
	r.Post("/webhooks/paystack", webhook.ServeHTTP)

	// Group routes that require a party identity.
	r.Group(func(r chi.Router) {
		r.Use(PartyAuthMiddleware)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequestHandler)
			r.Get("/", h.ListRequestsHandler)
			r.Route("/{requestID}", func(r chi.Router) {
				r.Get("/", h.GetRequestHandler)
				r.Post("/submit", h.SubmitDraftHandler)
				r.Post("/counter-offer", h.CounterOfferHandler)
				r.Get("/negotiations", h.NegotiationHistoryHandler)
				r.Post("/accept", h.AcceptRequestHandler)
				r.Post("/decline", h.DeclineRequestHandler)
				r.Post("/cancel", h.CancelRequestHandler)
				r.Post("/contract/send", h.SendContractHandler)
				r.Post("/contract/sign", h.SignContractHandler)
				r.Post("/content", h.SubmitContentHandler)
				r.Post("/content/revision", h.RequestRevisionHandler)
				r.Post("/content/approve", h.ApproveContentHandler)
				r.Post("/dispute", h.DisputeRequestHandler)
				r.Post("/payment/initialize", h.InitializePaymentHandler)
			})
		})

		r.Get("/payments/verify/{reference}", h.VerifyPaymentHandler)
		r.Get("/balances", h.GetBalancesHandler)
		r.Post("/payouts", h.RequestPayoutHandler)
		r.Get("/payouts", h.ListPayoutsHandler)
	})

	// Internal endpoints for support tooling and dispute resolution.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/internal/payments/refund", h.RefundPaymentHandler)
		r.Get("/internal/requests/{referenceCode}", h.LookupRequestHandler)
	})

	return r
}

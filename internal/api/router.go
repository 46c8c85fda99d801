/**
 * @description
 * This file sets up the HTTP router for the trust-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TrustRoutes creates and returns a new router for the trust service.
func TrustRoutes(h *TrustHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		// Apply JWT authentication middleware for production
		r.Use(AuthMiddleware(jwksURL))

		// Ledger endpoints
		r.Post("/transfer", h.TransferHandler)
		r.Post("/daily-grant", h.DailyGrantHandler)
		r.Get("/balance", h.BalanceHandler)

		// Vouch workflow endpoints
		r.Post("/vouches", h.RecordVouchHandler)
		r.Get("/vouches/{vouchID}", h.GetVouchHandler)
		r.Post("/vouches/{vouchID}/review", h.ReviewVouchHandler)
		r.Patch("/vouches/{vouchID}/notes", h.AmendVouchNotesHandler)
		r.Get("/users/{userID}/vouches", h.ListUserVouchesHandler)

		// Referral endpoints
		r.Post("/referral-code", h.GenerateReferralCodeHandler)
		r.Post("/referral-redeem", h.RedeemReferralCodeHandler)

		// Funding wallet read endpoint
		r.Get("/wallets/{walletID}/balance", h.WalletBalanceHandler)
	})

	// Internal service-to-service endpoints guarded by a shared key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/wallets/{walletID}/observations", h.WalletObservationHandler)
	})

	return r
}

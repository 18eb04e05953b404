/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
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

// WalletRoutes creates and returns a new router for the wallet service.
func WalletRoutes(h *WalletHandlers, webhooks *WebhookHandler, jwksURL, internalAPIKey string) http.Handler {
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

	// Gateway webhooks authenticate by signature, not JWT.
	r.Post("/webhooks/paystack", webhooks.HandleGatewayWebhook)

	// Operator endpoints behind the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/internal/reconcile", h.ReconcileHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/balance", h.GetBalanceHandler)
		r.Post("/pin", h.SetPINHandler)

		r.Post("/deposits", h.InitiateDepositHandler)
		r.Post("/withdrawals", h.InitiateWithdrawalHandler)

		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/{reference}", h.GetTransactionHandler)
		r.Post("/transactions/{reference}/verify", h.VerifyTransactionHandler)

		r.Get("/bank-accounts", h.ListBankAccountsHandler)
		r.Post("/bank-accounts", h.CreateBankAccountHandler)
	})

	return r
}

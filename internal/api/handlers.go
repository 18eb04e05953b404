/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Error responses carry a machine-readable `code` alongside the human message so
 * the web client can branch on the failure kind (insufficient balance, locked
 * pin, limit violation) without string matching.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/money, internal/store: Service
 *   logic, models, currency math, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/app"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/money"
	"github.com/terravault/wallet-service/internal/store"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// requestIdentity extracts the authenticated owner's id, role, and email from
// the request context. It writes the error response itself on failure.
func (h *WalletHandlers) requestIdentity(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, string, bool) {
	ownerIDStr, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, "", "", false
	}
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid user ID in token")
		return uuid.Nil, "", "", false
	}
	role, _ := GetOwnerRole(r.Context())
	if role == "" {
		role = domain.RoleBuyer
	}
	email, _ := GetOwnerEmail(r.Context())
	return ownerID, role, email, true
}

// GetBalanceHandler returns the owner's wallet balance view.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, role, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), ownerID, role)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balance owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Unable to load wallet balance")
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// SetPINHandler creates the owner's transaction PIN.
func (h *WalletHandlers) SetPINHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	var req domain.SetPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	if err := h.service.SetTransactionPIN(r.Context(), ownerID, req.PIN); err != nil {
		h.writeServiceError(w, ownerID, "set_pin", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "pin_set"})
}

// InitiateDepositHandler starts a deposit through the gateway's hosted checkout.
func (h *WalletHandlers) InitiateDepositHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, role, email, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	resp, err := h.service.InitiateDeposit(r.Context(), ownerID, role, email, req)
	if err != nil {
		h.writeServiceError(w, ownerID, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// InitiateWithdrawalHandler runs the withdrawal authorization pipeline.
func (h *WalletHandlers) InitiateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, role, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	resp, err := h.service.InitiateWithdrawal(r.Context(), ownerID, role, req)
	if err != nil {
		h.writeServiceError(w, ownerID, "withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// VerifyTransactionHandler re-checks a transaction against the gateway.
func (h *WalletHandlers) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	tx, err := h.service.VerifyTransactionStatus(r.Context(), ownerID, reference)
	if err != nil {
		h.writeServiceError(w, ownerID, "verify_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// GetTransactionHandler returns one ledger row by reference.
func (h *WalletHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	tx, err := h.service.GetTransaction(r.Context(), ownerID, reference)
	if err != nil {
		h.writeServiceError(w, ownerID, "get_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ListTransactionsHandler returns the owner's transaction history.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	opts := domain.TransactionListOptions{
		Category: r.URL.Query().Get("category"),
		Status:   r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	transactions, err := h.service.ListTransactions(r.Context(), ownerID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Unable to load transactions")
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// CreateBankAccountHandler saves a withdrawal destination.
func (h *WalletHandlers) CreateBankAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	var req domain.CreateBankAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	account, err := h.service.CreateBankAccount(r.Context(), ownerID, req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// ListBankAccountsHandler returns the owner's saved withdrawal destinations.
func (h *WalletHandlers) ListBankAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListBankAccounts(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_bank_accounts owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Unable to load bank accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.BankAccount{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"bank_accounts": accounts})
}

// ReconcileHandler sweeps stale non-terminal transactions. Internal only.
func (h *WalletHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	minAge := 5 * time.Minute
	if v := r.URL.Query().Get("min_age_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minAge = time.Duration(n) * time.Second
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := h.service.ReconcilePendingTransactions(r.Context(), minAge, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=reconcile err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Reconciliation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps service-layer errors onto HTTP status codes and the
// machine-readable error vocabulary.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, ownerID uuid.UUID, endpoint string, err error) {
	var (
		insufficient *app.InsufficientBalanceError
		invalidPIN   *app.InvalidPINError
		pinLocked    *app.PINLockedError
		limit        *app.LimitExceededError
		pending      *app.PendingTransactionError
		rateLimited  *app.RateLimitedError
		gateway      *app.GatewayError
	)

	switch {
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrAmountOutOfRange):
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, app.ErrInvalidPINFormat):
		h.writeError(w, http.StatusBadRequest, "INVALID_PIN", "Transaction PIN must be exactly 4 digits")
	case errors.Is(err, store.ErrPINNotSet):
		h.writeError(w, http.StatusPreconditionFailed, "WALLET_NOT_SETUP", "Transaction PIN is not set. Please create your PIN first.")
	case errors.Is(err, store.ErrPINAlreadySet):
		h.writeError(w, http.StatusConflict, "PIN_ALREADY_SET", "A transaction PIN already exists")
	case errors.Is(err, app.ErrWalletNotSetup):
		h.writeError(w, http.StatusPreconditionFailed, "WALLET_NOT_SETUP", "Wallet has no settled funds yet")
	case errors.As(err, &pinLocked):
		h.writeJSON(w, http.StatusLocked, map[string]interface{}{
			"code":        "PIN_LOCKED",
			"error":       "Too many incorrect PIN attempts. Please wait and try again.",
			"retry_after": pinLocked.RetryAfter.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &invalidPIN):
		h.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"code":               "INVALID_PIN",
			"error":              "Invalid transaction PIN.",
			"attempts_remaining": invalidPIN.AttemptsRemaining,
		})
	case errors.As(err, &insufficient):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"code":      "INSUFFICIENT_BALANCE",
			"error":     "Insufficient available balance.",
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.As(err, &limit):
		code := "LIMIT_VIOLATION"
		switch limit.Scope {
		case "daily":
			code = "DAILY_LIMIT_EXCEEDED"
		case "monthly":
			code = "MONTHLY_LIMIT_EXCEEDED"
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"code":      code,
			"error":     err.Error(),
			"scope":     limit.Scope,
			"used":      limit.Used,
			"requested": limit.Requested,
			"max":       limit.Max,
		})
	case errors.As(err, &pending):
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"code":      "PENDING_TRANSACTION_EXISTS",
			"error":     "A pending transaction already exists. Verify or wait for it before starting a new one.",
			"reference": pending.Reference,
		})
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		h.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"code":                "RATE_LIMITED",
			"error":               "Too many requests. Please slow down.",
			"retry_after_seconds": rateLimited.RetryAfterSeconds,
		})
	case errors.Is(err, store.ErrConcurrentModification):
		h.writeError(w, http.StatusConflict, "CONCURRENT_MODIFICATION", "Wallet balance changed, please retry")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Transaction not found")
	case errors.Is(err, store.ErrBankAccountNotFound):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Bank account not found")
	case errors.Is(err, store.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "Wallet not found")
	case errors.As(err, &gateway):
		log.Printf("level=error component=api endpoint=%s owner_id=%s msg=\"gateway failure\" err=%v", endpoint, ownerID, err)
		h.writeError(w, http.StatusBadGateway, "GATEWAY_ERROR", "Payment gateway is unavailable, please try again later")
	default:
		log.Printf("level=error component=api endpoint=%s owner_id=%s err=%v", endpoint, ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"code": code, "error": message})
}

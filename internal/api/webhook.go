/**
 * @description
 * This file handles incoming webhooks from the payment gateway. The gateway
 * signs each delivery with HMAC-SHA512 over the raw body using the secret
 * key; deliveries with a missing or wrong signature are rejected before the
 * payload is even parsed.
 *
 * The endpoint always returns 200 for verified deliveries, even unknown
 * events or references, so the gateway does not retry them forever. Ledger
 * idempotency, not webhook bookkeeping, guarantees exactly-once effects.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha512, encoding/hex, io, net/http: Standard Go libraries.
 * - internal/app: Event dispatch into the ledger.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/terravault/wallet-service/internal/app"
)

// gatewayEvent is the envelope the gateway posts to us.
type gatewayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// WebhookHandler verifies and dispatches payment gateway events.
type WebhookHandler struct {
	service *app.Service
	secret  string
}

// NewWebhookHandler creates a webhook handler bound to the gateway secret key.
func NewWebhookHandler(service *app.Service, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret}
}

// HandleGatewayWebhook is the POST endpoint the gateway delivers events to.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Unable to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if !h.verifySignature(body, signature) {
		log.Printf("level=warn component=api endpoint=gateway_webhook msg=\"signature verification failed\"")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event gatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=api endpoint=gateway_webhook msg=\"unparsable payload\" err=%v", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.service.HandleGatewayEvent(r.Context(), event.Event, event.Data.Reference, body); err != nil {
		// Let the gateway retry: the transition is idempotent.
		log.Printf("level=error component=api endpoint=gateway_webhook event=%s reference=%s err=%v", event.Event, event.Data.Reference, err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the HMAC-SHA512 hex signature over the raw body.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

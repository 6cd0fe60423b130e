// Package http contains the HTTP handlers: the webhook intake plus a small
// read/administer surface for accounts and notifications.
package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"finsync/internal/interfaces/scheduler"
	"finsync/internal/webhook"
)

// WebhookHandler authenticates inbound provider webhooks and dispatches the
// affected accounts for sync.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	dispatcher *scheduler.Dispatcher
	provider   string
	header     string
}

// NewWebhookHandler creates a webhook handler. header names the request
// header carrying the provider's signed token.
func NewWebhookHandler(verifier *webhook.Verifier, dispatcher *scheduler.Dispatcher, provider, header string) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		provider:   provider,
		header:     header,
	}
}

// HandleWebhook processes one delivery. Verification failures all collapse to
// the same generic 401: the reasons go to logs, never to the caller.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.Header.Get(h.header)
	if token == "" {
		log.Printf("Webhook rejected: missing %s header", h.header)
		writeUnauthorized(w)
		return
	}

	claim, err := h.verifier.Verify(r.Context(), token, time.Now())
	if err != nil {
		if webhook.IsVerificationError(err) {
			log.Printf("Webhook rejected: %v", err)
			writeUnauthorized(w)
			return
		}
		log.Printf("Webhook verification infrastructure failure: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	itemID, _ := claim.Payload["item_id"].(string)
	webhookType, _ := claim.Payload["webhook_type"].(string)
	if itemID == "" {
		// Verified but not actionable (e.g. provider test pings).
		log.Printf("Webhook accepted without item_id (type=%q), nothing to dispatch", webhookType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	queued, err := h.dispatcher.DispatchItem(r.Context(), h.provider, itemID)
	if err != nil {
		log.Printf("Webhook dispatch failed for item %s: %v", itemID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	log.Printf("Webhook %s for item %s: queued %d account syncs", webhookType, itemID, queued)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "accounts_queued": queued})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

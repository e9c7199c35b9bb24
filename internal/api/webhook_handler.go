/**
 * @description
 * This file contains the webhook handler for Razorpay gateway events. It is
 * the single entry point of the reconciliation pipeline: verify the HMAC
 * signature, drop replayed deliveries, then hand the raw body to the
 * reconciliation engine.
 *
 * @notes
 * - Status codes are the contract with the gateway's retry machinery: 200
 *   acknowledges (including deliberate drops), 400 rejects deliveries that
 *   will never succeed (bad signature, malformed body), and 500 asks for a
 *   redelivery after a transient store failure.
 * - The body must be read raw before any JSON decoding because the signature
 *   covers the exact bytes on the wire.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/sevatrust/donation-service/internal/app"
	"github.com/sevatrust/donation-service/pkg/signature"
)

// maxWebhookBody bounds webhook payload size. Razorpay events are a few KB.
const maxWebhookBody = 1 << 20

// WebhookHandler verifies and dispatches gateway webhook deliveries.
type WebhookHandler struct {
	reconciler    *app.Reconciler
	deduper       app.EventDeduper
	webhookSecret string
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler *app.Reconciler, deduper app.EventDeduper, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, deduper: deduper, webhookSecret: webhookSecret}
}

// HandleWebhook handles POST /api/webhook/razorpay.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get("X-Razorpay-Signature")
	if sig == "" {
		log.Printf("level=warn component=webhook msg=\"missing signature header\"")
		h.writeStatus(w, http.StatusBadRequest, "missing signature")
		return
	}
	if !signature.VerifyWebhook(body, h.webhookSecret, sig) {
		log.Printf("level=warn component=webhook msg=\"signature verification failed\"")
		h.writeStatus(w, http.StatusBadRequest, "invalid signature")
		return
	}

	eventID := r.Header.Get("X-Razorpay-Event-Id")
	if eventID != "" && !h.deduper.MarkIfNew(r.Context(), eventID) {
		log.Printf("level=info component=webhook msg=\"duplicate delivery acknowledged\" event_id=%s", eventID)
		h.writeStatus(w, http.StatusOK, "duplicate")
		return
	}

	if err := h.reconciler.ApplyEvent(r.Context(), body); err != nil {
		if errors.Is(err, app.ErrBadEvent) {
			log.Printf("level=warn component=webhook msg=\"malformed event rejected\" event_id=%s err=%v", eventID, err)
			h.writeStatus(w, http.StatusBadRequest, "malformed event")
			return
		}
		// Transient failure; release the dedupe mark so the gateway's
		// redelivery is processed instead of short-circuited.
		if eventID != "" {
			h.deduper.Forget(r.Context(), eventID)
		}
		log.Printf("level=error component=webhook msg=\"event processing failed\" event_id=%s err=%v", eventID, err)
		h.writeStatus(w, http.StatusInternalServerError, "processing failed")
		return
	}

	h.writeStatus(w, http.StatusOK, "ok")
}

func (h *WebhookHandler) writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": message})
}

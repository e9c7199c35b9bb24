/**
 * @description
 * This file contains the HTTP handlers for the donation-service's public API.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/app"
	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
)

// DonationHandlers holds the application service that handlers will use.
type DonationHandlers struct {
	service *app.DonationService
	// keyID is the public Razorpay key the donation page needs to open checkout.
	keyID string
}

// NewDonationHandlers creates a new DonationHandlers.
func NewDonationHandlers(service *app.DonationService, keyID string) *DonationHandlers {
	return &DonationHandlers{service: service, keyID: keyID}
}

// createOrderResponse mirrors what the donation page's checkout integration
// expects: the gateway order to open plus the local record id to poll.
type createOrderResponse struct {
	Success     bool   `json:"success"`
	DonationID  string `json:"donationId"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"` // paise, as checkout expects
	Currency    string `json:"currency"`
	KeyID       string `json:"keyId"`
	MealsServed int64  `json:"mealsServed"`
}

type createSubscriptionResponse struct {
	Success        bool   `json:"success"`
	DonationID     string `json:"donationId"`
	SubscriptionID string `json:"subscriptionId"`
	ShortURL       string `json:"shortUrl"`
	PlanID         string `json:"planId"`
	KeyID          string `json:"keyId"`
	MealsServed    int64  `json:"mealsServed"`
}

type verifyPaymentResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Donation domain.DonationSummary `json:"donation"`
}

type subscriptionViewResponse struct {
	Donation *domain.Donation             `json:"donation"`
	Gateway  *subscriptionGatewaySnapshot `json:"gateway,omitempty"`
}

type subscriptionGatewaySnapshot struct {
	Status    string `json:"status"`
	PaidCount int    `json:"paidCount"`
	ShortURL  string `json:"shortUrl,omitempty"`
}

// CreateOrderHandler handles POST /api/donations/create-order.
func (h *DonationHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateOrder(r.Context(), &req, clientIP(r), r.UserAgent())
	if err != nil {
		h.writeServiceError(w, "create_order", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createOrderResponse{
		Success:     true,
		DonationID:  result.Donation.ID.String(),
		OrderID:     result.Order.ID,
		Amount:      result.Order.Amount,
		Currency:    result.Order.Currency,
		KeyID:       h.keyID,
		MealsServed: result.Donation.MealsServed(),
	})
}

// VerifyPaymentHandler handles POST /api/donations/verify-payment.
func (h *DonationHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := h.service.VerifyPayment(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidSignature):
			h.writeError(w, http.StatusBadRequest, "Payment verification failed")
		case errors.Is(err, store.ErrDonationNotFound):
			h.writeError(w, http.StatusNotFound, "Donation not found")
		default:
			h.writeServiceError(w, "verify_payment", err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, verifyPaymentResponse{
		Success:  true,
		Message:  "Payment verified successfully",
		Donation: d.Summary(),
	})
}

// GetDonationHandler handles GET /api/donations/{id}.
func (h *DonationHandlers) GetDonationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation id")
		return
	}

	d, err := h.service.GetDonation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			h.writeError(w, http.StatusNotFound, "Donation not found")
			return
		}
		h.writeServiceError(w, "get_donation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// GetStatsHandler handles GET /api/donations/stats/summary.
func (h *DonationHandlers) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// CreateSubscriptionHandler handles POST /api/subscriptions/create.
func (h *DonationHandlers) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateSubscription(r.Context(), &req, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, app.ErrUnknownPlan) {
			h.writeError(w, http.StatusBadRequest, "No monthly plan exists for this amount")
			return
		}
		h.writeServiceError(w, "create_subscription", err)
		return
	}

	planID := ""
	if result.Donation.SubscriptionPlanID != nil {
		planID = *result.Donation.SubscriptionPlanID
	}
	h.writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		Success:        true,
		DonationID:     result.Donation.ID.String(),
		SubscriptionID: result.Subscription.ID,
		ShortURL:       result.Subscription.ShortURL,
		PlanID:         planID,
		KeyID:          h.keyID,
		MealsServed:    result.Donation.MealsServed(),
	})
}

// GetSubscriptionHandler handles GET /api/subscriptions/{subscriptionId}.
func (h *DonationHandlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetSubscription(r.Context(), chi.URLParam(r, "subscriptionId"))
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		h.writeServiceError(w, "get_subscription", err)
		return
	}

	resp := subscriptionViewResponse{Donation: view.Donation}
	if view.Gateway != nil {
		resp.Gateway = &subscriptionGatewaySnapshot{
			Status:    view.Gateway.Status,
			PaidCount: view.Gateway.PaidCount,
			ShortURL:  view.Gateway.ShortURL,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CancelSubscriptionHandler handles POST /api/subscriptions/{subscriptionId}/cancel.
func (h *DonationHandlers) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CancelAtCycleEnd bool `json:"cancelAtCycleEnd"`
	}
	// An empty body means cancel immediately.
	_ = json.NewDecoder(r.Body).Decode(&body)

	d, err := h.service.CancelSubscription(r.Context(), chi.URLParam(r, "subscriptionId"), body.CancelAtCycleEnd)
	if err != nil {
		h.writeSubscriptionError(w, "cancel_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// PauseSubscriptionHandler handles POST /api/subscriptions/{subscriptionId}/pause.
func (h *DonationHandlers) PauseSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.PauseSubscription(r.Context(), chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.writeSubscriptionError(w, "pause_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// ResumeSubscriptionHandler handles POST /api/subscriptions/{subscriptionId}/resume.
func (h *DonationHandlers) ResumeSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.ResumeSubscription(r.Context(), chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.writeSubscriptionError(w, "resume_subscription", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *DonationHandlers) writeSubscriptionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound):
		h.writeError(w, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, store.ErrSubscriptionTerminal):
		h.writeError(w, http.StatusConflict, "Subscription is already cancelled or completed")
	default:
		h.writeServiceError(w, op, err)
	}
}

// writeServiceError maps validation failures to 400 with field details and
// everything else to a logged 500.
func (h *DonationHandlers) writeServiceError(w http.ResponseWriter, op string, err error) {
	var vErr *app.ValidationError
	if errors.As(err, &vErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"fields": vErr.Fields,
		})
		return
	}
	log.Printf("level=error component=api op=%s err=%v", op, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *DonationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *DonationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// clientIP prefers the forwarded address set by the reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

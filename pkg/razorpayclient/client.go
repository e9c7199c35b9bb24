/**
 * @description
 * This package provides a client for interacting with the Razorpay API.
 * It encapsulates the logic for making authenticated HTTP requests to
 * Razorpay's order and subscription endpoints, handling request body
 * construction, and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 *
 * @notes
 * - Razorpay authenticates with HTTP basic auth (key id / key secret).
 * - Amounts cross the wire in paise; the conversion from whole rupees happens
 *   here so the rest of the service never deals in minor units.
 * - The client performs no local state mutation; every call is a synchronous
 *   remote call bounded by the request context and the client timeout.
 */

package razorpayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the Razorpay API.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewClient creates a new Razorpay API client.
func NewClient(baseURL, keyID, keySecret string) *Client {
	if baseURL == "" {
		baseURL = "https://api.razorpay.com/v1"
	}
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Order is the response from Razorpay's order creation endpoint.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Subscription is the response from Razorpay's subscription endpoints.
type Subscription struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	ShortURL   string `json:"short_url"`
	TotalCount *int   `json:"total_count"`
	PaidCount  int    `json:"paid_count"`
	CreatedAt  int64  `json:"created_at"`
}

// ErrorResponse represents an error from the Razorpay API.
type ErrorResponse struct {
	ErrorBody struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
	StatusCode int `json:"-"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Description != "" {
		return fmt.Sprintf("razorpay api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Description)
	}
	return fmt.Sprintf("razorpay api error (status %d)", e.StatusCode)
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"` // paise
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type createSubscriptionRequest struct {
	PlanID         string            `json:"plan_id"`
	TotalCount     *int              `json:"total_count,omitempty"` // omitted = unbounded
	CustomerNotify int               `json:"customer_notify"`
	Quantity       int               `json:"quantity"`
	Notes          map[string]string `json:"notes,omitempty"`
}

type cancelSubscriptionRequest struct {
	CancelAtCycleEnd int `json:"cancel_at_cycle_end"`
}

// CreateOrder creates a payment order for the given amount in whole rupees.
func (c *Client) CreateOrder(ctx context.Context, amountRupees int64, currency, receipt string, notes map[string]string) (*Order, error) {
	payload := createOrderRequest{
		Amount:   amountRupees * 100,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateSubscription creates an unbounded recurring subscription on the given
// pre-provisioned plan. Razorpay notifies the customer with the hosted
// authentication link (ShortURL in the response).
func (c *Client) CreateSubscription(ctx context.Context, planID string, notes map[string]string) (*Subscription, error) {
	payload := createSubscriptionRequest{
		PlanID:         planID,
		CustomerNotify: 1,
		Quantity:       1,
		Notes:          notes,
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", payload, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// FetchSubscription retrieves the live gateway snapshot of a subscription.
func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription, either immediately or at the end
// of the current billing cycle.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtCycleEnd bool) (*Subscription, error) {
	payload := cancelSubscriptionRequest{}
	if cancelAtCycleEnd {
		payload.CancelAtCycleEnd = 1
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", payload, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// PauseSubscription pauses charging on a subscription.
func (c *Client) PauseSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/pause", struct{}{}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ResumeSubscription resumes charging on a paused subscription.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/resume", struct{}{}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// do is a generic helper that executes an authenticated request and decodes
// the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s request: %w", method, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=razorpay_client op=%s_%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
			return fmt.Errorf("razorpay request failed (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=razorpay_client op=%s_%s status=%d code=%q description=%q", method, path, resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Description)
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

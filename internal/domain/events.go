/**
 * @description
 * Wire types for the Razorpay webhook envelope and the internal notification
 * events the service emits after a successful state transition.
 *
 * @notes
 * - Razorpay wraps every entity in `payload.<kind>.entity`; only the kinds a
 *   given event type carries are present. Absent sub-fields stay at their zero
 *   value and are merged into records without clearing existing data.
 */

package domain

import "time"

// Razorpay webhook event types handled by the reconciliation engine.
const (
	EventPaymentAuthorized         = "payment.authorized"
	EventPaymentCaptured           = "payment.captured"
	EventPaymentFailed             = "payment.failed"
	EventOrderPaid                 = "order.paid"
	EventRefundCreated             = "refund.created"
	EventSubscriptionAuthenticated = "subscription.authenticated"
	EventSubscriptionActivated     = "subscription.activated"
	EventSubscriptionCharged       = "subscription.charged"
	EventSubscriptionPaused        = "subscription.paused"
	EventSubscriptionResumed       = "subscription.resumed"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventSubscriptionCompleted     = "subscription.completed"
	EventSubscriptionHalted        = "subscription.halted"
)

// WebhookEvent is the outer envelope Razorpay posts to the webhook endpoint.
type WebhookEvent struct {
	Event     string         `json:"event"`
	AccountID string         `json:"account_id"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"` // unix seconds
}

// WebhookPayload holds whichever entities the event type carries.
type WebhookPayload struct {
	Payment      *PaymentWrapper      `json:"payment,omitempty"`
	Order        *OrderWrapper        `json:"order,omitempty"`
	Subscription *SubscriptionWrapper `json:"subscription,omitempty"`
	Refund       *RefundWrapper       `json:"refund,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type OrderWrapper struct {
	Entity OrderEntity `json:"entity"`
}

type SubscriptionWrapper struct {
	Entity SubscriptionEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity RefundEntity `json:"entity"`
}

// PaymentEntity is the payment object embedded in payment.* and
// subscription.charged events.
type PaymentEntity struct {
	ID             string            `json:"id"`
	OrderID        string            `json:"order_id"`
	SubscriptionID string            `json:"subscription_id"`
	Status         string            `json:"status"`
	Method         string            `json:"method"`
	Bank           string            `json:"bank"`
	Wallet         string            `json:"wallet"`
	VPA            string            `json:"vpa"`
	CardID         string            `json:"card_id"`
	Amount         int64             `json:"amount"` // paise
	Notes          map[string]string `json:"notes"`
	CreatedAt      int64             `json:"created_at"` // unix seconds
}

// OrderEntity is the order object embedded in order.paid events.
type OrderEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"` // paise
}

// SubscriptionEntity is the subscription object embedded in subscription.* events.
type SubscriptionEntity struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	TotalCount *int   `json:"total_count"`
	PaidCount  int    `json:"paid_count"`
	CreatedAt  int64  `json:"created_at"` // unix seconds
}

// RefundEntity is the refund object embedded in refund.created events.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"` // paise
	CreatedAt int64  `json:"created_at"`
}

// SubscriptionKey returns the subscription correlation key for a charge
// payment, preferring the notes field the way the checkout page sets it.
func (p *PaymentEntity) SubscriptionKey() string {
	if id, ok := p.Notes["subscription_id"]; ok && id != "" {
		return id
	}
	return p.SubscriptionID
}

// DonationEvent is the message published to the notification exchange after a
// successful state transition. Downstream workers (receipt emails, 80G
// certificate generation, prasadam dispatch) consume these; their failures
// never affect the transition that produced the event.
type DonationEvent struct {
	DonationID     string    `json:"donation_id"`
	EventType      string    `json:"event_type"`
	Amount         int64     `json:"amount"`
	MealsServed    int64     `json:"meals_served"`
	DonorName      string    `json:"donor_name"`
	DonorEmail     string    `json:"donor_email"`
	Occasion       Occasion  `json:"occasion"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PaidCycles     int       `json:"paid_cycles,omitempty"`
	Wants80G       bool      `json:"wants_80g_certificate"`
	WantsPrasadam  bool      `json:"wants_maha_prasadam"`
	OccurredAt     time.Time `json:"occurred_at"`
}

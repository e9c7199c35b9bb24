/**
 * @description
 * This file defines the core domain models for the donation-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - A single `donations` table holds three kinds of records: one-time donations,
 *   subscription parent records, and per-cycle charge records derived from a
 *   recurring subscription. The correlation keys (order id, payment id,
 *   subscription id) determine which role a record plays.
 * - Amounts are stored as `int64` whole rupees (the donation page only offers
 *   whole-rupee amounts), which avoids floating-point inaccuracies.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a payment attempt on a donation record.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// SubscriptionStatus is the lifecycle state of a recurring donation subscription.
// Only meaningful on parent records (DonationType == DonationMonthly with a
// SubscriptionID set).
type SubscriptionStatus string

const (
	SubscriptionCreated       SubscriptionStatus = "created"
	SubscriptionAuthenticated SubscriptionStatus = "authenticated"
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionPaused        SubscriptionStatus = "paused"
	SubscriptionHalted        SubscriptionStatus = "halted"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionCompleted     SubscriptionStatus = "completed"
	SubscriptionExpired       SubscriptionStatus = "expired"
)

// IsTerminal reports whether a subscription status can never be left again.
// Cancelled and completed subscriptions stay that way; a stray resume or
// pause webhook must not revive them.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionCompleted
}

// DonationType distinguishes one-time donations from monthly subscriptions.
type DonationType string

const (
	DonationOneTime DonationType = "onetime"
	DonationMonthly DonationType = "monthly"
)

// Occasion tags the reason a donor gave for the donation.
type Occasion string

const (
	OccasionGeneral     Occasion = "general"
	OccasionBirthday    Occasion = "birthday"
	OccasionAnniversary Occasion = "anniversary"
	OccasionMemory      Occasion = "memory"
	OccasionOther       Occasion = "other"
)

// MealCostRupees is the sponsoring cost of a single meal. The meals-served
// figure shown to donors is always derived from the amount, never stored.
const MealCostRupees = 25

// Donation is the central record for any donation-related money movement.
// This struct maps directly to the `donations` table in the database.
type Donation struct {
	ID uuid.UUID `json:"id"`

	// Donor information.
	DonorName   string     `json:"donor_name"`
	DonorEmail  string     `json:"donor_email"`
	DonorPhone  string     `json:"donor_phone"`
	Address     *string    `json:"address,omitempty"`
	Pincode     *string    `json:"pincode,omitempty"`
	PANNumber   *string    `json:"pan_number,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`

	// Donation details.
	Amount       int64        `json:"amount"` // whole rupees, >= 1
	DonationType DonationType `json:"donation_type"`
	Occasion     Occasion     `json:"occasion"`
	SevaDate     *time.Time   `json:"seva_date,omitempty"`

	// Tax and prasadam options.
	Wants80GCertificate bool `json:"wants_80g_certificate"`
	WantsMahaPrasadam   bool `json:"wants_maha_prasadam"`
	WantsUpdates        bool `json:"wants_updates"`

	// Razorpay correlation keys. OrderID is set for one-time donations,
	// PaymentID once a payment has been attempted, SubscriptionID only on
	// subscription parent records, ParentSubscriptionID only on charge-cycle
	// records derived from a parent.
	RazorpayOrderID      *string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID    *string `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature    *string `json:"-"`
	SubscriptionID       *string `json:"subscription_id,omitempty"`
	ParentSubscriptionID *string `json:"parent_subscription_id,omitempty"`

	// Payment state.
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod *string       `json:"payment_method,omitempty"`
	PaymentBank   *string       `json:"payment_bank,omitempty"`
	PaymentWallet *string       `json:"payment_wallet,omitempty"`
	PaymentVPA    *string       `json:"payment_vpa,omitempty"`
	PaymentCardID *string       `json:"payment_card_id,omitempty"`
	AuthorizedAt  *time.Time    `json:"authorized_at,omitempty"`
	CapturedAt    *time.Time    `json:"captured_at,omitempty"`

	// Subscription state (parent records only).
	SubscriptionStatus    *SubscriptionStatus `json:"subscription_status,omitempty"`
	SubscriptionPlanID    *string             `json:"subscription_plan_id,omitempty"`
	NextBillingDate       *time.Time          `json:"next_billing_date,omitempty"`
	TotalCycleCount       *int                `json:"total_cycle_count,omitempty"` // nil = unbounded
	PaidCycles            int                 `json:"paid_cycles"`
	SubscriptionStartDate *time.Time          `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time          `json:"subscription_end_date,omitempty"`

	// Fulfillment flags, mutated by downstream fulfillment workers only.
	CertificateGenerated bool    `json:"certificate_generated"`
	CertificateNumber    *string `json:"certificate_number,omitempty"`
	PrasadamDelivered    bool    `json:"prasadam_delivered"`
	DeliveryTrackingID   *string `json:"delivery_tracking_id,omitempty"`

	// Request metadata captured at creation time.
	IPAddress *string `json:"-"`
	UserAgent *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MealsServed derives the number of meals this donation sponsors.
func (d *Donation) MealsServed() int64 {
	return d.Amount / MealCostRupees
}

// IsSubscriptionParent reports whether this record is the parent of a
// recurring subscription. Parent and charge-cycle roles are mutually
// exclusive: a record with ParentSubscriptionID set is never a parent.
func (d *Donation) IsSubscriptionParent() bool {
	return d.SubscriptionID != nil && d.ParentSubscriptionID == nil
}

// DonationStats is the aggregate over captured donations exposed by the
// stats endpoint.
type DonationStats struct {
	TotalDonations int64   `json:"totalDonations"`
	TotalAmount    int64   `json:"totalAmount"`
	AvgDonation    float64 `json:"avgDonation"`
	TotalMeals     int64   `json:"totalMeals"`
}

// CreateOrderRequest is the DTO for incoming one-time donation requests.
type CreateOrderRequest struct {
	DonorName           string  `json:"donorName"`
	DonorEmail          string  `json:"donorEmail"`
	DonorPhone          string  `json:"donorPhone"`
	Amount              int64   `json:"amount"`
	DonationType        string  `json:"donationType,omitempty"`
	Occasion            string  `json:"occasion,omitempty"`
	SevaDate            *string `json:"sevaDate,omitempty"`
	DateOfBirth         *string `json:"dateOfBirth,omitempty"`
	Wants80GCertificate bool    `json:"wants80GCertificate"`
	WantsMahaPrasadam   bool    `json:"wantsMahaPrasadam"`
	PANNumber           *string `json:"panNumber,omitempty"`
	Address             *string `json:"address,omitempty"`
	Pincode             *string `json:"pincode,omitempty"`
	WantsUpdates        *bool   `json:"wantsUpdates,omitempty"`
}

// CreateSubscriptionRequest is the DTO for incoming monthly donation requests.
// The amount must map to one of the pre-provisioned Razorpay plans.
type CreateSubscriptionRequest struct {
	DonorName           string  `json:"donorName"`
	DonorEmail          string  `json:"donorEmail"`
	DonorPhone          string  `json:"donorPhone"`
	Amount              int64   `json:"amount"`
	Occasion            string  `json:"occasion,omitempty"`
	SevaDate            *string `json:"sevaDate,omitempty"`
	DateOfBirth         *string `json:"dateOfBirth,omitempty"`
	Wants80GCertificate bool    `json:"wants80GCertificate"`
	WantsMahaPrasadam   bool    `json:"wantsMahaPrasadam"`
	PANNumber           *string `json:"panNumber,omitempty"`
	Address             *string `json:"address,omitempty"`
	Pincode             *string `json:"pincode,omitempty"`
	WantsUpdates        *bool   `json:"wantsUpdates,omitempty"`
}

// VerifyPaymentRequest carries the client-side checkout callback fields.
type VerifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

// DonationSummary is the public view of a donation returned after a
// successful payment verification.
type DonationSummary struct {
	ID          uuid.UUID `json:"id"`
	Amount      int64     `json:"amount"`
	MealsServed int64     `json:"mealsServed"`
	DonorName   string    `json:"donorName"`
	Occasion    Occasion  `json:"occasion"`
}

// Summary builds the public view of a donation.
func (d *Donation) Summary() DonationSummary {
	return DonationSummary{
		ID:          d.ID,
		Amount:      d.Amount,
		MealsServed: d.MealsServed(),
		DonorName:   d.DonorName,
		Occasion:    d.Occasion,
	}
}

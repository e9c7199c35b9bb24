/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the donation-service. By defining an interface,
 * we decouple the reconciliation engine and the API service from the specific
 * database implementation (PostgreSQL), making both easier to test in isolation.
 *
 * @notes
 * - Every state transition is expressed as a single guarded UPDATE executed
 *   server-side, so concurrent events for the same record can never lose
 *   updates through read-then-write races.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/domain"
)

var (
	ErrDonationNotFound     = errors.New("donation not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionTerminal is returned when a subscription transition is
	// refused because the record is already cancelled or completed.
	ErrSubscriptionTerminal = errors.New("subscription is in a terminal state")
	// ErrDuplicateCharge is returned when a charge-cycle record for the same
	// gateway payment id already exists.
	ErrDuplicateCharge = errors.New("charge already materialized for payment id")
)

// PaymentKey selects which correlation column a payment transition matches on.
type PaymentKey int

const (
	ByOrderID PaymentKey = iota
	ByPaymentID
)

// PaymentTransition describes one guarded payment-state update.
//
// The status only moves when the current status is in AllowedFrom; the detail
// fields merge via COALESCE regardless, so a late-arriving event can still
// enrich an already-captured record without regressing its status. Absent
// (nil) fields never clear stored values.
type PaymentTransition struct {
	Key      PaymentKey
	KeyValue string

	NewStatus   domain.PaymentStatus
	AllowedFrom []domain.PaymentStatus

	PaymentID *string
	Signature *string
	Method    *string
	Bank      *string
	Wallet    *string
	VPA       *string
	CardID    *string

	// Stamped only when the status actually moves.
	AuthorizedAt *time.Time
	CapturedAt   *time.Time
}

// SubscriptionTransition describes one guarded subscription-state update on a
// parent record. Cancelled and completed records refuse all transitions.
type SubscriptionTransition struct {
	SubscriptionID string
	NewStatus      domain.SubscriptionStatus

	StartDate *time.Time
	EndDate   *time.Time
	// RaisePaidCyclesTo lifts paid_cycles to at least this value (idempotent;
	// used by subscription.activated to establish the first cycle).
	RaisePaidCyclesTo int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	CreateDonation(ctx context.Context, d *domain.Donation) error
	FindDonationByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	FindDonationByOrderID(ctx context.Context, orderID string) (*domain.Donation, error)
	FindParentBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Donation, error)

	// ApplyPaymentTransition performs the guarded update and returns the
	// resulting record plus whether the status actually moved (false on a
	// replayed or stale event that only merged details).
	// ErrDonationNotFound when no record matches the key.
	ApplyPaymentTransition(ctx context.Context, t PaymentTransition) (*domain.Donation, bool, error)

	// ApplySubscriptionTransition performs the guarded update on the parent
	// record. ErrSubscriptionNotFound when no parent matches;
	// ErrSubscriptionTerminal when the parent exists but is cancelled/completed.
	ApplySubscriptionTransition(ctx context.Context, t SubscriptionTransition) (*domain.Donation, error)

	// MaterializeCharge inserts the charge-cycle record and increments the
	// parent's paid_cycles in one transaction. ErrDuplicateCharge when a cycle
	// record with the same razorpay payment id already exists (replayed event).
	MaterializeCharge(ctx context.Context, cycle *domain.Donation, nextBillingDate time.Time) error

	GetDonationStats(ctx context.Context) (*domain.DonationStats, error)
}

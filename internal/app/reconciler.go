/**
 * @description
 * This file contains the reconciliation engine of the donation-service. It
 * consumes verified Razorpay webhook events and converges local donation
 * records to the gateway's view of each payment and subscription, regardless
 * of the order or multiplicity in which events arrive.
 *
 * Key features:
 * - Transition Table: Every payment event carries an explicit allowed-from
 *   set; the status only moves when the current status permits it, so a late
 *   `payment.authorized` can never regress an already-captured record.
 * - Guarded Writes: All transitions execute as single server-side UPDATEs in
 *   the store, so concurrent deliveries for the same record cannot race.
 * - Charge Materialization: `subscription.charged` inserts a per-cycle child
 *   record and advances the parent in one transaction, deduplicated by the
 *   global payment-id unique index.
 * - Drop Semantics: Events referencing unknown records, events for terminal
 *   subscriptions, and replayed charges are logged and dropped; only
 *   infrastructure failures propagate to the caller for redelivery.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
)

// ErrBadEvent wraps envelope decoding failures so the webhook handler can
// reject the delivery instead of asking the gateway to retry it.
var ErrBadEvent = errors.New("malformed webhook event")

// billingInterval is the gap between monthly charge cycles used to project
// the parent's next billing date after a charge lands.
const billingInterval = 30 * 24 * time.Hour

// Reconciler applies verified webhook events to the donation store.
type Reconciler struct {
	repo     store.Repository
	notifier *Notifier
}

// NewReconciler creates a new Reconciler.
func NewReconciler(repo store.Repository, notifier *Notifier) *Reconciler {
	return &Reconciler{repo: repo, notifier: notifier}
}

// ApplyEvent decodes and applies a single webhook delivery. A nil return
// means the event was fully handled or deliberately dropped and the delivery
// can be acknowledged; a non-nil return (other than ErrBadEvent) means a
// transient failure and the gateway should redeliver.
func (r *Reconciler) ApplyEvent(ctx context.Context, raw []byte) error {
	var event domain.WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if event.Event == "" {
		return fmt.Errorf("%w: missing event type", ErrBadEvent)
	}

	switch event.Event {
	case domain.EventPaymentAuthorized:
		return r.applyPaymentAuthorized(ctx, &event)
	case domain.EventPaymentCaptured:
		return r.applyPaymentCaptured(ctx, &event)
	case domain.EventOrderPaid:
		return r.applyOrderPaid(ctx, &event)
	case domain.EventPaymentFailed:
		return r.applyPaymentFailed(ctx, &event)
	case domain.EventRefundCreated:
		return r.applyRefundCreated(ctx, &event)
	case domain.EventSubscriptionCharged:
		return r.applySubscriptionCharged(ctx, &event)
	case domain.EventSubscriptionAuthenticated,
		domain.EventSubscriptionActivated,
		domain.EventSubscriptionPaused,
		domain.EventSubscriptionResumed,
		domain.EventSubscriptionCancelled,
		domain.EventSubscriptionCompleted,
		domain.EventSubscriptionHalted:
		return r.applySubscriptionStatus(ctx, &event)
	default:
		log.Printf("level=info component=reconciler msg=\"unhandled event type dropped\" event=%s", event.Event)
		return nil
	}
}

func (r *Reconciler) applyPaymentAuthorized(ctx context.Context, event *domain.WebhookEvent) error {
	payment := event.Payload.Payment
	if payment == nil {
		return fmt.Errorf("%w: %s without payment entity", ErrBadEvent, event.Event)
	}
	entity := &payment.Entity
	if entity.OrderID == "" {
		// Authorization inside a subscription flow; subscription.activated
		// and subscription.charged carry the record updates.
		log.Printf("level=info component=reconciler event=%s msg=\"no order id, dropped\" payment_id=%s", event.Event, entity.ID)
		return nil
	}

	authorizedAt := eventTime(entity.CreatedAt)
	t := store.PaymentTransition{
		Key:          store.ByOrderID,
		KeyValue:     entity.OrderID,
		NewStatus:    domain.PaymentAuthorized,
		AllowedFrom:  []domain.PaymentStatus{domain.PaymentCreated, domain.PaymentPending, domain.PaymentFailed},
		AuthorizedAt: &authorizedAt,
	}
	applyPaymentDetails(&t, entity)

	_, _, err := r.applyPayment(ctx, event.Event, t)
	return err
}

func (r *Reconciler) applyPaymentCaptured(ctx context.Context, event *domain.WebhookEvent) error {
	payment := event.Payload.Payment
	if payment == nil {
		return fmt.Errorf("%w: %s without payment entity", ErrBadEvent, event.Event)
	}
	entity := &payment.Entity
	if entity.OrderID == "" {
		// Captures belonging to a subscription cycle are materialized by
		// subscription.charged, which carries the subscription correlation key.
		log.Printf("level=info component=reconciler event=%s msg=\"no order id, dropped\" payment_id=%s", event.Event, entity.ID)
		return nil
	}

	capturedAt := eventTime(entity.CreatedAt)
	t := store.PaymentTransition{
		Key:         store.ByOrderID,
		KeyValue:    entity.OrderID,
		NewStatus:   domain.PaymentCaptured,
		AllowedFrom: capturableFrom(),
		CapturedAt:  &capturedAt,
	}
	applyPaymentDetails(&t, entity)

	d, moved, err := r.applyPayment(ctx, event.Event, t)
	if err != nil || d == nil {
		return err
	}
	if moved {
		r.notifier.Notify(RoutingKeyDonationCaptured, d)
	}
	return nil
}

// applyOrderPaid converges on the same terminal state as payment.captured;
// whichever of the two deliveries lands first wins and the other is a no-op.
func (r *Reconciler) applyOrderPaid(ctx context.Context, event *domain.WebhookEvent) error {
	order := event.Payload.Order
	if order == nil || order.Entity.ID == "" {
		return fmt.Errorf("%w: %s without order entity", ErrBadEvent, event.Event)
	}

	capturedAt := eventTime(event.CreatedAt)
	t := store.PaymentTransition{
		Key:         store.ByOrderID,
		KeyValue:    order.Entity.ID,
		NewStatus:   domain.PaymentCaptured,
		AllowedFrom: capturableFrom(),
		CapturedAt:  &capturedAt,
	}
	// order.paid often carries the payment entity alongside the order.
	if event.Payload.Payment != nil {
		applyPaymentDetails(&t, &event.Payload.Payment.Entity)
	}

	d, moved, err := r.applyPayment(ctx, event.Event, t)
	if err != nil || d == nil {
		return err
	}
	if moved {
		r.notifier.Notify(RoutingKeyDonationCaptured, d)
	}
	return nil
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, event *domain.WebhookEvent) error {
	payment := event.Payload.Payment
	if payment == nil {
		return fmt.Errorf("%w: %s without payment entity", ErrBadEvent, event.Event)
	}
	entity := &payment.Entity
	if entity.OrderID == "" {
		log.Printf("level=info component=reconciler event=%s msg=\"no order id, dropped\" payment_id=%s", event.Event, entity.ID)
		return nil
	}

	// A failure arriving after capture is a stale delivery; captured and
	// refunded records keep their status.
	t := store.PaymentTransition{
		Key:         store.ByOrderID,
		KeyValue:    entity.OrderID,
		NewStatus:   domain.PaymentFailed,
		AllowedFrom: []domain.PaymentStatus{domain.PaymentCreated, domain.PaymentPending, domain.PaymentAuthorized},
	}
	applyPaymentDetails(&t, entity)

	d, moved, err := r.applyPayment(ctx, event.Event, t)
	if err != nil || d == nil {
		return err
	}
	if moved {
		r.notifier.Notify(RoutingKeyDonationFailed, d)
	}
	return nil
}

func (r *Reconciler) applyRefundCreated(ctx context.Context, event *domain.WebhookEvent) error {
	refund := event.Payload.Refund
	if refund == nil || refund.Entity.PaymentID == "" {
		return fmt.Errorf("%w: %s without refund entity", ErrBadEvent, event.Event)
	}

	// Refunds key on the payment id because charge-cycle records have no
	// order id. Only captured money can be refunded.
	t := store.PaymentTransition{
		Key:         store.ByPaymentID,
		KeyValue:    refund.Entity.PaymentID,
		NewStatus:   domain.PaymentRefunded,
		AllowedFrom: []domain.PaymentStatus{domain.PaymentCaptured},
	}

	d, moved, err := r.applyPayment(ctx, event.Event, t)
	if err != nil || d == nil {
		return err
	}
	if moved {
		r.notifier.Notify(RoutingKeyDonationRefunded, d)
	}
	return nil
}

// applyPayment runs the guarded update and normalizes drop outcomes. A nil
// record with a nil error means the event referenced no known record.
func (r *Reconciler) applyPayment(ctx context.Context, eventType string, t store.PaymentTransition) (*domain.Donation, bool, error) {
	d, moved, err := r.repo.ApplyPaymentTransition(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			log.Printf("level=warn component=reconciler event=%s msg=\"no matching record, dropped\" key=%s", eventType, t.KeyValue)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("apply %s: %w", eventType, err)
	}
	log.Printf("level=info component=reconciler event=%s donation_id=%s status=%s moved=%t", eventType, d.ID, d.PaymentStatus, moved)
	return d, moved, nil
}

func (r *Reconciler) applySubscriptionStatus(ctx context.Context, event *domain.WebhookEvent) error {
	sub := event.Payload.Subscription
	if sub == nil || sub.Entity.ID == "" {
		return fmt.Errorf("%w: %s without subscription entity", ErrBadEvent, event.Event)
	}
	entity := &sub.Entity

	t := store.SubscriptionTransition{SubscriptionID: entity.ID}
	switch event.Event {
	case domain.EventSubscriptionAuthenticated:
		t.NewStatus = domain.SubscriptionAuthenticated
	case domain.EventSubscriptionActivated:
		t.NewStatus = domain.SubscriptionActive
		start := eventTime(event.CreatedAt)
		t.StartDate = &start
		// Activation always establishes the first cycle, even when the
		// gateway omits its paid count.
		t.RaisePaidCyclesTo = 1
		if entity.PaidCount > 1 {
			t.RaisePaidCyclesTo = entity.PaidCount
		}
	case domain.EventSubscriptionPaused:
		t.NewStatus = domain.SubscriptionPaused
	case domain.EventSubscriptionResumed:
		t.NewStatus = domain.SubscriptionActive
	case domain.EventSubscriptionHalted:
		t.NewStatus = domain.SubscriptionHalted
	case domain.EventSubscriptionCancelled:
		t.NewStatus = domain.SubscriptionCancelled
		end := eventTime(event.CreatedAt)
		t.EndDate = &end
	case domain.EventSubscriptionCompleted:
		t.NewStatus = domain.SubscriptionCompleted
		end := eventTime(event.CreatedAt)
		t.EndDate = &end
	}

	d, err := r.repo.ApplySubscriptionTransition(ctx, t)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			log.Printf("level=warn component=reconciler event=%s msg=\"no matching parent, dropped\" subscription_id=%s", event.Event, entity.ID)
			return nil
		case errors.Is(err, store.ErrSubscriptionTerminal):
			// A cancelled or completed subscription never moves again.
			log.Printf("level=info component=reconciler event=%s msg=\"terminal subscription, dropped\" subscription_id=%s", event.Event, entity.ID)
			return nil
		}
		return fmt.Errorf("apply %s: %w", event.Event, err)
	}

	log.Printf("level=info component=reconciler event=%s subscription_id=%s status=%s", event.Event, entity.ID, t.NewStatus)
	r.notifier.Notify(RoutingKeySubscriptionStatus, d)
	return nil
}

// applySubscriptionCharged materializes a charge-cycle record from the parent
// subscription. Replayed deliveries are defeated by the payment-id unique
// index, which the store surfaces as ErrDuplicateCharge.
func (r *Reconciler) applySubscriptionCharged(ctx context.Context, event *domain.WebhookEvent) error {
	payment := event.Payload.Payment
	if payment == nil || payment.Entity.ID == "" {
		return fmt.Errorf("%w: %s without payment entity", ErrBadEvent, event.Event)
	}
	entity := &payment.Entity

	subKey := entity.SubscriptionKey()
	if subKey == "" && event.Payload.Subscription != nil {
		subKey = event.Payload.Subscription.Entity.ID
	}
	if subKey == "" {
		return fmt.Errorf("%w: %s without subscription correlation key", ErrBadEvent, event.Event)
	}

	parent, err := r.repo.FindParentBySubscriptionID(ctx, subKey)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("level=warn component=reconciler event=%s msg=\"no matching parent, dropped\" subscription_id=%s payment_id=%s", event.Event, subKey, entity.ID)
			return nil
		}
		return fmt.Errorf("find parent for %s: %w", event.Event, err)
	}

	amount := parent.Amount
	if entity.Amount > 0 {
		amount = entity.Amount / 100 // paise on the wire
	}
	chargedAt := eventTime(entity.CreatedAt)

	cycle := &domain.Donation{
		ID:                   uuid.New(),
		DonorName:            parent.DonorName,
		DonorEmail:           parent.DonorEmail,
		DonorPhone:           parent.DonorPhone,
		Address:              parent.Address,
		Pincode:              parent.Pincode,
		PANNumber:            parent.PANNumber,
		Amount:               amount,
		DonationType:         domain.DonationMonthly,
		Occasion:             parent.Occasion,
		Wants80GCertificate:  parent.Wants80GCertificate,
		WantsMahaPrasadam:    parent.WantsMahaPrasadam,
		WantsUpdates:         parent.WantsUpdates,
		RazorpayPaymentID:    &entity.ID,
		ParentSubscriptionID: parent.SubscriptionID,
		PaymentStatus:        domain.PaymentCaptured,
		PaymentMethod:        optional(entity.Method),
		CapturedAt:           &chargedAt,
		PaidCycles:           parent.PaidCycles + 1,
	}

	nextBilling := chargedAt.Add(billingInterval)
	if err := r.repo.MaterializeCharge(ctx, cycle, nextBilling); err != nil {
		if errors.Is(err, store.ErrDuplicateCharge) {
			log.Printf("level=info component=reconciler event=%s msg=\"charge already materialized, dropped\" payment_id=%s", event.Event, entity.ID)
			return nil
		}
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("level=warn component=reconciler event=%s msg=\"parent vanished mid-charge, dropped\" subscription_id=%s", event.Event, subKey)
			return nil
		}
		return fmt.Errorf("materialize charge for %s: %w", event.Event, err)
	}

	// A successful charge means the subscription is live again even if a
	// halted or paused status lingered locally.
	if _, err := r.repo.ApplySubscriptionTransition(ctx, store.SubscriptionTransition{
		SubscriptionID: subKey,
		NewStatus:      domain.SubscriptionActive,
	}); err != nil && !errors.Is(err, store.ErrSubscriptionTerminal) && !errors.Is(err, store.ErrSubscriptionNotFound) {
		return fmt.Errorf("activate parent after charge: %w", err)
	}

	log.Printf("level=info component=reconciler event=%s subscription_id=%s payment_id=%s cycle=%d amount=%d", event.Event, subKey, entity.ID, cycle.PaidCycles, amount)
	r.notifier.Notify(RoutingKeySubscriptionCycle, cycle)
	return nil
}

// capturableFrom lists every status capture may arrive from. Captured money
// is fact; only an existing capture or a refund outranks it.
func capturableFrom() []domain.PaymentStatus {
	return []domain.PaymentStatus{
		domain.PaymentCreated,
		domain.PaymentPending,
		domain.PaymentAuthorized,
		domain.PaymentFailed,
	}
}

// applyPaymentDetails merges the entity's non-empty detail fields into the
// transition. The store COALESCEs these, so absent fields never clear data.
func applyPaymentDetails(t *store.PaymentTransition, entity *domain.PaymentEntity) {
	t.PaymentID = optional(entity.ID)
	t.Method = optional(entity.Method)
	t.Bank = optional(entity.Bank)
	t.Wallet = optional(entity.Wallet)
	t.VPA = optional(entity.VPA)
	t.CardID = optional(entity.CardID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func eventTime(unix int64) time.Time {
	if unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	return time.Now().UTC()
}

/**
 * @description
 * This file defines the notification port of the donation-service. After a
 * successful state transition the service emits a DonationEvent to the
 * RabbitMQ exchange; downstream workers handle receipts, 80G certificates
 * and prasadam dispatch.
 *
 * @notes
 * - Delivery is strictly fire-and-forget. A broker outage must never fail the
 *   transition that produced the event, so publishing runs under its own short
 *   timeout and failures are only logged.
 * - Callers invoke Notify only when a status actually moved; replayed events
 *   that merge details without changing status emit nothing.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/pkg/rabbitmq"
)

const (
	donationEventsExchange = "donation_events"

	RoutingKeyDonationCaptured   = "donation.captured"
	RoutingKeyDonationFailed     = "donation.failed"
	RoutingKeyDonationRefunded   = "donation.refunded"
	RoutingKeySubscriptionCycle  = "subscription.cycle_charged"
	RoutingKeySubscriptionStatus = "subscription.status_changed"
)

// Notifier publishes donation lifecycle events to the notification exchange.
type Notifier struct {
	publisher rabbitmq.Publisher
}

// NewNotifier creates a Notifier backed by the given publisher.
func NewNotifier(publisher rabbitmq.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Notify publishes a DonationEvent for the given record. Publish failures are
// logged and swallowed.
func (n *Notifier) Notify(routingKey string, d *domain.Donation) {
	if n == nil || n.publisher == nil || d == nil {
		return
	}

	event := domain.DonationEvent{
		DonationID:    d.ID.String(),
		EventType:     routingKey,
		Amount:        d.Amount,
		MealsServed:   d.MealsServed(),
		DonorName:     d.DonorName,
		DonorEmail:    d.DonorEmail,
		Occasion:      d.Occasion,
		PaidCycles:    d.PaidCycles,
		Wants80G:      d.Wants80GCertificate,
		WantsPrasadam: d.WantsMahaPrasadam,
		OccurredAt:    time.Now().UTC(),
	}
	if d.SubscriptionID != nil {
		event.SubscriptionID = *d.SubscriptionID
	} else if d.ParentSubscriptionID != nil {
		event.SubscriptionID = *d.ParentSubscriptionID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.publisher.Publish(ctx, donationEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=notifier msg=\"event publish failed\" routing_key=%s donation_id=%s err=%v", routingKey, event.DonationID, err)
	}
}

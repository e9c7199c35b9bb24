package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
)

type reconcilerRepoStub struct {
	store.Repository

	paymentTransitions      []store.PaymentTransition
	paymentResult           *domain.Donation
	paymentErr              error
	subscriptionTransitions []store.SubscriptionTransition
	subscriptionResult      *domain.Donation
	subscriptionErr         error

	parent    *domain.Donation
	parentErr error

	materializedCycle *domain.Donation
	materializedNext  time.Time
	materializeErr    error
}

func (s *reconcilerRepoStub) ApplyPaymentTransition(ctx context.Context, t store.PaymentTransition) (*domain.Donation, bool, error) {
	s.paymentTransitions = append(s.paymentTransitions, t)
	if s.paymentErr != nil {
		return nil, false, s.paymentErr
	}
	if s.paymentResult != nil {
		return s.paymentResult, true, nil
	}
	return &domain.Donation{ID: uuid.New(), PaymentStatus: t.NewStatus}, true, nil
}

func (s *reconcilerRepoStub) ApplySubscriptionTransition(ctx context.Context, t store.SubscriptionTransition) (*domain.Donation, error) {
	s.subscriptionTransitions = append(s.subscriptionTransitions, t)
	if s.subscriptionErr != nil {
		return nil, s.subscriptionErr
	}
	if s.subscriptionResult != nil {
		return s.subscriptionResult, nil
	}
	status := t.NewStatus
	return &domain.Donation{ID: uuid.New(), SubscriptionStatus: &status}, nil
}

func (s *reconcilerRepoStub) FindParentBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Donation, error) {
	if s.parentErr != nil {
		return nil, s.parentErr
	}
	return s.parent, nil
}

func (s *reconcilerRepoStub) MaterializeCharge(ctx context.Context, cycle *domain.Donation, nextBillingDate time.Time) error {
	s.materializedCycle = cycle
	s.materializedNext = nextBillingDate
	return s.materializeErr
}

func newTestReconciler(repo store.Repository) *Reconciler {
	return NewReconciler(repo, NewNotifier(nil))
}

func paymentEventBody(t *testing.T, event, orderID, paymentID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":         paymentID,
					"order_id":   orderID,
					"method":     "upi",
					"vpa":        "donor@upi",
					"created_at": 1756000000,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func subscriptionEventBody(t *testing.T, event, subscriptionID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event":      event,
		"created_at": 1756000000,
		"payload": map[string]interface{}{
			"subscription": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":         subscriptionID,
					"plan_id":    "plan_500",
					"paid_count": 1,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestApplyEvent_PaymentAuthorizedUsesOrderKeyAndGuard(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentAuthorized, "order_abc", "pay_abc"))
	if err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}
	if len(repo.paymentTransitions) != 1 {
		t.Fatalf("expected 1 payment transition, got %d", len(repo.paymentTransitions))
	}

	tr := repo.paymentTransitions[0]
	if tr.Key != store.ByOrderID || tr.KeyValue != "order_abc" {
		t.Errorf("expected transition keyed by order_abc, got key=%v value=%q", tr.Key, tr.KeyValue)
	}
	if tr.NewStatus != domain.PaymentAuthorized {
		t.Errorf("expected authorized status, got %s", tr.NewStatus)
	}
	for _, from := range tr.AllowedFrom {
		if from == domain.PaymentCaptured || from == domain.PaymentRefunded {
			t.Errorf("authorized must not be reachable from %s", from)
		}
	}
	if tr.AuthorizedAt == nil {
		t.Error("expected authorized timestamp to be stamped")
	}
	if tr.PaymentID == nil || *tr.PaymentID != "pay_abc" {
		t.Error("expected payment id detail to be merged")
	}
	if tr.VPA == nil || *tr.VPA != "donor@upi" {
		t.Error("expected vpa detail to be merged")
	}
}

func TestApplyEvent_CapturedAllowedFromFailed(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentCaptured, "order_retry", "pay_retry")); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.paymentTransitions[0]
	if tr.NewStatus != domain.PaymentCaptured {
		t.Fatalf("expected captured, got %s", tr.NewStatus)
	}
	// A retried payment succeeds after an earlier failure.
	failedAllowed := false
	for _, from := range tr.AllowedFrom {
		if from == domain.PaymentFailed {
			failedAllowed = true
		}
		if from == domain.PaymentCaptured || from == domain.PaymentRefunded {
			t.Errorf("capture must not re-enter from %s", from)
		}
	}
	if !failedAllowed {
		t.Error("capture must be allowed from failed")
	}
	if tr.CapturedAt == nil {
		t.Error("expected captured timestamp to be stamped")
	}
}

func TestApplyEvent_FailedNeverRegressesCapture(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentFailed, "order_late", "pay_late")); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.paymentTransitions[0]
	if tr.NewStatus != domain.PaymentFailed {
		t.Fatalf("expected failed, got %s", tr.NewStatus)
	}
	for _, from := range tr.AllowedFrom {
		if from == domain.PaymentCaptured || from == domain.PaymentRefunded {
			t.Errorf("failed must not be reachable from %s", from)
		}
	}
}

func TestApplyEvent_OrderPaidConvergesToCaptured(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	body, _ := json.Marshal(map[string]interface{}{
		"event":      domain.EventOrderPaid,
		"created_at": 1756000000,
		"payload": map[string]interface{}{
			"order": map[string]interface{}{
				"entity": map[string]interface{}{"id": "order_paid", "status": "paid"},
			},
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{"id": "pay_paid", "method": "card"},
			},
		},
	})
	if err := r.ApplyEvent(context.Background(), body); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.paymentTransitions[0]
	if tr.Key != store.ByOrderID || tr.KeyValue != "order_paid" {
		t.Errorf("expected transition keyed by order id, got %q", tr.KeyValue)
	}
	if tr.NewStatus != domain.PaymentCaptured {
		t.Errorf("order.paid must converge to captured, got %s", tr.NewStatus)
	}
	if tr.PaymentID == nil || *tr.PaymentID != "pay_paid" {
		t.Error("expected payment details from the sibling payment entity")
	}
}

func TestApplyEvent_RefundKeyedByPaymentIDFromCapturedOnly(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	body, _ := json.Marshal(map[string]interface{}{
		"event": domain.EventRefundCreated,
		"payload": map[string]interface{}{
			"refund": map[string]interface{}{
				"entity": map[string]interface{}{"id": "rfnd_1", "payment_id": "pay_refunded"},
			},
		},
	})
	if err := r.ApplyEvent(context.Background(), body); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.paymentTransitions[0]
	if tr.Key != store.ByPaymentID || tr.KeyValue != "pay_refunded" {
		t.Errorf("refund must key on payment id, got key=%v value=%q", tr.Key, tr.KeyValue)
	}
	if len(tr.AllowedFrom) != 1 || tr.AllowedFrom[0] != domain.PaymentCaptured {
		t.Errorf("refund must only apply to captured records, got %v", tr.AllowedFrom)
	}
}

func TestApplyEvent_UnknownRecordIsDroppedNotErrored(t *testing.T) {
	repo := &reconcilerRepoStub{paymentErr: store.ErrDonationNotFound}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentCaptured, "order_unknown", "pay_x")); err != nil {
		t.Fatalf("unknown record must be acknowledged, got error: %v", err)
	}
}

func TestApplyEvent_StoreFailurePropagates(t *testing.T) {
	repo := &reconcilerRepoStub{paymentErr: errors.New("connection reset")}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentCaptured, "order_x", "pay_x")); err == nil {
		t.Fatal("transient store failure must propagate for redelivery")
	}
}

func TestApplyEvent_SubscriptionPaymentWithoutOrderIsDropped(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentCaptured, "", "pay_sub")); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}
	if len(repo.paymentTransitions) != 0 {
		t.Fatal("payment without an order id must not touch the store")
	}
}

func TestApplyEvent_MalformedBodyReturnsBadEvent(t *testing.T) {
	r := newTestReconciler(&reconcilerRepoStub{})

	err := r.ApplyEvent(context.Background(), []byte("{not json"))
	if !errors.Is(err, ErrBadEvent) {
		t.Fatalf("expected ErrBadEvent, got %v", err)
	}

	err = r.ApplyEvent(context.Background(), []byte(`{"payload":{}}`))
	if !errors.Is(err, ErrBadEvent) {
		t.Fatalf("expected ErrBadEvent for missing event type, got %v", err)
	}
}

func TestApplyEvent_UnhandledEventTypeIsAcknowledged(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), []byte(`{"event":"invoice.paid","payload":{}}`)); err != nil {
		t.Fatalf("unhandled event type must be acknowledged, got %v", err)
	}
	if len(repo.paymentTransitions)+len(repo.subscriptionTransitions) != 0 {
		t.Fatal("unhandled event must not touch the store")
	}
}

func TestApplyEvent_SubscriptionActivatedSetsStartAndCycles(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), subscriptionEventBody(t, domain.EventSubscriptionActivated, "sub_1")); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.subscriptionTransitions[0]
	if tr.SubscriptionID != "sub_1" || tr.NewStatus != domain.SubscriptionActive {
		t.Errorf("expected sub_1 active, got %q %s", tr.SubscriptionID, tr.NewStatus)
	}
	if tr.StartDate == nil {
		t.Error("activation must stamp the start date")
	}
	if tr.RaisePaidCyclesTo != 1 {
		t.Errorf("activation must raise paid cycles to the gateway count, got %d", tr.RaisePaidCyclesTo)
	}
}

func TestApplyEvent_SubscriptionActivatedWithoutPaidCountEstablishesFirstCycle(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	body := []byte(`{"event":"subscription.activated","created_at":1756000000,"payload":{"subscription":{"entity":{"id":"sub_np","plan_id":"plan_500","status":"active"}}}}`)
	if err := r.ApplyEvent(context.Background(), body); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.subscriptionTransitions[0]
	if tr.RaisePaidCyclesTo != 1 {
		t.Errorf("activation without a paid count must still establish cycle 1, got %d", tr.RaisePaidCyclesTo)
	}
}

func TestApplyEvent_SubscriptionActivatedHonorsHigherPaidCount(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	body := []byte(`{"event":"subscription.activated","created_at":1756000000,"payload":{"subscription":{"entity":{"id":"sub_hp","plan_id":"plan_500","status":"active","paid_count":3}}}}`)
	if err := r.ApplyEvent(context.Background(), body); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.subscriptionTransitions[0]
	if tr.RaisePaidCyclesTo != 3 {
		t.Errorf("activation must honor a higher gateway paid count, got %d", tr.RaisePaidCyclesTo)
	}
}

func TestApplyEvent_ResumeAfterCancelIsDropped(t *testing.T) {
	repo := &reconcilerRepoStub{subscriptionErr: store.ErrSubscriptionTerminal}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), subscriptionEventBody(t, domain.EventSubscriptionResumed, "sub_done")); err != nil {
		t.Fatalf("terminal subscription event must be acknowledged, got %v", err)
	}
}

func TestApplyEvent_SubscriptionCancelledStampsEndDate(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), subscriptionEventBody(t, domain.EventSubscriptionCancelled, "sub_c")); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}

	tr := repo.subscriptionTransitions[0]
	if tr.NewStatus != domain.SubscriptionCancelled {
		t.Fatalf("expected cancelled, got %s", tr.NewStatus)
	}
	if tr.EndDate == nil {
		t.Error("cancellation must stamp the end date")
	}
}

func chargedEventBody(t *testing.T, paymentID, subscriptionID string, amountPaise int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": domain.EventSubscriptionCharged,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":         paymentID,
					"amount":     amountPaise,
					"method":     "card",
					"created_at": 1756000000,
					"notes":      map[string]string{"subscription_id": subscriptionID},
				},
			},
			"subscription": map[string]interface{}{
				"entity": map[string]interface{}{"id": subscriptionID, "status": "active"},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func testParent(subscriptionID string) *domain.Donation {
	status := domain.SubscriptionActive
	return &domain.Donation{
		ID:                  uuid.New(),
		DonorName:           "Asha Rao",
		DonorEmail:          "asha@example.com",
		DonorPhone:          "9876543210",
		Amount:              500,
		DonationType:        domain.DonationMonthly,
		Occasion:            domain.OccasionBirthday,
		Wants80GCertificate: true,
		WantsUpdates:        true,
		SubscriptionID:      &subscriptionID,
		SubscriptionStatus:  &status,
		PaidCycles:          2,
	}
}

func TestApplyEvent_ChargedMaterializesCycleFromParent(t *testing.T) {
	repo := &reconcilerRepoStub{parent: testParent("sub_live")}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), chargedEventBody(t, "pay_cycle3", "sub_live", 50000)); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}
	cycle := repo.materializedCycle
	if cycle == nil {
		t.Fatal("expected a charge cycle to be materialized")
	}

	if cycle.DonorName != "Asha Rao" || cycle.DonorEmail != "asha@example.com" {
		t.Error("cycle must copy donor identity from the parent")
	}
	if cycle.Amount != 500 {
		t.Errorf("expected amount 500 rupees from 50000 paise, got %d", cycle.Amount)
	}
	if cycle.PaymentStatus != domain.PaymentCaptured {
		t.Errorf("charged cycle must be captured, got %s", cycle.PaymentStatus)
	}
	if cycle.ParentSubscriptionID == nil || *cycle.ParentSubscriptionID != "sub_live" {
		t.Error("cycle must carry the parent subscription id")
	}
	if cycle.SubscriptionID != nil {
		t.Error("cycle must not claim the parent's subscription id")
	}
	if cycle.PaidCycles != 3 {
		t.Errorf("expected cycle number 3, got %d", cycle.PaidCycles)
	}
	if cycle.RazorpayPaymentID == nil || *cycle.RazorpayPaymentID != "pay_cycle3" {
		t.Error("cycle must record the charge payment id")
	}
	if cycle.CapturedAt == nil {
		t.Fatal("cycle must stamp the capture time")
	}
	wantNext := cycle.CapturedAt.Add(30 * 24 * time.Hour)
	if !repo.materializedNext.Equal(wantNext) {
		t.Errorf("next billing date: got %v, want %v", repo.materializedNext, wantNext)
	}

	// The parent converges to active after a successful charge.
	if len(repo.subscriptionTransitions) != 1 || repo.subscriptionTransitions[0].NewStatus != domain.SubscriptionActive {
		t.Error("expected the parent to be marked active after the charge")
	}
}

func TestApplyEvent_ReplayedChargeIsDropped(t *testing.T) {
	repo := &reconcilerRepoStub{parent: testParent("sub_live"), materializeErr: store.ErrDuplicateCharge}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), chargedEventBody(t, "pay_replayed", "sub_live", 50000)); err != nil {
		t.Fatalf("replayed charge must be acknowledged, got %v", err)
	}
	if len(repo.subscriptionTransitions) != 0 {
		t.Error("replayed charge must not move the parent again")
	}
}

func TestApplyEvent_ChargeForUnknownSubscriptionIsDropped(t *testing.T) {
	repo := &reconcilerRepoStub{parentErr: store.ErrSubscriptionNotFound}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), chargedEventBody(t, "pay_x", "sub_ghost", 50000)); err != nil {
		t.Fatalf("charge for unknown subscription must be acknowledged, got %v", err)
	}
	if repo.materializedCycle != nil {
		t.Error("no cycle must be materialized for an unknown subscription")
	}
}

func TestApplyEvent_ChargeWithoutAmountFallsBackToParent(t *testing.T) {
	repo := &reconcilerRepoStub{parent: testParent("sub_live")}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), chargedEventBody(t, "pay_noamt", "sub_live", 0)); err != nil {
		t.Fatalf("ApplyEvent returned error: %v", err)
	}
	if repo.materializedCycle.Amount != 500 {
		t.Errorf("expected parent amount fallback, got %d", repo.materializedCycle.Amount)
	}
}

// Out-of-order end-to-end: captured lands before authorized, and the late
// authorized transition must carry a guard that leaves captured untouched.
func TestApplyEvent_OutOfOrderCaptureThenAuthorize(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := newTestReconciler(repo)

	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentCaptured, "order_ooo", "pay_ooo")); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := r.ApplyEvent(context.Background(), paymentEventBody(t, domain.EventPaymentAuthorized, "order_ooo", "pay_ooo")); err != nil {
		t.Fatalf("late authorize: %v", err)
	}

	if len(repo.paymentTransitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(repo.paymentTransitions))
	}
	late := repo.paymentTransitions[1]
	if late.NewStatus != domain.PaymentAuthorized {
		t.Fatalf("expected authorized, got %s", late.NewStatus)
	}
	if statusIn(domain.PaymentCaptured, late.AllowedFrom) {
		t.Error("late authorize must not be applicable to a captured record")
	}
}

func statusIn(status domain.PaymentStatus, set []domain.PaymentStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func TestApplyEvent_SubscriptionStatusMapping(t *testing.T) {
	for event, want := range map[string]domain.SubscriptionStatus{
		domain.EventSubscriptionAuthenticated: domain.SubscriptionAuthenticated,
		domain.EventSubscriptionPaused:        domain.SubscriptionPaused,
		domain.EventSubscriptionResumed:       domain.SubscriptionActive,
		domain.EventSubscriptionHalted:        domain.SubscriptionHalted,
		domain.EventSubscriptionCompleted:     domain.SubscriptionCompleted,
	} {
		repo := &reconcilerRepoStub{}
		r := newTestReconciler(repo)
		if err := r.ApplyEvent(context.Background(), subscriptionEventBody(t, event, "sub_map")); err != nil {
			t.Fatalf("%s: %v", event, err)
		}
		if got := repo.subscriptionTransitions[0].NewStatus; got != want {
			t.Errorf("%s: got status %s, want %s", event, got, want)
		}
	}
}

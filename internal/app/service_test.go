package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
	"github.com/sevatrust/donation-service/pkg/razorpayclient"
)

type serviceRepoStub struct {
	store.Repository

	created    *domain.Donation
	createErr  error
	parent     *domain.Donation
	parentErr  error
	transition *store.PaymentTransition

	subTransition *store.SubscriptionTransition
	subErr        error
}

func (s *serviceRepoStub) CreateDonation(ctx context.Context, d *domain.Donation) error {
	s.created = d
	return s.createErr
}

func (s *serviceRepoStub) ApplyPaymentTransition(ctx context.Context, t store.PaymentTransition) (*domain.Donation, bool, error) {
	s.transition = &t
	return &domain.Donation{ID: uuid.New(), PaymentStatus: t.NewStatus, Amount: 500}, true, nil
}

func (s *serviceRepoStub) FindParentBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Donation, error) {
	if s.parentErr != nil {
		return nil, s.parentErr
	}
	return s.parent, nil
}

func (s *serviceRepoStub) ApplySubscriptionTransition(ctx context.Context, t store.SubscriptionTransition) (*domain.Donation, error) {
	s.subTransition = &t
	if s.subErr != nil {
		return nil, s.subErr
	}
	status := t.NewStatus
	return &domain.Donation{ID: uuid.New(), SubscriptionStatus: &status}, nil
}

const testKeySecret = "test_key_secret"

func newTestService(t *testing.T, repo store.Repository, handler http.HandlerFunc) (*DonationService, *httptest.Server) {
	t.Helper()
	return newTestServiceWithNotifier(t, repo, NewNotifier(nil), handler)
}

func newTestServiceWithNotifier(t *testing.T, repo store.Repository, notifier *Notifier, handler http.HandlerFunc) (*DonationService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gateway := razorpayclient.NewClient(server.URL, "rzp_test_key", testKeySecret)
	plans := map[int64]string{500: "plan_500", 1000: "plan_1000", 2500: "plan_2500", 5000: "plan_5000"}
	return NewDonationService(repo, gateway, notifier, testKeySecret, plans), server
}

func validOrderRequest() *domain.CreateOrderRequest {
	return &domain.CreateOrderRequest{
		DonorName:  "Asha Rao",
		DonorEmail: "asha@example.com",
		DonorPhone: "9876543210",
		Amount:     1000,
	}
}

func TestCreateOrder_PersistsAfterGatewaySucceeds(t *testing.T) {
	var gatewayCalls int
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		gatewayCalls++
		if r.URL.Path != "/orders" {
			t.Errorf("unexpected gateway path %s", r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if amt, _ := body["amount"].(float64); amt != 100000 {
			t.Errorf("expected 100000 paise on the wire, got %v", body["amount"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "order_new", "amount": 100000, "currency": "INR", "status": "created",
		})
	})

	result, err := svc.CreateOrder(context.Background(), validOrderRequest(), "1.2.3.4", "jest")
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if gatewayCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gatewayCalls)
	}
	if repo.created == nil {
		t.Fatal("expected the record to be persisted")
	}
	if repo.created.PaymentStatus != domain.PaymentCreated {
		t.Errorf("new record must start created, got %s", repo.created.PaymentStatus)
	}
	if repo.created.RazorpayOrderID == nil || *repo.created.RazorpayOrderID != "order_new" {
		t.Error("record must carry the gateway order id")
	}
	if repo.created.IPAddress == nil || *repo.created.IPAddress != "1.2.3.4" {
		t.Error("record must capture the client ip")
	}
	if result.Order.ID != "order_new" {
		t.Errorf("unexpected order id %q", result.Order.ID)
	}
}

func TestCreateOrder_GatewayFailureLeavesNoRecord(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "SERVER_ERROR", "description": "upstream down"},
		})
	})

	if _, err := svc.CreateOrder(context.Background(), validOrderRequest(), "", ""); err == nil {
		t.Fatal("expected gateway failure to surface")
	}
	if repo.created != nil {
		t.Fatal("no record may be persisted when the gateway call fails")
	}
}

func TestCreateOrder_ValidationRejectsBeforeGateway(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for an invalid request")
	})

	req := validOrderRequest()
	req.DonorPhone = "12345"
	req.Amount = 0

	_, err := svc.CreateOrder(context.Background(), req, "", "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(vErr.Fields))
	}
}

func signPayment(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testKeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPayment_ValidSignatureCaptures(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {})

	d, err := svc.VerifyPayment(context.Background(), &domain.VerifyPaymentRequest{
		RazorpayOrderID:   "order_v",
		RazorpayPaymentID: "pay_v",
		RazorpaySignature: signPayment("order_v", "pay_v"),
	})
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if d.PaymentStatus != domain.PaymentCaptured {
		t.Errorf("expected captured, got %s", d.PaymentStatus)
	}
	tr := repo.transition
	if tr == nil || tr.NewStatus != domain.PaymentCaptured {
		t.Fatal("expected a captured transition")
	}
	if tr.Signature == nil || tr.PaymentID == nil {
		t.Error("verified capture must persist the signature and payment id")
	}
	if tr.CapturedAt == nil {
		t.Error("verified capture must stamp the capture time")
	}
}

func TestVerifyPayment_InvalidSignatureMarksFailed(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {})

	_, err := svc.VerifyPayment(context.Background(), &domain.VerifyPaymentRequest{
		RazorpayOrderID:   "order_bad",
		RazorpayPaymentID: "pay_bad",
		RazorpaySignature: "deadbeef",
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if repo.transition == nil || repo.transition.NewStatus != domain.PaymentFailed {
		t.Fatal("a bad signature must attempt a failed transition")
	}
	// The guard keeps a real capture from being clobbered by a forged retry.
	if statusIn(domain.PaymentCaptured, repo.transition.AllowedFrom) {
		t.Error("failed transition must not apply to captured records")
	}
}

func TestCreateSubscription_UnknownAmountRejected(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for an unmapped amount")
	})

	_, err := svc.CreateSubscription(context.Background(), &domain.CreateSubscriptionRequest{
		DonorName:  "Asha Rao",
		DonorEmail: "asha@example.com",
		DonorPhone: "9876543210",
		Amount:     750,
	}, "", "")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestCreateSubscription_PersistsParentRecord(t *testing.T) {
	repo := &serviceRepoStub{}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscriptions" {
			t.Errorf("unexpected gateway path %s", r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["plan_id"] != "plan_1000" {
			t.Errorf("expected plan_1000, got %v", body["plan_id"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "sub_new", "plan_id": "plan_1000", "status": "created", "short_url": "https://rzp.io/i/x",
		})
	})

	result, err := svc.CreateSubscription(context.Background(), &domain.CreateSubscriptionRequest{
		DonorName:  "Asha Rao",
		DonorEmail: "asha@example.com",
		DonorPhone: "9876543210",
		Amount:     1000,
	}, "", "")
	if err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}

	d := repo.created
	if d == nil {
		t.Fatal("expected the parent record to be persisted")
	}
	if d.DonationType != domain.DonationMonthly {
		t.Errorf("expected monthly type, got %s", d.DonationType)
	}
	if d.SubscriptionID == nil || *d.SubscriptionID != "sub_new" {
		t.Error("parent must carry the gateway subscription id")
	}
	if d.SubscriptionStatus == nil || *d.SubscriptionStatus != domain.SubscriptionCreated {
		t.Error("parent must start in created subscription status")
	}
	if d.ParentSubscriptionID != nil {
		t.Error("a parent record must not reference another parent")
	}
	if result.Subscription.ShortURL == "" {
		t.Error("expected the hosted authentication link")
	}
}

func TestCancelSubscription_TerminalRefusedBeforeGateway(t *testing.T) {
	subID := "sub_done"
	status := domain.SubscriptionCancelled
	repo := &serviceRepoStub{parent: &domain.Donation{
		ID:                 uuid.New(),
		SubscriptionID:     &subID,
		SubscriptionStatus: &status,
	}}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for a terminal subscription")
	})

	_, err := svc.CancelSubscription(context.Background(), subID, false)
	if !errors.Is(err, store.ErrSubscriptionTerminal) {
		t.Fatalf("expected ErrSubscriptionTerminal, got %v", err)
	}
}

func TestCancelSubscription_ConvergesLocalRecord(t *testing.T) {
	subID := "sub_live"
	status := domain.SubscriptionActive
	repo := &serviceRepoStub{parent: &domain.Donation{
		ID:                 uuid.New(),
		SubscriptionID:     &subID,
		SubscriptionStatus: &status,
	}}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": subID, "status": "cancelled"})
	})

	d, err := svc.CancelSubscription(context.Background(), subID, true)
	if err != nil {
		t.Fatalf("CancelSubscription returned error: %v", err)
	}
	if repo.subTransition == nil || repo.subTransition.NewStatus != domain.SubscriptionCancelled {
		t.Fatal("expected a cancelled transition on the parent")
	}
	if repo.subTransition.EndDate == nil {
		t.Error("cancellation must stamp the end date")
	}
	if d.SubscriptionStatus == nil || *d.SubscriptionStatus != domain.SubscriptionCancelled {
		t.Error("returned record must reflect the cancel")
	}
}

func TestPauseAndResumeSubscription(t *testing.T) {
	subID := "sub_live"
	status := domain.SubscriptionActive
	repo := &serviceRepoStub{parent: &domain.Donation{
		ID:                 uuid.New(),
		SubscriptionID:     &subID,
		SubscriptionStatus: &status,
	}}
	svc, _ := newTestService(t, repo, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": subID, "status": "paused"})
	})

	if _, err := svc.PauseSubscription(context.Background(), subID); err != nil {
		t.Fatalf("PauseSubscription returned error: %v", err)
	}
	if repo.subTransition.NewStatus != domain.SubscriptionPaused {
		t.Errorf("expected paused, got %s", repo.subTransition.NewStatus)
	}

	if _, err := svc.ResumeSubscription(context.Background(), subID); err != nil {
		t.Fatalf("ResumeSubscription returned error: %v", err)
	}
	if repo.subTransition.NewStatus != domain.SubscriptionActive {
		t.Errorf("expected active after resume, got %s", repo.subTransition.NewStatus)
	}
}

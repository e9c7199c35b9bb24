/**
 * @description
 * This file contains the DonationService, the application-layer orchestrator
 * for the public donation API. It validates requests, talks to the Razorpay
 * gateway, and persists donation records through the store.
 *
 * Key features:
 * - Order Creation: The gateway order is created first and the local record
 *   is persisted only after the gateway call succeeds, so a gateway timeout
 *   never leaves an orphaned record.
 * - Payment Verification: Checkout callbacks are verified with the HMAC
 *   signature before any state moves; an invalid signature marks the record
 *   failed as a best effort and rejects the request.
 * - Subscription Management: Cancel, pause and resume call the gateway first
 *   and converge the local record afterwards, mirroring the webhook path.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
	"github.com/sevatrust/donation-service/pkg/razorpayclient"
	"github.com/sevatrust/donation-service/pkg/signature"
)

var (
	// ErrUnknownPlan is returned when a subscription amount has no
	// pre-provisioned Razorpay plan.
	ErrUnknownPlan = errors.New("no recurring plan exists for this amount")
	// ErrInvalidSignature is returned when a checkout callback's signature
	// does not verify against the API secret.
	ErrInvalidSignature = errors.New("payment signature verification failed")
)

// ValidationError carries the field-level problems of a rejected request.
type ValidationError struct {
	Fields []domain.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return "validation failed: " + e.Fields[0].Message
	}
	return fmt.Sprintf("validation failed on %d fields", len(e.Fields))
}

// DonationService orchestrates donation and subscription operations.
type DonationService struct {
	repo      store.Repository
	gateway   *razorpayclient.Client
	notifier  *Notifier
	keySecret string
	// planIDs maps a monthly amount in rupees to its Razorpay plan id.
	planIDs map[int64]string
}

// NewDonationService creates a new DonationService.
func NewDonationService(repo store.Repository, gateway *razorpayclient.Client, notifier *Notifier, keySecret string, planIDs map[int64]string) *DonationService {
	return &DonationService{
		repo:      repo,
		gateway:   gateway,
		notifier:  notifier,
		keySecret: keySecret,
		planIDs:   planIDs,
	}
}

// CreateOrderResult pairs the persisted record with the gateway order the
// donation page needs to open checkout.
type CreateOrderResult struct {
	Donation *domain.Donation
	Order    *razorpayclient.Order
}

// CreateOrder creates a Razorpay order for a one-time donation and persists
// the local record in `created` state.
func (s *DonationService) CreateOrder(ctx context.Context, req *domain.CreateOrderRequest, ipAddress, userAgent string) (*CreateOrderResult, error) {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	id := uuid.New()
	notes := map[string]string{
		"donation_id": id.String(),
		"donor_name":  req.DonorName,
	}
	order, err := s.gateway.CreateOrder(ctx, req.Amount, "INR", id.String(), notes)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	d := &domain.Donation{
		ID:                  id,
		DonorName:           strings.TrimSpace(req.DonorName),
		DonorEmail:          strings.TrimSpace(req.DonorEmail),
		DonorPhone:          strings.TrimSpace(req.DonorPhone),
		Address:             req.Address,
		Pincode:             req.Pincode,
		PANNumber:           normalizePAN(req.PANNumber),
		DateOfBirth:         parseDate(req.DateOfBirth),
		Amount:              req.Amount,
		DonationType:        domain.DonationOneTime,
		Occasion:            occasionOrDefault(req.Occasion),
		SevaDate:            parseDate(req.SevaDate),
		Wants80GCertificate: req.Wants80GCertificate,
		WantsMahaPrasadam:   req.WantsMahaPrasadam,
		WantsUpdates:        wantsUpdates(req.WantsUpdates),
		RazorpayOrderID:     &order.ID,
		PaymentStatus:       domain.PaymentCreated,
		IPAddress:           optional(ipAddress),
		UserAgent:           optional(userAgent),
	}
	if err := s.repo.CreateDonation(ctx, d); err != nil {
		return nil, fmt.Errorf("persist donation record: %w", err)
	}

	log.Printf("level=info component=donation_service op=create_order donation_id=%s order_id=%s amount=%d", d.ID, order.ID, d.Amount)
	return &CreateOrderResult{Donation: d, Order: order}, nil
}

// VerifyPayment checks the checkout callback signature and marks the donation
// captured. An invalid signature marks the record failed as a best effort.
func (s *DonationService) VerifyPayment(ctx context.Context, req *domain.VerifyPaymentRequest) (*domain.Donation, error) {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	if !signature.VerifyPayment(req.RazorpayOrderID, req.RazorpayPaymentID, s.keySecret, req.RazorpaySignature) {
		if _, _, err := s.repo.ApplyPaymentTransition(ctx, store.PaymentTransition{
			Key:         store.ByOrderID,
			KeyValue:    req.RazorpayOrderID,
			NewStatus:   domain.PaymentFailed,
			AllowedFrom: []domain.PaymentStatus{domain.PaymentCreated, domain.PaymentPending, domain.PaymentAuthorized},
			PaymentID:   optional(req.RazorpayPaymentID),
		}); err != nil && !errors.Is(err, store.ErrDonationNotFound) {
			log.Printf("level=warn component=donation_service op=verify_payment msg=\"failed-state write after bad signature\" order_id=%s err=%v", req.RazorpayOrderID, err)
		}
		log.Printf("level=warn component=donation_service op=verify_payment msg=\"signature mismatch\" order_id=%s", req.RazorpayOrderID)
		return nil, ErrInvalidSignature
	}

	now := time.Now().UTC()
	d, moved, err := s.repo.ApplyPaymentTransition(ctx, store.PaymentTransition{
		Key:         store.ByOrderID,
		KeyValue:    req.RazorpayOrderID,
		NewStatus:   domain.PaymentCaptured,
		AllowedFrom: capturableFrom(),
		PaymentID:   optional(req.RazorpayPaymentID),
		Signature:   optional(req.RazorpaySignature),
		CapturedAt:  &now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("apply verified capture: %w", err)
	}

	log.Printf("level=info component=donation_service op=verify_payment donation_id=%s status=%s moved=%t", d.ID, d.PaymentStatus, moved)
	if moved {
		s.notifier.Notify(RoutingKeyDonationCaptured, d)
	}
	return d, nil
}

// GetDonation fetches a donation by its id.
func (s *DonationService) GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	return s.repo.FindDonationByID(ctx, id)
}

// GetStats returns the aggregate over captured donations.
func (s *DonationService) GetStats(ctx context.Context) (*domain.DonationStats, error) {
	return s.repo.GetDonationStats(ctx)
}

// CreateSubscriptionResult pairs the parent record with the gateway
// subscription carrying the hosted authentication link.
type CreateSubscriptionResult struct {
	Donation     *domain.Donation
	Subscription *razorpayclient.Subscription
}

// CreateSubscription creates a Razorpay subscription on the plan matching the
// requested monthly amount and persists the parent record.
func (s *DonationService) CreateSubscription(ctx context.Context, req *domain.CreateSubscriptionRequest, ipAddress, userAgent string) (*CreateSubscriptionResult, error) {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}
	planID, ok := s.planIDs[req.Amount]
	if !ok || planID == "" {
		return nil, ErrUnknownPlan
	}

	id := uuid.New()
	notes := map[string]string{
		"donation_id": id.String(),
		"donor_name":  req.DonorName,
	}
	sub, err := s.gateway.CreateSubscription(ctx, planID, notes)
	if err != nil {
		return nil, fmt.Errorf("create gateway subscription: %w", err)
	}

	subStatus := domain.SubscriptionCreated
	d := &domain.Donation{
		ID:                  id,
		DonorName:           strings.TrimSpace(req.DonorName),
		DonorEmail:          strings.TrimSpace(req.DonorEmail),
		DonorPhone:          strings.TrimSpace(req.DonorPhone),
		Address:             req.Address,
		Pincode:             req.Pincode,
		PANNumber:           normalizePAN(req.PANNumber),
		DateOfBirth:         parseDate(req.DateOfBirth),
		Amount:              req.Amount,
		DonationType:        domain.DonationMonthly,
		Occasion:            occasionOrDefault(req.Occasion),
		SevaDate:            parseDate(req.SevaDate),
		Wants80GCertificate: req.Wants80GCertificate,
		WantsMahaPrasadam:   req.WantsMahaPrasadam,
		WantsUpdates:        wantsUpdates(req.WantsUpdates),
		SubscriptionID:      &sub.ID,
		PaymentStatus:       domain.PaymentCreated,
		SubscriptionStatus:  &subStatus,
		SubscriptionPlanID:  &planID,
		TotalCycleCount:     sub.TotalCount,
		IPAddress:           optional(ipAddress),
		UserAgent:           optional(userAgent),
	}
	if err := s.repo.CreateDonation(ctx, d); err != nil {
		return nil, fmt.Errorf("persist subscription record: %w", err)
	}

	log.Printf("level=info component=donation_service op=create_subscription donation_id=%s subscription_id=%s plan_id=%s amount=%d", d.ID, sub.ID, planID, d.Amount)
	return &CreateSubscriptionResult{Donation: d, Subscription: sub}, nil
}

// SubscriptionView pairs the local parent record with a live gateway snapshot.
// The snapshot is best effort and nil when the gateway is unreachable.
type SubscriptionView struct {
	Donation *domain.Donation
	Gateway  *razorpayclient.Subscription
}

// GetSubscription returns the local parent record and, when reachable, the
// gateway's live view of the subscription.
func (s *DonationService) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionView, error) {
	parent, err := s.repo.FindParentBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.gateway.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		log.Printf("level=warn component=donation_service op=get_subscription msg=\"gateway snapshot unavailable\" subscription_id=%s err=%v", subscriptionID, err)
		snapshot = nil
	}
	return &SubscriptionView{Donation: parent, Gateway: snapshot}, nil
}

// CancelSubscription cancels the subscription at the gateway and converges
// the local parent record.
func (s *DonationService) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtCycleEnd bool) (*domain.Donation, error) {
	if err := s.checkNotTerminal(ctx, subscriptionID); err != nil {
		return nil, err
	}
	if _, err := s.gateway.CancelSubscription(ctx, subscriptionID, cancelAtCycleEnd); err != nil {
		return nil, fmt.Errorf("cancel gateway subscription: %w", err)
	}

	now := time.Now().UTC()
	d, err := s.repo.ApplySubscriptionTransition(ctx, store.SubscriptionTransition{
		SubscriptionID: subscriptionID,
		NewStatus:      domain.SubscriptionCancelled,
		EndDate:        &now,
	})
	if err != nil {
		return nil, fmt.Errorf("record subscription cancel: %w", err)
	}
	log.Printf("level=info component=donation_service op=cancel_subscription subscription_id=%s at_cycle_end=%t", subscriptionID, cancelAtCycleEnd)
	s.notifier.Notify(RoutingKeySubscriptionStatus, d)
	return d, nil
}

// PauseSubscription pauses charging at the gateway and converges the local
// parent record.
func (s *DonationService) PauseSubscription(ctx context.Context, subscriptionID string) (*domain.Donation, error) {
	if err := s.checkNotTerminal(ctx, subscriptionID); err != nil {
		return nil, err
	}
	if _, err := s.gateway.PauseSubscription(ctx, subscriptionID); err != nil {
		return nil, fmt.Errorf("pause gateway subscription: %w", err)
	}

	d, err := s.repo.ApplySubscriptionTransition(ctx, store.SubscriptionTransition{
		SubscriptionID: subscriptionID,
		NewStatus:      domain.SubscriptionPaused,
	})
	if err != nil {
		return nil, fmt.Errorf("record subscription pause: %w", err)
	}
	log.Printf("level=info component=donation_service op=pause_subscription subscription_id=%s", subscriptionID)
	s.notifier.Notify(RoutingKeySubscriptionStatus, d)
	return d, nil
}

// ResumeSubscription resumes charging at the gateway and converges the local
// parent record.
func (s *DonationService) ResumeSubscription(ctx context.Context, subscriptionID string) (*domain.Donation, error) {
	if err := s.checkNotTerminal(ctx, subscriptionID); err != nil {
		return nil, err
	}
	if _, err := s.gateway.ResumeSubscription(ctx, subscriptionID); err != nil {
		return nil, fmt.Errorf("resume gateway subscription: %w", err)
	}

	d, err := s.repo.ApplySubscriptionTransition(ctx, store.SubscriptionTransition{
		SubscriptionID: subscriptionID,
		NewStatus:      domain.SubscriptionActive,
	})
	if err != nil {
		return nil, fmt.Errorf("record subscription resume: %w", err)
	}
	log.Printf("level=info component=donation_service op=resume_subscription subscription_id=%s", subscriptionID)
	s.notifier.Notify(RoutingKeySubscriptionStatus, d)
	return d, nil
}

// checkNotTerminal rejects management calls against cancelled or completed
// subscriptions before any gateway call is made.
func (s *DonationService) checkNotTerminal(ctx context.Context, subscriptionID string) error {
	parent, err := s.repo.FindParentBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if parent.SubscriptionStatus != nil && parent.SubscriptionStatus.IsTerminal() {
		return store.ErrSubscriptionTerminal
	}
	return nil
}

func occasionOrDefault(v string) domain.Occasion {
	if v == "" {
		return domain.OccasionGeneral
	}
	return domain.Occasion(v)
}

func wantsUpdates(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

func normalizePAN(v *string) *string {
	if v == nil {
		return nil
	}
	pan := strings.ToUpper(strings.TrimSpace(*v))
	if pan == "" {
		return nil
	}
	return &pan
}

// parseDate accepts the donation page's date strings, either bare dates or
// full RFC 3339 timestamps.
func parseDate(v *string) *time.Time {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	raw := strings.TrimSpace(*v)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

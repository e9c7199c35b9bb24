package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sevatrust/donation-service/internal/app"
	"github.com/sevatrust/donation-service/internal/domain"
	"github.com/sevatrust/donation-service/internal/store"
	"github.com/sevatrust/donation-service/pkg/razorpayclient"
)

type routerRepoStub struct {
	store.Repository
}

func (s *routerRepoStub) GetDonationStats(ctx context.Context) (*domain.DonationStats, error) {
	return &domain.DonationStats{TotalDonations: 3, TotalAmount: 1500, TotalMeals: 60, AvgDonation: 500}, nil
}

func newTestRouter() http.Handler {
	repo := &routerRepoStub{}
	gateway := razorpayclient.NewClient("http://127.0.0.1:0", "rzp_test_key", "secret")
	notifier := app.NewNotifier(nil)
	svc := app.NewDonationService(repo, gateway, notifier, "secret", nil)
	h := NewDonationHandlers(svc, "rzp_test_key")
	wh := NewWebhookHandler(app.NewReconciler(repo, notifier), app.NewMemoryEventDeduper(), testWebhookSecret)
	return NewRouter(h, wh, nil, "")
}

func TestRouter_StatsSummaryPath(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/donations/stats/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/donations/stats/summary: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRouter_WebhookPath(t *testing.T) {
	router := newTestRouter()

	// The registered path reaches the handler, which rejects the missing
	// signature.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook/razorpay", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /api/webhook/razorpay without signature: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("POST /api/webhook: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

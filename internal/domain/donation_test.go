package domain

import "testing"

func TestMealsServed(t *testing.T) {
	cases := []struct {
		amount int64
		want   int64
	}{
		{24, 0},
		{25, 1},
		{49, 1},
		{50, 2},
		{500, 20},
		{1000, 40},
	}
	for _, c := range cases {
		d := Donation{Amount: c.amount}
		if got := d.MealsServed(); got != c.want {
			t.Errorf("MealsServed(%d) = %d, want %d", c.amount, got, c.want)
		}
	}
}

func TestSubscriptionStatusIsTerminal(t *testing.T) {
	terminal := []SubscriptionStatus{SubscriptionCancelled, SubscriptionCompleted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	live := []SubscriptionStatus{
		SubscriptionCreated, SubscriptionAuthenticated, SubscriptionActive,
		SubscriptionPaused, SubscriptionHalted, SubscriptionExpired,
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestIsSubscriptionParent(t *testing.T) {
	subID := "sub_1"

	parent := Donation{SubscriptionID: &subID}
	if !parent.IsSubscriptionParent() {
		t.Error("record with subscription id must be a parent")
	}

	cycle := Donation{ParentSubscriptionID: &subID}
	if cycle.IsSubscriptionParent() {
		t.Error("charge-cycle record must not be a parent")
	}

	onetime := Donation{}
	if onetime.IsSubscriptionParent() {
		t.Error("one-time record must not be a parent")
	}
}

func TestPaymentEntitySubscriptionKey(t *testing.T) {
	withNotes := PaymentEntity{
		SubscriptionID: "sub_field",
		Notes:          map[string]string{"subscription_id": "sub_notes"},
	}
	if got := withNotes.SubscriptionKey(); got != "sub_notes" {
		t.Errorf("notes must win, got %q", got)
	}

	withoutNotes := PaymentEntity{SubscriptionID: "sub_field"}
	if got := withoutNotes.SubscriptionKey(); got != "sub_field" {
		t.Errorf("expected field fallback, got %q", got)
	}

	empty := PaymentEntity{Notes: map[string]string{"subscription_id": ""}}
	if got := empty.SubscriptionKey(); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
}

/**
 * @description
 * Request validation for the donation-service's public API. Validation failures
 * are collected into a field-level error list so the donation page can surface
 * every problem at once instead of one at a time.
 */

package domain

import (
	"regexp"
	"strings"
)

var (
	phonePattern   = regexp.MustCompile(`^[0-9]{10}$`)
	panPattern     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	pincodePattern = regexp.MustCompile(`^[0-9]{6}$`)
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func validDonationType(v string) bool {
	switch DonationType(v) {
	case DonationOneTime, DonationMonthly:
		return true
	}
	return false
}

func validOccasion(v string) bool {
	switch Occasion(v) {
	case OccasionGeneral, OccasionBirthday, OccasionAnniversary, OccasionMemory, OccasionOther:
		return true
	}
	return false
}

func validateDonorFields(name, email, phone string, pan, pincode *string) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(name) == "" {
		errs = append(errs, FieldError{Field: "donorName", Message: "Donor name is required"})
	}
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		errs = append(errs, FieldError{Field: "donorEmail", Message: "Valid email is required"})
	}
	if !phonePattern.MatchString(strings.TrimSpace(phone)) {
		errs = append(errs, FieldError{Field: "donorPhone", Message: "Valid 10-digit phone number is required"})
	}
	if pan != nil && strings.TrimSpace(*pan) != "" && !panPattern.MatchString(strings.ToUpper(strings.TrimSpace(*pan))) {
		errs = append(errs, FieldError{Field: "panNumber", Message: "Invalid PAN format"})
	}
	if pincode != nil && strings.TrimSpace(*pincode) != "" && !pincodePattern.MatchString(strings.TrimSpace(*pincode)) {
		errs = append(errs, FieldError{Field: "pincode", Message: "Invalid pincode format"})
	}
	return errs
}

// Validate checks a one-time donation request and returns every field error found.
func (r *CreateOrderRequest) Validate() []FieldError {
	errs := validateDonorFields(r.DonorName, r.DonorEmail, r.DonorPhone, r.PANNumber, r.Pincode)
	if r.Amount < 1 {
		errs = append(errs, FieldError{Field: "amount", Message: "Amount must be at least 1"})
	}
	if r.DonationType != "" && !validDonationType(r.DonationType) {
		errs = append(errs, FieldError{Field: "donationType", Message: "Invalid donation type"})
	}
	if r.Occasion != "" && !validOccasion(r.Occasion) {
		errs = append(errs, FieldError{Field: "occasion", Message: "Invalid occasion"})
	}
	return errs
}

// Validate checks a monthly subscription request and returns every field error found.
func (r *CreateSubscriptionRequest) Validate() []FieldError {
	errs := validateDonorFields(r.DonorName, r.DonorEmail, r.DonorPhone, r.PANNumber, r.Pincode)
	if r.Amount < 1 {
		errs = append(errs, FieldError{Field: "amount", Message: "Amount must be at least 1"})
	}
	if r.Occasion != "" && !validOccasion(r.Occasion) {
		errs = append(errs, FieldError{Field: "occasion", Message: "Invalid occasion"})
	}
	return errs
}

// Validate checks that all three checkout callback fields are present.
func (r *VerifyPaymentRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.RazorpayOrderID) == "" {
		errs = append(errs, FieldError{Field: "razorpay_order_id", Message: "Order id is required"})
	}
	if strings.TrimSpace(r.RazorpayPaymentID) == "" {
		errs = append(errs, FieldError{Field: "razorpay_payment_id", Message: "Payment id is required"})
	}
	if strings.TrimSpace(r.RazorpaySignature) == "" {
		errs = append(errs, FieldError{Field: "razorpay_signature", Message: "Signature is required"})
	}
	return errs
}

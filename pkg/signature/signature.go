/**
 * @description
 * This package validates the HMAC-SHA256 signatures Razorpay attaches to
 * checkout callbacks and webhook deliveries. Both call sites hand us a
 * byte-exact payload and a hex-encoded signature; we recompute and compare
 * in constant time.
 *
 * @notes
 * - A mismatch is a normal outcome, not an error: the functions return a bool.
 *   Enforcing that a signature is present at all is the caller's job.
 * - Checkout callbacks sign `order_id + "|" + payment_id` with the API key
 *   secret; webhooks sign the raw request body with the separate webhook
 *   secret. The two secrets must never be interchanged.
 */

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifyPayment checks the signature returned by Razorpay checkout after a
// client-side payment, computed over "orderID|paymentID" with the API secret.
func VerifyPayment(orderID, paymentID, secret, presented string) bool {
	return verify([]byte(orderID+"|"+paymentID), secret, presented)
}

// VerifyWebhook checks the X-Razorpay-Signature header of a webhook delivery,
// computed over the raw request body with the webhook secret.
func VerifyWebhook(body []byte, secret, presented string) bool {
	return verify(body, secret, presented)
}

func verify(payload []byte, secret, presented string) bool {
	if presented == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	presentedBytes, err := hex.DecodeString(presented)
	if err != nil {
		// Not valid hex; compare against the hex encoding instead so a
		// correctly formatted signature is still the only way to pass.
		return hmac.Equal([]byte(hex.EncodeToString(expected)), []byte(presented))
	}
	return hmac.Equal(expected, presentedBytes)
}

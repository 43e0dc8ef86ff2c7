package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
)

const testWebhookSecret = "whsec_test"

func signStripePayload(t *testing.T, payload []byte, at time.Time) string {
	t.Helper()
	signed := fmt.Sprintf("%d.%s", at.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	if _, err := mac.Write([]byte(signed)); err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestVerifier(t *testing.T) *StripeWebhookVerifier {
	t.Helper()
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret, 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func TestVerifyAndParseSucceededIntent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "payment_intent.succeeded",
		"created": 1748779200,
		"data": {
			"object": {
				"id": "pi_123",
				"object": "payment_intent",
				"metadata": {"order_id": "ord_1"}
			}
		}
	}`)

	verifier := newTestVerifier(t)
	event, err := verifier.VerifyAndParse(payload, signStripePayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if event.EventID != "evt_1" {
		t.Fatalf("event id = %s", event.EventID)
	}
	if event.Type != domain.PaymentEventSucceeded {
		t.Fatalf("type = %s", event.Type)
	}
	if event.OrderRef != "ord_1" {
		t.Fatalf("order ref = %s", event.OrderRef)
	}
	if event.IntentRef != "pi_123" {
		t.Fatalf("intent ref = %s", event.IntentRef)
	}
	if event.Provider != "stripe" {
		t.Fatalf("provider = %s", event.Provider)
	}
	if !event.OccurredAt.Equal(time.Unix(1748779200, 0).UTC()) {
		t.Fatalf("occurredAt = %v", event.OccurredAt)
	}
}

func TestVerifyAndParseRefundedCharge(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"api_version": "2024-04-10",
		"type": "charge.refunded",
		"created": 1748779200,
		"data": {
			"object": {
				"id": "ch_1",
				"object": "charge",
				"payment_intent": "pi_123",
				"metadata": {"order_id": "ord_1"}
			}
		}
	}`)

	verifier := newTestVerifier(t)
	event, err := verifier.VerifyAndParse(payload, signStripePayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if event.Type != domain.PaymentEventRefunded {
		t.Fatalf("type = %s", event.Type)
	}
	if event.IntentRef != "pi_123" {
		t.Fatalf("intent ref = %s", event.IntentRef)
	}
	if event.OrderRef != "ord_1" {
		t.Fatalf("order ref = %s", event.OrderRef)
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_3", "type": "payment_intent.succeeded"}`)

	verifier := newTestVerifier(t)
	_, err := verifier.VerifyAndParse(payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("err = %v, want ErrWebhookSignature", err)
	}
}

func TestVerifyAndParseRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id": "evt_4", "type": "payment_intent.succeeded", "data": {"object": {}}}`)

	verifier := newTestVerifier(t)
	_, err := verifier.VerifyAndParse(payload, signStripePayload(t, payload, time.Now().Add(-time.Hour)))
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("err = %v, want ErrWebhookSignature", err)
	}
}

func TestVerifyAndParseIgnoresUnknownEventType(t *testing.T) {
	payload := []byte(`{
		"id": "evt_5",
		"api_version": "2024-04-10",
		"type": "customer.created",
		"created": 1748779200,
		"data": {"object": {"id": "cus_1"}}
	}`)

	verifier := newTestVerifier(t)
	_, err := verifier.VerifyAndParse(payload, signStripePayload(t, payload, time.Now()))
	if !errors.Is(err, ErrWebhookIgnored) {
		t.Fatalf("err = %v, want ErrWebhookIgnored", err)
	}
}

func TestVerifyAndParseReportsMissingOrderRef(t *testing.T) {
	payload := []byte(`{
		"id": "evt_6",
		"api_version": "2024-04-10",
		"type": "charge.dispute.created",
		"created": 1748779200,
		"data": {
			"object": {
				"id": "du_1",
				"object": "dispute",
				"payment_intent": "pi_123"
			}
		}
	}`)

	verifier := newTestVerifier(t)
	event, err := verifier.VerifyAndParse(payload, signStripePayload(t, payload, time.Now()))
	if !errors.Is(err, ErrWebhookOrderRef) {
		t.Fatalf("err = %v, want ErrWebhookOrderRef", err)
	}
	if event.IntentRef != "pi_123" {
		t.Fatalf("intent ref = %s", event.IntentRef)
	}
}

func TestNewStripeWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookVerifier("  ", time.Minute); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/loopmarket/api/internal/domain"
)

const (
	defaultWebhookTolerance = 5 * time.Minute

	// orderMetadataKey is the metadata key carrying the order reference.
	// Checkout stamps it on the session and payment intent; Stripe copies
	// intent metadata onto the charges it creates.
	orderMetadataKey = "order_id"
)

var (
	// ErrWebhookSignature indicates signature verification failed and the
	// request must be rejected with a 4xx status.
	ErrWebhookSignature = errors.New("payments: webhook signature verification failed")
	// ErrWebhookIgnored indicates the event is authentic but its type carries
	// no order state. Callers acknowledge and drop it.
	ErrWebhookIgnored = errors.New("payments: webhook event type not handled")
	// ErrWebhookOrderRef indicates the event is authentic but no order
	// reference could be extracted from its payload.
	ErrWebhookOrderRef = errors.New("payments: webhook event has no order reference")
)

// stripeEventTypes maps provider event names onto the normalized types
// consumed by the reconciliation engine. Event names absent from this table
// are acknowledged without side effects.
var stripeEventTypes = map[string]domain.PaymentEventType{
	"payment_intent.succeeded":      domain.PaymentEventSucceeded,
	"payment_intent.payment_failed": domain.PaymentEventFailed,
	"payment_intent.canceled":       domain.PaymentEventFailed,
	"charge.refunded":               domain.PaymentEventRefunded,
	"charge.dispute.created":        domain.PaymentEventDisputed,
}

// StripeWebhookVerifier checks Stripe signature headers and normalizes
// verified events into domain payment events.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier for the given endpoint
// secret. A non-positive tolerance falls back to five minutes.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// VerifyAndParse validates the Stripe-Signature header against the raw
// payload and converts the event. ErrWebhookSignature means the delivery must
// be rejected; ErrWebhookIgnored and ErrWebhookOrderRef mean the delivery is
// authentic but cannot drive reconciliation.
func (v *StripeWebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
	if v == nil {
		return domain.PaymentEvent{}, errors.New("payments: webhook verifier is nil")
	}

	event, err := webhook.ConstructEventWithTolerance(payload, signatureHeader, v.secret, v.tolerance)
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	eventType, ok := stripeEventTypes[string(event.Type)]
	if !ok {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %s", ErrWebhookIgnored, event.Type)
	}

	object := map[string]any{}
	if event.Data != nil && event.Data.Object != nil {
		object = event.Data.Object
	}

	normalized := domain.PaymentEvent{
		EventID:    event.ID,
		Type:       eventType,
		Provider:   "stripe",
		OrderRef:   orderRefFrom(object),
		IntentRef:  intentRefFrom(string(event.Type), object),
		Payload:    object,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	if normalized.OrderRef == "" {
		return normalized, fmt.Errorf("%w: %s", ErrWebhookOrderRef, event.ID)
	}
	return normalized, nil
}

func orderRefFrom(object map[string]any) string {
	if ref := metadataOrderRef(object); ref != "" {
		return ref
	}
	// Dispute payloads carry no metadata of their own; check the expanded
	// intent or charge when the delivery includes one.
	for _, key := range []string{"payment_intent", "charge"} {
		if nested, ok := object[key].(map[string]any); ok {
			if ref := metadataOrderRef(nested); ref != "" {
				return ref
			}
		}
	}
	return ""
}

func metadataOrderRef(object map[string]any) string {
	metadata, ok := object["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := metadata[orderMetadataKey].(string)
	return strings.TrimSpace(ref)
}

func intentRefFrom(eventType string, object map[string]any) string {
	if strings.HasPrefix(eventType, "payment_intent.") {
		id, _ := object["id"].(string)
		return id
	}
	switch ref := object["payment_intent"].(type) {
	case string:
		return ref
	case map[string]any:
		id, _ := ref["id"].(string)
		return id
	}
	return ""
}

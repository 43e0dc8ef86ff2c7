package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/payments"
	"github.com/loopmarket/api/internal/services"
)

type stubWebhookVerifier struct {
	fn func(payload []byte, signatureHeader string) (domain.PaymentEvent, error)
}

func (s *stubWebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
	if s.fn != nil {
		return s.fn(payload, signatureHeader)
	}
	return domain.PaymentEvent{}, nil
}

type stubOrderService struct {
	applyFn   func(ctx context.Context, event services.PaymentEvent) (services.Order, error)
	confirmFn func(ctx context.Context, cmd services.ConfirmOrderCommand) (services.Order, error)
	getFn     func(ctx context.Context, query services.GetOrderQuery) (services.Order, error)
	listFn    func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn  func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) ApplyPaymentEvent(ctx context.Context, event services.PaymentEvent) (services.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, event)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ConfirmOrderAndDecreaseStock(ctx context.Context, cmd services.ConfirmOrderCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

func newStripeWebhookRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=abc")
	req.RemoteAddr = "203.0.113.7:44812"
	return req
}

func TestWebhookHandlersAppliesEvent(t *testing.T) {
	parsedEvent := domain.PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
		Provider: "stripe",
	}
	verifier := &stubWebhookVerifier{
		fn: func(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
			if len(payload) == 0 {
				t.Fatalf("expected payload to be forwarded")
			}
			if signatureHeader == "" {
				t.Fatalf("expected signature header to be forwarded")
			}
			return parsedEvent, nil
		},
	}

	var applied services.PaymentEvent
	orders := &stubOrderService{
		applyFn: func(_ context.Context, event services.PaymentEvent) (services.Order, error) {
			applied = event
			return services.Order{ID: "ord_1", Status: domain.OrderStatusPaid}, nil
		},
	}

	handlers := NewWebhookHandlers(verifier, orders)
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if applied.EventID != "evt_1" {
		t.Fatalf("expected event evt_1 to reach the service, got %q", applied.EventID)
	}

	var ack webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !ack.Received || !ack.Applied {
		t.Fatalf("expected received and applied, got %+v", ack)
	}
	if ack.OrderID != "ord_1" || ack.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("unexpected ack payload: %+v", ack)
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	verifier := &stubWebhookVerifier{
		fn: func([]byte, string) (domain.PaymentEvent, error) {
			return domain.PaymentEvent{}, payments.ErrWebhookSignature
		},
	}
	orders := &stubOrderService{
		applyFn: func(context.Context, services.PaymentEvent) (services.Order, error) {
			t.Fatalf("apply should not be called for rejected signatures")
			return services.Order{}, nil
		},
	}

	handlers := NewWebhookHandlers(verifier, orders)
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "signature_invalid" {
		t.Fatalf("expected signature_invalid error code, got %v", body["error"])
	}
}

func TestWebhookHandlersAcknowledgesIgnoredEventTypes(t *testing.T) {
	verifier := &stubWebhookVerifier{
		fn: func([]byte, string) (domain.PaymentEvent, error) {
			return domain.PaymentEvent{EventID: "evt_1"}, payments.ErrWebhookIgnored
		},
	}
	orders := &stubOrderService{
		applyFn: func(context.Context, services.PaymentEvent) (services.Order, error) {
			t.Fatalf("apply should not be called for ignored events")
			return services.Order{}, nil
		},
	}

	handlers := NewWebhookHandlers(verifier, orders)
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var ack webhookAckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !ack.Received || ack.Applied {
		t.Fatalf("expected received without applied, got %+v", ack)
	}
}

func TestWebhookHandlersAcknowledgesUnattributableEvents(t *testing.T) {
	verifier := &stubWebhookVerifier{
		fn: func([]byte, string) (domain.PaymentEvent, error) {
			return domain.PaymentEvent{EventID: "evt_1", IntentRef: "pi_123"}, payments.ErrWebhookOrderRef
		},
	}

	handlers := NewWebhookHandlers(verifier, &stubOrderService{})
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestWebhookHandlersAcknowledgesReconciliationOutcomes(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "unknown order", err: services.ErrOrderNotFound},
		{name: "stale transition", err: services.ErrOrderInvalidTransition},
		{name: "invalid event", err: services.ErrOrderInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubWebhookVerifier{
				fn: func([]byte, string) (domain.PaymentEvent, error) {
					return domain.PaymentEvent{EventID: "evt_1", OrderRef: "ord_missing"}, nil
				},
			}
			orders := &stubOrderService{
				applyFn: func(context.Context, services.PaymentEvent) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}

			handlers := NewWebhookHandlers(verifier, orders)
			rr := httptest.NewRecorder()

			handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			var ack webhookAckResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if !ack.Received || ack.Applied {
				t.Fatalf("expected received without applied, got %+v", ack)
			}
		})
	}
}

func TestWebhookHandlersReturnsServerErrorOnPersistenceFailure(t *testing.T) {
	verifier := &stubWebhookVerifier{
		fn: func([]byte, string) (domain.PaymentEvent, error) {
			return domain.PaymentEvent{EventID: "evt_1", OrderRef: "ord_1"}, nil
		},
	}
	orders := &stubOrderService{
		applyFn: func(context.Context, services.PaymentEvent) (services.Order, error) {
			return services.Order{}, context.DeadlineExceeded
		},
	}

	var logged []string
	handlers := NewWebhookHandlers(verifier, orders, WithWebhookLogger(func(_ context.Context, event string, _ map[string]any) {
		logged = append(logged, event)
	}))
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if len(logged) != 1 || logged[0] != "webhook.apply_failed" {
		t.Fatalf("expected webhook.apply_failed log event, got %v", logged)
	}
}

func TestWebhookHandlersRejectsEmptyBody(t *testing.T) {
	handlers := NewWebhookHandlers(&stubWebhookVerifier{}, &stubOrderService{})
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersRejectsOversizedBody(t *testing.T) {
	handlers := NewWebhookHandlers(&stubWebhookVerifier{}, &stubOrderService{})
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(strings.Repeat("x", maxWebhookBodySize+1)))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestWebhookHandlersRateLimitsPerRemoteAddr(t *testing.T) {
	verifier := &stubWebhookVerifier{
		fn: func([]byte, string) (domain.PaymentEvent, error) {
			return domain.PaymentEvent{EventID: "evt_1", OrderRef: "ord_1"}, nil
		},
	}
	orders := &stubOrderService{
		applyFn: func(context.Context, services.PaymentEvent) (services.Order, error) {
			return services.Order{ID: "ord_1", Status: domain.OrderStatusPaid}, nil
		},
	}

	handlers := NewWebhookHandlers(verifier, orders, WithWebhookRateLimit(1, time.Minute))

	first := httptest.NewRecorder()
	handlers.handleStripe(first, newStripeWebhookRequest(`{"id":"evt_1"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first delivery to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handlers.handleStripe(second, newStripeWebhookRequest(`{"id":"evt_1"}`))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second delivery to be rate limited, got %d", second.Code)
	}
}

func TestWebhookHandlersUnavailableWithoutDependencies(t *testing.T) {
	handlers := NewWebhookHandlers(nil, nil)
	rr := httptest.NewRecorder()

	handlers.handleStripe(rr, newStripeWebhookRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

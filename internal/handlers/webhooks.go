package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/payments"
	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// paymentWebhookVerifier checks the provider signature and normalizes the
// delivery into a domain payment event.
type paymentWebhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (domain.PaymentEvent, error)
}

// WebhookHandlers receives payment provider deliveries and feeds them into the
// reconciliation engine.
type WebhookHandlers struct {
	verifier paymentWebhookVerifier
	orders   services.OrderService
	limiter  rateLimiter
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimit bounds deliveries per remote address per window.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// WithWebhookLogger wires a structured logging callback.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers constructs webhook handlers over the verifier and engine.
func NewWebhookHandlers(verifier paymentWebhookVerifier, orders services.OrderService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		verifier: verifier,
		orders:   orders,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	OrderID  string `json:"order_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

// handleStripe verifies, parses, and applies one provider delivery. Only
// signature or envelope failures answer 4xx; semantic reconciliation outcomes
// (unknown order, stale transition, replay) are acknowledged with 2xx because
// redelivery can never change them.
func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(remoteAddrKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is required", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.VerifyAndParse(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookSignature):
			h.logger(ctx, "webhook.signature_rejected", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusUnauthorized))
		case errors.Is(err, payments.ErrWebhookIgnored):
			h.logger(ctx, "webhook.ignored", map[string]any{"eventId": event.EventID, "error": err.Error()})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		case errors.Is(err, payments.ErrWebhookOrderRef):
			h.logger(ctx, "webhook.unattributable", map[string]any{"eventId": event.EventID, "intentRef": event.IntentRef})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook payload", http.StatusBadRequest))
		}
		return
	}

	order, err := h.orders.ApplyPaymentEvent(ctx, event)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			h.logger(ctx, "webhook.order_not_found", map[string]any{
				"eventId":  event.EventID,
				"orderRef": event.OrderRef,
				"type":     string(event.Type),
			})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		case errors.Is(err, services.ErrOrderInvalidTransition):
			h.logger(ctx, "webhook.invalid_transition", map[string]any{
				"eventId":  event.EventID,
				"orderRef": event.OrderRef,
				"type":     string(event.Type),
			})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		case errors.Is(err, services.ErrOrderInvalidInput):
			h.logger(ctx, "webhook.invalid_event", map[string]any{"eventId": event.EventID, "error": err.Error()})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		default:
			// Persistence failures are retryable; a non-2xx makes the
			// provider redeliver into the idempotent apply path.
			h.logger(ctx, "webhook.apply_failed", map[string]any{
				"eventId":  event.EventID,
				"orderRef": event.OrderRef,
				"error":    err.Error(),
			})
			httpx.WriteError(ctx, w, httpx.NewError("webhook_apply_failed", "failed to apply payment event", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received: true,
		Applied:  true,
		OrderID:  order.ID,
		Status:   string(order.Status),
	})
}

func remoteAddrKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, found := strings.Cut(addr, ":"); found && host != "" {
		return host
	}
	return addr
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loopmarket/api/internal/platform/auth"
	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// CheckoutHandlers exposes the checkout session endpoint.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/session", h.createSession)
}

type checkoutItemRequest struct {
	ProductRef string `json:"product_ref"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

type createSessionRequest struct {
	ShopID          string                `json:"shop_id"`
	Currency        string                `json:"currency"`
	Items           []checkoutItemRequest `json:"items"`
	ShippingAddress *addressPayload       `json:"shipping_address"`
	PSP             string                `json:"psp"`
	SuccessURL      string                `json:"success_url"`
	CancelURL       string                `json:"cancel_url"`
	Metadata        map[string]string     `json:"metadata"`
}

type checkoutSessionPayload struct {
	SessionID    string `json:"session_id"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type createSessionResponse struct {
	Order   orderPayload           `json:"order"`
	Session checkoutSessionPayload `json:"session"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var req createSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}

	result, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		UserID:          strings.TrimSpace(identity.UID),
		ShopID:          strings.TrimSpace(req.ShopID),
		Currency:        strings.TrimSpace(req.Currency),
		Items:           items,
		ShippingAddress: parseAddressPayload(req.ShippingAddress),
		PSP:             strings.TrimSpace(req.PSP),
		SuccessURL:      strings.TrimSpace(req.SuccessURL),
		CancelURL:       strings.TrimSpace(req.CancelURL),
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createSessionResponse{
		Order: buildOrderPayload(result.Order),
		Session: checkoutSessionPayload{
			SessionID:    result.SessionID,
			Provider:     result.Provider,
			ClientSecret: result.ClientSecret,
			RedirectURL:  result.RedirectURL,
			ExpiresAt:    formatTime(result.ExpiresAt),
		},
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment provider rejected the checkout session", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create checkout session", http.StatusInternalServerError))
	}
}

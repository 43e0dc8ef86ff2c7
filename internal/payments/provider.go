// Package payments abstracts the payment service providers behind a
// single Manager so checkout and reconciliation code never talks to a
// PSP SDK directly.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the normalised payment state reported back to reconciliation.
type Status string

const (
	// StatusPending means the shopper has not completed payment yet.
	StatusPending Status = "pending"
	// StatusSucceeded means the PSP confirmed capture of the funds.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the PSP gave up on the payment.
	StatusFailed Status = "failed"
	// StatusRefunded means the captured amount was fully returned.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider matches
// the payment context.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem is one order line carried into the hosted checkout page.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest is everything a provider needs to open a
// hosted checkout session for an order.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is the provider session handed back to the client app.
type CheckoutSession struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// RefundRequest asks the provider to return funds for a payment intent.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest identifies the payment intent to fetch.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails is the provider-neutral view of a payment used when
// reconciling order state.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider is implemented by each PSP adapter.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// PaymentContext carries the hints used to pick a provider for a call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

// Manager routes each payment operation to a registered provider and
// stamps the chosen provider key on the result.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption adjusts Manager construction.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when the context names none.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager registers the given providers. Keys are normalised to lower
// case; when a "stripe" provider is present it becomes the default unless
// overridden.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for name, p := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		registered[key] = p
	}

	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// resolveProvider picks the preferred provider when registered, then the
// default, then the sole registration when only one provider exists.
func (m *Manager) resolveProvider(pctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	if key := strings.ToLower(strings.TrimSpace(pctx.PreferredProvider)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if key := strings.ToLower(strings.TrimSpace(m.defaultProvider)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession opens a session on the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, pctx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// Refund delegates the refund to the resolved provider.
func (m *Manager) Refund(ctx context.Context, pctx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// LookupPayment fetches payment details from the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, pctx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}

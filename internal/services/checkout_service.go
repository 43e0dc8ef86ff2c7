package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/payments"
	"github.com/loopmarket/api/internal/repositories"
)

const (
	orderIDPrefix       = "ord_"
	orderNumberCounter  = "orders"
	orderNumberTemplate = "LM-%s-%06d"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutSessionManager abstracts payments.Manager for easier testing.
type CheckoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Payments    CheckoutSessionManager
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	payments CheckoutSessionManager
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:   deps.Orders,
		counters: deps.Counters,
		payments: deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a pending order and its PSP checkout session.
// The order document exists before the customer can pay, so the webhook always
// finds something to reconcile against. Stock is untouched until payment
// succeeds.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = "JPY"
	}

	items, err := buildOrderLineItems(cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}

	now := s.clock()
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		ShopID:          strings.TrimSpace(cmd.ShopID),
		Status:          domain.OrderStatusPending,
		Currency:        currency,
		Items:           items,
		Totals:          buildOrderTotals(items),
		ShippingAddress: cmd.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	number, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		s.logger(ctx, "checkout.order_number_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}
	order.OrderNumber = fmt.Sprintf(orderNumberTemplate, now.Format("20060102"), number)

	session, err := s.createPSPSession(ctx, cmd, order, successURL, cancelURL)
	if err != nil {
		return CheckoutResult{}, err
	}

	if session.IntentID != "" {
		intent := session.IntentID
		order.PaymentIntentRef = &intent
	}
	order.PaymentMethod = session.Provider
	order.Metadata = map[string]any{
		"checkout": map[string]any{
			"sessionId": session.ID,
			"provider":  session.Provider,
			"expiresAt": session.ExpiresAt.UTC(),
		},
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"orderId":   order.ID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
		return CheckoutResult{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "checkout.session_created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"sessionId":   session.ID,
		"provider":    session.Provider,
		"amount":      order.Totals.Total,
		"currency":    order.Currency,
	})

	return CheckoutResult{
		Order:        order,
		SessionID:    session.ID,
		Provider:     session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}, nil
}

func (s *checkoutService) createPSPSession(ctx context.Context, cmd CreateCheckoutSessionCommand, order domain.Order, successURL, cancelURL string) (payments.CheckoutSession, error) {
	metadata := map[string]string{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		if _, reserved := metadata[k]; reserved {
			continue
		}
		metadata[k] = v
	}

	lineItems := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.PSP),
		Currency:          order.Currency,
		Metadata:          metadata,
	}, payments.CheckoutSessionRequest{
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       metadata,
		IdempotencyKey: checkoutIdempotencyKey(order),
		Items:          lineItems,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.CheckoutSession{}, fmt.Errorf("%w: unsupported payment provider", ErrCheckoutInvalidInput)
		}
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderId":  order.ID,
			"userId":   order.UserID,
			"provider": cmd.PSP,
			"error":    err.Error(),
		})
		return payments.CheckoutSession{}, ErrCheckoutPaymentFailed
	}
	return session, nil
}

func buildOrderLineItems(items []CheckoutItem) ([]domain.OrderLineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	lines := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: sku is required", ErrCheckoutInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrCheckoutInvalidInput, sku)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price for %s cannot be negative", ErrCheckoutInvalidInput, sku)
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = sku
		}
		lines = append(lines, domain.OrderLineItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        sku,
			Name:       name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.UnitPrice * int64(item.Quantity),
		})
	}
	return lines, nil
}

func buildOrderTotals(items []domain.OrderLineItem) domain.OrderTotals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Total
	}
	return domain.OrderTotals{
		Subtotal: subtotal,
		Total:    subtotal,
	}
}

func checkoutIdempotencyKey(order domain.Order) string {
	var b strings.Builder
	b.WriteString(order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "|%s:%d:%d", item.SKU, item.Quantity, item.UnitPrice)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return err
}

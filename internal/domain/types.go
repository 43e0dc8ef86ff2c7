package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery bounds list queries by an inclusive From / exclusive To pair.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded and stock has been committed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled indicates the order has been handed to fulfilment.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusCancelled indicates the order was cancelled or the payment was reversed.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFailed indicates payment failed before capture.
	OrderStatusFailed OrderStatus = "failed"
)

// IsTerminal reports whether no further transition is defined from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Order captures order headers shared across handlers, services, and repositories.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	ShopID           string
	Status           OrderStatus
	Currency         string
	Totals           OrderTotals
	Items            []OrderLineItem
	PaymentMethod    string
	PaymentIntentRef *string
	ShippingAddress  *Address
	StockDecremented bool
	// StockDebits records the units actually removed per SKU when payment
	// decremented stock. A clamped decrement stores less than the ordered
	// quantity; dispute and refund restores put back exactly these amounts.
	StockDebits  map[string]int
	Warnings     []string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
	FulfilledAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderLineItem mirrors cart lines at the time of checkout.
type OrderLineItem struct {
	ProductRef string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  int64
	Total      int64
}

// PaymentEventType enumerates the normalized payment-provider event types the
// reconciliation engine understands.
type PaymentEventType string

const (
	// PaymentEventSucceeded reports a captured payment for an order.
	PaymentEventSucceeded PaymentEventType = "payment_succeeded"
	// PaymentEventFailed reports a payment that can no longer complete.
	PaymentEventFailed PaymentEventType = "payment_failed"
	// PaymentEventDisputed reports a chargeback opened against a payment.
	PaymentEventDisputed PaymentEventType = "payment_disputed"
	// PaymentEventRefunded reports a full refund of a captured payment.
	PaymentEventRefunded PaymentEventType = "payment_refunded"
	// PaymentEventUserCancel is synthesized when the customer cancels a pending order.
	PaymentEventUserCancel PaymentEventType = "user_cancel"
	// PaymentEventFulfillmentConfirmed is synthesized when fulfilment confirms hand-off.
	PaymentEventFulfillmentConfirmed PaymentEventType = "fulfillment_confirmed"
)

// PaymentEvent is the already-verified, already-deserialized event handed to
// the reconciliation engine. EventID is the provider-assigned idempotency key.
type PaymentEvent struct {
	EventID    string
	Type       PaymentEventType
	OrderRef   string
	Provider   string
	IntentRef  string
	Payload    map[string]any
	OccurredAt time.Time
}

// ProcessedPaymentEvent is one row of the append-only dedup ledger. Existence
// of a row for an event ID means the event has been applied; rows are never
// mutated or deleted.
type ProcessedPaymentEvent struct {
	EventID    string
	OrderRef   string
	Type       PaymentEventType
	ReceivedAt time.Time
}

// InventoryStock represents current stock metrics tracked per SKU.
type InventoryStock struct {
	SKU        string
	ProductRef string
	Available  int
	UpdatedAt  time.Time
}

// StockAdjustment records the applied delta for a single SKU, including the
// quantity that could not be applied when a decrement clamped at zero.
type StockAdjustment struct {
	SKU       string
	Requested int
	Applied   int
	NewQty    int
	Clamped   bool
}

// RewardEntry is one row of the append-only points ledger credited to a user.
type RewardEntry struct {
	ID        string
	UserID    string
	SourceRef string
	Kind      string
	Points    int64
	CreatedAt time.Time
}

// Product represents public-facing product information referenced by orders.
type Product struct {
	ID       string
	ShopID   string
	SKU      string
	Name     string
	Price    int64
	Currency string
	IsPublic bool
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	PostalCode string
	Country    string
	Phone      *string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

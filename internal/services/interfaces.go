package services

import (
	"context"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/platform/jobs"
	"github.com/loopmarket/api/internal/platform/storage"
	"github.com/loopmarket/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination            = domain.Pagination
	Order                 = domain.Order
	OrderStatus           = domain.OrderStatus
	OrderTotals           = domain.OrderTotals
	OrderLineItem         = domain.OrderLineItem
	PaymentEvent          = domain.PaymentEvent
	PaymentEventType      = domain.PaymentEventType
	ProcessedPaymentEvent = domain.ProcessedPaymentEvent
	InventoryStock        = domain.InventoryStock
	StockAdjustment       = domain.StockAdjustment
	RecyclableItem        = domain.RecyclableItem
	AnalyzedItem          = domain.AnalyzedItem
	ImpactReport          = domain.ImpactReport
	RecyclingSubmission   = domain.RecyclingSubmission
	SubmissionStatus      = domain.SubmissionStatus
	RewardEntry           = domain.RewardEntry
	Address               = domain.Address
	SystemHealthReport    = domain.SystemHealthReport

	OrderListFilter = repositories.OrderListFilter
)

// ImpactEstimator turns recyclable item lists into impact reports. All methods
// are pure over an atomically swapped coefficient snapshot and safe for
// concurrent use.
type ImpactEstimator interface {
	Normalize(rawLabel string) (string, bool)
	Aggregate(items []RecyclableItem) []AnalyzedItem
	ComputeReport(items []RecyclableItem) (ImpactReport, error)
}

// OrderService reconciles payment provider events against order state and
// serves order reads for user-facing surfaces.
type OrderService interface {
	ApplyPaymentEvent(ctx context.Context, event PaymentEvent) (Order, error)
	ConfirmOrderAndDecreaseStock(ctx context.Context, cmd ConfirmOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CheckoutService creates pending orders and their PSP checkout sessions.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutResult, error)
}

// InventoryService adjusts and reads per-SKU stock.
type InventoryService interface {
	DecrementStock(ctx context.Context, cmd StockDecrementCommand) (StockAdjustmentOutcome, error)
	RestoreStock(ctx context.Context, cmd StockRestoreCommand) (StockAdjustmentOutcome, error)
	GetStock(ctx context.Context, sku string) (InventoryStock, error)
	ListLowStock(ctx context.Context, filter InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error)
}

// RecyclingService analyzes recyclable inputs, records confirmed submissions,
// and issues photo upload URLs.
type RecyclingService interface {
	Analyze(ctx context.Context, cmd AnalyzeCommand) (ImpactReport, error)
	Submit(ctx context.Context, cmd SubmitRecyclingCommand) (RecyclingSubmission, error)
	GetSubmission(ctx context.Context, query GetSubmissionQuery) (RecyclingSubmission, error)
	ListSubmissions(ctx context.Context, query ListSubmissionsQuery) (domain.CursorPage[RecyclingSubmission], error)
	IssueUploadURL(ctx context.Context, cmd PhotoUploadCommand) (storage.UploadTicket, error)
}

// RewardService owns the append-only points ledger.
type RewardService interface {
	Award(ctx context.Context, cmd AwardPointsCommand) (RewardEntry, error)
	Balance(ctx context.Context, userID string) (int64, error)
	ListEntries(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[RewardEntry], error)
}

// SystemService provides health reports and runtime metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event jobs.EventMessage) (string, error)
}

// RecyclingEventPublisher publishes recycling submission events.
type RecyclingEventPublisher interface {
	PublishRecyclingEvent(ctx context.Context, event jobs.EventMessage) (string, error)
}

// PhotoStorage issues signed URLs for recycling photo objects.
type PhotoStorage interface {
	IssueUploadURL(ctx context.Context, userID, contentType string) (storage.UploadTicket, error)
}

// Commands and queries ------------------------------------------------------

// ConfirmOrderCommand triggers the client-side payment confirmation fallback.
type ConfirmOrderCommand struct {
	OrderID string
	ActorID string
}

// GetOrderQuery loads one order, optionally scoped to its owner.
type GetOrderQuery struct {
	OrderID string
	UserID  string
}

// CancelOrderCommand cancels a pending or paid order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// CreateCheckoutSessionCommand carries the checkout payload for a new order.
type CreateCheckoutSessionCommand struct {
	UserID          string
	ShopID          string
	Currency        string
	Items           []CheckoutItem
	ShippingAddress *Address
	PSP             string
	SuccessURL      string
	CancelURL       string
	Metadata        map[string]string
}

// CheckoutItem is one purchasable line in a checkout request.
type CheckoutItem struct {
	ProductRef string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  int64
}

// CheckoutResult pairs the created pending order with its PSP session.
type CheckoutResult struct {
	Order        Order
	SessionID    string
	Provider     string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// StockLine is one SKU quantity affected by an adjustment.
type StockLine struct {
	SKU      string
	Quantity int
}

// StockDecrementCommand decrements stock for the given lines, clamping at zero.
type StockDecrementCommand struct {
	OrderID string
	Lines   []StockLine
}

// StockRestoreCommand returns previously decremented stock.
type StockRestoreCommand struct {
	OrderID string
	Lines   []StockLine
}

// StockAdjustmentOutcome reports applied deltas and any oversell warnings.
type StockAdjustmentOutcome struct {
	Adjustments []StockAdjustment
	Warnings    []string
}

// InventoryLowStockFilter selects SKUs at or below the threshold.
type InventoryLowStockFilter struct {
	Threshold  int
	Pagination Pagination
}

// AnalyzeCommand estimates impact for a photo, manual entries, or both.
type AnalyzeCommand struct {
	UserID    string
	PhotoPath string
	Items     []RecyclableItem
}

// SubmitRecyclingCommand confirms a drop-off and awards points.
type SubmitRecyclingCommand struct {
	UserID    string
	Items     []RecyclableItem
	PhotoPath string
}

// GetSubmissionQuery loads one submission, optionally scoped to its owner.
type GetSubmissionQuery struct {
	SubmissionID string
	UserID       string
}

// ListSubmissionsQuery pages a user's submissions.
type ListSubmissionsQuery struct {
	UserID     string
	Status     []SubmissionStatus
	Pagination Pagination
}

// PhotoUploadCommand requests a signed upload URL for a recycling photo.
type PhotoUploadCommand struct {
	UserID      string
	ContentType string
}

// AwardPointsCommand appends one entry to a user's points ledger.
type AwardPointsCommand struct {
	UserID    string
	SourceRef string
	Kind      string
	Points    int64
}

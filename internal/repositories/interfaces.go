package repositories

import (
	"context"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PaymentEvents() PaymentEventRepository
	Inventory() InventoryRepository
	Submissions() SubmissionRepository
	Rewards() RewardRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus applies a status transition only when the stored status
	// still equals expected. A stale expectation surfaces as a conflict
	// RepositoryError so callers can re-read and decide.
	UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)
}

// OrderStatusUpdate carries the fields mutated alongside a status transition.
type OrderStatusUpdate struct {
	Status           domain.OrderStatus
	UpdatedAt        time.Time
	PaidAt           *time.Time
	FulfilledAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     *string
	StockDecremented *bool
	// StockDebits replaces the order's recorded per-SKU decrements;
	// ClearStockDebits removes them after a restore.
	StockDebits      map[string]int
	ClearStockDebits bool
	AppendWarnings   []string
}

// PaymentEventRepository owns the append-only ledger of processed payment events.
// Rows are create-only; Create must surface a conflict RepositoryError when the
// event ID already exists so callers get idempotency from the uniqueness of the
// document ID.
type PaymentEventRepository interface {
	Create(ctx context.Context, event domain.ProcessedPaymentEvent) error
	Exists(ctx context.Context, eventID string) (bool, error)
	FindByID(ctx context.Context, eventID string) (domain.ProcessedPaymentEvent, error)
}

// InventoryRepository manages per-SKU stock documents with transactional adjustments.
type InventoryRepository interface {
	GetStock(ctx context.Context, sku string) (domain.InventoryStock, error)
	UpsertStock(ctx context.Context, stock domain.InventoryStock) error
	// AdjustStock applies all deltas atomically. Negative deltas clamp at
	// zero when ClampAtZero is set; otherwise shortage is an error.
	AdjustStock(ctx context.Context, req StockAdjustmentRequest) (StockAdjustmentResult, error)
	ListLowStock(ctx context.Context, query LowStockQuery) (domain.CursorPage[domain.InventoryStock], error)
}

// StockDelta is a requested quantity change for one SKU. Negative quantities
// decrement, positive quantities restore.
type StockDelta struct {
	SKU      string
	Quantity int
}

// StockAdjustmentRequest bundles the deltas applied in one transaction.
type StockAdjustmentRequest struct {
	Deltas      []StockDelta
	ClampAtZero bool
	Now         time.Time
}

// StockAdjustmentResult reports the applied quantities per SKU.
type StockAdjustmentResult struct {
	Adjustments []domain.StockAdjustment
}

// LowStockQuery controls pagination and threshold filtering for low stock listings.
type LowStockQuery struct {
	Threshold  int
	Pagination domain.Pagination
}

// SubmissionRepository stores recycling submissions with their report snapshots.
type SubmissionRepository interface {
	Insert(ctx context.Context, submission domain.RecyclingSubmission) error
	FindByID(ctx context.Context, submissionID string) (domain.RecyclingSubmission, error)
	ListByUser(ctx context.Context, userID string, filter SubmissionListFilter) (domain.CursorPage[domain.RecyclingSubmission], error)
	UpdateStatus(ctx context.Context, submissionID string, status domain.SubmissionStatus, updatedAt time.Time) (domain.RecyclingSubmission, error)
}

// RewardRepository owns the append-only points ledger.
type RewardRepository interface {
	Append(ctx context.Context, entry domain.RewardEntry) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.RewardEntry], error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type SubmissionListFilter struct {
	Status     []domain.SubmissionStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

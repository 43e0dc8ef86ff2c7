package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the caller supplied invalid adjustment data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryStockNotFound indicates no stock record exists for the SKU.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryUnavailable indicates the stock store cannot be reached.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// DecrementStock subtracts the purchased quantities. A shortage clamps the SKU
// at zero and yields a warning instead of failing the adjustment; payment has
// already been captured by the time this runs. Joins an ambient transaction
// when invoked inside one.
func (s *inventoryService) DecrementStock(ctx context.Context, cmd StockDecrementCommand) (StockAdjustmentOutcome, error) {
	deltas, err := buildDeltas(cmd.Lines, -1)
	if err != nil {
		return StockAdjustmentOutcome{}, err
	}

	result, err := s.inventory.AdjustStock(ctx, repositories.StockAdjustmentRequest{
		Deltas:      deltas,
		ClampAtZero: true,
		Now:         s.clock(),
	})
	if err != nil {
		return StockAdjustmentOutcome{}, s.mapInventoryError(err)
	}

	outcome := StockAdjustmentOutcome{Adjustments: result.Adjustments}
	for _, adj := range result.Adjustments {
		if !adj.Clamped {
			continue
		}
		warning := fmt.Sprintf("stock for %s clamped at zero: requested %d, decremented %d", adj.SKU, -adj.Requested, -adj.Applied)
		outcome.Warnings = append(outcome.Warnings, warning)
		s.logger(ctx, "inventory.decrement.clamped", map[string]any{
			"orderId":   cmd.OrderID,
			"sku":       adj.SKU,
			"requested": -adj.Requested,
			"applied":   -adj.Applied,
		})
	}
	return outcome, nil
}

// RestoreStock returns previously decremented quantities, recreating stock
// records that were never seeded.
func (s *inventoryService) RestoreStock(ctx context.Context, cmd StockRestoreCommand) (StockAdjustmentOutcome, error) {
	deltas, err := buildDeltas(cmd.Lines, 1)
	if err != nil {
		return StockAdjustmentOutcome{}, err
	}

	result, err := s.inventory.AdjustStock(ctx, repositories.StockAdjustmentRequest{
		Deltas: deltas,
		Now:    s.clock(),
	})
	if err != nil {
		return StockAdjustmentOutcome{}, s.mapInventoryError(err)
	}
	return StockAdjustmentOutcome{Adjustments: result.Adjustments}, nil
}

// GetStock loads the current stock record for one SKU.
func (s *inventoryService) GetStock(ctx context.Context, sku string) (InventoryStock, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return InventoryStock{}, fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}
	stock, err := s.inventory.GetStock(ctx, sku)
	if err != nil {
		return InventoryStock{}, s.mapInventoryError(err)
	}
	return stock, nil
}

// ListLowStock pages SKUs at or below the threshold for replenishment views.
func (s *inventoryService) ListLowStock(ctx context.Context, filter InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error) {
	if filter.Threshold < 0 {
		return domain.CursorPage[InventoryStock]{}, fmt.Errorf("%w: threshold cannot be negative", ErrInventoryInvalidInput)
	}
	page, err := s.inventory.ListLowStock(ctx, repositories.LowStockQuery{
		Threshold:  filter.Threshold,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[InventoryStock]{}, s.mapInventoryError(err)
	}
	return page, nil
}

func buildDeltas(lines []StockLine, sign int) ([]repositories.StockDelta, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	deltas := make([]repositories.StockDelta, 0, len(lines))
	for _, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, sku)
		}
		deltas = append(deltas, repositories.StockDelta{SKU: sku, Quantity: sign * line.Quantity})
	}
	return deltas, nil
}

func (s *inventoryService) mapInventoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, invErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryStockNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
	}
	return err
}

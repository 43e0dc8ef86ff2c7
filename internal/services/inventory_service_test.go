package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/repositories"
)

type stubInventoryRepo struct {
	getFn    func(context.Context, string) (domain.InventoryStock, error)
	upsertFn func(context.Context, domain.InventoryStock) error
	adjustFn func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error)
	listFn   func(context.Context, repositories.LowStockQuery) (domain.CursorPage[domain.InventoryStock], error)
}

func (s *stubInventoryRepo) GetStock(ctx context.Context, sku string) (domain.InventoryStock, error) {
	if s.getFn != nil {
		return s.getFn(ctx, sku)
	}
	return domain.InventoryStock{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) UpsertStock(ctx context.Context, stock domain.InventoryStock) error {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, stock)
	}
	return nil
}

func (s *stubInventoryRepo) AdjustStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, req)
	}
	return repositories.StockAdjustmentResult{}, nil
}

func (s *stubInventoryRepo) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.InventoryStock], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.InventoryStock]{}, nil
}

func TestDecrementStockBuildsNegativeDeltasAndClamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var captured repositories.StockAdjustmentRequest
	repo := &stubInventoryRepo{
		adjustFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
			captured = req
			return repositories.StockAdjustmentResult{
				Adjustments: []domain.StockAdjustment{
					{SKU: "sku-1", Requested: -2, Applied: -2, NewQty: 3},
					{SKU: "sku-2", Requested: -5, Applied: -1, NewQty: 0, Clamped: true},
				},
			}, nil
		},
	}

	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	outcome, err := svc.DecrementStock(ctx, StockDecrementCommand{
		OrderID: "ord_1",
		Lines: []StockLine{
			{SKU: "sku-1", Quantity: 2},
			{SKU: "sku-2", Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("decrement stock: %v", err)
	}

	if !captured.ClampAtZero {
		t.Fatalf("decrement must clamp at zero")
	}
	if !captured.Now.Equal(now) {
		t.Fatalf("request time = %v, want %v", captured.Now, now)
	}
	if len(captured.Deltas) != 2 || captured.Deltas[0].Quantity != -2 || captured.Deltas[1].Quantity != -5 {
		t.Fatalf("deltas = %+v", captured.Deltas)
	}

	if len(outcome.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one", outcome.Warnings)
	}
	if !strings.Contains(outcome.Warnings[0], "sku-2") || !strings.Contains(outcome.Warnings[0], "clamped at zero") {
		t.Fatalf("warning = %q", outcome.Warnings[0])
	}
	if len(outcome.Adjustments) != 2 {
		t.Fatalf("adjustments = %+v", outcome.Adjustments)
	}
}

func TestRestoreStockBuildsPositiveDeltas(t *testing.T) {
	ctx := context.Background()

	var captured repositories.StockAdjustmentRequest
	repo := &stubInventoryRepo{
		adjustFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
			captured = req
			return repositories.StockAdjustmentResult{
				Adjustments: []domain.StockAdjustment{{SKU: "sku-1", Requested: 2, Applied: 2, NewQty: 5}},
			}, nil
		},
	}

	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: repo})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	outcome, err := svc.RestoreStock(ctx, StockRestoreCommand{
		OrderID: "ord_1",
		Lines:   []StockLine{{SKU: "sku-1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("restore stock: %v", err)
	}
	if captured.ClampAtZero {
		t.Fatalf("restore must not clamp")
	}
	if len(captured.Deltas) != 1 || captured.Deltas[0].Quantity != 2 {
		t.Fatalf("deltas = %+v", captured.Deltas)
	}
	if len(outcome.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", outcome.Warnings)
	}
}

func TestDecrementStockValidatesLines(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: &stubInventoryRepo{}})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	cases := []struct {
		name  string
		lines []StockLine
	}{
		{name: "empty"},
		{name: "blank sku", lines: []StockLine{{SKU: " ", Quantity: 1}}},
		{name: "zero quantity", lines: []StockLine{{SKU: "sku-1", Quantity: 0}}},
		{name: "negative quantity", lines: []StockLine{{SKU: "sku-1", Quantity: -3}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.DecrementStock(context.Background(), StockDecrementCommand{Lines: tc.lines})
			if !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("err = %v, want ErrInventoryInvalidInput", err)
			}
		})
	}
}

func TestGetStockMapsNotFound(t *testing.T) {
	repo := &stubInventoryRepo{
		getFn: func(context.Context, string) (domain.InventoryStock, error) {
			return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "stock sku-9 not found", nil)
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: repo})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	_, err = svc.GetStock(context.Background(), "sku-9")
	if !errors.Is(err, ErrInventoryStockNotFound) {
		t.Fatalf("err = %v, want ErrInventoryStockNotFound", err)
	}
}

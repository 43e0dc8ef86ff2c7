package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	updateStatusFn func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, orderID, expected, update)
	}
	return domain.Order{}, nil
}

type stubEventRepo struct {
	createFn func(context.Context, domain.ProcessedPaymentEvent) error
	existsFn func(context.Context, string) (bool, error)
	findFn   func(context.Context, string) (domain.ProcessedPaymentEvent, error)
}

func (s *stubEventRepo) Create(ctx context.Context, event domain.ProcessedPaymentEvent) error {
	if s.createFn != nil {
		return s.createFn(ctx, event)
	}
	return nil
}

func (s *stubEventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(ctx, eventID)
	}
	return false, nil
}

func (s *stubEventRepo) FindByID(ctx context.Context, eventID string) (domain.ProcessedPaymentEvent, error) {
	if s.findFn != nil {
		return s.findFn(ctx, eventID)
	}
	return domain.ProcessedPaymentEvent{}, errors.New("not implemented")
}

type stubInventoryAdjuster struct {
	decrementFn func(context.Context, StockDecrementCommand) (StockAdjustmentOutcome, error)
	restoreFn   func(context.Context, StockRestoreCommand) (StockAdjustmentOutcome, error)
}

func (s *stubInventoryAdjuster) DecrementStock(ctx context.Context, cmd StockDecrementCommand) (StockAdjustmentOutcome, error) {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, cmd)
	}
	return StockAdjustmentOutcome{}, nil
}

func (s *stubInventoryAdjuster) RestoreStock(ctx context.Context, cmd StockRestoreCommand) (StockAdjustmentOutcome, error) {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, cmd)
	}
	return StockAdjustmentOutcome{}, nil
}

func (s *stubInventoryAdjuster) GetStock(context.Context, string) (InventoryStock, error) {
	return InventoryStock{}, errors.New("not implemented")
}

func (s *stubInventoryAdjuster) ListLowStock(context.Context, InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error) {
	return domain.CursorPage[InventoryStock]{}, errors.New("not implemented")
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type fakeRepoError struct {
	notFound bool
	conflict bool
}

func (e fakeRepoError) Error() string       { return "repository error" }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return false }

func pendingOrder(id string) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: "user-1",
		Status: domain.OrderStatusPending,
		Items: []domain.OrderLineItem{
			{SKU: "sku-1", Quantity: 2, UnitPrice: 500},
		},
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestApplyPaymentEventSucceededDecrementsStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var (
		capturedExpected domain.OrderStatus
		capturedUpdate   repositories.OrderStatusUpdate
		capturedDelta    StockDecrementCommand
		ledgerRow        domain.ProcessedPaymentEvent
	)

	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
		updateStatusFn: func(_ context.Context, _ string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			capturedExpected = expected
			capturedUpdate = update
			return domain.Order{}, nil
		},
	}
	events := &stubEventRepo{
		createFn: func(_ context.Context, event domain.ProcessedPaymentEvent) error {
			ledgerRow = event
			return nil
		},
	}
	inventory := &stubInventoryAdjuster{
		decrementFn: func(_ context.Context, cmd StockDecrementCommand) (StockAdjustmentOutcome, error) {
			capturedDelta = cmd
			return StockAdjustmentOutcome{
				Adjustments: []domain.StockAdjustment{{SKU: "sku-1", Requested: -2, Applied: -1, NewQty: 0, Clamped: true}},
				Warnings:    []string{"stock for sku-1 clamped at zero: requested 2, decremented 1"},
			}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     orders,
		Events:     events,
		Inventory:  inventory,
		UnitOfWork: &stubUnitOfWork{},
		Clock:      func() time.Time { return now },
	})

	updated, err := svc.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
	})
	if err != nil {
		t.Fatalf("apply payment event: %v", err)
	}

	if capturedExpected != domain.OrderStatusPending {
		t.Fatalf("expected status = %s, want pending", capturedExpected)
	}
	if capturedUpdate.Status != domain.OrderStatusPaid {
		t.Fatalf("target status = %s, want paid", capturedUpdate.Status)
	}
	if capturedUpdate.PaidAt == nil || !capturedUpdate.PaidAt.Equal(now) {
		t.Fatalf("paidAt = %v", capturedUpdate.PaidAt)
	}
	if capturedUpdate.StockDecremented == nil || !*capturedUpdate.StockDecremented {
		t.Fatalf("stockDecremented = %v, want true", capturedUpdate.StockDecremented)
	}
	if len(capturedUpdate.AppendWarnings) != 1 {
		t.Fatalf("append warnings = %v", capturedUpdate.AppendWarnings)
	}
	if len(capturedUpdate.StockDebits) != 1 || capturedUpdate.StockDebits["sku-1"] != 1 {
		t.Fatalf("stock debits = %v, want sku-1:1", capturedUpdate.StockDebits)
	}
	if len(capturedDelta.Lines) != 1 || capturedDelta.Lines[0].SKU != "sku-1" || capturedDelta.Lines[0].Quantity != 2 {
		t.Fatalf("decrement lines = %+v", capturedDelta.Lines)
	}
	if ledgerRow.EventID != "evt_1" || ledgerRow.OrderRef != "ord_1" || ledgerRow.Type != domain.PaymentEventSucceeded {
		t.Fatalf("ledger row = %+v", ledgerRow)
	}

	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("updated status = %s", updated.Status)
	}
	if !updated.StockDecremented {
		t.Fatalf("updated order must record stock decrement")
	}
	if len(updated.Warnings) != 1 {
		t.Fatalf("updated warnings = %v", updated.Warnings)
	}
}

func TestApplyPaymentEventReplayIsNoOp(t *testing.T) {
	ctx := context.Background()

	statusCalls := 0
	createCalls := 0
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error) {
			statusCalls++
			return domain.Order{}, nil
		},
	}
	events := &stubEventRepo{
		existsFn: func(context.Context, string) (bool, error) { return true, nil },
		createFn: func(context.Context, domain.ProcessedPaymentEvent) error {
			createCalls++
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    events,
		Inventory: &stubInventoryAdjuster{},
	})

	order, err := svc.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
	})
	if err != nil {
		t.Fatalf("apply payment event: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("order status = %s", order.Status)
	}
	if statusCalls != 0 || createCalls != 0 {
		t.Fatalf("replay must not write: status=%d create=%d", statusCalls, createCalls)
	}
}

func TestApplyPaymentEventOrderNotFound(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, fakeRepoError{notFound: true}
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	_, err := svc.ApplyPaymentEvent(context.Background(), PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_missing",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestApplyPaymentEventInvalidTransitions(t *testing.T) {
	cases := []struct {
		name   string
		status domain.OrderStatus
		event  domain.PaymentEventType
	}{
		{name: "succeeded on paid", status: domain.OrderStatusPaid, event: domain.PaymentEventSucceeded},
		{name: "succeeded on fulfilled", status: domain.OrderStatusFulfilled, event: domain.PaymentEventSucceeded},
		{name: "failed on paid", status: domain.OrderStatusPaid, event: domain.PaymentEventFailed},
		{name: "fulfillment on pending", status: domain.OrderStatusPending, event: domain.PaymentEventFulfillmentConfirmed},
		{name: "cancel on fulfilled", status: domain.OrderStatusFulfilled, event: domain.PaymentEventUserCancel},
		{name: "refund on cancelled", status: domain.OrderStatusCancelled, event: domain.PaymentEventRefunded},
		{name: "dispute on failed", status: domain.OrderStatusFailed, event: domain.PaymentEventDisputed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				findFn: func(_ context.Context, orderID string) (domain.Order, error) {
					order := pendingOrder(orderID)
					order.Status = tc.status
					return order, nil
				},
			}
			svc := newTestOrderService(t, OrderServiceDeps{
				Orders:    orders,
				Events:    &stubEventRepo{},
				Inventory: &stubInventoryAdjuster{},
			})

			_, err := svc.ApplyPaymentEvent(context.Background(), PaymentEvent{
				EventID:  "evt_1",
				Type:     tc.event,
				OrderRef: "ord_1",
			})
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Fatalf("err = %v, want ErrOrderInvalidTransition", err)
			}
		})
	}
}

func TestApplyPaymentEventRefundRestoresStock(t *testing.T) {
	ctx := context.Background()

	var restored StockRestoreCommand
	var capturedUpdate repositories.OrderStatusUpdate
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusPaid
			order.StockDecremented = true
			return order, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _ domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			capturedUpdate = update
			return domain.Order{}, nil
		},
	}
	inventory := &stubInventoryAdjuster{
		restoreFn: func(_ context.Context, cmd StockRestoreCommand) (StockAdjustmentOutcome, error) {
			restored = cmd
			return StockAdjustmentOutcome{}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: inventory,
	})

	updated, err := svc.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:  "evt_refund",
		Type:     domain.PaymentEventRefunded,
		OrderRef: "ord_1",
	})
	if err != nil {
		t.Fatalf("apply payment event: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if len(restored.Lines) != 1 || restored.Lines[0].Quantity != 2 {
		t.Fatalf("restore lines = %+v", restored.Lines)
	}
	if capturedUpdate.StockDecremented == nil || *capturedUpdate.StockDecremented {
		t.Fatalf("stockDecremented = %v, want false", capturedUpdate.StockDecremented)
	}
	if !capturedUpdate.ClearStockDebits {
		t.Fatalf("restore must clear recorded stock debits")
	}
	if updated.StockDecremented {
		t.Fatalf("updated order must clear stock decrement flag")
	}
}

func TestApplyPaymentEventClampedDecrementRestoresOnlyAppliedStock(t *testing.T) {
	// An order for two units against a single unit of stock clamps the payment
	// decrement at one. The later dispute must put back that one unit, not the
	// two the order asked for.
	ctx := context.Background()

	stored := pendingOrder("ord_1")
	stock := 1

	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _ domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			stored = applyStatusUpdate(stored, update)
			return stored, nil
		},
	}
	seen := map[string]bool{}
	events := &stubEventRepo{
		existsFn: func(_ context.Context, eventID string) (bool, error) {
			return seen[eventID], nil
		},
		createFn: func(_ context.Context, event domain.ProcessedPaymentEvent) error {
			seen[event.EventID] = true
			return nil
		},
	}
	inventory := &stubInventoryAdjuster{
		decrementFn: func(_ context.Context, cmd StockDecrementCommand) (StockAdjustmentOutcome, error) {
			var outcome StockAdjustmentOutcome
			for _, line := range cmd.Lines {
				applied := line.Quantity
				if applied > stock {
					applied = stock
				}
				stock -= applied
				outcome.Adjustments = append(outcome.Adjustments, domain.StockAdjustment{
					SKU:       line.SKU,
					Requested: -line.Quantity,
					Applied:   -applied,
					NewQty:    stock,
					Clamped:   applied < line.Quantity,
				})
			}
			return outcome, nil
		},
		restoreFn: func(_ context.Context, cmd StockRestoreCommand) (StockAdjustmentOutcome, error) {
			for _, line := range cmd.Lines {
				stock += line.Quantity
			}
			return StockAdjustmentOutcome{}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    events,
		Inventory: inventory,
	})

	if _, err := svc.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:  "evt_pay",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
	}); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if stock != 0 {
		t.Fatalf("stock after clamped payment = %d, want 0", stock)
	}
	if stored.StockDebits["sku-1"] != 1 {
		t.Fatalf("recorded debits = %v, want sku-1:1", stored.StockDebits)
	}

	if _, err := svc.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:  "evt_dispute",
		Type:     domain.PaymentEventDisputed,
		OrderRef: "ord_1",
	}); err != nil {
		t.Fatalf("apply dispute: %v", err)
	}
	if stock != 1 {
		t.Fatalf("stock after dispute restore = %d, want 1", stock)
	}
	if stored.StockDebits != nil {
		t.Fatalf("debits after restore = %v, want cleared", stored.StockDebits)
	}
	if stored.StockDecremented {
		t.Fatalf("restore must clear the decrement flag")
	}
}

func TestApplyPaymentEventRefundSkipsRestoreWhenNotDecremented(t *testing.T) {
	restoreCalls := 0
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
	}
	inventory := &stubInventoryAdjuster{
		restoreFn: func(context.Context, StockRestoreCommand) (StockAdjustmentOutcome, error) {
			restoreCalls++
			return StockAdjustmentOutcome{}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: inventory,
	})

	updated, err := svc.ApplyPaymentEvent(context.Background(), PaymentEvent{
		EventID:  "evt_dispute",
		Type:     domain.PaymentEventDisputed,
		OrderRef: "ord_1",
	})
	if err != nil {
		t.Fatalf("apply payment event: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", updated.Status)
	}
	if restoreCalls != 0 {
		t.Fatalf("restore must not run when stock was never decremented")
	}
}

func TestApplyPaymentEventConflictLoserReturnsAppliedState(t *testing.T) {
	// The CAS write fails because a concurrent applier committed the same
	// event first; the loser must return the applied state as success.
	existsCalls := 0
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if existsCalls >= 2 {
				order := pendingOrder(orderID)
				order.Status = domain.OrderStatusPaid
				return order, nil
			}
			return pendingOrder(orderID), nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error) {
			return domain.Order{}, fakeRepoError{conflict: true}
		},
	}
	events := &stubEventRepo{
		existsFn: func(context.Context, string) (bool, error) {
			existsCalls++
			// Not applied during the fast path or in-transaction check, but
			// visible once the winner commits.
			return existsCalls >= 3, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    events,
		Inventory: &stubInventoryAdjuster{},
	})

	order, err := svc.ApplyPaymentEvent(context.Background(), PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
	})
	if err != nil {
		t.Fatalf("apply payment event: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", order.Status)
	}
}

func TestApplyPaymentEventConflictWithoutLedgerRowSurfaces(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error) {
			return domain.Order{}, fakeRepoError{conflict: true}
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	_, err := svc.ApplyPaymentEvent(context.Background(), PaymentEvent{
		EventID:  "evt_1",
		Type:     domain.PaymentEventSucceeded,
		OrderRef: "ord_1",
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("err = %v, want ErrOrderConflict", err)
	}
}

func TestConfirmOrderSynthesizesDeterministicEvent(t *testing.T) {
	var ledgerRow domain.ProcessedPaymentEvent
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
	}
	events := &stubEventRepo{
		createFn: func(_ context.Context, event domain.ProcessedPaymentEvent) error {
			ledgerRow = event
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    events,
		Inventory: &stubInventoryAdjuster{},
	})

	order, err := svc.ConfirmOrderAndDecreaseStock(context.Background(), ConfirmOrderCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", order.Status)
	}
	if ledgerRow.EventID != "confirm:ord_1" {
		t.Fatalf("ledger event id = %q, want confirm:ord_1", ledgerRow.EventID)
	}
}

func TestConfirmOrderAlreadyPaidIsNoOp(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	order, err := svc.ConfirmOrderAndDecreaseStock(context.Background(), ConfirmOrderCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s", order.Status)
	}
}

func TestConfirmOrderCancelledSurfacesInvalidTransition(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	_, err := svc.ConfirmOrderAndDecreaseStock(context.Background(), ConfirmOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("err = %v, want ErrOrderInvalidTransition", err)
	}
}

func TestCancelChecksOwnershipAndCarriesReason(t *testing.T) {
	var capturedUpdate repositories.OrderStatusUpdate
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
		updateStatusFn: func(_ context.Context, _ string, _ domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			capturedUpdate = update
			return domain.Order{}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", UserID: "someone-else"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign cancel err = %v, want ErrOrderNotFound", err)
	}

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", order.Status)
	}
	if capturedUpdate.CancelReason == nil || *capturedUpdate.CancelReason != "changed my mind" {
		t.Fatalf("cancel reason = %v", capturedUpdate.CancelReason)
	}
}

func TestGetOrderScopedToOwner(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Events:    &stubEventRepo{},
		Inventory: &stubInventoryAdjuster{},
	})

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "intruder"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}

	order, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("order id = %s", order.ID)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/platform/jobs"
	"github.com/loopmarket/api/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"

	// Deterministic event IDs let synthesized events share the dedup ledger
	// with provider webhooks.
	confirmEventIDPrefix = "confirm:"
	cancelEventIDPrefix  = "cancel:"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the event does not apply to the order's current status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent applier won the race for this order.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusFailed, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusFulfilled, domain.OrderStatusCancelled},
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// transitionStep is the resolved effect of applying one event type to an order.
type transitionStep struct {
	target         domain.OrderStatus
	decrementStock bool
	restoreStock   bool
	cancelReason   string
}

func resolveTransition(order Order, eventType PaymentEventType) (transitionStep, error) {
	var step transitionStep
	matched := false

	switch eventType {
	case domain.PaymentEventSucceeded:
		if order.Status == domain.OrderStatusPending {
			step = transitionStep{target: domain.OrderStatusPaid, decrementStock: true}
			matched = true
		}
	case domain.PaymentEventFailed:
		if order.Status == domain.OrderStatusPending {
			step = transitionStep{target: domain.OrderStatusFailed, cancelReason: "payment failed"}
			matched = true
		}
	case domain.PaymentEventUserCancel:
		switch order.Status {
		case domain.OrderStatusPending:
			step = transitionStep{target: domain.OrderStatusCancelled, cancelReason: "cancelled by user"}
			matched = true
		case domain.OrderStatusPaid:
			step = transitionStep{target: domain.OrderStatusCancelled, restoreStock: true, cancelReason: "cancelled by user"}
			matched = true
		}
	case domain.PaymentEventDisputed, domain.PaymentEventRefunded:
		if !order.Status.IsTerminal() {
			step = transitionStep{target: domain.OrderStatusCancelled, restoreStock: true, cancelReason: string(eventType)}
			matched = true
		}
	case domain.PaymentEventFulfillmentConfirmed:
		if order.Status == domain.OrderStatusPaid {
			step = transitionStep{target: domain.OrderStatusFulfilled}
			matched = true
		}
	}

	if !matched || !canTransition(order.Status, step.target) {
		return transitionStep{}, fmt.Errorf("%w: %s does not apply to %s orders", ErrOrderInvalidTransition, eventType, order.Status)
	}
	return step, nil
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Events     repositories.PaymentEventRepository
	Inventory  InventoryService
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Publisher  OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	events     repositories.PaymentEventRepository
	inventory  InventoryService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	publisher  OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("order service: payment event repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		events:     deps.Events,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		publisher: deps.Publisher,
		logger:    logger,
	}, nil
}

// ApplyPaymentEvent reconciles one verified provider event against the order
// it references. Replays of already-applied events return the current order
// without side effects; the ledger row, stock adjustment, and status change
// for a fresh event commit in a single transaction.
func (s *orderService) ApplyPaymentEvent(ctx context.Context, event PaymentEvent) (Order, error) {
	eventID := strings.TrimSpace(event.EventID)
	orderRef := strings.TrimSpace(event.OrderRef)
	if eventID == "" {
		return Order{}, fmt.Errorf("%w: event id is required", ErrOrderInvalidInput)
	}
	if orderRef == "" {
		return Order{}, fmt.Errorf("%w: order ref is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return Order{}, fmt.Errorf("%w: event type is required", ErrOrderInvalidInput)
	}

	// Fast path outside the transaction: webhook redelivery makes replays
	// common and they need no contention on the order document.
	applied, err := s.events.Exists(ctx, eventID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if applied {
		order, err := s.orders.FindByID(ctx, orderRef)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "order.event.replayed", map[string]any{
			"eventId": eventID,
			"orderId": orderRef,
			"type":    string(event.Type),
		})
		return order, nil
	}

	now := s.clock()
	var (
		updated  Order
		previous domain.OrderStatus
		replayed bool
	)

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		// All reads precede the first buffered write; Firestore rejects
		// reads issued after writes inside a transaction.
		order, err := s.orders.FindByID(txCtx, orderRef)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status

		exists, err := s.events.Exists(txCtx, eventID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if exists {
			// Applied between the fast path and this transaction.
			updated = order
			replayed = true
			return nil
		}

		step, err := resolveTransition(order, event.Type)
		if err != nil {
			return err
		}

		update := repositories.OrderStatusUpdate{
			Status:    step.target,
			UpdatedAt: now,
		}
		switch step.target {
		case domain.OrderStatusPaid:
			update.PaidAt = &now
		case domain.OrderStatusFulfilled:
			update.FulfilledAt = &now
		case domain.OrderStatusCancelled, domain.OrderStatusFailed:
			update.CancelledAt = &now
			reason := step.cancelReason
			if r, ok := event.Payload["reason"].(string); ok && strings.TrimSpace(r) != "" {
				reason = strings.TrimSpace(r)
			}
			if reason != "" {
				update.CancelReason = &reason
			}
		}

		if step.decrementStock {
			outcome, err := s.decrementOrderStock(txCtx, order)
			if err != nil {
				return err
			}
			decremented := true
			update.StockDecremented = &decremented
			update.StockDebits = appliedDebits(outcome.Adjustments)
			update.AppendWarnings = outcome.Warnings
		}
		if step.restoreStock && order.StockDecremented {
			if err := s.restoreOrderStock(txCtx, order); err != nil {
				return err
			}
			restored := false
			update.StockDecremented = &restored
			update.ClearStockDebits = true
		}

		if _, err := s.orders.UpdateStatus(txCtx, order.ID, order.Status, update); err != nil {
			return s.mapRepositoryError(err)
		}

		if err := s.events.Create(txCtx, domain.ProcessedPaymentEvent{
			EventID:    eventID,
			OrderRef:   order.ID,
			Type:       event.Type,
			ReceivedAt: now,
		}); err != nil {
			return s.mapRepositoryError(err)
		}

		updated = applyStatusUpdate(order, update)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderConflict) {
			// A concurrent applier may have committed this same event; if the
			// ledger now has it, the outcome we wanted already happened.
			if exists, exErr := s.events.Exists(ctx, eventID); exErr == nil && exists {
				if order, rdErr := s.orders.FindByID(ctx, orderRef); rdErr == nil {
					return order, nil
				}
			}
		}
		return Order{}, err
	}

	if replayed {
		return updated, nil
	}

	s.publish(ctx, jobs.EventMessage{
		EventID:    eventID,
		Kind:       orderEventStatusChanged,
		SubjectRef: updated.ID,
		UserID:     updated.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"from": string(previous),
			"to":   string(updated.Status),
			"type": string(event.Type),
		},
	})
	s.logger(ctx, "order.event.applied", map[string]any{
		"eventId": eventID,
		"orderId": updated.ID,
		"type":    string(event.Type),
		"from":    string(previous),
		"to":      string(updated.Status),
	})

	return updated, nil
}

// ConfirmOrderAndDecreaseStock is the client-side fallback for missed
// webhooks. The deterministic event ID keeps it idempotent against both
// itself and the provider's payment_succeeded delivery.
func (s *orderService) ConfirmOrderAndDecreaseStock(ctx context.Context, cmd ConfirmOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	updated, err := s.ApplyPaymentEvent(ctx, PaymentEvent{
		EventID:    confirmEventIDPrefix + orderID,
		Type:       domain.PaymentEventSucceeded,
		OrderRef:   orderID,
		Provider:   "client",
		OccurredAt: s.clock(),
	})
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, ErrOrderInvalidTransition) {
		order, rdErr := s.orders.FindByID(ctx, orderID)
		if rdErr != nil {
			return Order{}, s.mapRepositoryError(rdErr)
		}
		switch order.Status {
		case domain.OrderStatusPaid, domain.OrderStatusFulfilled:
			// The webhook beat the fallback; nothing left to do.
			return order, nil
		}
	}
	return Order{}, err
}

// GetOrder loads one order, hiding other users' orders behind not-found.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages orders matching the filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Cancel cancels an order on behalf of its owner by synthesizing a user_cancel
// event through the same reconciliation path the webhook uses.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if order.UserID != userID {
			return Order{}, ErrOrderNotFound
		}
	}

	event := PaymentEvent{
		EventID:    cancelEventIDPrefix + orderID,
		Type:       domain.PaymentEventUserCancel,
		OrderRef:   orderID,
		Provider:   "client",
		OccurredAt: s.clock(),
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		event.Payload = map[string]any{"reason": reason}
	}
	return s.ApplyPaymentEvent(ctx, event)
}

func (s *orderService) decrementOrderStock(ctx context.Context, order Order) (StockAdjustmentOutcome, error) {
	lines := stockLines(order.Items)
	if len(lines) == 0 {
		return StockAdjustmentOutcome{}, nil
	}
	return s.inventory.DecrementStock(ctx, StockDecrementCommand{
		OrderID: order.ID,
		Lines:   lines,
	})
}

func (s *orderService) restoreOrderStock(ctx context.Context, order Order) error {
	lines := restoreLines(order)
	if len(lines) == 0 {
		return nil
	}
	_, err := s.inventory.RestoreStock(ctx, StockRestoreCommand{
		OrderID: order.ID,
		Lines:   lines,
	})
	return err
}

// restoreLines returns the quantities to put back for an order whose stock was
// decremented. The recorded debits are authoritative: a decrement that clamped
// at zero removed fewer units than the order asked for, and restoring the
// ordered quantities would mint stock that never existed. Orders persisted
// before debits were recorded fall back to their line quantities.
func restoreLines(order Order) []StockLine {
	if order.StockDebits == nil {
		return stockLines(order.Items)
	}
	lines := make([]StockLine, 0, len(order.StockDebits))
	for sku, qty := range order.StockDebits {
		if qty <= 0 {
			continue
		}
		lines = append(lines, StockLine{SKU: sku, Quantity: qty})
	}
	return lines
}

// appliedDebits collapses adjustment results into the positive per-SKU unit
// counts actually removed, which can be less than requested on a clamp.
func appliedDebits(adjustments []domain.StockAdjustment) map[string]int {
	debits := make(map[string]int, len(adjustments))
	for _, adj := range adjustments {
		if removed := -adj.Applied; removed > 0 {
			debits[adj.SKU] += removed
		}
	}
	return debits
}

func stockLines(items []OrderLineItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" || item.Quantity <= 0 {
			continue
		}
		lines = append(lines, StockLine{SKU: sku, Quantity: item.Quantity})
	}
	return lines
}

// applyStatusUpdate mirrors the repository mutation on the in-memory order so
// callers inside a transaction see the post-commit state without re-reading.
func applyStatusUpdate(order Order, update repositories.OrderStatusUpdate) Order {
	order.Status = update.Status
	order.UpdatedAt = update.UpdatedAt
	if update.PaidAt != nil {
		order.PaidAt = update.PaidAt
	}
	if update.FulfilledAt != nil {
		order.FulfilledAt = update.FulfilledAt
	}
	if update.CancelledAt != nil {
		order.CancelledAt = update.CancelledAt
	}
	if update.CancelReason != nil {
		order.CancelReason = update.CancelReason
	}
	if update.StockDecremented != nil {
		order.StockDecremented = *update.StockDecremented
	}
	if update.StockDebits != nil {
		order.StockDebits = update.StockDebits
	}
	if update.ClearStockDebits {
		order.StockDebits = nil
	}
	if len(update.AppendWarnings) > 0 {
		order.Warnings = append(order.Warnings, update.AppendWarnings...)
	}
	return order
}

func (s *orderService) publish(ctx context.Context, message jobs.EventMessage) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"eventId": message.EventID,
			"kind":    message.Kind,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

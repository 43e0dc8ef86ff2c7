package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loopmarket/api/internal/domain"
	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/platform/pagination"
	"github.com/loopmarket/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber      string              `firestore:"orderNumber"`
	UserID           string              `firestore:"userId"`
	ShopID           string              `firestore:"shopId,omitempty"`
	Status           string              `firestore:"status"`
	Currency         string              `firestore:"currency"`
	Totals           orderTotalsDocument `firestore:"totals"`
	Items            []orderItemDocument `firestore:"items"`
	PaymentMethod    string              `firestore:"paymentMethod,omitempty"`
	PaymentIntentRef *string             `firestore:"paymentIntentRef,omitempty"`
	ShippingAddress  *addressDocument    `firestore:"shippingAddress,omitempty"`
	StockDecremented bool                `firestore:"stockDecremented"`
	StockDebits      map[string]int      `firestore:"stockDebits,omitempty"`
	Warnings         []string            `firestore:"warnings,omitempty"`
	Metadata         map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
	PaidAt           *time.Time          `firestore:"paidAt,omitempty"`
	FulfilledAt      *time.Time          `firestore:"fulfilledAt,omitempty"`
	CancelledAt      *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason     *string             `firestore:"cancelReason,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	SKU        string `firestore:"sku"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

// OrderRepository implements repositories.OrderRepository on Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)
	if tx := transactionFrom(ctx); tx != nil {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)
	if tx := transactionFrom(ctx); tx != nil {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads one order. Joins the ambient transaction when present so the
// read participates in its conflict detection.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	if tx := transactionFrom(ctx); tx != nil {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
		}
		return doc.toDomain(id), nil
	}

	snap, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

// List returns the user's orders newest first with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt, last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus transitions the order, enforcing the expected current status.
// Standalone calls run their own read-check-write transaction. Inside an
// ambient transaction the caller has already read the order in the same
// transaction, so the write is buffered directly and the commit-time read
// validation provides the compare-and-set.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order update status: id is required")
	}

	if tx := transactionFrom(ctx); tx != nil {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if err := tx.Update(ref, statusUpdates(update)); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.updatestatus", err)
		}
		return domain.Order{}, nil
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		if doc.Status != string(expected) {
			return status.Errorf(codes.FailedPrecondition, "order %s status is %s, expected %s", id, doc.Status, expected)
		}
		if err := tx.Update(ref, statusUpdates(update)); err != nil {
			return err
		}

		updated = doc.toDomain(id)
		applyStatusUpdate(&updated, update)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updatestatus", err)
	}
	return updated, nil
}

func statusUpdates(update repositories.OrderStatusUpdate) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
	}
	if update.FulfilledAt != nil {
		updates = append(updates, firestore.Update{Path: "fulfilledAt", Value: update.FulfilledAt.UTC()})
	}
	if update.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
	}
	if update.CancelReason != nil {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: *update.CancelReason})
	}
	if update.StockDecremented != nil {
		updates = append(updates, firestore.Update{Path: "stockDecremented", Value: *update.StockDecremented})
	}
	if update.StockDebits != nil {
		updates = append(updates, firestore.Update{Path: "stockDebits", Value: update.StockDebits})
	}
	if update.ClearStockDebits {
		updates = append(updates, firestore.Update{Path: "stockDebits", Value: firestore.Delete})
	}
	if len(update.AppendWarnings) > 0 {
		values := make([]any, 0, len(update.AppendWarnings))
		for _, w := range update.AppendWarnings {
			values = append(values, w)
		}
		updates = append(updates, firestore.Update{Path: "warnings", Value: firestore.ArrayUnion(values...)})
	}
	return updates
}

func applyStatusUpdate(order *domain.Order, update repositories.OrderStatusUpdate) {
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
	order.Warnings = append(order.Warnings, update.AppendWarnings...)
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		ShopID:           order.ShopID,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Totals:           orderTotalsDocument(order.Totals),
		Items:            items,
		PaymentMethod:    order.PaymentMethod,
		PaymentIntentRef: order.PaymentIntentRef,
		StockDecremented: order.StockDecremented,
		StockDebits:      order.StockDebits,
		Warnings:         order.Warnings,
		Metadata:         order.Metadata,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		PaidAt:           utcPtr(order.PaidAt),
		FulfilledAt:      utcPtr(order.FulfilledAt),
		CancelledAt:      utcPtr(order.CancelledAt),
		CancelReason:     order.CancelReason,
	}
	if order.ShippingAddress != nil {
		addr := addressDocument(*order.ShippingAddress)
		doc.ShippingAddress = &addr
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderLineItem{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	order := domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserID,
		ShopID:           d.ShopID,
		Status:           domain.OrderStatus(d.Status),
		Currency:         d.Currency,
		Totals:           domain.OrderTotals(d.Totals),
		Items:            items,
		PaymentMethod:    d.PaymentMethod,
		PaymentIntentRef: d.PaymentIntentRef,
		StockDecremented: d.StockDecremented,
		StockDebits:      d.StockDebits,
		Warnings:         d.Warnings,
		Metadata:         d.Metadata,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		PaidAt:           d.PaidAt,
		FulfilledAt:      d.FulfilledAt,
		CancelledAt:      d.CancelledAt,
		CancelReason:     d.CancelReason,
	}
	if d.ShippingAddress != nil {
		addr := domain.Address(*d.ShippingAddress)
		order.ShippingAddress = &addr
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

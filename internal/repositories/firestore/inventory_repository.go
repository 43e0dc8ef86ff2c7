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

const inventoryCollection = "inventory"

type stockDocument struct {
	ProductRef string    `firestore:"productRef,omitempty"`
	Available  int       `firestore:"available"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain(sku string) domain.InventoryStock {
	return domain.InventoryStock{
		SKU:        sku,
		ProductRef: d.ProductRef,
		Available:  d.Available,
		UpdatedAt:  d.UpdatedAt,
	}
}

// InventoryRepository implements repositories.InventoryRepository with one
// stock document per SKU.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection)
	return &InventoryRepository{provider: provider, stocks: base}, nil
}

// GetStock loads the stock record for one SKU.
func (r *InventoryRepository) GetStock(ctx context.Context, sku string) (domain.InventoryStock, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "sku is required", nil)
	}

	if tx := transactionFrom(ctx); tx != nil {
		ref, err := r.stocks.DocumentRef(ctx, sku)
		if err != nil {
			return domain.InventoryStock{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
			}
			return domain.InventoryStock{}, pfirestore.WrapError("inventory.get", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.InventoryStock{}, fmt.Errorf("decode inventory stock %s: %w", sku, err)
		}
		return doc.toDomain(sku), nil
	}

	snap, err := r.stocks.Get(ctx, sku)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
		}
		return domain.InventoryStock{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

// UpsertStock writes the full stock record for a SKU.
func (r *InventoryRepository) UpsertStock(ctx context.Context, stock domain.InventoryStock) error {
	sku := strings.TrimSpace(stock.SKU)
	if sku == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "sku is required", nil)
	}
	if stock.Available < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "available cannot be negative", nil)
	}
	doc := stockDocument{
		ProductRef: stock.ProductRef,
		Available:  stock.Available,
		UpdatedAt:  stock.UpdatedAt.UTC(),
	}
	return r.stocks.Set(ctx, sku, doc)
}

// AdjustStock applies all deltas atomically. All stock documents are read
// before any write is buffered; Firestore transactions reject reads issued
// after writes, so the two phases must not interleave.
func (r *InventoryRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	if len(req.Deltas) == 0 {
		return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "at least one delta is required", nil)
	}
	for _, delta := range req.Deltas {
		if strings.TrimSpace(delta.SKU) == "" {
			return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "sku is required", nil)
		}
		if delta.Quantity == 0 {
			return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, fmt.Sprintf("zero quantity for %s", delta.SKU), nil)
		}
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if tx := transactionFrom(ctx); tx != nil {
		return r.adjustInTx(ctx, tx, req, now)
	}

	var result repositories.StockAdjustmentResult
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		var adjustErr error
		result, adjustErr = r.adjustInTx(txCtx, tx, req, now)
		return adjustErr
	})
	if err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) {
			return repositories.StockAdjustmentResult{}, invErr
		}
		return repositories.StockAdjustmentResult{}, pfirestore.WrapError("inventory.adjust", err)
	}
	return result, nil
}

func (r *InventoryRepository) adjustInTx(ctx context.Context, tx *firestore.Transaction, req repositories.StockAdjustmentRequest, now time.Time) (repositories.StockAdjustmentResult, error) {
	type pendingWrite struct {
		ref *firestore.DocumentRef
		doc stockDocument
	}

	// Read phase.
	writes := make([]pendingWrite, 0, len(req.Deltas))
	adjustments := make([]domain.StockAdjustment, 0, len(req.Deltas))
	for _, delta := range req.Deltas {
		sku := strings.TrimSpace(delta.SKU)
		ref, err := r.stocks.DocumentRef(ctx, sku)
		if err != nil {
			return repositories.StockAdjustmentResult{}, err
		}

		var doc stockDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return repositories.StockAdjustmentResult{}, fmt.Errorf("decode inventory stock %s: %w", sku, err)
			}
		case status.Code(err) == codes.NotFound:
			if delta.Quantity < 0 {
				return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
			}
			// Restores may recreate a record that was never seeded.
			doc = stockDocument{}
		default:
			return repositories.StockAdjustmentResult{}, pfirestore.WrapError("inventory.adjust", err)
		}

		applied := delta.Quantity
		clamped := false
		if delta.Quantity < 0 {
			shortage := -delta.Quantity - doc.Available
			if shortage > 0 {
				if !req.ClampAtZero {
					return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", sku), nil)
				}
				applied = -doc.Available
				clamped = true
			}
		}

		doc.Available += applied
		doc.UpdatedAt = now
		writes = append(writes, pendingWrite{ref: ref, doc: doc})
		adjustments = append(adjustments, domain.StockAdjustment{
			SKU:       sku,
			Requested: delta.Quantity,
			Applied:   applied,
			NewQty:    doc.Available,
			Clamped:   clamped,
		})
	}

	// Write phase.
	for _, write := range writes {
		if err := tx.Set(write.ref, write.doc); err != nil {
			return repositories.StockAdjustmentResult{}, pfirestore.WrapError("inventory.adjust", err)
		}
	}

	return repositories.StockAdjustmentResult{Adjustments: adjustments}, nil
}

// ListLowStock pages through SKUs at or below the threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.InventoryStock], error) {
	pageSize := query.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(query.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.InventoryStock]{}, err
	}

	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("available", "<=", query.Threshold).
			OrderBy("available", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.InventoryStock]{}, err
	}

	page := domain.CursorPage[domain.InventoryStock]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.Available, last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.InventoryStock]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

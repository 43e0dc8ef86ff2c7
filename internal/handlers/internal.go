package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/services"
)

const fulfillEventIDPrefix = "fulfill:"

// InternalHandlers exposes operator-facing endpoints mounted behind the
// internal middleware stack (HMAC-signed service callers, not end users).
type InternalHandlers struct {
	orders    services.OrderService
	inventory services.InventoryService
	clock     func() time.Time
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(orders services.OrderService, inventory services.InventoryService) *InternalHandlers {
	return &InternalHandlers{
		orders:    orders,
		inventory: inventory,
		clock:     time.Now,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}:fulfill", h.fulfillOrder)
	r.Get("/inventory/low-stock", h.listLowStock)
}

// fulfillOrder marks a paid order as handed to fulfilment. The deterministic
// event ID makes redelivered fulfilment callbacks idempotent.
func (h *InternalHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ApplyPaymentEvent(ctx, services.PaymentEvent{
		EventID:    fulfillEventIDPrefix + orderID,
		Type:       domain.PaymentEventFulfillmentConfirmed,
		OrderRef:   orderID,
		Provider:   "internal",
		OccurredAt: h.clock().UTC(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type lowStockItemPayload struct {
	SKU        string `json:"sku"`
	ProductRef string `json:"product_ref,omitempty"`
	Available  int    `json:"available"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type lowStockResponse struct {
	Items         []lowStockItemPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *InternalHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	threshold := 0
	if raw := strings.TrimSpace(query.Get("threshold")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListLowStock(ctx, services.InventoryLowStockFilter{
		Threshold: threshold,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]lowStockItemPayload, 0, len(page.Items))
	for _, stock := range page.Items {
		items = append(items, lowStockItemPayload{
			SKU:        strings.TrimSpace(stock.SKU),
			ProductRef: strings.TrimSpace(stock.ProductRef),
			Available:  stock.Available,
			UpdatedAt:  formatTime(stock.UpdatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, lowStockResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}

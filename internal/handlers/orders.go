package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderops/internal/platform/httpx"
	"github.com/hanko-field/orderops/internal/platform/pagination"
	"github.com/hanko-field/orderops/internal/services"
)

const (
	maxOrderBodySize = 64 * 1024
	maxBatchBodySize = 256 * 1024
	orderAuditLimit  = 50
)

// OrderHandlers exposes the admin order endpoints mounted under /orders.
type OrderHandlers struct {
	orders  services.OrderService
	batch   services.BatchService
	audit   services.AuditLogService
	limiter rateLimiter
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderAuditLog enables the audit trail on GET /orders/{orderNumber}.
func WithOrderAuditLog(audit services.AuditLogService) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.audit = audit
	}
}

// WithOrderBatchLimiter throttles PATCH /orders per actor.
func WithOrderBatchLimiter(limiter rateLimiter) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = limiter
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, batch services.BatchService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders, batch: batch}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Put("/", h.updateOrder)
	r.Post("/", h.createOrder)
	r.With(rateLimitMiddleware(h.limiter, "orders.batch")).Patch("/", h.runBatch)
	r.Get("/{orderNumber}", h.getOrder)
}

// InternalRoutes registers the scheduler-facing batch endpoint under /internal.
func (h *OrderHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:batch", h.runBatch)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	page, err := pagination.ParseOffset(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Statuses:        parseFilterValues(query["status"]),
		PaymentStatuses: parseFilterValues(query["paymentStatus"]),
		PaymentMethods:  parseFilterValues(query["paymentMethod"]),
		Search:          strings.TrimSpace(query.Get("search")),
		SortBy:          strings.TrimSpace(query.Get("sortBy")),
		SortOrder:       strings.TrimSpace(query.Get("sortOrder")),
		Page:            page.Page,
		Limit:           page.Limit,
	}
	if raw := query.Get("startDate"); strings.TrimSpace(raw) != "" {
		ts, err := parseDateParam(raw, false)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "startDate "+err.Error(), http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := query.Get("endDate"); strings.TrimSpace(raw) != "" {
		ts, err := parseDateParam(raw, true)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "endDate "+err.Error(), http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(result.Page.Items))
	for _, order := range result.Page.Items {
		orders = append(orders, buildOrderPayload(order))
	}
	byStatus := make(map[string]int, len(result.Stats.ByStatus))
	for status, count := range result.Stats.ByStatus {
		byStatus[string(status)] = count
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders: orders,
		Pagination: paginationPayload{
			Page:       result.Page.Page,
			Limit:      result.Page.Limit,
			Total:      result.Page.Total,
			TotalPages: pagination.TotalPages(result.Page.Total, result.Page.Limit),
		},
		Stats: orderStatsPayload{
			Total:       result.Stats.Total,
			ByStatus:    byStatus,
			Revenue:     result.Stats.Revenue,
			PaidRevenue: result.Stats.PaidRevenue,
		},
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	order, err := h.orders.GetOrder(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderDetailResponse{Order: buildOrderPayload(order)}
	if h.audit != nil {
		entries, err := h.audit.ListForOrder(ctx, order.ID, orderAuditLimit)
		if err == nil {
			payload.Audit = make([]auditEntryPayload, 0, len(entries))
			for _, entry := range entries {
				payload.Audit = append(payload.Audit, auditEntryPayload{
					ID:        entry.ID,
					Action:    entry.Action,
					OldValues: entry.OldValues,
					NewValues: entry.NewValues,
					Note:      entry.Note,
					Actor:     entry.Actor,
					CreatedAt: formatTime(entry.CreatedAt),
				})
			}
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type updateOrderRequest struct {
	OrderID        string  `json:"orderId"`
	Status         *string `json:"status"`
	PaymentStatus  *string `json:"paymentStatus"`
	TrackingNumber *string `json:"trackingNumber"`
	Notes          *string `json:"notes"`
	AdminNotes     *string `json:"adminNotes"`
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest).
			WithViolations([]httpx.FieldViolation{{Field: "orderId", Error: "is required"}}))
		return
	}

	result, err := h.orders.UpdateOrder(ctx, services.UpdateOrderCommand{
		OrderNumber:    req.OrderID,
		Status:         req.Status,
		PaymentStatus:  req.PaymentStatus,
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
		AdminNotes:     req.AdminNotes,
		Actor:          actorFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := orderUpdateResponse{Order: buildOrderPayload(result.Order)}
	if result.Audit != nil {
		response.Audit = &auditRecordPayload{
			Action:     result.Audit.Action,
			OldValues:  result.Audit.Old,
			NewValues:  result.Audit.New,
			Note:       result.Audit.Note,
			Actor:      result.Audit.Actor,
			OccurredAt: formatTime(result.Audit.OccurredAt),
		}
	}
	writeJSONResponse(w, http.StatusOK, response)
}

type manualOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID      *string                  `json:"customerId"`
	CustomerName    string                   `json:"customerName"`
	CustomerEmail   string                   `json:"customerEmail"`
	PaymentMethod   string                   `json:"paymentMethod"`
	PaymentStatus   string                   `json:"paymentStatus"`
	Items           []manualOrderItemRequest `json:"items"`
	ShippingAddress map[string]any           `json:"shippingAddress"`
	BillingAddress  map[string]any           `json:"billingAddress"`
	TaxRate         *float64                 `json:"taxRate"`
	Shipping        float64                  `json:"shipping"`
	Discount        float64                  `json:"discount"`
	Notes           string                   `json:"notes"`
	AdminNotes      string                   `json:"adminNotes"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	items := make([]services.ManualOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ManualOrderItem{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}

	order, err := h.orders.CreateManualOrder(ctx, services.CreateManualOrderCommand{
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   req.PaymentStatus,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		TaxRate:         req.TaxRate,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		Notes:           req.Notes,
		AdminNotes:      req.AdminNotes,
		Actor:           actorFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderCreatedResponse{
		Order:       buildOrderPayload(order),
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
	})
}

type batchRequest struct {
	Operation string         `json:"operation"`
	OrderIDs  []string       `json:"orderIds"`
	Data      map[string]any `json:"data"`
}

func (h *OrderHandlers) runBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.batch == nil {
		httpx.WriteError(ctx, w, httpx.NewError("batch_service_unavailable", "batch service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req batchRequest
	if err := decodeJSONBody(r, maxBatchBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.batch.Run(ctx, services.BatchCommand{
		Operation: req.Operation,
		OrderIDs:  req.OrderIDs,
		Data:      req.Data,
		Actor:     actorFromRequest(r),
	})
	if err != nil {
		if writeViolations(ctx, w, "invalid_batch", err) {
			return
		}
		if errors.Is(err, services.ErrBatchInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_batch", err.Error(), http.StatusBadRequest))
			return
		}
		writeInternalError(ctx, w, "batch_error", err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildBatchPayload(result))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		if writeViolations(ctx, w, "invalid_request", err) {
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		writeInternalError(ctx, w, "order_error", err)
	}
}

type orderItemPayload struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Total     float64 `json:"total"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber"`
	CustomerID      *string            `json:"customerId"`
	CustomerName    string             `json:"customerName,omitempty"`
	CustomerEmail   *string            `json:"customerEmail"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"paymentStatus"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	Subtotal        float64            `json:"subtotal"`
	Tax             float64            `json:"tax"`
	Shipping        float64            `json:"shipping"`
	Discount        float64            `json:"discount"`
	Total           float64            `json:"total"`
	TaxRate         float64            `json:"taxRate"`
	ShippingAddress map[string]any     `json:"shippingAddress,omitempty"`
	BillingAddress  map[string]any     `json:"billingAddress,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	AdminNotes      string             `json:"adminNotes,omitempty"`
	TrackingNumber  *string            `json:"trackingNumber"`
	Items           []orderItemPayload `json:"items,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
	DeliveredAt     *string            `json:"deliveredAt"`
	ArchivedAt      *string            `json:"archivedAt"`
}

type paginationPayload struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type orderStatsPayload struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"byStatus"`
	Revenue     float64        `json:"revenue"`
	PaidRevenue float64        `json:"paidRevenue"`
}

type orderListResponse struct {
	Orders     []orderPayload    `json:"orders"`
	Pagination paginationPayload `json:"pagination"`
	Stats      orderStatsPayload `json:"stats"`
}

type auditRecordPayload struct {
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"oldValues"`
	NewValues  map[string]any `json:"newValues"`
	Note       string         `json:"note,omitempty"`
	Actor      string         `json:"actor"`
	OccurredAt string         `json:"occurredAt"`
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	OldValues map[string]any `json:"oldValues"`
	NewValues map[string]any `json:"newValues"`
	Note      string         `json:"note,omitempty"`
	Actor     string         `json:"actor"`
	CreatedAt string         `json:"createdAt"`
}

type orderUpdateResponse struct {
	Order orderPayload        `json:"order"`
	Audit *auditRecordPayload `json:"audit"`
}

type orderDetailResponse struct {
	Order orderPayload        `json:"order"`
	Audit []auditEntryPayload `json:"audit,omitempty"`
}

type orderCreatedResponse struct {
	Order       orderPayload `json:"order"`
	OrderNumber string       `json:"orderNumber"`
	Total       float64      `json:"total"`
}

type batchSuccessPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

type batchResponse struct {
	Operation    string                  `json:"operation"`
	Processed    int                     `json:"processed"`
	Errors       int                     `json:"errors"`
	Success      []batchSuccessPayload   `json:"success"`
	ErrorDetails []services.BatchFailure `json:"errorDetails"`
	Duplicates   int                     `json:"duplicates"`
	Total        int                     `json:"total"`
	Data         []map[string]any        `json:"data,omitempty"`
}

func buildBatchPayload(result services.BatchResult) batchResponse {
	success := make([]batchSuccessPayload, 0, len(result.Success))
	for _, item := range result.Success {
		success = append(success, batchSuccessPayload{
			ID:            item.Order.ID,
			OrderNumber:   item.ID,
			Status:        string(item.Order.Status),
			PaymentStatus: string(item.Order.PaymentStatus),
		})
	}
	failures := result.ErrorDetails
	if failures == nil {
		failures = []services.BatchFailure{}
	}
	return batchResponse{
		Operation:    string(result.Operation),
		Processed:    result.Processed,
		Errors:       result.Errors,
		Success:      success,
		ErrorDetails: failures,
		Duplicates:   result.Duplicates,
		Total:        result.Total,
		Data:         result.ExportRows,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   order.PaymentMethod,
		Subtotal:        order.Subtotal,
		Tax:             order.Tax,
		Shipping:        order.Shipping,
		Discount:        order.Discount,
		Total:           order.Total,
		TaxRate:         order.TaxRate,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Notes:           order.Notes,
		AdminNotes:      order.AdminNotes,
		TrackingNumber:  order.TrackingNumber,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		ArchivedAt:      formatTimePtr(order.ArchivedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return payload
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const (
	defaultBatchMaxIDs       = 500
	defaultBatchPreviewSize  = 10
	batchOutcomeSuccess      = "success"
	batchOutcomeFailure      = "failure"
	batchEventCompleted      = "batch.completed"
	batchEventItemUnexpected = "batch.item.unexpected_error"
)

// ErrBatchInvalidInput marks structurally invalid batch requests.
var ErrBatchInvalidInput = errors.New("batch: invalid input")

// BatchMetrics observes per-item batch outcomes.
type BatchMetrics interface {
	BatchItem(operation, outcome string)
}

// BatchServiceDeps bundles collaborators for the batch orchestrator.
type BatchServiceDeps struct {
	Orders      OrderService
	Repository  repositories.OrderRepository
	Items       repositories.OrderItemRepository
	MaxIDs      int
	PreviewSize int
	Metrics     BatchMetrics
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type batchService struct {
	orders      OrderService
	repo        repositories.OrderRepository
	items       repositories.OrderItemRepository
	maxIDs      int
	previewSize int
	metrics     BatchMetrics
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewBatchService constructs the batch orchestrator.
func NewBatchService(deps BatchServiceDeps) (BatchService, error) {
	if deps.Orders == nil {
		return nil, errors.New("batch service: order service is required")
	}
	if deps.Repository == nil {
		return nil, errors.New("batch service: order repository is required")
	}
	maxIDs := deps.MaxIDs
	if maxIDs <= 0 {
		maxIDs = defaultBatchMaxIDs
	}
	preview := deps.PreviewSize
	if preview <= 0 {
		preview = defaultBatchPreviewSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &batchService{
		orders:      deps.Orders,
		repo:        deps.Repository,
		items:       deps.Items,
		maxIDs:      maxIDs,
		previewSize: preview,
		metrics:     deps.Metrics,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

func (s *batchService) Run(ctx context.Context, cmd BatchCommand) (BatchResult, error) {
	op := BatchOperation(strings.ToLower(strings.TrimSpace(cmd.Operation)))
	ids, duplicates := dedupeIDs(cmd.OrderIDs)

	var violations []Violation
	switch op {
	case "":
		violations = append(violations, Violation{Field: "operation", Error: "is required"})
	case BatchStatusUpdate, BatchPaymentStatusUpdate, BatchArchive, BatchExport:
	default:
		violations = append(violations, Violation{Field: "operation", Value: cmd.Operation, Error: "is not supported"})
	}
	if len(ids) == 0 {
		violations = append(violations, Violation{Field: "orderIds", Error: "at least one order id is required"})
	}
	if len(ids) > s.maxIDs {
		violations = append(violations, Violation{Field: "orderIds", Value: fmt.Sprint(len(ids)), Error: fmt.Sprintf("at most %d order ids are allowed", s.maxIDs)})
	}

	status := dataString(cmd.Data, "status")
	payment := dataString(cmd.Data, "paymentStatus", "payment_status")
	switch op {
	case BatchStatusUpdate:
		if status == "" {
			violations = append(violations, Violation{Field: "data.status", Error: "is required"})
		} else {
			violations = append(violations, prefixViolations("data.", ValidateOrderUpdate(OrderUpdateFields{Status: &status}))...)
		}
	case BatchPaymentStatusUpdate:
		if payment == "" {
			violations = append(violations, Violation{Field: "data.paymentStatus", Error: "is required"})
		} else {
			violations = append(violations, prefixViolations("data.", ValidateOrderUpdate(OrderUpdateFields{PaymentStatus: &payment}))...)
		}
	}
	if len(violations) > 0 {
		return BatchResult{}, &ViolationError{Err: ErrBatchInvalidInput, Violations: violations}
	}

	// A client disconnect must not abandon a half-applied batch.
	ctx = context.WithoutCancel(ctx)
	started := s.clock()

	result := BatchResult{
		Operation:  op,
		Total:      len(ids),
		Duplicates: duplicates,
	}
	if op == BatchExport {
		s.runExport(ctx, ids, &result)
	} else {
		note := dataString(cmd.Data, "note", "adminNote")
		for _, id := range ids {
			update := UpdateOrderCommand{OrderNumber: id, Actor: cmd.Actor, AuditNote: note, AuditAction: string(op)}
			switch op {
			case BatchStatusUpdate:
				update.Status = valuePtr(status)
				if tracking := dataString(cmd.Data, "trackingNumber", "tracking_number"); tracking != "" {
					update.TrackingNumber = valuePtr(tracking)
				}
			case BatchPaymentStatusUpdate:
				update.PaymentStatus = valuePtr(payment)
			case BatchArchive:
				update.Status = valuePtr(string(domain.OrderStatusArchived))
			}
			updated, err := s.orders.UpdateOrder(ctx, update)
			if err != nil {
				s.fail(ctx, &result, id, err)
				continue
			}
			s.succeed(&result, BatchItem{ID: id, Order: updated.Order})
		}
	}

	s.logger(ctx, batchEventCompleted, map[string]any{
		"operation":  string(op),
		"total":      result.Total,
		"processed":  result.Processed,
		"errors":     result.Errors,
		"duplicates": result.Duplicates,
		"durationMs": s.clock().Sub(started).Milliseconds(),
	})
	return result, nil
}

// runExport loads every requested order in one query and flattens it into an export row.
func (s *batchService) runExport(ctx context.Context, ids []string, result *BatchResult) {
	orders, err := s.repo.FindByNumbers(ctx, ids)
	if err != nil {
		for _, id := range ids {
			s.fail(ctx, result, id, err)
		}
		return
	}
	byNumber := make(map[string]Order, len(orders))
	orderIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		byNumber[order.OrderNumber] = order
		orderIDs = append(orderIDs, order.ID)
	}

	var items map[string][]OrderItem
	if s.items != nil && len(orderIDs) > 0 {
		if loaded, err := s.items.ListByOrders(ctx, orderIDs); err == nil {
			items = loaded
		} else {
			s.logger(ctx, "batch.export.items_unavailable", map[string]any{"error": err.Error()})
		}
	}

	result.ExportRows = make([]map[string]any, 0, len(orders))
	for _, id := range ids {
		order, ok := byNumber[id]
		if !ok {
			s.fail(ctx, result, id, fmt.Errorf("%w: %s", ErrOrderNotFound, id))
			continue
		}
		order.Items = items[order.ID]
		result.ExportRows = append(result.ExportRows, flattenOrder(order))
		s.succeed(result, BatchItem{ID: id, Order: order})
	}
}

func (s *batchService) succeed(result *BatchResult, item BatchItem) {
	result.Processed++
	if len(result.Success) < s.previewSize {
		result.Success = append(result.Success, item)
	}
	if s.metrics != nil {
		s.metrics.BatchItem(string(result.Operation), batchOutcomeSuccess)
	}
}

func (s *batchService) fail(ctx context.Context, result *BatchResult, id string, err error) {
	result.Errors++
	result.ErrorDetails = append(result.ErrorDetails, BatchFailure{ID: id, Error: s.itemErrorMessage(ctx, id, err)})
	if s.metrics != nil {
		s.metrics.BatchItem(string(result.Operation), batchOutcomeFailure)
	}
}

// itemErrorMessage turns known failures into caller-facing text; anything else is logged and masked.
func (s *batchService) itemErrorMessage(ctx context.Context, id string, err error) string {
	if violations := ViolationsFrom(err); len(violations) > 0 {
		v := violations[0]
		return fmt.Sprintf("%s %s", v.Field, v.Error)
	}
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, ErrOrderInvalidState):
		return strings.TrimPrefix(err.Error(), ErrOrderInvalidState.Error()+": ")
	case errors.Is(err, ErrOrderConflict):
		return "order was modified concurrently"
	}
	s.logger(ctx, batchEventItemUnexpected, map[string]any{"id": id, "error": err.Error()})
	return "internal error"
}

// flattenOrder produces a denormalised export row. Embedded JSON is read defensively.
func flattenOrder(order Order) map[string]any {
	notes := parseNotes(order.Notes)
	row := map[string]any{
		"order_number":    order.OrderNumber,
		"status":          string(order.Status),
		"payment_status":  string(order.PaymentStatus),
		"payment_method":  order.PaymentMethod,
		"customer_name":   order.CustomerName,
		"customer_email":  firstNonEmpty(derefString(order.CustomerEmail), notes.Email, stringField(order.ShippingAddress, "email")),
		"subtotal":        order.Subtotal,
		"tax":             order.Tax,
		"shipping":        order.Shipping,
		"discount":        order.Discount,
		"total":           order.Total,
		"tracking_number": derefString(order.TrackingNumber),
		"created_at":      order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.DeliveredAt != nil {
		row["delivered_at"] = order.DeliveredAt.UTC().Format(time.RFC3339)
	}
	for _, key := range sortedKeys(order.ShippingAddress) {
		switch v := order.ShippingAddress[key].(type) {
		case string, float64, bool:
			row["shipping_"+key] = v
		}
	}

	var summary []string
	count := 0
	if len(order.Items) > 0 {
		for _, item := range order.Items {
			summary = append(summary, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
			count += item.Quantity
		}
	} else {
		for _, item := range notes.Items {
			summary = append(summary, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
			count += item.Quantity
		}
	}
	row["item_count"] = count
	row["items"] = strings.Join(summary, "; ")
	return row
}

func dedupeIDs(raw []string) ([]string, int) {
	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	duplicates := 0
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			duplicates++
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, duplicates
}

func dataString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(data, key); v != "" {
			return v
		}
	}
	return ""
}

func prefixViolations(prefix string, violations []Violation) []Violation {
	for i := range violations {
		violations[i].Field = prefix + violations[i].Field
	}
	return violations
}

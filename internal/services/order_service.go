package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const (
	orderEventUpdated      = "order.updated"
	orderEventCreated      = "order.created"
	orderEventCompensated  = "order.compensated"
	orderEventCompensation = "order.compensation.failed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	auditIDPrefix     = "aud_"

	defaultOrderNumberPrefix = "ORD"
	orderNumberRandomLength  = 6
	maxOrderListLimit        = 100
	defaultOrderListLimit    = 20
	maxManualOrderItems      = 100
	maxNotesLength           = 4000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates a transition the state machine does not allow.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a uniqueness or concurrency conflict.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInsufficientStock indicates a product cannot cover the requested quantity.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded, domain.OrderStatusArchived},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded, domain.OrderStatusArchived},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded, domain.OrderStatusArchived},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded, domain.OrderStatusArchived},
	domain.OrderStatusCancelled:  {domain.OrderStatusRefunded, domain.OrderStatusArchived},
	domain.OrderStatusRefunded:   {domain.OrderStatusArchived},
}

// refunds require money to have been captured first
var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending:           {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:            {domain.PaymentStatusPending, domain.PaymentStatusPaid},
	domain.PaymentStatusPaid:              {domain.PaymentStatusRefunded, domain.PaymentStatusPartiallyRefunded},
	domain.PaymentStatusPartiallyRefunded: {domain.PaymentStatusRefunded},
}

var auditSensitiveKeys = []string{"customer_email", "email"}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Items          repositories.OrderItemRepository
	Products       repositories.ProductRepository
	UnitOfWork     repositories.UnitOfWork
	Audit          AuditLogService
	Notifier       NotificationDispatcher
	SideEffects    SideEffectQueue
	NumberPrefix   string
	DefaultTaxRate float64
	Clock          func() time.Time
	IDGenerator    func() string
	Random         io.Reader
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	items         repositories.OrderItemRepository
	products      repositories.ProductRepository
	unitOfWork    repositories.UnitOfWork
	transactional bool
	audit         AuditLogService
	notifier      NotificationDispatcher
	sideEffects   SideEffectQueue
	numberPrefix  string
	taxRate       float64
	clock         func() time.Time
	newID         func() string
	random        io.Reader
	policy        *bluemonday.Policy
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("order service: order item repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.DefaultTaxRate < 0 || deps.DefaultTaxRate > 1 {
		return nil, fmt.Errorf("order service: default tax rate %v out of range", deps.DefaultTaxRate)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	random := deps.Random
	if random == nil {
		random = rand.Reader
	}

	sideEffects := deps.SideEffects
	if sideEffects == nil {
		sideEffects = inlineSideEffects{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.NumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	return &orderService{
		orders:        deps.Orders,
		items:         deps.Items,
		products:      deps.Products,
		unitOfWork:    unit,
		transactional: isTransactional(unit),
		audit:         deps.Audit,
		notifier:      deps.Notifier,
		sideEffects:   sideEffects,
		numberPrefix:  prefix,
		taxRate:       deps.DefaultTaxRate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		random: random,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderUpdateResult, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		return OrderUpdateResult{}, &ViolationError{
			Err:        ErrOrderInvalidInput,
			Violations: []Violation{{Field: "orderId", Error: "is required"}},
		}
	}
	if violations := ValidateOrderUpdate(OrderUpdateFields{Status: cmd.Status, PaymentStatus: cmd.PaymentStatus}); len(violations) > 0 {
		return OrderUpdateResult{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: violations}
	}

	current, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return OrderUpdateResult{}, s.mapRepositoryError(err)
	}

	var (
		targetStatus  *domain.OrderStatus
		targetPayment *domain.PaymentStatus
	)
	if cmd.Status != nil {
		status, _ := domain.ParseOrderStatus(*cmd.Status)
		targetStatus = &status
	}
	if cmd.PaymentStatus != nil {
		payment, _ := domain.ParsePaymentStatus(*cmd.PaymentStatus)
		targetPayment = &payment
	}

	if current.Status.IsTerminal() {
		onlyArchive := targetStatus != nil && *targetStatus == domain.OrderStatusArchived &&
			cmd.PaymentStatus == nil && cmd.TrackingNumber == nil && cmd.Notes == nil && cmd.AdminNotes == nil
		if !onlyArchive {
			return OrderUpdateResult{}, fmt.Errorf("%w: order %s is archived", ErrOrderInvalidState, orderNumber)
		}
		return OrderUpdateResult{Order: current}, nil
	}

	now := s.now()
	patch := domain.OrderPatch{UpdatedAt: now}
	oldValues := map[string]any{}
	newValues := map[string]any{}

	if targetStatus != nil {
		if !canTransition(current.Status, *targetStatus) {
			return OrderUpdateResult{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrOrderInvalidState, current.Status, *targetStatus)
		}
		patch.Status = targetStatus
		if *targetStatus != current.Status {
			oldValues["status"] = string(current.Status)
			newValues["status"] = string(*targetStatus)
		}
		if *targetStatus == domain.OrderStatusDelivered && current.DeliveredAt == nil {
			patch.DeliveredAt = valuePtr(now)
			newValues["delivered_at"] = now
		}
		if *targetStatus == domain.OrderStatusArchived && current.ArchivedAt == nil {
			patch.ArchivedAt = valuePtr(now)
			newValues["archived_at"] = now
		}
	}

	if targetPayment != nil {
		if !canTransitionPayment(current.PaymentStatus, *targetPayment) {
			return OrderUpdateResult{}, fmt.Errorf("%w: cannot move payment from %s to %s", ErrOrderInvalidState, current.PaymentStatus, *targetPayment)
		}
		patch.PaymentStatus = targetPayment
		if *targetPayment != current.PaymentStatus {
			oldValues["payment_status"] = string(current.PaymentStatus)
			newValues["payment_status"] = string(*targetPayment)
		}
	}

	previousTracking := derefString(current.TrackingNumber)
	if cmd.TrackingNumber != nil {
		tracking := sanitizeText(*cmd.TrackingNumber, 128)
		patch.TrackingNumber = &tracking
		if tracking != previousTracking {
			oldValues["tracking_number"] = previousTracking
			newValues["tracking_number"] = tracking
		}
	}
	if cmd.Notes != nil {
		notes := s.sanitizeNotes(*cmd.Notes)
		patch.Notes = &notes
		if notes != current.Notes {
			oldValues["notes"] = current.Notes
			newValues["notes"] = notes
		}
	}
	if cmd.AdminNotes != nil {
		adminNotes := s.sanitizeNotes(*cmd.AdminNotes)
		patch.AdminNotes = &adminNotes
		if adminNotes != current.AdminNotes {
			oldValues["admin_notes"] = current.AdminNotes
			newValues["admin_notes"] = adminNotes
		}
	}

	var updated Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var updateErr error
		updated, updateErr = s.orders.Update(txCtx, current.ID, patch)
		if updateErr != nil {
			return s.mapRepositoryError(updateErr)
		}
		return nil
	})
	if err != nil {
		return OrderUpdateResult{}, err
	}

	action := strings.TrimSpace(cmd.AuditAction)
	if action == "" {
		action = domain.AuditActionStatusUpdate
	}
	record := &AuditRecord{
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		Action:        action,
		Old:           oldValues,
		New:           newValues,
		Note:          cmd.AuditNote,
		Actor:         cmd.Actor,
		SensitiveKeys: auditSensitiveKeys,
		OccurredAt:    now,
	}

	statusChanged := updated.Status != current.Status
	trackingChanged := derefString(updated.TrackingNumber) != previousTracking
	s.dispatchSideEffects(ctx, *record, OrderTransition{
		Order:            updated,
		PreviousStatus:   current.Status,
		PreviousTracking: previousTracking,
	}, statusChanged || trackingChanged)

	s.logger(ctx, orderEventUpdated, map[string]any{
		"orderNumber": updated.OrderNumber,
		"from":        string(current.Status),
		"to":          string(updated.Status),
		"action":      action,
	})

	return OrderUpdateResult{
		Order:   updated,
		Audit:   record,
		Changed: len(newValues) > 0,
	}, nil
}

func (s *orderService) CreateManualOrder(ctx context.Context, cmd CreateManualOrderCommand) (Order, error) {
	if violations := validateManualOrder(cmd); len(violations) > 0 {
		return Order{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: violations}
	}

	taxRate := s.taxRate
	if cmd.TaxRate != nil {
		taxRate = *cmd.TaxRate
	}
	paymentStatus := domain.PaymentStatusPending
	if raw := strings.TrimSpace(cmd.PaymentStatus); raw != "" {
		parsed, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return Order{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
				Field: "paymentStatus", Value: raw, Error: "must be one of " + joinStatuses(domain.PaymentStatuses),
			}}}
		}
		paymentStatus = parsed
	}

	// Products are re-read here; stock is enforced again by the conditional decrement.
	requested := make(map[string]int, len(cmd.Items))
	productIDs := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		id := strings.TrimSpace(item.ProductID)
		if _, seen := requested[id]; !seen {
			productIDs = append(productIDs, id)
		}
		requested[id] += item.Quantity
	}
	products := make(map[string]Product, len(requested))
	for _, productID := range productIDs {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return Order{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
					Field: "items", Value: productID, Error: fmt.Sprintf("product %s not found", productID),
				}}}
			}
			return Order{}, s.mapRepositoryError(err)
		}
		if !product.Active {
			return Order{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
				Field: "items", Value: productID, Error: fmt.Sprintf("product %s is not available", product.Name),
			}}}
		}
		if product.TrackInventory && requested[productID] > product.StockQuantity {
			return Order{}, fmt.Errorf("%w: %s has %d in stock, %d requested", ErrOrderInsufficientStock, product.Name, product.StockQuantity, requested[productID])
		}
		products[productID] = product
	}

	pricingItems := make([]domain.ItemPricingBreakdown, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		product := products[strings.TrimSpace(item.ProductID)]
		pricingItems = append(pricingItems, domain.ItemPricingBreakdown{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
	}
	pricing := domain.PriceOrder(pricingItems, taxRate, cmd.Shipping, cmd.Discount)
	if pricing.Total < 0 {
		return Order{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
			Field: "discount", Value: strconv.FormatFloat(cmd.Discount, 'f', 2, 64), Error: "exceeds order value",
		}}}
	}

	now := s.now()
	orderNumber, err := s.generateOrderNumber(now)
	if err != nil {
		return Order{}, fmt.Errorf("order: generate number: %w", err)
	}

	created := Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     orderNumber,
		CustomerID:      cmd.CustomerID,
		CustomerName:    sanitizeText(cmd.CustomerName, 200),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   paymentStatus,
		PaymentMethod:   strings.ToLower(strings.TrimSpace(cmd.PaymentMethod)),
		Subtotal:        pricing.Subtotal,
		Tax:             pricing.Tax,
		Shipping:        pricing.Shipping,
		Discount:        pricing.Discount,
		Total:           pricing.Total,
		TaxRate:         taxRate,
		ShippingAddress: cloneMap(cmd.ShippingAddress),
		BillingAddress:  cloneMap(cmd.BillingAddress),
		Notes:           s.sanitizeNotes(cmd.Notes),
		AdminNotes:      s.sanitizeNotes(cmd.AdminNotes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if email := strings.TrimSpace(cmd.CustomerEmail); email != "" {
		created.CustomerEmail = valuePtr(strings.ToLower(email))
	}
	for i, line := range pricing.Items {
		product := products[line.ProductID]
		created.Items = append(created.Items, OrderItem{
			ID:        orderItemIDPrefix + s.newID(),
			OrderID:   created.ID,
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  pricingItems[i].Quantity,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
		})
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, created); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.items.InsertBatch(txCtx, created.Items); err != nil {
			s.compensate(ctx, created, nil, "insert_items", err)
			return s.mapRepositoryError(err)
		}
		var decremented []stockDecrement
		for _, productID := range productIDs {
			product := products[productID]
			if !product.TrackInventory {
				continue
			}
			if err := s.products.DecrementStock(txCtx, productID, requested[productID]); err != nil {
				s.compensate(ctx, created, decremented, "decrement_stock", err)
				var stockErr *repositories.StockError
				if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient {
					return fmt.Errorf("%w: %s sold out while placing the order", ErrOrderInsufficientStock, product.Name)
				}
				return s.mapRepositoryError(err)
			}
			decremented = append(decremented, stockDecrement{productID: productID, quantity: requested[productID]})
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	snapshot := map[string]any{
		"status":         string(created.Status),
		"payment_status": string(created.PaymentStatus),
		"total":          created.Total,
		"items":          len(created.Items),
	}
	if created.CustomerEmail != nil {
		snapshot["customer_email"] = *created.CustomerEmail
	}
	s.dispatchSideEffects(ctx, AuditRecord{
		OrderID:       created.ID,
		OrderNumber:   created.OrderNumber,
		Action:        domain.AuditActionManualCreation,
		New:           snapshot,
		Actor:         cmd.Actor,
		SensitiveKeys: auditSensitiveKeys,
		OccurredAt:    now,
	}, OrderTransition{}, false)

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderNumber": created.OrderNumber,
		"total":       created.Total,
		"items":       len(created.Items),
	})
	return created, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (OrderListResult, error) {
	repoFilter, err := normalizeOrderListFilter(filter)
	if err != nil {
		return OrderListResult{}, err
	}
	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return OrderListResult{}, s.mapRepositoryError(err)
	}
	stats, err := s.orders.Stats(ctx, repoFilter)
	if err != nil {
		return OrderListResult{}, s.mapRepositoryError(err)
	}
	return OrderListResult{Page: page, Stats: stats}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	items, err := s.items.ListByOrders(ctx, []string{order.ID})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Items = items[order.ID]
	return order, nil
}

// dispatchSideEffects queues the audit entry and, when the customer-visible state changed, the notification.
func (s *orderService) dispatchSideEffects(ctx context.Context, record AuditRecord, transition OrderTransition, notify bool) {
	if s.audit != nil {
		audit := s.audit
		s.sideEffects.Enqueue(ctx, SideEffectTask{
			Kind: "audit",
			Run: func(taskCtx context.Context) error {
				audit.Record(taskCtx, record)
				return nil
			},
		})
	}
	if notify && s.notifier != nil {
		notifier := s.notifier
		s.sideEffects.Enqueue(ctx, SideEffectTask{
			Kind: "notification",
			Run: func(taskCtx context.Context) error {
				result := notifier.Notify(taskCtx, transition)
				if result.Status == DispatchFailed {
					return errors.New(result.Reason)
				}
				return nil
			},
		})
	}
}

// compensate removes a partially created order when the store cannot roll back.
type stockDecrement struct {
	productID string
	quantity  int
}

// compensate undoes a partially applied creation on stores without transactions. Stock taken for
// earlier lines goes back before the order row is removed.
func (s *orderService) compensate(ctx context.Context, order Order, decremented []stockDecrement, step string, cause error) {
	if s.transactional {
		return
	}
	detached := context.WithoutCancel(ctx)
	fields := map[string]any{
		"orderNumber": order.OrderNumber,
		"step":        step,
		"cause":       cause.Error(),
	}
	var restockFailures []string
	for _, d := range decremented {
		if err := s.products.RestockStock(detached, d.productID, d.quantity); err != nil {
			restockFailures = append(restockFailures, d.productID+": "+err.Error())
		}
	}
	if len(restockFailures) > 0 {
		fields["restockErrors"] = restockFailures
	}
	if err := s.orders.Delete(detached, order.ID); err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, orderEventCompensation, fields)
		return
	}
	if len(restockFailures) > 0 {
		s.logger(ctx, orderEventCompensation, fields)
		return
	}
	s.logger(ctx, orderEventCompensated, fields)
}

func (s *orderService) sanitizeNotes(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if json.Valid([]byte(raw)) {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			if encoded, err := json.Marshal(s.sanitizeJSONValue(decoded)); err == nil {
				return string(encoded)
			}
		}
	}
	return s.sanitizeString(raw, maxNotesLength)
}

func (s *orderService) sanitizeJSONValue(value any) any {
	switch v := value.(type) {
	case string:
		return s.sanitizeString(v, maxNotesLength)
	case map[string]any:
		for key, inner := range v {
			v[key] = s.sanitizeJSONValue(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = s.sanitizeJSONValue(inner)
		}
		return v
	default:
		return v
	}
}

func (s *orderService) sanitizeString(value string, limit int) string {
	return sanitizeText(html.UnescapeString(s.policy.Sanitize(value)), limit)
}

// generateOrderNumber builds PREFIX-XXXXXX-TTTTTTTT from random base36 characters and the creation time.
func (s *orderService) generateOrderNumber(now time.Time) (string, error) {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, orderNumberRandomLength)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return s.numberPrefix + "-" + string(buf) + "-" + stamp, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderInsufficientStock) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func validateManualOrder(cmd CreateManualOrderCommand) []Violation {
	var violations []Violation
	add := func(field, value, msg string) {
		violations = append(violations, Violation{Field: field, Value: value, Error: msg})
	}
	if strings.TrimSpace(cmd.CustomerName) == "" && strings.TrimSpace(cmd.CustomerEmail) == "" {
		add("customerName", "", "customer name or email is required")
	}
	if email := strings.TrimSpace(cmd.CustomerEmail); email != "" && !strings.Contains(email, "@") {
		add("customerEmail", email, "must be an email address")
	}
	if len(cmd.Items) == 0 {
		add("items", "", "at least one item is required")
	}
	if len(cmd.Items) > maxManualOrderItems {
		add("items", strconv.Itoa(len(cmd.Items)), fmt.Sprintf("at most %d items are allowed", maxManualOrderItems))
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			add(fmt.Sprintf("items[%d].productId", i), "", "is required")
		}
		if item.Quantity <= 0 {
			add(fmt.Sprintf("items[%d].quantity", i), strconv.Itoa(item.Quantity), "must be positive")
		}
	}
	if cmd.TaxRate != nil && (*cmd.TaxRate < 0 || *cmd.TaxRate > 1 || math.IsNaN(*cmd.TaxRate)) {
		add("taxRate", strconv.FormatFloat(*cmd.TaxRate, 'f', -1, 64), "must be between 0 and 1")
	}
	if cmd.Shipping < 0 || math.IsNaN(cmd.Shipping) {
		add("shipping", strconv.FormatFloat(cmd.Shipping, 'f', -1, 64), "must be non-negative")
	}
	if cmd.Discount < 0 || math.IsNaN(cmd.Discount) {
		add("discount", strconv.FormatFloat(cmd.Discount, 'f', -1, 64), "must be non-negative")
	}
	return violations
}

func normalizeOrderListFilter(filter OrderListFilter) (repositories.OrderListFilter, error) {
	out := repositories.OrderListFilter{
		Search:    strings.TrimSpace(filter.Search),
		SortBy:    strings.TrimSpace(filter.SortBy),
		Page:      filter.Page,
		Limit:     filter.Limit,
		SortOrder: domain.SortDesc,
	}
	for _, raw := range filter.Statuses {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return repositories.OrderListFilter{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
				Field: "status", Value: raw, Error: "must be one of " + joinStatuses(domain.OrderStatuses),
			}}}
		}
		if !slices.Contains(out.Statuses, status) {
			out.Statuses = append(out.Statuses, status)
		}
	}
	for _, raw := range filter.PaymentStatuses {
		status, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return repositories.OrderListFilter{}, &ViolationError{Err: ErrOrderInvalidInput, Violations: []Violation{{
				Field: "paymentStatus", Value: raw, Error: "must be one of " + joinStatuses(domain.PaymentStatuses),
			}}}
		}
		if !slices.Contains(out.PaymentStatus, status) {
			out.PaymentStatus = append(out.PaymentStatus, status)
		}
	}
	for _, method := range filter.PaymentMethods {
		if method = strings.ToLower(strings.TrimSpace(method)); method != "" {
			out.PaymentMethods = append(out.PaymentMethods, method)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return repositories.OrderListFilter{}, fmt.Errorf("%w: endDate must not precede startDate", ErrOrderInvalidInput)
	}
	out.CreatedRange = domain.RangeQuery[time.Time]{From: filter.From, To: filter.To}

	switch strings.ToLower(strings.TrimSpace(filter.SortOrder)) {
	case "", "desc":
	case "asc":
		out.SortOrder = domain.SortAsc
	default:
		return repositories.OrderListFilter{}, fmt.Errorf("%w: sortOrder must be asc or desc", ErrOrderInvalidInput)
	}
	if out.Page < 1 {
		out.Page = 1
	}
	switch {
	case out.Limit <= 0:
		out.Limit = defaultOrderListLimit
	case out.Limit > maxOrderListLimit:
		out.Limit = maxOrderListLimit
	}
	return out, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func canTransitionPayment(current, target domain.PaymentStatus) bool {
	if current == target {
		return true
	}
	next, ok := paymentStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

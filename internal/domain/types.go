package domain

import (
	"strings"
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OffsetPage packages list results with page-number based metadata.
type OffsetPage[T any] struct {
	Items []T
	Page  int
	Limit int
	Total int
}

// TotalPages reports the number of pages available for the configured limit.
func (p OffsetPage[T]) TotalPages() int {
	if p.Limit <= 0 || p.Total <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits handling.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusArchived is terminal; archived orders accept no further mutation.
	OrderStatusArchived OrderStatus = "archived"
)

// OrderStatuses lists every lifecycle state in display order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusArchived,
}

// ParseOrderStatus normalises raw input and reports whether it names a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range OrderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status forbids further mutation.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusArchived
}

// PaymentStatus enumerates payment states tracked alongside the order lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentStatuses lists every payment state.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusPartiallyRefunded,
}

// ParsePaymentStatus normalises raw input and reports whether it names a known payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	candidate := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range PaymentStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// Order is the persisted order record mutated by the admin engine.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      *string
	CustomerName    string
	CustomerEmail   *string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	Subtotal        float64
	Tax             float64
	Shipping        float64
	Discount        float64
	Total           float64
	TaxRate         float64
	ShippingAddress map[string]any
	BillingAddress  map[string]any
	Notes           string
	AdminNotes      string
	TrackingNumber  *string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeliveredAt     *time.Time
	ArchivedAt      *time.Time
}

// OrderItem captures a line item snapshot stored separately from the order row.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice float64
	Total     float64
}

// OrderPatch lists the columns changed by a single mutation. Nil fields are left untouched.
type OrderPatch struct {
	Status         *OrderStatus
	PaymentStatus  *PaymentStatus
	TrackingNumber *string
	Notes          *string
	AdminNotes     *string
	DeliveredAt    *time.Time
	ArchivedAt     *time.Time
	UpdatedAt      time.Time
}

// IsEmpty reports whether the patch changes anything beyond the update timestamp.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.TrackingNumber == nil &&
		p.Notes == nil && p.AdminNotes == nil && p.DeliveredAt == nil && p.ArchivedAt == nil
}

// OrderStats aggregates counts and revenue for the listing view.
type OrderStats struct {
	Total       int
	ByStatus    map[OrderStatus]int
	Revenue     float64
	PaidRevenue float64
}

// Product is a catalog entry targeted by import/export and manual order creation.
type Product struct {
	ID             string
	SKU            string
	Name           string
	Description    string
	Category       string
	ImageURL       string
	Price          float64
	StockQuantity  int
	TrackInventory bool
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Audit actions recorded against orders.
const (
	AuditActionStatusUpdate            = "status_update"
	AuditActionBulkStatusUpdate        = "bulk_status_update"
	AuditActionBulkPaymentStatusUpdate = "bulk_payment_status_update"
	AuditActionBulkArchive             = "bulk_archive"
	AuditActionManualCreation          = "manual_creation"
)

// OrderAuditEntry is an append-only before/after record of an order mutation.
type OrderAuditEntry struct {
	ID        string
	OrderID   string
	Action    string
	OldValues map[string]any
	NewValues map[string]any
	Note      string
	Actor     string
	CreatedAt time.Time
}

// ImportRow is a parsed delimited row keyed by normalised column name. Index is the physical line
// the record starts on. Malformed holds the parser's complaint when the record could not be split
// into fields; Values is empty then.
type ImportRow struct {
	Index     int
	Values    map[string]string
	Malformed string
}

// Violation describes one failed rule for a row or payload field.
type Violation struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
	Error string `json:"error"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Critical  bool
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

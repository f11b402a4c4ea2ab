package services

import (
	"context"
	"io"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	OrderStats         = domain.OrderStats
	Product            = domain.Product
	Violation          = domain.Violation
	ImportRow          = domain.ImportRow
	OrderAuditEntry    = domain.OrderAuditEntry
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService applies single-order mutations and serves the admin listing.
type OrderService interface {
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderUpdateResult, error)
	CreateManualOrder(ctx context.Context, cmd CreateManualOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (OrderListResult, error)
	GetOrder(ctx context.Context, orderNumber string) (Order, error)
}

// BatchService runs bulk operations over many orders with per-item isolation.
type BatchService interface {
	Run(ctx context.Context, cmd BatchCommand) (BatchResult, error)
}

// CatalogTransferService imports and exports catalog products as delimited files.
type CatalogTransferService interface {
	Import(ctx context.Context, cmd ImportCommand) (ImportResult, error)
	Export(ctx context.Context, cmd ExportCommand) (ExportResult, error)
}

// AuditLogService records order audit entries. Record never fails the caller.
type AuditLogService interface {
	Record(ctx context.Context, record AuditRecord)
	ListForOrder(ctx context.Context, orderID string, limit int) ([]OrderAuditEntry, error)
}

// NotificationDispatcher composes customer messages for order transitions.
type NotificationDispatcher interface {
	Notify(ctx context.Context, transition OrderTransition) DispatchResult
}

// SideEffectQueue accepts best-effort work that must not block the request.
type SideEffectQueue interface {
	Enqueue(ctx context.Context, task SideEffectTask) bool
}

// SystemService exposes health information for operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// UpdateOrderCommand carries a partial order update. Nil fields are left untouched.
type UpdateOrderCommand struct {
	OrderNumber    string
	Status         *string
	PaymentStatus  *string
	TrackingNumber *string
	Notes          *string
	AdminNotes     *string
	Actor          string
	AuditNote      string
	// AuditAction overrides the recorded action; defaults to status_update.
	AuditAction string
}

// OrderUpdateResult returns the persisted order and the audit entry queued for it.
type OrderUpdateResult struct {
	Order   Order
	Audit   *AuditRecord
	Changed bool
}

// ManualOrderItem references a catalog product and the quantity requested.
type ManualOrderItem struct {
	ProductID string
	Quantity  int
}

// CreateManualOrderCommand describes an order entered by an administrator.
type CreateManualOrderCommand struct {
	CustomerID      *string
	CustomerName    string
	CustomerEmail   string
	PaymentMethod   string
	PaymentStatus   string
	Items           []ManualOrderItem
	ShippingAddress map[string]any
	BillingAddress  map[string]any
	TaxRate         *float64
	Shipping        float64
	Discount        float64
	Notes           string
	AdminNotes      string
	Actor           string
}

// OrderListFilter captures raw listing parameters; the service validates and normalises them.
type OrderListFilter struct {
	Statuses        []string
	PaymentStatuses []string
	PaymentMethods  []string
	Search          string
	From            *time.Time
	To              *time.Time
	SortBy          string
	SortOrder       string
	Page            int
	Limit           int
}

// OrderListResult pairs a page of orders with aggregate statistics.
type OrderListResult struct {
	Page  domain.OffsetPage[Order]
	Stats OrderStats
}

// AuditRecord is the input to the audit logger.
type AuditRecord struct {
	OrderID       string
	OrderNumber   string
	Action        string
	Old           map[string]any
	New           map[string]any
	Note          string
	Actor         string
	SensitiveKeys []string
	OccurredAt    time.Time
}

// OrderTransition describes the before and after state handed to the notification dispatcher.
type OrderTransition struct {
	Order            Order
	PreviousStatus   OrderStatus
	PreviousTracking string
}

// DispatchResult reports what happened to a customer notification.
type DispatchResult struct {
	Status    string
	Recipient string
	MessageID string
	Reason    string
}

// Dispatch statuses.
const (
	DispatchSent    = "sent"
	DispatchSkipped = "skipped"
	DispatchFailed  = "failed"
)

// SideEffectTask is one unit of asynchronous work.
type SideEffectTask struct {
	Kind string
	Run  func(ctx context.Context) error
}

// BatchOperation names a bulk operation.
type BatchOperation string

const (
	BatchStatusUpdate        BatchOperation = "bulk_status_update"
	BatchPaymentStatusUpdate BatchOperation = "bulk_payment_status_update"
	BatchArchive             BatchOperation = "bulk_archive"
	BatchExport              BatchOperation = "bulk_export"
)

// BatchCommand is the structural input to the orchestrator.
type BatchCommand struct {
	Operation string
	OrderIDs  []string
	Data      map[string]any
	Actor     string
}

// BatchItem is one successful batch entry.
type BatchItem struct {
	ID    string
	Order Order
}

// BatchFailure records the error for a single identifier.
type BatchFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult aggregates per-item outcomes. Success is truncated to the preview size while
// ErrorDetails always lists every failure.
type BatchResult struct {
	Operation    BatchOperation
	Total        int
	Processed    int
	Errors       int
	Duplicates   int
	Success      []BatchItem
	ErrorDetails []BatchFailure
	ExportRows   []map[string]any
}

// ImportCommand describes a catalog upload.
type ImportCommand struct {
	Source      io.Reader
	Filename    string
	Delimiter   rune
	OnDuplicate string
	Actor       string
}

// ImportResult summarises an import run.
type ImportResult struct {
	RunID      string
	Total      int
	Success    int
	Failed     int
	Duplicates int
	Errors     []Violation
}

// ExportCommand selects the columns and rows of a catalog export.
type ExportCommand struct {
	Fields          []string
	Format          string
	IncludeImages   bool
	IncludeInactive bool
	Actor           string
}

// ExportResult is a rendered export file.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
	Fields      []string
	ArchiveURI  string
}

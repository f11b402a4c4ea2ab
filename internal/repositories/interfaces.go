package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	AuditLogs() AuditLogRepository
	Ping(ctx context.Context) error
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactionalUnit reports whether RunInTx provides rollback semantics. Stores without
// transactions rely on compensation instead.
type TransactionalUnit interface {
	UnitOfWork
	Transactional() bool
}

// OrderListFilter narrows the admin order listing.
type OrderListFilter struct {
	Statuses       []domain.OrderStatus
	PaymentStatus  []domain.PaymentStatus
	PaymentMethods []string
	Search         string
	CreatedRange   domain.RangeQuery[time.Time]
	SortBy         string
	SortOrder      domain.SortOrder
	Page           int
	Limit          int
}

// OrderRepository persists order rows. Lookups by order number are the mutation entry point.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// FindByNumbers returns the orders that exist; missing numbers are simply absent.
	FindByNumbers(ctx context.Context, orderNumbers []string) ([]domain.Order, error)
	Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error)
	// Delete removes an order. Deleting a missing order is not an error.
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[domain.Order], error)
	Stats(ctx context.Context, filter OrderListFilter) (domain.OrderStats, error)
}

// OrderItemRepository persists line items separately from orders.
type OrderItemRepository interface {
	InsertBatch(ctx context.Context, items []domain.OrderItem) error
	ListByOrders(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error)
}

// ProductListFilter controls export scans.
type ProductListFilter struct {
	IncludeInactive bool
	Limit           int
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) ([]domain.Product, error)
	// DecrementStock atomically subtracts quantity when enough stock remains. It returns a
	// StockError with StockErrorInsufficient when the conditional update touches no row.
	DecrementStock(ctx context.Context, productID string, quantity int) error
	// RestockStock adds quantity back, undoing an earlier DecrementStock.
	RestockStock(ctx context.Context, productID string, quantity int) error
}

// AuditLogRepository appends immutable order audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.OrderAuditEntry) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.OrderAuditEntry, error)
}

// HealthRepository aggregates dependency status for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

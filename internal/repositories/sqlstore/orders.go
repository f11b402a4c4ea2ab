package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const orderColumns = `id, order_number, customer_id, customer_name, customer_email, status, payment_status, payment_method,
subtotal, tax, shipping, discount, total, tax_rate, shipping_address, billing_address, notes, admin_notes,
tracking_number, created_at, updated_at, delivered_at, archived_at`

var orderSortColumns = map[string]string{
	"created_at":   "created_at",
	"createdat":    "created_at",
	"updated_at":   "updated_at",
	"updatedat":    "updated_at",
	"total":        "total",
	"order_number": "order_number",
	"ordernumber":  "order_number",
	"status":       "status",
}

// excluded from revenue figures
var nonRevenueStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusCancelled: true,
	domain.OrderStatusRefunded:  true,
}

type orderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	shipping, err := encodeJSON(order.ShippingAddress)
	if err != nil {
		return wrapError("orders.insert", err)
	}
	billing, err := encodeJSON(order.BillingAddress)
	if err != nil {
		return wrapError("orders.insert", err)
	}
	_, err = r.store.exec(ctx, `INSERT INTO orders (`+orderColumns+`)
VALUES (`+placeholders(23)+`)`,
		order.ID, order.OrderNumber, nullableArg(order.CustomerID), order.CustomerName, nullableArg(order.CustomerEmail),
		string(order.Status), string(order.PaymentStatus), order.PaymentMethod,
		order.Subtotal, order.Tax, order.Shipping, order.Discount, order.Total, order.TaxRate,
		shipping, billing, order.Notes, order.AdminNotes,
		nullableArg(order.TrackingNumber), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		nullableTime(order.DeliveredAt), nullableTime(order.ArchivedAt),
	)
	return wrapError("orders.insert", err)
}

func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	row := r.store.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = ?`, orderNumber)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderNumber)
	}
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return order, nil
}

func (r *orderRepository) findByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.store.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return order, nil
}

func (r *orderRepository) FindByNumbers(ctx context.Context, orderNumbers []string) ([]domain.Order, error) {
	if len(orderNumbers) == 0 {
		return nil, nil
	}
	args := make([]any, len(orderNumbers))
	for i, number := range orderNumbers {
		args[i] = number
	}
	rows, err := r.store.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, wrapError("orders.find_many", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *orderRepository) Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	sets := []string{"updated_at = ?"}
	args := []any{patch.UpdatedAt.UTC()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, string(*patch.PaymentStatus))
	}
	if patch.TrackingNumber != nil {
		sets = append(sets, "tracking_number = ?")
		args = append(args, *patch.TrackingNumber)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.AdminNotes != nil {
		sets = append(sets, "admin_notes = ?")
		args = append(args, *patch.AdminNotes)
	}
	if patch.DeliveredAt != nil {
		sets = append(sets, "delivered_at = COALESCE(delivered_at, ?)")
		args = append(args, patch.DeliveredAt.UTC())
	}
	if patch.ArchivedAt != nil {
		sets = append(sets, "archived_at = COALESCE(archived_at, ?)")
		args = append(args, patch.ArchivedAt.UTC())
	}
	args = append(args, orderID)

	res, err := r.store.exec(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.Order{}, notFound("orders.update", "order %s not found", orderID)
	}
	return r.findByID(ctx, orderID)
}

func (r *orderRepository) Delete(ctx context.Context, orderID string) error {
	if _, err := r.store.exec(ctx, `DELETE FROM order_items WHERE order_id = ?`, orderID); err != nil {
		return wrapError("orders.delete", err)
	}
	_, err := r.store.exec(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	return wrapError("orders.delete", err)
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	where, args := orderWhere(filter, true)

	var total int
	if err := r.store.queryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.OffsetPage[domain.Order]{}, wrapError("orders.count", err)
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	column, ok := orderSortColumns[strings.ToLower(strings.TrimSpace(filter.SortBy))]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if filter.SortOrder == domain.SortAsc {
		direction = "ASC"
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY ` + column + ` ` + direction + `, id ` + direction + ` LIMIT ? OFFSET ?`
	rows, err := r.store.query(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, wrapError("orders.list", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}
	return domain.OffsetPage[domain.Order]{Items: orders, Page: page, Limit: limit, Total: total}, nil
}

// Stats aggregates over the filter with the status restriction removed so every bucket is populated.
func (r *orderRepository) Stats(ctx context.Context, filter repositories.OrderListFilter) (domain.OrderStats, error) {
	where, args := orderWhere(filter, false)
	rows, err := r.store.query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total), 0),
COALESCE(SUM(CASE WHEN payment_status = 'paid' THEN total ELSE 0 END), 0)
FROM orders`+where+` GROUP BY status`, args...)
	if err != nil {
		return domain.OrderStats{}, wrapError("orders.stats", err)
	}
	defer rows.Close()

	stats := domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int, len(domain.OrderStatuses))}
	for _, status := range domain.OrderStatuses {
		stats.ByStatus[status] = 0
	}
	for rows.Next() {
		var (
			status      string
			count       int
			revenue     float64
			paidRevenue float64
		)
		if err := rows.Scan(&status, &count, &revenue, &paidRevenue); err != nil {
			return domain.OrderStats{}, wrapError("orders.stats", err)
		}
		st := domain.OrderStatus(status)
		stats.ByStatus[st] += count
		stats.Total += count
		if nonRevenueStatuses[st] {
			continue
		}
		stats.Revenue += revenue
		stats.PaidRevenue += paidRevenue
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, wrapError("orders.stats", err)
	}
	stats.Revenue = domain.RoundMoney(stats.Revenue)
	stats.PaidRevenue = domain.RoundMoney(stats.PaidRevenue)
	return stats, nil
}

func orderWhere(filter repositories.OrderListFilter, includeStatus bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if includeStatus && len(filter.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(filter.PaymentStatus) > 0 {
		conds = append(conds, "payment_status IN ("+placeholders(len(filter.PaymentStatus))+")")
		for _, status := range filter.PaymentStatus {
			args = append(args, string(status))
		}
	}
	if len(filter.PaymentMethods) > 0 {
		conds = append(conds, "LOWER(payment_method) IN ("+placeholders(len(filter.PaymentMethods))+")")
		for _, method := range filter.PaymentMethods {
			args = append(args, strings.ToLower(method))
		}
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		conds = append(conds, `(LOWER(order_number) LIKE ? ESCAPE '\' OR LOWER(COALESCE(customer_email, '')) LIKE ? ESCAPE '\' OR LOWER(customer_name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(tracking_number, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if filter.CreatedRange.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedRange.From.UTC())
	}
	if filter.CreatedRange.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.CreatedRange.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapError("orders.scan", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("orders.scan", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                 domain.Order
		customerID, customerEmail, tracking   sql.NullString
		status, paymentStatus                 string
		shipping, billing                     string
		createdAt, updatedAt, delivered, arch flexTime
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &customerID, &order.CustomerName, &customerEmail,
		&status, &paymentStatus, &order.PaymentMethod,
		&order.Subtotal, &order.Tax, &order.Shipping, &order.Discount, &order.Total, &order.TaxRate,
		&shipping, &billing, &order.Notes, &order.AdminNotes,
		&tracking, &createdAt, &updatedAt, &delivered, &arch,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.CustomerID = nullString(customerID)
	order.CustomerEmail = nullString(customerEmail)
	order.TrackingNumber = nullString(tracking)
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.ShippingAddress = decodeJSON(shipping)
	order.BillingAddress = decodeJSON(billing)
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time
	order.DeliveredAt = delivered.ptr()
	order.ArchivedAt = arch.ptr()
	return order, nil
}

package sqlstore

import (
	"context"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

type orderItemRepository struct {
	store *Store
}

var _ repositories.OrderItemRepository = (*orderItemRepository)(nil)

// InsertBatch writes all items in a single statement so a partial insert cannot be observed.
func (r *orderItemRepository) InsertBatch(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `INSERT INTO order_items (id, order_id, product_id, sku, name, quantity, unit_price, total) VALUES `
	args := make([]any, 0, len(items)*8)
	for i, item := range items {
		if i > 0 {
			query += ", "
		}
		query += "(" + placeholders(8) + ")"
		args = append(args, item.ID, item.OrderID, item.ProductID, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.Total)
	}
	_, err := r.store.exec(ctx, query, args...)
	return wrapError("order_items.insert", err)
}

func (r *orderItemRepository) ListByOrders(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	result := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	rows, err := r.store.query(ctx, `SELECT id, order_id, product_id, sku, name, quantity, unit_price, total
FROM order_items WHERE order_id IN (`+placeholders(len(args))+`) ORDER BY order_id, id`, args...)
	if err != nil {
		return nil, wrapError("order_items.list", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SKU, &item.Name, &item.Quantity, &item.UnitPrice, &item.Total); err != nil {
			return nil, wrapError("order_items.scan", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("order_items.scan", err)
	}
	return result, nil
}

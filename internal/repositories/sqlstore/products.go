package sqlstore

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const productColumns = `id, sku, name, description, category, image_url, price, stock_quantity, track_inventory, active, created_at, updated_at`

type productRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func (r *productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	row := r.store.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	product, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return domain.Product{}, notFound("products.get", "product %s not found", productID)
	}
	if err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return product, nil
}

func (r *productRepository) FindBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	args := make([]any, len(skus))
	for i, sku := range skus {
		args[i] = sku
	}
	rows, err := r.store.query(ctx, `SELECT `+productColumns+` FROM products WHERE sku IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, wrapError("products.find_skus", err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, wrapError("products.scan", err)
		}
		result[product.SKU] = product
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("products.scan", err)
	}
	return result, nil
}

// Upsert inserts by SKU or refreshes the mutable columns of an existing row. The stored ID and
// created_at of an existing product are preserved.
func (r *productRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	_, err := r.store.exec(ctx, `INSERT INTO products (`+productColumns+`)
VALUES (`+placeholders(12)+`)
ON CONFLICT (sku) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	category = excluded.category,
	image_url = excluded.image_url,
	price = excluded.price,
	stock_quantity = excluded.stock_quantity,
	track_inventory = excluded.track_inventory,
	active = excluded.active,
	updated_at = excluded.updated_at`,
		product.ID, product.SKU, product.Name, product.Description, product.Category, product.ImageURL,
		product.Price, product.StockQuantity, product.TrackInventory, product.Active,
		product.CreatedAt.UTC(), product.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.Product{}, wrapError("products.upsert", err)
	}
	row := r.store.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = ?`, product.SKU)
	saved, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, wrapError("products.upsert", err)
	}
	return saved, nil
}

func (r *productRepository) List(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if !filter.IncludeInactive {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY sku ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := r.store.query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("products.list", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, wrapError("products.scan", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("products.scan", err)
	}
	return products, nil
}

// DecrementStock is a single conditional UPDATE, so concurrent orders can never drive stock negative.
func (r *productRepository) DecrementStock(ctx context.Context, productID string, quantity int) error {
	const op = "products.decrement_stock"
	if quantity <= 0 {
		return nil
	}
	res, err := r.store.exec(ctx, `UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ?
WHERE id = ? AND stock_quantity >= ?`, quantity, time.Now().UTC(), productID, quantity)
	if err != nil {
		return wrapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.store.queryRow(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID, nil)
	case err != nil:
		return wrapError(op, err)
	default:
		return repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, nil)
	}
}

func (r *productRepository) RestockStock(ctx context.Context, productID string, quantity int) error {
	const op = "products.restock"
	if quantity <= 0 {
		return nil
	}
	res, err := r.store.exec(ctx, `UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = ? WHERE id = ?`,
		quantity, time.Now().UTC(), productID)
	if err != nil {
		return wrapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if affected == 0 {
		return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID, nil)
	}
	return nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product              domain.Product
		createdAt, updatedAt flexTime
	)
	err := row.Scan(
		&product.ID, &product.SKU, &product.Name, &product.Description, &product.Category, &product.ImageURL,
		&product.Price, &product.StockQuantity, &product.TrackInventory, &product.Active,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = createdAt.Time
	product.UpdatedAt = updatedAt.Time
	return product, nil
}

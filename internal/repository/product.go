package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/payment"
	"github.com/omena/store-api/internal/domain/product"
	"github.com/omena/store-api/internal/readmodel"
)

const (
	productColumns = `id, name, COALESCE(description, ''), COALESCE(material, ''), COALESCE(pattern, ''),
		price, COALESCE(stock, '{}'::jsonb), COALESCE(quantity, 0), COALESCE(image, ''), COALESCE(images, '[]'::jsonb)`

	listProductsSQL   = `SELECT ` + productColumns + ` FROM products ORDER BY id`
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getVariantSQL = `SELECT id, product_id, color, size, stock_quantity
		FROM product_variants WHERE product_id = $1 AND color = $2 AND size = $3`

	listVariantsSQL = `SELECT id, product_id, color, size, stock_quantity
		FROM product_variants WHERE product_id = $1 ORDER BY color, size`

	decrementVariantSQL = `UPDATE product_variants
		SET stock_quantity = GREATEST(stock_quantity - $2, 0) WHERE id = $1`

	sumVariantsSQL = `SELECT COALESCE(SUM(stock_quantity), 0) FROM product_variants WHERE product_id = $1`

	setProductQuantitySQL = `UPDATE products SET quantity = $2 WHERE id = $1`

	setProductStockSQL = `UPDATE products SET stock = $2, quantity = $3 WHERE id = $1`

	getLegacyStockSQL = `SELECT COALESCE(stock, '{}'::jsonb) FROM products WHERE id = $1`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ payment.Ledger     = (*ProductRepository)(nil)
	_ readmodel.Source   = (*ProductRepository)(nil)
)

// ProductRepository is the authoritative price/stock ledger backed by
// PostgreSQL: product reads, variant stock reads and clamped decrements.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetProduct implements the ledger read used by the payment auditor.
func (r *ProductRepository) GetProduct(ctx context.Context, id int64) (*product.Product, error) {
	return r.GetByID(ctx, id)
}

// GetVariant returns the variant stock record for the (color, size)
// pair, or nil when no variant row exists for the product.
func (r *ProductRepository) GetVariant(ctx context.Context, productID int64, color, size string) (*product.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantSQL,
		productID, product.NormalizeVariant(color), product.NormalizeVariant(size))
	if err != nil {
		return nil, fmt.Errorf("getting variant for product %d: %w", productID, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[product.Variant])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting variant for product %d: %w", productID, err)
	}
	return &v, nil
}

// DecrementStock reduces stock for a sold line, clamped at zero, and
// recomputes the product-level aggregate. Variant rows take precedence;
// products without variants fall back to the legacy per-size stock map.
//
// There is deliberately no lock between the audit read and this write:
// two concurrent purchases of the last unit can both pass the audit.
// The clamp keeps stock non-negative; the window is a known gap.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID int64, color, size string, qty int) error {
	color = product.NormalizeVariant(color)
	size = product.NormalizeVariant(size)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin stock decrement: %w", err)
	}
	defer tx.Rollback(ctx)

	variant, err := r.getVariantTx(ctx, tx, productID, color, size)
	if err != nil {
		return err
	}

	if variant != nil {
		if _, err := tx.Exec(ctx, decrementVariantSQL, variant.ID, qty); err != nil {
			return fmt.Errorf("decrementing variant %d: %w", variant.ID, err)
		}
		var total int
		if err := tx.QueryRow(ctx, sumVariantsSQL, productID).Scan(&total); err != nil {
			return fmt.Errorf("summing variants for product %d: %w", productID, err)
		}
		if _, err := tx.Exec(ctx, setProductQuantitySQL, productID, total); err != nil {
			return fmt.Errorf("updating product %d quantity: %w", productID, err)
		}
		return tx.Commit(ctx)
	}

	// Legacy path: per-size JSON map on the product row.
	var stockJSON []byte
	if err := tx.QueryRow(ctx, getLegacyStockSQL, productID).Scan(&stockJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return fmt.Errorf("reading legacy stock for product %d: %w", productID, err)
	}
	stock := map[string]int{}
	if err := json.Unmarshal(stockJSON, &stock); err != nil {
		return fmt.Errorf("decoding legacy stock for product %d: %w", productID, err)
	}

	key := ""
	if _, ok := stock[size]; ok {
		key = size
	} else if _, ok := stock[product.DefaultVariant]; ok {
		key = product.DefaultVariant
	}
	if key != "" {
		stock[key] -= qty
		if stock[key] < 0 {
			stock[key] = 0
		}
	}
	total := 0
	for _, v := range stock {
		total += v
	}

	updated, err := json.Marshal(stock)
	if err != nil {
		return fmt.Errorf("encoding legacy stock for product %d: %w", productID, err)
	}
	if _, err := tx.Exec(ctx, setProductStockSQL, productID, updated, total); err != nil {
		return fmt.Errorf("updating legacy stock for product %d: %w", productID, err)
	}
	return tx.Commit(ctx)
}

// Consolidated returns the product plus its variants in the shape
// pushed to the storefront read model.
func (r *ProductRepository) Consolidated(ctx context.Context, productID int64) (*readmodel.Product, error) {
	p, err := r.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, listVariantsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing variants for product %d: %w", productID, err)
	}
	variants, err := pgx.CollectRows(rows, pgx.RowToStructByPos[product.Variant])
	if err != nil {
		return nil, fmt.Errorf("listing variants for product %d: %w", productID, err)
	}

	price := 0.0
	if p.Price != nil {
		price = p.Price.InexactFloat64()
	}
	images := p.Images
	if len(images) == 0 && p.Image != "" {
		images = []string{p.Image}
	}

	out := &readmodel.Product{
		ID:          fmt.Sprintf("%d", p.ID),
		Name:        p.Name,
		Description: p.Description,
		Material:    p.Material,
		Print:       p.Pattern,
		Price:       price,
		Image:       p.Image,
		Images:      images,
		Variants:    make([]readmodel.Variant, len(variants)),
	}
	for i, v := range variants {
		out.Variants[i] = readmodel.Variant{
			Color: v.Color,
			Size:  v.Size,
			Stock: v.StockQuantity,
		}
	}
	return out, nil
}

func (r *ProductRepository) getVariantTx(ctx context.Context, tx pgx.Tx, productID int64, color, size string) (*product.Variant, error) {
	rows, err := tx.Query(ctx, getVariantSQL, productID, color, size)
	if err != nil {
		return nil, fmt.Errorf("getting variant for product %d: %w", productID, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[product.Variant])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting variant for product %d: %w", productID, err)
	}
	return &v, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p          product.Product
		price      *decimal.Decimal
		stockJSON  []byte
		imagesJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Material, &p.Pattern,
		&price, &stockJSON, &p.Quantity, &p.Image, &imagesJSON,
	)
	if err != nil {
		return p, err
	}
	p.Price = price

	if len(stockJSON) > 0 {
		if err := json.Unmarshal(stockJSON, &p.LegacyStock); err != nil {
			return p, fmt.Errorf("decoding stock map for product %d: %w", p.ID, err)
		}
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &p.Images); err != nil {
			return p, fmt.Errorf("decoding images for product %d: %w", p.ID, err)
		}
	}
	return p, nil
}

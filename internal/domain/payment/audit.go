package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/product"
)

// Ledger is the authoritative store of product price and stock.
type Ledger interface {
	// GetProduct returns the product row or product.ErrNotFound.
	GetProduct(ctx context.Context, id int64) (*product.Product, error)
	// GetVariant returns the variant stock record for the normalized
	// (color, size) pair, or nil when no variant row exists.
	GetVariant(ctx context.Context, productID int64, color, size string) (*product.Variant, error)
	// DecrementStock reduces the matched variant's stock (or the legacy
	// per-size map) by qty, clamped at zero, and recomputes the
	// product-level aggregate quantity.
	DecrementStock(ctx context.Context, productID int64, color, size string, qty int) error
}

// Auditor recomputes order value from trusted ledger prices and checks
// per-line stock sufficiency. Client-declared prices are ignored.
type Auditor struct {
	ledger Ledger
}

// NewAuditor creates an Auditor backed by the given Ledger.
func NewAuditor(ledger Ledger) *Auditor {
	return &Auditor{ledger: ledger}
}

// Audit resolves every line against the ledger. It fails with
// ErrEmptyOrder, ProductNotFoundError or InsufficientStockError; on
// success it returns the audited lines and the trusted subtotal rounded
// to two decimal places.
func (a *Auditor) Audit(ctx context.Context, items []LineItem) ([]AuditedLine, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, ErrEmptyOrder
	}

	lines := make([]AuditedLine, 0, len(items))
	subtotal := decimal.Zero

	for _, item := range items {
		p, err := a.ledger.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, decimal.Zero, &ProductNotFoundError{ProductID: item.ProductID}
			}
			return nil, decimal.Zero, errors.Wrapf(err, "get product %d", item.ProductID)
		}

		color := product.NormalizeVariant(item.Color)
		size := product.NormalizeVariant(item.Size)

		available, err := a.availableStock(ctx, p, color, size)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if available < item.Quantity {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID:   item.ProductID,
				ProductName: item.DeclaredName,
				Requested:   item.Quantity,
				Available:   available,
			}
		}

		// A NULL ledger price audits as zero. Deliberate: the divergence
		// surfaces downstream instead of crashing the pipeline.
		price := decimal.Zero
		if p.Price != nil {
			price = *p.Price
		}

		lines = append(lines, AuditedLine{
			ProductID: item.ProductID,
			Name:      item.DeclaredName,
			UnitPrice: price,
			Quantity:  item.Quantity,
			Available: available,
			Color:     color,
			Size:      size,
			ImageURL:  item.ImageURL,
		})
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return lines, subtotal.Round(2), nil
}

// availableStock prefers the variant-level record and falls back to the
// legacy per-size stock map on the product, trying the sentinel key for
// single-variant products.
func (a *Auditor) availableStock(ctx context.Context, p *product.Product, color, size string) (int, error) {
	variant, err := a.ledger.GetVariant(ctx, p.ID, color, size)
	if err != nil {
		return 0, errors.Wrapf(err, "get variant for product %d", p.ID)
	}
	if variant != nil {
		return variant.StockQuantity, nil
	}

	if qty, ok := p.LegacyStock[size]; ok {
		return qty, nil
	}
	return p.LegacyStock[product.DefaultVariant], nil
}

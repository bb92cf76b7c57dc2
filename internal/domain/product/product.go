package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// DefaultVariant is the sentinel color/size for single-variant products.
// Blank or whitespace-only variant values normalize to it.
const DefaultVariant = "Único"

// Product represents a catalog item. Price is the authoritative unit
// price; client-declared prices are never trusted for charging.
type Product struct {
	ID          int64
	Name        string
	Description string
	Material    string
	Pattern     string
	// Price may be NULL on legacy rows; callers treat a missing price as zero.
	Price *decimal.Decimal
	// LegacyStock is the per-size stock map kept on the product row for
	// products that predate the variants table.
	LegacyStock map[string]int
	// Quantity is the denormalized aggregate stock across all variants.
	Quantity int
	Image    string
	Images   []string
}

// Variant is a per-(color, size) stock record. When present it takes
// precedence over the product's legacy stock map.
type Variant struct {
	ID            int64
	ProductID     int64
	Color         string
	Size          string
	StockQuantity int
}

// NormalizeVariant maps a blank or whitespace-only color/size value to
// the single-variant sentinel.
func NormalizeVariant(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultVariant
	}
	return v
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
}

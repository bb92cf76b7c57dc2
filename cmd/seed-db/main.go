// Command seed-db loads catalog products and their variants from a JSON
// file into the database. Existing rows with the same id are replaced.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/repository"
)

type variantJSON struct {
	Color string `json:"color"`
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

type productJSON struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Material    string           `json:"material"`
	Pattern     string           `json:"pattern"`
	Price       *decimal.Decimal `json:"price"`
	Stock       map[string]int   `json:"stock"`
	Image       string           `json:"image"`
	Images      []string         `json:"images"`
	Variants    []variantJSON    `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("seed complete")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	raw, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	var products []productJSON
	if err := json.Unmarshal(raw, &products); err != nil {
		return errors.Wrap(err, "parse products file")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	const upsertProduct = `INSERT INTO products (id, name, description, material, pattern, price, stock, quantity, image, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			material = EXCLUDED.material, pattern = EXCLUDED.pattern,
			price = EXCLUDED.price, stock = EXCLUDED.stock,
			quantity = EXCLUDED.quantity, image = EXCLUDED.image, images = EXCLUDED.images`

	const upsertVariant = `INSERT INTO product_variants (product_id, color, size, stock_quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, color, size) DO UPDATE SET stock_quantity = EXCLUDED.stock_quantity`

	for _, p := range products {
		total := 0
		for _, v := range p.Variants {
			total += v.Stock
		}
		if len(p.Variants) == 0 {
			for _, qty := range p.Stock {
				total += qty
			}
		}

		stockJSON, err := json.Marshal(p.Stock)
		if err != nil {
			return errors.Wrapf(err, "marshal stock of product %d", p.ID)
		}
		imagesJSON, err := json.Marshal(p.Images)
		if err != nil {
			return errors.Wrapf(err, "marshal images of product %d", p.ID)
		}

		if _, err := pool.Exec(ctx, upsertProduct,
			p.ID, p.Name, p.Description, p.Material, p.Pattern,
			p.Price, stockJSON, total, p.Image, imagesJSON,
		); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}

		for _, v := range p.Variants {
			color := v.Color
			if color == "" {
				color = "Único"
			}
			size := v.Size
			if size == "" {
				size = "Único"
			}
			if _, err := pool.Exec(ctx, upsertVariant, p.ID, color, size, v.Stock); err != nil {
				return errors.Wrapf(err, "upsert variant of product %d", p.ID)
			}
		}

		slog.Info("seeded product", slog.Int64("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

// Package readmodel pushes consolidated product state to the storefront
// read store. Everything here is best-effort: a failed push never fails
// the operation that triggered it.
package readmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Product is the consolidated shape the storefront reads: the catalog
// row plus per-variant stock.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Material    string    `json:"material"`
	Print       string    `json:"print"`
	Price       float64   `json:"price"`
	Image       string    `json:"image"`
	Images      []string  `json:"images"`
	Variants    []Variant `json:"variants"`
}

// Variant is the per-(color, size) stock entry in the consolidated shape.
type Variant struct {
	Color string `json:"color"`
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// Source provides the consolidated view of a product.
type Source interface {
	Consolidated(ctx context.Context, productID int64) (*Product, error)
}

// Config holds the read store endpoint.
type Config struct {
	// BaseURL is the read store root; products land at
	// {BaseURL}/products/{id}.json. Empty disables pushing.
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
}

// Pusher PUTs consolidated products into the read store.
type Pusher struct {
	cfg    Config
	source Source
	http   *http.Client
}

// NewPusher creates a Pusher reading from source.
func NewPusher(cfg Config, source Source) *Pusher {
	return &Pusher{
		cfg:    cfg,
		source: source,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SyncProducts pushes the given products concurrently (bounded fan-out).
// Individual failures are logged and folded into the returned error; the
// caller treats the whole call as best-effort.
func (p *Pusher) SyncProducts(ctx context.Context, productIDs []int64) error {
	if p.cfg.BaseURL == "" {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range productIDs {
		g.Go(func() error {
			if err := p.syncOne(ctx, id); err != nil {
				zctx.From(ctx).Warn("read model push failed",
					zap.Int64("product_id", id),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pusher) syncOne(ctx context.Context, productID int64) error {
	prod, err := p.source.Consolidated(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "load consolidated product")
	}

	payload, err := json.Marshal(prod)
	if err != nil {
		return errors.Wrap(err, "marshal product")
	}

	url := fmt.Sprintf("%s/products/%s.json", p.cfg.BaseURL, prod.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "push product")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("read store returned status %d", resp.StatusCode)
	}
	return nil
}

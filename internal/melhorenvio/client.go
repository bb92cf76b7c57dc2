// Package melhorenvio implements the Melhor Envio HTTP client: freight
// quoting for checkout and label purchase for fulfillment.
package melhorenvio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/freight"
)

const (
	// DefaultBaseURL points at the sandbox environment; production sets
	// its own base URL through configuration.
	DefaultBaseURL = "https://sandbox.melhorenvio.com.br"

	calculatePath = "/api/v2/me/shipment/calculate"
	cartPath      = "/api/v2/me/cart"
	trackingPath  = "/api/v2/me/shipment/tracking"

	// requestTimeout bounds every carrier call. The carrier's observed
	// worst case sits just under this.
	requestTimeout = 15 * time.Second
)

// Config holds the client configuration.
type Config struct {
	BaseURL string
	// Token is the Melhor Envio bearer token.
	Token string
	// OriginPostalCode is the shop's shipping origin (CEP, 8 digits).
	OriginPostalCode string
	// Sender is stamped as the "from" party on shipping labels. Its
	// postal code falls back to OriginPostalCode when unset.
	Sender Party
}

// Client talks to the Melhor Envio API.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ freight.Quoter = (*Client)(nil)

// NewClient creates a Client. BaseURL falls back to the sandbox.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("melhorenvio: token is required")
	}
	if cfg.OriginPostalCode == "" {
		return nil, errors.New("melhorenvio: origin postal code is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

// quoteProduct is the calculate-request product entry.
type quoteProduct struct {
	ID             string  `json:"id"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	Length         float64 `json:"length"`
	Weight         float64 `json:"weight"`
	Quantity       int     `json:"quantity"`
	InsuranceValue float64 `json:"insurance_value"`
}

type postalCode struct {
	PostalCode string `json:"postal_code"`
}

type quoteRequest struct {
	From     postalCode     `json:"from"`
	To       postalCode     `json:"to"`
	Products []quoteProduct `json:"products"`
	Options  struct {
		Receipt bool `json:"receipt"`
		OwnHand bool `json:"own_hand"`
	} `json:"options"`
}

// Quote calls the calculate endpoint and normalizes the response into a
// flat list of rate options. The API answers with several shapes: a bare
// list of rates, an object wrapping packages/data arrays, or a single
// rate object; all are flattened, and entries without a usable price are
// dropped.
func (c *Client) Quote(ctx context.Context, destination string, pkgs []freight.Package) ([]freight.QuoteOption, error) {
	reqBody := quoteRequest{
		From:     postalCode{PostalCode: c.cfg.OriginPostalCode},
		To:       postalCode{PostalCode: destination},
		Products: make([]quoteProduct, len(pkgs)),
	}
	for i, p := range pkgs {
		reqBody.Products[i] = quoteProduct{
			ID:             strconv.Itoa(i + 1),
			Width:          p.Width,
			Height:         p.Height,
			Length:         p.Length,
			Weight:         p.Weight.InexactFloat64(),
			Quantity:       p.Quantity,
			InsuranceValue: p.InsuranceValue.InexactFloat64(),
		}
	}

	raw, err := c.post(ctx, calculatePath, reqBody)
	if err != nil {
		return nil, err
	}
	return parseQuoteBody(raw)
}

// post executes an authorized JSON POST and returns the response body.
// Any transport error, timeout or non-200 status is an error.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "carrier request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read carrier response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("carrier returned status %d", resp.StatusCode)
	}
	return raw, nil
}

// parseQuoteBody flattens the heterogeneous calculate response.
func parseQuoteBody(raw []byte) ([]freight.QuoteOption, error) {
	var anyBody any
	if err := json.Unmarshal(raw, &anyBody); err != nil {
		return nil, errors.Wrap(err, "invalid carrier response")
	}

	var options []freight.QuoteOption
	switch body := anyBody.(type) {
	case []any:
		for _, entry := range body {
			if opt := parseOption(entry); opt != nil {
				options = append(options, *opt)
			}
		}
	case map[string]any:
		options = parseWrappedBody(body)
	}
	return options, nil
}

// parseWrappedBody handles an object response: either a wrapper with an
// id/packages/data list (each entry possibly nesting options/services),
// or a single rate object.
func parseWrappedBody(body map[string]any) []freight.QuoteOption {
	var options []freight.QuoteOption
	for _, key := range []string{"id", "packages", "data"} {
		val, ok := body[key]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case []any:
			for _, entry := range v {
				m, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				inner, ok := m["options"].([]any)
				if !ok {
					if inner, ok = m["services"].([]any); !ok {
						inner = []any{entry}
					}
				}
				for _, opt := range inner {
					if parsed := parseOption(opt); parsed != nil {
						options = append(options, *parsed)
					}
				}
			}
			return options
		case map[string]any:
			if parsed := parseOption(v); parsed != nil {
				options = append(options, *parsed)
			}
			return options
		}
	}
	if parsed := parseOption(body); parsed != nil {
		options = append(options, *parsed)
	}
	return options
}

// parseOption normalizes a single rate entry. Entries without a usable
// price are dropped (nil result).
func parseOption(entry any) *freight.QuoteOption {
	m, ok := entry.(map[string]any)
	if !ok {
		return nil
	}

	company, _ := m["company"].(map[string]any)

	name := firstString(m["name"])
	if name == "" && company != nil {
		name = firstString(company["name"])
	}
	if name == "" {
		name = firstString(m["company_name"])
	}
	if name == "" {
		name = "Transportadora"
	}

	priceVal := m["custom_price"]
	if priceVal == nil || priceVal == "" {
		priceVal = m["price"]
	}
	price, ok := toDecimal(priceVal)
	if !ok {
		return nil
	}

	var days *int
	for _, key := range []string{"delivery_time", "delivery_time_min", "custom_delivery_time"} {
		if d, ok := toInt(m[key]); ok {
			days = &d
			break
		}
	}

	service := firstString(m["service"])
	if service == "" && company != nil {
		service = firstString(company["id"], company["code"])
	}
	if service == "" {
		service = firstString(m["id"])
	}

	return &freight.QuoteOption{
		Carrier:      name,
		Price:        price.Round(2),
		DeliveryDays: days,
		Service:      strings.TrimSpace(service),
	}
}

// firstString stringifies the first non-nil, non-empty value. Numeric
// ids become their decimal representation.
func firstString(vals ...any) string {
	for _, v := range vals {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

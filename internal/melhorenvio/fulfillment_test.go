package melhorenvio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/order"
)

func newFulfillmentClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:          srv.URL,
		Token:            "test-token",
		OriginPostalCode: "29100000",
		Sender: Party{
			Name:      "Loja Omena",
			Document:  "12345678000190",
			Address:   "Rua do Comércio",
			Number:    "42",
			City:      "Vila Velha",
			StateAbbr: "ES",
		},
	})
	require.NoError(t, err)
	return c
}

func shippableOrder() *order.Order {
	payer, _ := json.Marshal(map[string]any{
		"email":      "ana@example.com",
		"first_name": "Ana",
		"last_name":  "Silva",
		"identification": map[string]string{
			"type":   "CPF",
			"number": "12345678909",
		},
		"address": map[string]string{
			"zip_code":      "01310100",
			"street_name":   "Av. Paulista",
			"street_number": "1000",
			"neighborhood":  "Bela Vista",
			"city":          "São Paulo",
			"federal_unit":  "SP",
		},
	})
	return &order.Order{
		ID:              "ord-1",
		UserID:          "user-1",
		ShippingService: "2",
		Payer:           payer,
		Items: []order.Item{
			{ProductName: "Vestido Midi", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("50.00")},
			{ProductName: "Bolsa", Quantity: 1, PriceAtPurchase: decimal.RequireFromString("25.90")},
		},
	}
}

func TestCreateLabel_RequestShape(t *testing.T) {
	var captured map[string]any
	c := newFulfillmentClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cartPath, r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"id": "me-77", "protocol": "ORD-2026-77", "status": "pending"}`))
	})

	label, err := c.CreateLabel(context.Background(), shippableOrder())
	require.NoError(t, err)
	assert.Equal(t, "me-77", label.ShipmentID)
	assert.Equal(t, "ORD-2026-77", label.Protocol)
	assert.Equal(t, "pending", label.Status)

	assert.EqualValues(t, 2, captured["service"])

	from := captured["from"].(map[string]any)
	assert.Equal(t, "Loja Omena", from["name"])
	// Sender postal code falls back to the quote origin.
	assert.Equal(t, "29100000", from["postal_code"])
	assert.Equal(t, "BR", from["country_id"])

	to := captured["to"].(map[string]any)
	assert.Equal(t, "Ana Silva", to["name"])
	assert.Equal(t, "12345678909", to["document"])
	assert.Equal(t, "Av. Paulista", to["address"])
	assert.Equal(t, "1000", to["number"])
	assert.Equal(t, "SP", to["state_abbr"])
	assert.Equal(t, "01310100", to["postal_code"])

	products := captured["products"].([]any)
	require.Len(t, products, 2)
	first := products[0].(map[string]any)
	assert.Equal(t, "Vestido Midi", first["name"])
	assert.EqualValues(t, 2, first["quantity"])
	assert.InDelta(t, 50.0, first["unitary_value"], 1e-9)

	volumes := captured["volumes"].([]any)
	require.Len(t, volumes, 1)
	vol := volumes[0].(map[string]any)
	assert.InDelta(t, 16, vol["width"], 1e-9)
	assert.InDelta(t, 12, vol["height"], 1e-9)
	assert.InDelta(t, 20, vol["length"], 1e-9)
	assert.InDelta(t, 0.3, vol["weight"], 1e-9)

	opts := captured["options"].(map[string]any)
	assert.InDelta(t, 125.9, opts["insurance_value"], 1e-9)
	assert.Equal(t, false, opts["receipt"])
	assert.Equal(t, false, opts["own_hand"])

	assert.Equal(t, true, captured["non_commercial"])
}

func TestCreateLabel_NonNumericService(t *testing.T) {
	c := newFulfillmentClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no carrier call expected")
	})

	o := shippableOrder()
	o.ShippingService = "SEDEX"
	_, err := c.CreateLabel(context.Background(), o)
	require.ErrorIs(t, err, order.ErrBadShippingService)
}

func TestCreateLabel_MissingAddress(t *testing.T) {
	c := newFulfillmentClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no carrier call expected")
	})

	o := shippableOrder()
	o.Payer = []byte(`{"email": "ana@example.com"}`)
	_, err := c.CreateLabel(context.Background(), o)
	require.ErrorIs(t, err, order.ErrNoShippingAddress)
}

func TestCreateLabel_CarrierDown(t *testing.T) {
	c := newFulfillmentClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateLabel(context.Background(), shippableOrder())
	var unavailable *freight.UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestCreateLabel_MissingCartID(t *testing.T) {
	c := newFulfillmentClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "pending"}`))
	})

	_, err := c.CreateLabel(context.Background(), shippableOrder())
	var unavailable *freight.UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestTrack_ReturnsCarrierState(t *testing.T) {
	var captured map[string][]string
	c := newFulfillmentClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, trackingPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{
			"me-77": {"id": "me-77", "tracking": "BR456", "status": "posted", "posted_at": "2026-08-27 10:00:00"}
		}`))
	})

	status, err := c.Track(context.Background(), "me-77")
	require.NoError(t, err)
	assert.Equal(t, []string{"me-77"}, captured["orders"])
	assert.Equal(t, "BR456", status.TrackingCode)
	assert.Equal(t, "posted", status.Status)
	assert.Equal(t, "2026-08-27 10:00:00", status.PostedAt)
}

func TestTrack_ShipmentMissingFromResponse(t *testing.T) {
	c := newFulfillmentClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Track(context.Background(), "me-77")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "me-77")
}

func TestTrack_CarrierDown(t *testing.T) {
	c := newFulfillmentClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Track(context.Background(), "me-77")
	var unavailable *freight.UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

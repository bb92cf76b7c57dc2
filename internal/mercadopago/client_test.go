package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omena/store-api/internal/domain/payment"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, AccessToken: "test-token"})
	require.NoError(t, err)
	return c
}

func chargeRequest() payment.ChargeRequest {
	return payment.ChargeRequest{
		Amount:          decimal.RequireFromString("125.90"),
		Description:     "Pedido Loja - cliente@example.com",
		PaymentMethodID: "pix",
		Payer: payment.Payer{
			Email:          "cliente@example.com",
			FirstName:      "Ana",
			LastName:       "Silva",
			Identification: payment.Identification{Type: "CPF", Number: "12345678900"},
		},
		Installments:   1,
		IdempotencyKey: "user-1-125.90-pix",
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestCharge_SendsIdempotencyKeyAndAuth(t *testing.T) {
	var idemKey, auth string
	var body paymentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		idemKey = r.Header.Get("X-Idempotency-Key")
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 12345, "status": "pending", "status_detail": "pending_waiting_transfer"}`))
	})

	resp, err := c.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)

	assert.Equal(t, "user-1-125.90-pix", idemKey)
	assert.Equal(t, "Bearer test-token", auth)
	assert.InDelta(t, 125.90, body.TransactionAmount, 1e-9)
	assert.Equal(t, "pix", body.PaymentMethodID)
	assert.Equal(t, 1, body.Installments)
	assert.Equal(t, "CPF", body.Payer.Identification.Type)

	assert.Equal(t, "12345", resp.ID)
	assert.Equal(t, "pending", resp.Status)
}

func TestCharge_PixArtifacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": 999,
			"status": "pending",
			"date_of_expiration": "2026-09-04T12:00:00.000-03:00",
			"point_of_interaction": {
				"transaction_data": {
					"qr_code": "000201qr",
					"qr_code_base64": "aWJhc2U2NA==",
					"ticket_url": "https://mp.example/pix/999"
				}
			}
		}`))
	})

	resp, err := c.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, "000201qr", resp.QRCode)
	assert.Equal(t, "aWJhc2U2NA==", resp.QRCodeBase64)
	assert.Equal(t, "https://mp.example/pix/999", resp.TicketURL)
	assert.Equal(t, "2026-09-04T12:00:00.000-03:00", resp.ExpiresAt)
}

func TestCharge_BoletoExternalResource(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": 1000,
			"status": "pending",
			"transaction_details": {"external_resource_url": "https://mp.example/boleto.pdf"}
		}`))
	})

	req := chargeRequest()
	req.PaymentMethodID = "bolbradesco"

	resp, err := c.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://mp.example/boleto.pdf", resp.ExternalResourceURL)
}

func TestCharge_RejectionCarriesCause(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"message": "Invalid card token",
			"cause": [{"code": 3034, "description": "Invalid card_number_validation"}]
		}`))
	})

	req := chargeRequest()
	req.PaymentMethodID = "visa"
	req.Token = "tok-bad"

	_, err := c.Charge(context.Background(), req)

	var rejected *payment.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Invalid card token", rejected.Message)
	assert.Equal(t, "Invalid card_number_validation", rejected.Cause)
}

func TestCharge_NonJSONRejectionBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<html><body>Bad Request</body></html>`))
	})

	_, err := c.Charge(context.Background(), chargeRequest())

	// A rejection with an undecodable body is still a rejection, not an
	// availability failure.
	var rejected *payment.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Message, "400")
}

func TestCharge_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewClient(Config{BaseURL: srv.URL, AccessToken: "test-token"})
	require.NoError(t, err)

	_, err = c.Charge(context.Background(), chargeRequest())

	var unavailable *payment.GatewayUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestRefund_FullOmitsAmount(t *testing.T) {
	var body map[string]any
	var idemKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/mp-123/refunds", r.URL.Path)
		idemKey = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 555, "status": "approved"}`))
	})

	require.NoError(t, c.Refund(context.Background(), "mp-123", nil))
	assert.NotContains(t, body, "amount")
	assert.NotEmpty(t, idemKey)
}

func TestRefund_PartialSendsAmount(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 556, "status": "approved"}`))
	})

	amount := decimal.RequireFromString("25.90")
	require.NoError(t, c.Refund(context.Background(), "mp-123", &amount))
	require.Contains(t, body, "amount")
	assert.InDelta(t, 25.90, body["amount"].(float64), 1e-9)
}

func TestRefund_FailureStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Refund amount exceeds payment amount"}`))
	})

	err := c.Refund(context.Background(), "mp-123", nil)

	var rejected *payment.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Refund amount exceeds payment amount", rejected.Message)
}

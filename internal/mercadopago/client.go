// Package mercadopago implements the Mercado Pago payments client:
// idempotent charge creation and refunds.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/order"
	"github.com/omena/store-api/internal/domain/payment"
)

// DefaultBaseURL is the Mercado Pago API host.
const DefaultBaseURL = "https://api.mercadopago.com"

const requestTimeout = 15 * time.Second

// Config holds the client configuration.
type Config struct {
	BaseURL string
	// AccessToken is the Mercado Pago private access token.
	AccessToken string
}

// Client talks to the Mercado Pago payments API.
type Client struct {
	cfg  Config
	http *http.Client
}

var (
	_ payment.Gateway = (*Client)(nil)
	_ order.Refunder  = (*Client)(nil)
)

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mercadopago: access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Wire types for POST /v1/payments.

type identificationJSON struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type addressJSON struct {
	ZipCode      string `json:"zip_code"`
	StreetName   string `json:"street_name"`
	StreetNumber string `json:"street_number"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	FederalUnit  string `json:"federal_unit"`
}

type payerJSON struct {
	Email          string             `json:"email"`
	FirstName      string             `json:"first_name,omitempty"`
	LastName       string             `json:"last_name,omitempty"`
	Identification identificationJSON `json:"identification"`
	Address        *addressJSON       `json:"address,omitempty"`
}

type paymentRequest struct {
	TransactionAmount float64   `json:"transaction_amount"`
	Description       string    `json:"description"`
	PaymentMethodID   string    `json:"payment_method_id"`
	Payer             payerJSON `json:"payer"`
	Token             string    `json:"token,omitempty"`
	Installments      int       `json:"installments"`
	IssuerID          string    `json:"issuer_id,omitempty"`
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	DateOfExpiration   string      `json:"date_of_expiration"`
	Message            string      `json:"message"`
	Cause              []cause     `json:"cause"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

type cause struct {
	Code        json.Number `json:"code"`
	Description string      `json:"description"`
}

// Charge submits a payment. The idempotency key goes out as the
// X-Idempotency-Key header, so resubmitting the same logical charge
// cannot create a duplicate.
func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResponse, error) {
	body := paymentRequest{
		TransactionAmount: req.Amount.InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   req.PaymentMethodID,
		Payer:             toPayerJSON(req.Payer),
		Token:             req.Token,
		Installments:      req.Installments,
		IssuerID:          req.IssuerID,
	}

	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	status, raw, err := c.post(ctx, "/v1/payments", body, headers)
	if err != nil {
		return nil, &payment.GatewayUnavailableError{Err: err}
	}

	// Status first: rejection bodies are not always JSON (proxies answer
	// with HTML error pages), and a rejection must never surface as an
	// availability problem.
	if status != http.StatusOK && status != http.StatusCreated {
		var rejection paymentResponse
		_ = json.Unmarshal(raw, &rejection)
		msg := rejection.Message
		if msg == "" {
			msg = "gateway returned status " + strconv.Itoa(status)
		}
		firstCause := ""
		if len(rejection.Cause) > 0 {
			firstCause = rejection.Cause[0].Description
		}
		return nil, &payment.RejectedError{Message: msg, Cause: firstCause}
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &payment.GatewayUnavailableError{Err: errors.Wrap(err, "decode payment response")}
	}

	return &payment.ChargeResponse{
		ID:                  resp.ID.String(),
		Status:              resp.Status,
		StatusDetail:        resp.StatusDetail,
		ExpiresAt:           resp.DateOfExpiration,
		QRCode:              resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64:        resp.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:           resp.PointOfInteraction.TransactionData.TicketURL,
		ExternalResourceURL: resp.TransactionDetails.ExternalResourceURL,
	}, nil
}

// Refund reverses a charge via POST /v1/payments/{id}/refunds. A nil
// amount refunds the full charge. Each refund carries a fresh
// idempotency key so gateway-side retries cannot double-refund.
func (c *Client) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) error {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = amount.InexactFloat64()
	}

	headers := map[string]string{"X-Idempotency-Key": uuid.New().String()}
	status, raw, err := c.post(ctx, "/v1/payments/"+paymentID+"/refunds", body, headers)
	if err != nil {
		return &payment.GatewayUnavailableError{Err: err}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		var resp paymentResponse
		_ = json.Unmarshal(raw, &resp)
		msg := resp.Message
		if msg == "" {
			msg = "refund failed with status " + strconv.Itoa(status)
		}
		return &payment.RejectedError{Message: msg}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, headers map[string]string) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "gateway request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "read gateway response")
	}
	return resp.StatusCode, raw, nil
}

func toPayerJSON(p payment.Payer) payerJSON {
	out := payerJSON{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Identification: identificationJSON{
			Type:   p.Identification.Type,
			Number: p.Identification.Number,
		},
	}
	if p.Address != nil {
		out.Address = &addressJSON{
			ZipCode:      p.Address.ZipCode,
			StreetName:   p.Address.StreetName,
			StreetNumber: p.Address.StreetNumber,
			Neighborhood: p.Address.Neighborhood,
			City:         p.Address.City,
			FederalUnit:  p.Address.FederalUnit,
		}
	}
	return out
}

package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/payment"
)

type identificationDTO struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type addressDTO struct {
	ZipCode      string `json:"zip_code"`
	StreetName   string `json:"street_name"`
	StreetNumber string `json:"street_number"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	FederalUnit  string `json:"federal_unit"`
}

type payerDTO struct {
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	Identification identificationDTO `json:"identification"`
	Address        *addressDTO       `json:"address"`
}

type paymentItemDTO struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image"`
	Color    string          `json:"color"`
	Size     string          `json:"size"`
}

type paymentRequestDTO struct {
	Token             string           `json:"token"`
	TransactionAmount decimal.Decimal  `json:"transaction_amount"`
	PaymentMethodID   string           `json:"payment_method_id"`
	Installments      int              `json:"installments"`
	IssuerID          string           `json:"issuer_id"`
	Payer             payerDTO         `json:"payer"`
	UserID            string           `json:"user_id"`
	Items             []paymentItemDTO `json:"items"`
	Freight           decimal.Decimal  `json:"frete"`
	FreightService    string           `json:"frete_service"`
	CEP               string           `json:"cep"`
}

type paymentResponseDTO struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	StatusDetail    string `json:"status_detail"`
	OrderDBID       string `json:"order_db_id"`
	PaymentMethodID string `json:"payment_method_id"`
	QRCode          string `json:"qr_code,omitempty"`
	QRCodeBase64    string `json:"qr_code_base64,omitempty"`
	TicketURL       string `json:"ticket_url,omitempty"`
	ExpiresAt       string `json:"date_of_expiration,omitempty"`
}

// ProcessPayment handles POST /payments: decode, validate, run the
// payment pipeline, answer 201 with the method-tailored payload.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var dto paymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "corpo da requisição inválido")
		return
	}

	req, errMsg := dto.toDomain()
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", errMsg)
		return
	}

	result, err := h.payments.Process(r.Context(), *req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentResponseDTO{
		ID:              result.GatewayID,
		Status:          result.Status,
		StatusDetail:    result.StatusDetail,
		OrderDBID:       result.OrderID,
		PaymentMethodID: result.PaymentMethodID,
		QRCode:          result.QRCode,
		QRCodeBase64:    result.QRCodeBase64,
		TicketURL:       result.TicketURL,
		ExpiresAt:       result.ExpiresAt,
	})
}

// toDomain validates the DTO and builds the domain request. It returns
// a non-empty message on validation failure.
func (d *paymentRequestDTO) toDomain() (*payment.Request, string) {
	cep := digitsOnly(d.CEP)
	if len(cep) != 8 {
		return nil, "cep deve conter 8 dígitos"
	}
	if d.PaymentMethodID == "" {
		return nil, "payment_method_id é obrigatório"
	}
	if d.UserID == "" {
		return nil, "user_id é obrigatório"
	}
	if d.Payer.Email == "" || !strings.Contains(d.Payer.Email, "@") {
		return nil, "email do pagador inválido"
	}
	for _, item := range d.Items {
		if item.Quantity <= 0 {
			return nil, "quantity deve ser maior que zero"
		}
	}

	installments := d.Installments
	if installments < 1 {
		installments = 1
	}

	firstName := d.Payer.FirstName
	if firstName == "" {
		firstName = "Cliente"
	}
	lastName := d.Payer.LastName
	if lastName == "" {
		lastName = "Desconhecido"
	}
	idType := d.Payer.Identification.Type
	if idType == "" {
		idType = "CPF"
	}

	payer := payment.Payer{
		Email:     d.Payer.Email,
		FirstName: firstName,
		LastName:  lastName,
		Identification: payment.Identification{
			Type:   idType,
			Number: digitsOnly(d.Payer.Identification.Number),
		},
	}
	if a := d.Payer.Address; a != nil {
		payer.Address = &payment.Address{
			ZipCode:      a.ZipCode,
			StreetName:   a.StreetName,
			StreetNumber: a.StreetNumber,
			Neighborhood: a.Neighborhood,
			City:         a.City,
			FederalUnit:  a.FederalUnit,
		}
	}

	items := make([]payment.LineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = payment.LineItem{
			ProductID:     item.ID,
			DeclaredName:  item.Name,
			DeclaredPrice: item.Price,
			Quantity:      item.Quantity,
			Color:         item.Color,
			Size:          item.Size,
			ImageURL:      item.Image,
		}
	}

	return &payment.Request{
		Token:           d.Token,
		DeclaredAmount:  d.TransactionAmount,
		PaymentMethodID: d.PaymentMethodID,
		Installments:    installments,
		IssuerID:        d.IssuerID,
		Payer:           payer,
		UserID:          d.UserID,
		Items:           items,
		Freight: freight.Claim{
			Price:      d.Freight,
			Service:    strings.TrimSpace(d.FreightService),
			PostalCode: cep,
		},
	}, ""
}

// digitsOnly strips every non-digit rune.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

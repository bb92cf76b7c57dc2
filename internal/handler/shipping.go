package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/freight"
)

type shippingItemDTO struct {
	Width          float64         `json:"width"`
	Height         float64         `json:"height"`
	Length         float64         `json:"length"`
	Weight         decimal.Decimal `json:"weight"`
	Quantity       int             `json:"quantity"`
	InsuranceValue decimal.Decimal `json:"insurance_value"`
}

type shippingQuoteDTO struct {
	CEP   string            `json:"cep_destino"`
	Items []shippingItemDTO `json:"itens"`
}

type quoteOptionDTO struct {
	Carrier      string  `json:"transportadora"`
	Price        float64 `json:"preco"`
	DeliveryDays *int    `json:"prazo_entrega_dias"`
	Service      string  `json:"service"`
}

// QuoteShipping handles POST /shipping/quote: returns the normalized
// carrier rate options for a destination.
func (h *Handler) QuoteShipping(w http.ResponseWriter, r *http.Request) {
	var dto shippingQuoteDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "corpo da requisição inválido")
		return
	}

	cep := digitsOnly(dto.CEP)
	if len(cep) != 8 {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "cep_destino deve conter 8 dígitos")
		return
	}
	if len(dto.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "itens é obrigatório")
		return
	}

	pkgs := make([]freight.Package, len(dto.Items))
	for i, item := range dto.Items {
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		pkgs[i] = freight.Package{
			Width:          item.Width,
			Height:         item.Height,
			Length:         item.Length,
			Weight:         item.Weight,
			Quantity:       item.Quantity,
			InsuranceValue: item.InsuranceValue,
		}
	}

	options, err := h.quoter.Quote(r.Context(), cep, pkgs)
	if err != nil {
		writeDomainError(w, r, &freight.UnavailableError{Err: err})
		return
	}

	out := make([]quoteOptionDTO, len(options))
	for i, o := range options {
		out[i] = quoteOptionDTO{
			Carrier:      o.Carrier,
			Price:        o.Price.InexactFloat64(),
			DeliveryDays: o.DeliveryDays,
			Service:      o.Service,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

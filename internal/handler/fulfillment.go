package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createShipmentDTO struct {
	AdminUserID string `json:"admin_user_id"`
}

type shipmentLabelDTO struct {
	ShipmentID string `json:"shipment_id"`
	Protocol   string `json:"protocol,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message"`
}

type trackingDTO struct {
	OrderID      string `json:"order_id"`
	TrackingCode string `json:"tracking_code,omitempty"`
	Status       string `json:"status,omitempty"`
	PostedAt     string `json:"posted_at,omitempty"`
	DeliveredAt  string `json:"delivered_at,omitempty"`
}

// CreateShipment handles POST /orders/{id}/create-shipment (backoffice):
// adds the order's shipping label to the carrier cart.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var dto createShipmentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "corpo da requisição inválido")
		return
	}
	if dto.AdminUserID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "admin_user_id é obrigatório")
		return
	}

	label, err := h.orders.CreateShipment(r.Context(), dto.AdminUserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipmentLabelDTO{
		ShipmentID: label.ShipmentID,
		Protocol:   label.Protocol,
		Status:     label.Status,
		Message:    "Etiqueta adicionada ao carrinho. Acesse o painel Melhor Envio para pagar.",
	})
}

// GetTracking handles GET /orders/{id}/tracking: the carrier's live
// tracking state, degrading to the stored state when the carrier is
// unreachable or no label exists yet.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "user_id é obrigatório")
		return
	}

	status, err := h.orders.TrackShipment(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingDTO{
		OrderID:      status.OrderID,
		TrackingCode: status.TrackingCode,
		Status:       status.Status,
		PostedAt:     status.PostedAt,
		DeliveredAt:  status.DeliveredAt,
	})
}

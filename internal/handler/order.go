package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omena/store-api/internal/domain/order"
)

type orderItemDTO struct {
	ID              string  `json:"id"`
	ProductID       int64   `json:"product_id"`
	ProductName     string  `json:"product_name"`
	ImageURL        string  `json:"image_url,omitempty"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"price_at_purchase"`
	Color           string  `json:"color,omitempty"`
	Size            string  `json:"size,omitempty"`
}

type refundRequestDTO struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	Amount       float64  `json:"amount"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	RefundMethod string   `json:"refund_method,omitempty"`
	VoucherCode  string   `json:"voucher_code,omitempty"`
}

type orderDetailDTO struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	TotalAmount       float64            `json:"total_amount"`
	Status            string             `json:"status"`
	PaymentID         string             `json:"payment_id"`
	PaymentMethod     string             `json:"payment_method"`
	PaymentCode       string             `json:"payment_code,omitempty"`
	PaymentURL        string             `json:"payment_url,omitempty"`
	PaymentExpiration string             `json:"payment_expiration,omitempty"`
	ShippingService   string             `json:"shipping_service,omitempty"`
	ShippingAmount    float64            `json:"shipping_amount"`
	Installments      int                `json:"installments"`
	ShipmentID        string             `json:"shipment_id,omitempty"`
	TrackingCode      string             `json:"tracking_code,omitempty"`
	CreatedAt         string             `json:"created_at"`
	Items             []orderItemDTO     `json:"items"`
	RefundRequests    []refundRequestDTO `json:"refund_requests"`
}

type orderSummaryDTO struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	UserEmail     string  `json:"user_email,omitempty"`
	Status        string  `json:"status"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
	PaymentID     string  `json:"payment_id"`
	CreatedAt     string  `json:"created_at"`
}

type orderPageDTO struct {
	Data  []orderSummaryDTO `json:"data"`
	Count int               `json:"count"`
}

// GetOrder handles GET /orders/{id}: the customer's own order detail.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "user_id é obrigatório")
		return
	}

	o, refunds, err := h.orders.Detail(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDetailDTO(o, refunds))
}

// ListOrders handles GET /orders: the customer's orders, or every order
// when all=true and the requester is an admin.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "user_id é obrigatório")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		result *order.Page[order.Summary]
		err    error
	)
	if r.URL.Query().Get("all") == "true" {
		result, err = h.orders.ListAll(r.Context(), userID, page, limit)
	} else {
		result, err = h.orders.ListByCustomer(r.Context(), userID, page, limit)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := orderPageDTO{Data: make([]orderSummaryDTO, len(result.Data)), Count: result.Count}
	for i, s := range result.Data {
		out.Data[i] = orderSummaryDTO{
			ID:            s.ID,
			UserID:        s.UserID,
			UserEmail:     s.UserEmail,
			Status:        s.Status,
			TotalAmount:   s.TotalAmount.InexactFloat64(),
			PaymentMethod: s.PaymentMethod,
			PaymentID:     s.PaymentID,
			CreatedAt:     s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type cancelRequestDTO struct {
	UserID  string   `json:"user_id"`
	Total   bool     `json:"total"`
	ItemIDs []string `json:"order_item_ids"`
}

// RequestCancel handles POST /orders/{id}/cancel-request.
func (h *Handler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	var dto cancelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "corpo da requisição inválido")
		return
	}
	if dto.UserID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "user_id é obrigatório")
		return
	}
	if dto.Total && len(dto.ItemIDs) > 0 {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "envie total=true ou order_item_ids, não ambos")
		return
	}
	if !dto.Total && len(dto.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "para reembolso parcial informe order_item_ids")
		return
	}

	req, err := h.orders.RequestCancel(r.Context(), chi.URLParam(r, "id"), dto.UserID, order.CancelRequest{
		Total:   dto.Total,
		ItemIDs: dto.ItemIDs,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundRequestDTO(*req))
}

type backofficeRefundDTO struct {
	AdminUserID string   `json:"admin_user_id"`
	RequestID   string   `json:"request_id"`
	ItemIDs     []string `json:"cancel_item_ids"`
	Method      string   `json:"refund_method"`
	FullCancel  bool     `json:"full_cancel"`
}

// ProcessRefund handles POST /orders/{id}/refund (backoffice).
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var dto backofficeRefundDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "corpo da requisição inválido")
		return
	}
	if dto.AdminUserID == "" {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "admin_user_id é obrigatório")
		return
	}

	req, err := h.orders.ProcessRefund(r.Context(), dto.AdminUserID, chi.URLParam(r, "id"), dto.RequestID,
		order.BackofficeRefund{
			ItemIDs:    dto.ItemIDs,
			Method:     dto.Method,
			FullCancel: dto.FullCancel,
		})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundRequestDTO(*req))
}

func toOrderDetailDTO(o *order.Order, refunds []order.RefundRequest) orderDetailDTO {
	items := make([]orderItemDTO, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDTO{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ImageURL:        item.ImageURL,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.InexactFloat64(),
			Color:           item.Color,
			Size:            item.Size,
		}
	}
	refundDTOs := make([]refundRequestDTO, len(refunds))
	for i, req := range refunds {
		refundDTOs[i] = toRefundRequestDTO(req)
	}
	return orderDetailDTO{
		ID:                o.ID,
		UserID:            o.UserID,
		TotalAmount:       o.TotalAmount.InexactFloat64(),
		Status:            o.Status,
		PaymentID:         o.PaymentID,
		PaymentMethod:     o.PaymentMethod,
		PaymentCode:       o.PaymentCode,
		PaymentURL:        o.PaymentURL,
		PaymentExpiration: o.PaymentExpiration,
		ShippingService:   o.ShippingService,
		ShippingAmount:    o.ShippingAmount.InexactFloat64(),
		Installments:      o.Installments,
		ShipmentID:        o.ShipmentID,
		TrackingCode:      o.TrackingCode,
		CreatedAt:         o.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Items:             items,
		RefundRequests:    refundDTOs,
	}
}

func toRefundRequestDTO(r order.RefundRequest) refundRequestDTO {
	return refundRequestDTO{
		ID:           r.ID,
		Kind:         r.Kind,
		Status:       r.Status,
		Amount:       r.Amount.InexactFloat64(),
		ItemIDs:      r.ItemIDs,
		RefundMethod: r.RefundMethod,
		VoucherCode:  r.VoucherCode,
	}
}

// Package handler is the chi HTTP layer: request decoding, input
// validation, and mapping of the domain error taxonomy to status codes.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/order"
	"github.com/omena/store-api/internal/domain/payment"
	"github.com/omena/store-api/internal/domain/product"
)

// Handler exposes the storefront API over HTTP.
type Handler struct {
	payments *payment.Service
	orders   *order.Service
	products product.Repository
	quoter   freight.Quoter
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	payments *payment.Service,
	orders *order.Service,
	products product.Repository,
	quoter freight.Quoter,
) *Handler {
	return &Handler{
		payments: payments,
		orders:   orders,
		products: products,
		quoter:   quoter,
	}
}

// Routes mounts the API endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)

	r.Post("/payments", h.ProcessPayment)
	r.Post("/shipping/quote", h.QuoteShipping)

	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{id}", h.GetOrder)
	r.Post("/orders/{id}/cancel-request", h.RequestCancel)
	r.Post("/orders/{id}/refund", h.ProcessRefund)
	r.Post("/orders/{id}/create-shipment", h.CreateShipment)
	r.Get("/orders/{id}/tracking", h.GetTracking)

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// writeDomainError maps the closed error taxonomy to HTTP status codes:
// validation and audit failures are 400, upstream outages 502, and
// everything unexpected (including post-charge persistence failures) 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var (
		notFoundErr    *payment.ProductNotFoundError
		stockErr       *payment.InsufficientStockError
		mismatchErr    *freight.MismatchError
		rejectedErr    *payment.RejectedError
		carrierErr     *freight.UnavailableError
		gatewayErr     *payment.GatewayUnavailableError
		persistenceErr *payment.PersistenceError
	)

	switch {
	case errors.Is(err, payment.ErrEmptyOrder),
		errors.Is(err, payment.ErrTokenRequired),
		errors.Is(err, freight.ErrNoOptions),
		errors.As(err, &notFoundErr),
		errors.As(err, &stockErr),
		errors.As(err, &mismatchErr):
		lg.Warn("payment validation failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Dados inválidos", err.Error())

	case errors.As(err, &rejectedErr):
		lg.Warn("gateway rejected payment", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Pagamento recusado", err.Error())

	case errors.As(err, &carrierErr), errors.As(err, &gatewayErr):
		lg.Warn("upstream dependency unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Serviço externo indisponível", "")

	case errors.As(err, &persistenceErr):
		// Already logged at alert severity by the orchestrator.
		writeError(w, http.StatusInternalServerError, "Erro crítico no processamento", "")

	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "Pedido não encontrado", "")

	case errors.Is(err, order.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error(), "")

	case errors.Is(err, order.ErrNotCompleted),
		errors.Is(err, order.ErrCancelWindow),
		errors.Is(err, order.ErrUnknownItems),
		errors.Is(err, order.ErrBadRefundMethod),
		errors.Is(err, order.ErrNoShippingAddress),
		errors.Is(err, order.ErrBadShippingService):
		writeError(w, http.StatusBadRequest, "Dados inválidos", err.Error())

	default:
		lg.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Erro interno", "")
	}
}

package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/order"
)

// OrderWriter persists a newly charged order.
type OrderWriter interface {
	Create(ctx context.Context, o *order.Order) error
}

// Syncer pushes updated product state to the storefront read model.
// Implementations are best-effort: the orchestrator never fails an order
// because of a sync error.
type Syncer interface {
	SyncProducts(ctx context.Context, productIDs []int64) error
}

// PersistenceError wraps an order write failure that happened after the
// gateway already charged the customer. The charge and the order record
// have diverged; operator reconciliation is required.
type PersistenceError struct {
	PaymentID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("payment %s charged but order persistence failed: %v", e.PaymentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Service is the payment orchestrator: it sequences freight
// reconciliation, price/stock audit, gateway charge, order persistence,
// stock decrement and read-model sync. Steps run strictly in that order;
// a failed step never lets the next one run.
type Service struct {
	reconciler *freight.Reconciler
	auditor    *Auditor
	ledger     Ledger
	gateway    Gateway
	orders     OrderWriter
	sync       Syncer
}

// NewService creates the orchestrator with its collaborators. sync may
// be nil when no read model is configured.
func NewService(
	reconciler *freight.Reconciler,
	ledger Ledger,
	gateway Gateway,
	orders OrderWriter,
	sync Syncer,
) *Service {
	return &Service{
		reconciler: reconciler,
		auditor:    NewAuditor(ledger),
		ledger:     ledger,
		gateway:    gateway,
		orders:     orders,
		sync:       sync,
	}
}

// Process runs the payment pipeline for one submission.
//
// Failures before the gateway call abort with no side effects. After a
// successful charge, a persistence failure is fatal and alert-grade;
// stock and read-model failures are best-effort and only logged.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	lg := zctx.From(ctx)

	// Freight first: never charge on a freight mismatch, and never touch
	// the ledger before the claim is backed by a live quote.
	totalQty := 0
	for _, item := range req.Items {
		totalQty += item.Quantity
	}
	option, err := s.reconciler.Reconcile(ctx, req.Freight, totalQty)
	if err != nil {
		return nil, err
	}
	freightPrice := option.Price.Round(2)

	lines, subtotal, err := s.auditor.Audit(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	// Authoritative amount: trusted subtotal + reconciled freight. The
	// storefront's declared amount is diagnostic only.
	amount := subtotal.Add(freightPrice).Round(2)
	if !req.DeclaredAmount.Round(2).Equal(amount) {
		lg.Info("declared amount differs from backend amount",
			zap.String("declared", req.DeclaredAmount.StringFixed(2)),
			zap.String("subtotal", subtotal.StringFixed(2)),
			zap.String("freight", freightPrice.StringFixed(2)),
			zap.String("charged", amount.StringFixed(2)),
		)
	}

	charge, err := s.buildCharge(req, amount)
	if err != nil {
		return nil, err
	}
	resp, err := s.gateway.Charge(ctx, *charge)
	if err != nil {
		return nil, err
	}

	o := s.buildOrder(req, resp, option, amount, freightPrice, lines)
	if err := s.orders.Create(ctx, o); err != nil {
		perr := &PersistenceError{PaymentID: resp.ID, Err: err}
		lg.Error("ALERT: charge succeeded but order write failed, manual reconciliation required",
			zap.String("payment_id", resp.ID),
			zap.String("user_id", req.UserID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return nil, perr
	}

	// Stock decrement is best-effort: reversing a completed charge is
	// worse than a stale count. Errors are observable, never fatal.
	for _, line := range lines {
		if err := s.ledger.DecrementStock(ctx, line.ProductID, line.Color, line.Size, line.Quantity); err != nil {
			lg.Error("stock decrement failed after order",
				zap.Int64("product_id", line.ProductID),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	s.syncReadModel(ctx, lines)

	return buildResult(req.PaymentMethodID, resp, o.ID), nil
}

// buildCharge assembles the gateway request. Card methods require a
// token and carry the chosen installment count; PIX and boleto-class
// methods force a single installment and no token.
func (s *Service) buildCharge(req Request, amount decimal.Decimal) (*ChargeRequest, error) {
	charge := &ChargeRequest{
		Amount:          amount,
		Description:     fmt.Sprintf("Pedido Loja - %s", req.Payer.Email),
		PaymentMethodID: req.PaymentMethodID,
		Payer:           req.Payer,
		IdempotencyKey:  IdempotencyKey(req.UserID, amount, req.PaymentMethodID),
	}

	switch {
	case IsPix(req.PaymentMethodID), IsTicket(req.PaymentMethodID):
		charge.Installments = 1
	default:
		if req.Token == "" {
			return nil, ErrTokenRequired
		}
		charge.Token = req.Token
		charge.Installments = req.Installments
		charge.IssuerID = req.IssuerID
	}
	return charge, nil
}

func (s *Service) buildOrder(
	req Request,
	resp *ChargeResponse,
	option *freight.QuoteOption,
	amount, freightPrice decimal.Decimal,
	lines []AuditedLine,
) *order.Order {
	paymentCode := ""
	paymentURL := ""
	if IsPix(req.PaymentMethodID) {
		paymentCode = resp.QRCode
	}
	if IsTicket(req.PaymentMethodID) {
		paymentURL = resp.ExternalResourceURL
	}

	payerJSON, _ := json.Marshal(payerSnapshot(req.Payer))

	installments := req.Installments
	if IsPix(req.PaymentMethodID) || IsTicket(req.PaymentMethodID) {
		installments = 1
	}

	items := make([]order.Item, len(lines))
	for i, line := range lines {
		items[i] = order.Item{
			ProductID:       line.ProductID,
			ProductName:     line.Name,
			ImageURL:        line.ImageURL,
			Quantity:        line.Quantity,
			PriceAtPurchase: line.UnitPrice,
			Color:           line.Color,
			Size:            line.Size,
		}
	}

	return &order.Order{
		UserID:            req.UserID,
		TotalAmount:       amount,
		Status:            resp.Status,
		PaymentID:         resp.ID,
		PaymentMethod:     req.PaymentMethodID,
		PaymentCode:       paymentCode,
		PaymentURL:        paymentURL,
		PaymentExpiration: resp.ExpiresAt,
		ShippingService:   option.Service,
		ShippingAmount:    freightPrice,
		Installments:      installments,
		Payer:             payerJSON,
		Items:             items,
	}
}

// syncReadModel pushes the sold products to the storefront read model.
// Fully isolated: failures are logged and swallowed.
func (s *Service) syncReadModel(ctx context.Context, lines []AuditedLine) {
	if s.sync == nil {
		return
	}
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	if err := s.sync.SyncProducts(ctx, ids); err != nil {
		zctx.From(ctx).Warn("read model sync failed", zap.Error(err))
	}
}

func buildResult(methodID string, resp *ChargeResponse, orderID string) *Result {
	result := &Result{
		GatewayID:       resp.ID,
		Status:          resp.Status,
		StatusDetail:    resp.StatusDetail,
		OrderID:         orderID,
		PaymentMethodID: methodID,
		ExpiresAt:       resp.ExpiresAt,
	}
	if IsPix(methodID) {
		result.QRCode = resp.QRCode
		result.QRCodeBase64 = resp.QRCodeBase64
		result.TicketURL = resp.TicketURL
	}
	if IsTicket(methodID) {
		result.TicketURL = resp.ExternalResourceURL
	}
	return result
}

// payerSnapshot is the JSON shape persisted on the order for fulfillment
// and backoffice use.
func payerSnapshot(p Payer) map[string]any {
	snap := map[string]any{
		"email":      p.Email,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"identification": map[string]string{
			"type":   p.Identification.Type,
			"number": p.Identification.Number,
		},
	}
	if p.Address != nil {
		snap["address"] = map[string]string{
			"zip_code":      p.Address.ZipCode,
			"street_name":   p.Address.StreetName,
			"street_number": p.Address.StreetNumber,
			"neighborhood":  p.Address.Neighborhood,
			"city":          p.Address.City,
			"federal_unit":  p.Address.FederalUnit,
		}
	}
	return snap
}

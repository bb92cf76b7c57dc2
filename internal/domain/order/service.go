package order

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Customer cancellation is allowed only this long after completion.
const cancelWindow = 7 * 24 * time.Hour

// Vouchers issued in place of gateway refunds expire after this long.
const voucherValidity = 90 * 24 * time.Hour

// Sentinel errors for the order lifecycle.
var (
	ErrNotCompleted    = errors.New("order is not completed yet; cancellation is available after completion")
	ErrCancelWindow    = errors.New("cancellation/refund requests are only accepted up to 7 days after completion")
	ErrNotAdmin        = errors.New("only admin users may perform this operation")
	ErrUnknownItems    = errors.New("one or more order item ids do not belong to this order")
	ErrBadRefundMethod = errors.New(`refund method must be "gateway" or "voucher"`)

	// Fulfillment preconditions, reported by the Fulfiller when the
	// order record cannot produce a valid label request.
	ErrNoShippingAddress  = errors.New("order has no shipping address")
	ErrBadShippingService = errors.New("order shipping service is not a valid carrier service id")
)

// Refunder reverses a gateway charge, fully (amount nil) or partially.
type Refunder interface {
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) error
}

// ProfileRepository resolves user roles for backoffice authorization.
type ProfileRepository interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// CancelRequest is a customer cancellation/refund submission: either the
// whole order or a subset of its items.
type CancelRequest struct {
	Total   bool
	ItemIDs []string
}

// BackofficeRefund is a backoffice decision on a pending request.
type BackofficeRefund struct {
	ItemIDs []string
	// Method is "gateway" (refund through the payment provider) or
	// "voucher" (issue store credit).
	Method     string
	FullCancel bool
}

// Service implements the order lifecycle: customer views, cancellation
// requests, backoffice refund processing and shipment fulfillment.
type Service struct {
	orders    Repository
	profiles  ProfileRepository
	refunder  Refunder
	fulfiller Fulfiller
	now       func() time.Time
}

// NewService creates the order lifecycle service.
func NewService(orders Repository, profiles ProfileRepository, refunder Refunder, fulfiller Fulfiller) *Service {
	return &Service{
		orders:    orders,
		profiles:  profiles,
		refunder:  refunder,
		fulfiller: fulfiller,
		now:       time.Now,
	}
}

// Detail returns the customer's own order with items and any refund
// requests attached.
func (s *Service) Detail(ctx context.Context, orderID, userID string) (*Order, []RefundRequest, error) {
	o, err := s.orders.GetWithItems(ctx, orderID, userID)
	if err != nil {
		return nil, nil, err
	}
	refunds, err := s.orders.ListRefundRequests(ctx, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list refund requests")
	}
	return o, refunds, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, userID string, page, limit int) (*Page[Summary], error) {
	return s.orders.ListByUser(ctx, userID, normalizePage(page), normalizeLimit(limit))
}

// ListAll returns every order for the backoffice. The requester must
// have the admin role.
func (s *Service) ListAll(ctx context.Context, adminUserID string, page, limit int) (*Page[Summary], error) {
	role, err := s.profiles.GetRole(ctx, adminUserID)
	if err != nil {
		return nil, errors.Wrap(err, "get profile role")
	}
	if role != "admin" {
		return nil, ErrNotAdmin
	}
	return s.orders.ListAll(ctx, normalizePage(page), normalizeLimit(limit))
}

// RequestCancel records a customer cancellation/refund request. Allowed
// only on completed orders and only within the cancellation window. The
// request is created pending; the backoffice processes it later.
func (s *Service) RequestCancel(ctx context.Context, orderID, userID string, req CancelRequest) (*RefundRequest, error) {
	o, err := s.orders.GetWithItems(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	completedAt, ok := completedAt(o)
	if !ok {
		return nil, ErrNotCompleted
	}
	if s.now().Sub(completedAt) > cancelWindow {
		return nil, ErrCancelWindow
	}

	kind := "partial"
	amount := decimal.Zero
	itemIDs := req.ItemIDs
	if req.Total {
		kind = "total"
		amount = o.TotalAmount
		itemIDs = nil
	} else {
		items, err := s.orders.GetItemsByIDs(ctx, orderID, req.ItemIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get order items")
		}
		if len(items) != len(req.ItemIDs) {
			return nil, ErrUnknownItems
		}
		for _, item := range items {
			amount = amount.Add(item.PriceAtPurchase.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		amount = amount.Round(2)
	}

	r := &RefundRequest{
		OrderID:     orderID,
		RequestedBy: userID,
		Kind:        kind,
		Status:      "pending",
		Amount:      amount,
		ItemIDs:     itemIDs,
	}
	if err := s.orders.CreateRefundRequest(ctx, r); err != nil {
		return nil, errors.Wrap(err, "create refund request")
	}
	return r, nil
}

// ProcessRefund executes a backoffice refund decision: reverse the
// charge through the gateway or issue a voucher, then transition the
// order status.
func (s *Service) ProcessRefund(ctx context.Context, adminUserID, orderID, requestID string, req BackofficeRefund) (*RefundRequest, error) {
	role, err := s.profiles.GetRole(ctx, adminUserID)
	if err != nil {
		return nil, errors.Wrap(err, "get profile role")
	}
	if role != "admin" {
		return nil, ErrNotAdmin
	}
	if req.Method != "gateway" && req.Method != "voucher" {
		return nil, ErrBadRefundMethod
	}

	o, err := s.orders.GetWithItems(ctx, orderID, "")
	if err != nil {
		return nil, err
	}

	amount := o.TotalAmount
	full := req.FullCancel || len(req.ItemIDs) == 0
	if !full {
		items, err := s.orders.GetItemsByIDs(ctx, orderID, req.ItemIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get order items")
		}
		if len(items) != len(req.ItemIDs) {
			return nil, ErrUnknownItems
		}
		amount = decimal.Zero
		for _, item := range items {
			amount = amount.Add(item.PriceAtPurchase.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		amount = amount.Round(2)
	}

	kind := "partial"
	if full {
		kind = "total"
	}
	r := &RefundRequest{
		OrderID:      orderID,
		RequestedBy:  adminUserID,
		Kind:         kind,
		Status:       "processed",
		Amount:       amount,
		ItemIDs:      req.ItemIDs,
		RefundMethod: req.Method,
	}

	switch req.Method {
	case "gateway":
		var partial *decimal.Decimal
		if !full {
			partial = &amount
		}
		if err := s.refunder.Refund(ctx, o.PaymentID, partial); err != nil {
			return nil, errors.Wrapf(err, "refund payment %s", o.PaymentID)
		}
	case "voucher":
		voucher := &Voucher{
			Amount:    amount,
			UserID:    o.UserID,
			ExpiresAt: s.now().Add(voucherValidity),
		}
		// Regenerate on a code collision; the code space is large enough
		// that repeated collisions mean something else is wrong.
		var verr error
		for attempt := 0; attempt < voucherCodeAttempts; attempt++ {
			voucher.Code = voucherCode()
			verr = s.orders.CreateVoucher(ctx, voucher)
			if !errors.Is(verr, ErrVoucherCodeTaken) {
				break
			}
		}
		if verr != nil {
			return nil, errors.Wrap(verr, "create voucher")
		}
		r.VoucherCode = voucher.Code
	}

	status := StatusPartiallyRefunded
	if full {
		status = StatusRefunded
	}
	if err := s.orders.UpdateStatus(ctx, orderID, status); err != nil {
		// Refund already executed; the status divergence must be visible.
		zctx.From(ctx).Error("refund executed but order status update failed",
			zap.String("order_id", orderID),
			zap.String("status", status),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "update order status")
	}

	if requestID != "" {
		if err := s.orders.UpdateRefundRequestStatus(ctx, requestID, "processed"); err != nil {
			return nil, errors.Wrap(err, "update refund request status")
		}
	}
	if err := s.orders.CreateRefundRequest(ctx, r); err != nil {
		return nil, errors.Wrap(err, "record backoffice refund")
	}
	return r, nil
}

// CreateShipment adds the order's shipping label to the carrier cart
// (backoffice only). The carrier-side order id is persisted so tracking
// and webhook events can find the order later.
func (s *Service) CreateShipment(ctx context.Context, adminUserID, orderID string) (*ShipmentLabel, error) {
	role, err := s.profiles.GetRole(ctx, adminUserID)
	if err != nil {
		return nil, errors.Wrap(err, "get profile role")
	}
	if role != "admin" {
		return nil, ErrNotAdmin
	}

	o, err := s.orders.GetWithItems(ctx, orderID, "")
	if err != nil {
		return nil, err
	}

	label, err := s.fulfiller.CreateLabel(ctx, o)
	if err != nil {
		return nil, err
	}

	if err := s.orders.SetShipment(ctx, orderID, label.ShipmentID); err != nil {
		// The label already exists in the carrier cart; losing the link
		// means tracking is unreachable until fixed by hand.
		zctx.From(ctx).Error("label created but shipment id persist failed",
			zap.String("order_id", orderID),
			zap.String("shipment_id", label.ShipmentID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "persist shipment id")
	}
	return label, nil
}

// TrackShipment reports the order's shipment state. Before a label
// exists, or when the carrier is unreachable, the locally stored fields
// are returned as-is.
func (s *Service) TrackShipment(ctx context.Context, orderID, userID string) (*TrackingStatus, error) {
	o, err := s.orders.GetWithItems(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	stored := &TrackingStatus{
		OrderID:      o.ID,
		TrackingCode: o.TrackingCode,
		Status:       o.Status,
	}
	if o.ShipmentID == "" {
		return stored, nil
	}

	live, err := s.fulfiller.Track(ctx, o.ShipmentID)
	if err != nil {
		zctx.From(ctx).Warn("carrier tracking unavailable, serving stored state",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return stored, nil
	}

	live.OrderID = o.ID
	if live.TrackingCode == "" {
		live.TrackingCode = o.TrackingCode
	}
	if live.Status == "" {
		live.Status = o.Status
	}
	return live, nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizeLimit(limit int) int {
	if limit < 1 || limit > 100 {
		return 20
	}
	return limit
}

// completedAt reports when the order completed, using updated_at and
// falling back to created_at.
func completedAt(o *Order) (time.Time, bool) {
	if o.Status != StatusApproved && o.Status != StatusCompleted {
		return time.Time{}, false
	}
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt, true
	}
	if !o.CreatedAt.IsZero() {
		return o.CreatedAt, true
	}
	return time.Time{}, false
}

const voucherAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// voucherCodeAttempts bounds the regenerate-and-retry loop on code
// collisions.
const voucherCodeAttempts = 3

// voucherCode generates a random 10-character store credit code.
func voucherCode() string {
	b := make([]byte, 10)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(voucherAlphabet))))
		if err != nil {
			panic(fmt.Sprintf("voucher code entropy: %v", err))
		}
		b[i] = voucherAlphabet[n.Int64()]
	}
	return "OMN-" + string(b)
}

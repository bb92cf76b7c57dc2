package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Order statuses. Creation statuses come straight from the gateway;
// lifecycle transitions are applied by the order service.
const (
	StatusApproved          = "approved"
	StatusCompleted         = "completed"
	StatusCancelled         = "cancelled"
	StatusRefunded          = "refunded"
	StatusPartiallyRefunded = "partially_refunded"
)

// ErrNotFound is returned when an order does not exist or does not
// belong to the requesting user.
var ErrNotFound = errors.New("order not found")

// ErrVoucherCodeTaken is returned by the repository when a generated
// voucher code collides with an existing one. Callers regenerate and
// retry.
var ErrVoucherCodeTaken = errors.New("voucher code already exists")

// Order is the persisted record of a charged purchase. TotalAmount is
// always the backend-computed authoritative amount.
type Order struct {
	ID          string
	UserID      string
	TotalAmount decimal.Decimal
	Status      string
	// PaymentID is the gateway's payment reference.
	PaymentID     string
	PaymentMethod string
	// PaymentCode holds the PIX copy-and-paste code, when applicable.
	PaymentCode string
	// PaymentURL holds the boleto URL, when applicable.
	PaymentURL        string
	PaymentExpiration string
	ShippingService   string
	ShippingAmount    decimal.Decimal
	Installments      int
	Payer             []byte // payer snapshot, JSON
	// ShipmentID is the carrier-side order id assigned when a shipping
	// label is added to the fulfillment cart.
	ShipmentID   string
	TrackingCode string
	Items        []Item
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is one persisted order line. PriceAtPurchase is the ledger price
// captured at charge time and is immutable thereafter, even if the
// catalog price later changes.
type Item struct {
	ID              string
	OrderID         string
	ProductID       int64
	ProductName     string
	ImageURL        string
	Quantity        int
	PriceAtPurchase decimal.Decimal
	Color           string
	Size            string
}

// RefundRequest is a customer or backoffice cancellation/refund entry.
type RefundRequest struct {
	ID          string
	OrderID     string
	RequestedBy string
	// Kind is "total" or "partial".
	Kind string
	// Status is "pending", "processed" or "denied".
	Status       string
	Amount       decimal.Decimal
	ItemIDs      []string
	RefundMethod string
	VoucherCode  string
	CreatedAt    time.Time
}

// Voucher is store credit issued in place of a gateway refund.
type Voucher struct {
	ID        string
	Code      string
	Amount    decimal.Decimal
	UserID    string
	ExpiresAt time.Time
	Used      bool
}

// ShipmentLabel is the carrier-side record created when a shipping
// label is added to the fulfillment cart. Label payment happens in the
// carrier's panel, not through this API.
type ShipmentLabel struct {
	ShipmentID string
	Protocol   string
	Status     string
}

// TrackingStatus is an order's shipment tracking state, merging the
// locally stored fields with the carrier's live data when available.
type TrackingStatus struct {
	OrderID      string
	TrackingCode string
	Status       string
	PostedAt     string
	DeliveredAt  string
}

// Fulfiller purchases shipping labels and reports tracking state with
// the carrier.
type Fulfiller interface {
	CreateLabel(ctx context.Context, o *Order) (*ShipmentLabel, error)
	Track(ctx context.Context, shipmentID string) (*TrackingStatus, error)
}

// Page wraps a paged listing with its total count.
type Page[T any] struct {
	Data  []T
	Count int
}

// Summary is the reduced order shape used by listings.
type Summary struct {
	ID            string
	UserID        string
	UserEmail     string
	Status        string
	TotalAmount   decimal.Decimal
	PaymentMethod string
	PaymentID     string
	CreatedAt     time.Time
}

// Repository defines persistence operations for orders and their
// lifecycle records.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetWithItems(ctx context.Context, orderID, userID string) (*Order, error)
	ListByUser(ctx context.Context, userID string, page, limit int) (*Page[Summary], error)
	ListAll(ctx context.Context, page, limit int) (*Page[Summary], error)
	GetItemsByIDs(ctx context.Context, orderID string, itemIDs []string) ([]Item, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
	SetShipment(ctx context.Context, orderID, shipmentID string) error
	CreateRefundRequest(ctx context.Context, r *RefundRequest) error
	ListRefundRequests(ctx context.Context, orderID string) ([]RefundRequest, error)
	UpdateRefundRequestStatus(ctx context.Context, requestID, status string) error
	CreateVoucher(ctx context.Context, v *Voucher) error
}

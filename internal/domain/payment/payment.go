package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/omena/store-api/internal/domain/freight"
)

// Sentinel errors for payment validation.
var (
	ErrEmptyOrder    = fmt.Errorf("order has no items")
	ErrTokenRequired = fmt.Errorf("card token is required for card payments")
)

// ProductNotFoundError indicates a line item references a product absent
// from the ledger.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InsufficientStockError indicates a line item requests more units than
// the ledger has available. It is user-presentable and must surface
// before any gateway call.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product %q is out of stock or the requested quantity is not available: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

// RejectedError carries the gateway's own rejection message and cause
// chain for operator diagnosis. No order is persisted on this path.
type RejectedError struct {
	Message string
	Cause   string
}

func (e *RejectedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("payment rejected: %s - %s", e.Message, e.Cause)
	}
	return fmt.Sprintf("payment rejected: %s", e.Message)
}

// GatewayUnavailableError indicates a network or timeout failure talking
// to the payment gateway.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// Identification is the payer's tax document.
type Identification struct {
	Type   string
	Number string
}

// Address is the payer's shipping/billing address. The complement field
// is intentionally absent: the gateway does not accept it.
type Address struct {
	ZipCode      string
	StreetName   string
	StreetNumber string
	Neighborhood string
	City         string
	FederalUnit  string
}

// Payer identifies who is being charged.
type Payer struct {
	Email          string
	FirstName      string
	LastName       string
	Identification Identification
	Address        *Address
}

// LineItem is one requested order line. DeclaredName and DeclaredPrice
// come from the client and are informational only; the charge uses the
// ledger price exclusively.
type LineItem struct {
	ProductID     int64
	DeclaredName  string
	DeclaredPrice decimal.Decimal
	Quantity      int
	Color         string
	Size          string
	ImageURL      string
}

// Request is the inbound payment submission.
type Request struct {
	Token string
	// DeclaredAmount is the storefront's idea of the total. Used only as
	// a diagnostic cross-check in logs, never charged.
	DeclaredAmount  decimal.Decimal
	PaymentMethodID string
	Installments    int
	IssuerID        string
	Payer           Payer
	UserID          string
	Items           []LineItem
	Freight         freight.Claim
}

// Result is the method-tailored success payload.
type Result struct {
	GatewayID       string
	Status          string
	StatusDetail    string
	OrderID         string
	PaymentMethodID string
	// PIX artifacts.
	QRCode       string
	QRCodeBase64 string
	// TicketURL is the PIX ticket page or the boleto external resource.
	TicketURL string
	ExpiresAt string
}

// AuditedLine is one order line revalidated against the ledger: trusted
// unit price and confirmed stock availability.
type AuditedLine struct {
	ProductID int64
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Available int
	Color     string
	Size      string
	ImageURL  string
}

// ChargeRequest is the normalized request submitted to the gateway.
type ChargeRequest struct {
	Amount          decimal.Decimal
	Description     string
	PaymentMethodID string
	Payer           Payer
	Token           string
	Installments    int
	IssuerID        string
	IdempotencyKey  string
}

// ChargeResponse is the gateway's normalized answer to a charge.
type ChargeResponse struct {
	ID           string
	Status       string
	StatusDetail string
	ExpiresAt    string
	// PIX point-of-interaction artifacts.
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
	// ExternalResourceURL is the boleto/payment-slip URL.
	ExternalResourceURL string
}

// Gateway submits charges to the payment provider. Implementations must
// honor the idempotency key: resubmitting the same key must not create a
// second charge.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}

// IsPix reports whether the payment method is PIX.
func IsPix(methodID string) bool { return methodID == "pix" }

// IsTicket reports whether the payment method is boleto-class (bank slip
// or PEC lottery payment).
func IsTicket(methodID string) bool {
	return strings.Contains(methodID, "bol") || methodID == "pec"
}

// IdempotencyKey derives the deterministic gateway idempotency key from
// the charge identity. Retrying an identical request reuses the key and
// cannot double-charge; a retry with a different amount or method gets a
// new key on purpose.
func IdempotencyKey(userID string, amount decimal.Decimal, methodID string) string {
	return fmt.Sprintf("%s-%s-%s", userID, amount.StringFixed(2), methodID)
}

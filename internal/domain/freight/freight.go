package freight

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuoteOption is a single carrier/service rate returned by a freight
// quote call. Options are produced fresh per request and never persisted.
type QuoteOption struct {
	Carrier string
	Price   decimal.Decimal
	// DeliveryDays is nil when the carrier did not report an estimate.
	DeliveryDays *int
	// Service is the carrier-specific service identifier.
	Service string
}

// Claim is the shipping price/service the client asserts it has already
// quoted. It must be reconciled against a live quote before being trusted.
type Claim struct {
	Price      decimal.Decimal
	Service    string
	PostalCode string
}

// Package describes one parcel for a quote request. Dimensions are in
// centimeters, weight in kilograms.
type Package struct {
	Width          float64
	Height         float64
	Length         float64
	Weight         decimal.Decimal
	Quantity       int
	InsuranceValue decimal.Decimal
}

// Quoter obtains live rate options from the carrier for a destination
// postal code and a list of packages.
type Quoter interface {
	Quote(ctx context.Context, destination string, pkgs []Package) ([]QuoteOption, error)
}

// ErrNoOptions is returned when the carrier answers but offers no usable
// rate for the destination.
var ErrNoOptions = fmt.Errorf("no freight options available for the given postal code")

// UnavailableError indicates the carrier API could not be reached or
// returned a malformed response. It maps to an upstream-failure response.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("freight carrier unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// MismatchError indicates the claimed freight price matched none of the
// quoted options within tolerance. The client must requote shipping.
type MismatchError struct {
	Claimed decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("claimed freight price %s matches no quoted option; recalculate shipping at checkout", e.Claimed.StringFixed(2))
}

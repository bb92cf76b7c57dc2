package freight

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Tolerance is the maximum absolute difference allowed between the
// claimed freight price and a quoted option's price.
var Tolerance = decimal.RequireFromString("0.15")

// Default consolidated-parcel dimensions, aligned with the storefront
// until per-product dimensions exist.
var (
	defaultWidthCM  = 16.0
	defaultHeightCM = 12.0
	defaultLengthCM = 20.0
	defaultWeightKG = decimal.RequireFromString("0.3")
)

// Reconciler matches a client freight claim against a live carrier quote
// and selects the authoritative option.
type Reconciler struct {
	quoter Quoter
}

// NewReconciler creates a Reconciler backed by the given Quoter.
func NewReconciler(quoter Quoter) *Reconciler {
	return &Reconciler{quoter: quoter}
}

// ConsolidatedPackage builds the single-parcel descriptor used for
// checkout quotes: fixed default dimensions, quantity equal to the total
// number of units in the order.
func ConsolidatedPackage(totalQuantity int) Package {
	return Package{
		Width:          defaultWidthCM,
		Height:         defaultHeightCM,
		Length:         defaultLengthCM,
		Weight:         defaultWeightKG,
		Quantity:       totalQuantity,
		InsuranceValue: decimal.Zero,
	}
}

// Reconcile quotes shipping for the claim's destination as one
// consolidated parcel and selects the option backing the claim:
//
//  1. An option whose service identifier equals the claim's and whose
//     price is within Tolerance of the claimed price.
//  2. Otherwise, the options matching the claimed price within Tolerance
//     regardless of service identifier. A unique candidate is accepted as
//     a degraded match (the storefront sent a stale service id); with
//     several candidates the first wins.
//
// The returned option's price, not the claim's, is the ground truth.
func (r *Reconciler) Reconcile(ctx context.Context, claim Claim, totalQuantity int) (*QuoteOption, error) {
	options, err := r.quoter.Quote(ctx, claim.PostalCode, []Package{ConsolidatedPackage(totalQuantity)})
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	if len(options) == 0 {
		return nil, ErrNoOptions
	}

	claimed := claim.Price.Round(2)

	for i := range options {
		o := &options[i]
		if o.Service != "" && o.Service == claim.Service && withinTolerance(claimed, o.Price) {
			return o, nil
		}
	}

	var byPrice []*QuoteOption
	for i := range options {
		if withinTolerance(claimed, options[i].Price) {
			byPrice = append(byPrice, &options[i])
		}
	}
	switch len(byPrice) {
	case 0:
		return nil, &MismatchError{Claimed: claimed}
	case 1:
		zctx.From(ctx).Info("freight reconciled by price, service id from storefront did not match",
			zap.String("claimed_service", claim.Service),
			zap.String("matched_service", byPrice[0].Service),
			zap.String("claimed_price", claimed.StringFixed(2)),
		)
		return byPrice[0], nil
	default:
		// Ambiguous; the narrow tolerance makes this rare. First wins.
		return byPrice[0], nil
	}
}

func withinTolerance(claimed, quoted decimal.Decimal) bool {
	return claimed.Sub(quoted).Abs().LessThanOrEqual(Tolerance)
}

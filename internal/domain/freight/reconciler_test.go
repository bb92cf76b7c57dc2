package freight

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockQuoter struct {
	options []QuoteOption
	err     error

	calls        int
	lastDest     string
	lastPackages []Package
}

func (m *mockQuoter) Quote(_ context.Context, dest string, pkgs []Package) ([]QuoteOption, error) {
	m.calls++
	m.lastDest = dest
	m.lastPackages = pkgs
	return m.options, m.err
}

func option(service, price string) QuoteOption {
	return QuoteOption{
		Carrier: "Correios",
		Price:   decimal.RequireFromString(price),
		Service: service,
	}
}

func claim(service, price string) Claim {
	return Claim{
		Price:      decimal.RequireFromString(price),
		Service:    service,
		PostalCode: "01310100",
	}
}

func TestReconcile_ExactMatch(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "19.90"), option("2", "25.90")}}
	r := NewReconciler(q)

	got, err := r.Reconcile(context.Background(), claim("2", "25.90"), 3)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Service)
	assert.True(t, decimal.RequireFromString("25.90").Equal(got.Price))
}

func TestReconcile_ExactMatchWithinTolerance(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("2", "26.05")}}
	r := NewReconciler(q)

	got, err := r.Reconcile(context.Background(), claim("2", "25.90"), 1)
	require.NoError(t, err)
	// The quoted price, not the claimed one, is ground truth.
	assert.True(t, decimal.RequireFromString("26.05").Equal(got.Price))
}

func TestReconcile_ServiceMatchOutsideToleranceRejected(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("2", "27.00")}}
	r := NewReconciler(q)

	_, err := r.Reconcile(context.Background(), claim("2", "25.90"), 1)

	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestReconcile_FallbackByPriceUniqueCandidate(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "19.90"), option("4", "31.00")}}
	r := NewReconciler(q)

	// Service id drifted on the storefront; the price uniquely matches.
	got, err := r.Reconcile(context.Background(), claim("99", "31.00"), 2)
	require.NoError(t, err)
	assert.Equal(t, "4", got.Service)
}

func TestReconcile_FallbackByPriceMultipleFirstWins(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "25.90"), option("2", "25.95")}}
	r := NewReconciler(q)

	got, err := r.Reconcile(context.Background(), claim("99", "25.90"), 1)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Service)
}

func TestReconcile_NoCandidateMismatch(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "19.90"), option("2", "25.90")}}
	r := NewReconciler(q)

	_, err := r.Reconcile(context.Background(), claim("3", "40.00"), 1)

	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, decimal.RequireFromString("40.00").Equal(mismatch.Claimed))
}

func TestReconcile_ToleranceBoundary(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "25.90")}}
	r := NewReconciler(q)

	// Exactly 0.15 away is accepted.
	_, err := r.Reconcile(context.Background(), claim("1", "26.05"), 1)
	require.NoError(t, err)

	// 0.16 away is not.
	_, err = r.Reconcile(context.Background(), claim("1", "26.06"), 1)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestReconcile_CarrierError(t *testing.T) {
	q := &mockQuoter{err: errors.New("connection refused")}
	r := NewReconciler(q)

	_, err := r.Reconcile(context.Background(), claim("1", "25.90"), 1)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestReconcile_NoOptions(t *testing.T) {
	q := &mockQuoter{}
	r := NewReconciler(q)

	_, err := r.Reconcile(context.Background(), claim("1", "25.90"), 1)
	require.ErrorIs(t, err, ErrNoOptions)
}

func TestReconcile_ConsolidatedPackage(t *testing.T) {
	q := &mockQuoter{options: []QuoteOption{option("1", "25.90")}}
	r := NewReconciler(q)

	_, err := r.Reconcile(context.Background(), claim("1", "25.90"), 5)
	require.NoError(t, err)

	require.Equal(t, 1, q.calls)
	assert.Equal(t, "01310100", q.lastDest)
	require.Len(t, q.lastPackages, 1)

	pkg := q.lastPackages[0]
	assert.Equal(t, 5, pkg.Quantity)
	assert.Equal(t, 16.0, pkg.Width)
	assert.Equal(t, 12.0, pkg.Height)
	assert.Equal(t, 20.0, pkg.Length)
	assert.True(t, decimal.RequireFromString("0.3").Equal(pkg.Weight))
}

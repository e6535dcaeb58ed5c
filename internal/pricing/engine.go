// Package pricing computes the quoted price response to a mint or burn.
//
// Price impact is the fraction the operation represents of the supply before
// the operation took effect. Burns raise the price by that fraction, mints
// lower it. All functions are pure.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"model-token-engine/internal/domain"
)

// divisionPlaces is the scale used for the impact ratio.
const divisionPlaces = 18

// OctasPerAPT is the number of octas in one APT.
const OctasPerAPT = 100_000_000

// ErrInvalidInput is returned for negative prices, non-positive amounts or unknown kinds.
var ErrInvalidInput = errors.New("invalid pricing input")

var hundred = decimal.NewFromInt(100)

// Quote is the outcome of one price computation.
type Quote struct {
	OldPrice  float64
	NewPrice  float64
	ImpactPct float64
	Baseline  decimal.Decimal

	// NoPriceImpact is set when the baseline is not positive and the price
	// was returned unchanged.
	NoPriceImpact bool

	// Clamped is set when a mint impact above 100% would have produced a
	// negative price and the result was floored at zero.
	Clamped bool
}

// Baseline returns the supply before the operation took effect, given the
// supply measured after it. For a burn the measured supply is used as is.
// For a mint the minted amount is subtracted.
func Baseline(kind domain.OperationKind, measured, amount decimal.Decimal) decimal.Decimal {
	if kind == domain.OperationMint {
		return measured.Sub(amount)
	}
	return measured
}

// NextPrice computes the new quoted price.
// A zero current price stays zero: no price discovery has happened yet.
func NextPrice(current float64, amount decimal.Decimal, kind domain.OperationKind, baseline decimal.Decimal) (Quote, error) {
	if current < 0 {
		return Quote{}, fmt.Errorf("%w: current price %v is negative", ErrInvalidInput, current)
	}
	if !amount.IsPositive() {
		return Quote{}, fmt.Errorf("%w: amount %s must be positive", ErrInvalidInput, amount)
	}
	if !kind.IsValid() {
		return Quote{}, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidInput, kind)
	}

	q := Quote{OldPrice: current, NewPrice: current, Baseline: baseline}
	if !baseline.IsPositive() {
		q.NoPriceImpact = true
		return q, nil
	}

	factor := amount.DivRound(baseline, divisionPlaces)
	impact := factor.Mul(hundred)
	price := decimal.NewFromFloat(current)

	var next decimal.Decimal
	switch kind {
	case domain.OperationBurn:
		next = price.Mul(decimal.NewFromInt(1).Add(factor))
	case domain.OperationMint:
		next = price.Mul(decimal.NewFromInt(1).Sub(factor))
		if next.IsNegative() {
			next = decimal.Zero
			q.Clamped = true
		}
	}

	q.ImpactPct = impact.InexactFloat64()
	q.NewPrice = next.InexactFloat64()
	return q, nil
}

// PurchaseCostOctas is the cost in octas of buying amount tokens at price
// APT per token, rounded down.
func PurchaseCostOctas(price float64, amount decimal.Decimal) (int64, error) {
	if price < 0 || amount.IsNegative() {
		return 0, fmt.Errorf("%w: price %v amount %s", ErrInvalidInput, price, amount)
	}
	cost := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(OctasPerAPT)).Mul(amount).Floor()
	if cost.BigInt().BitLen() > 63 {
		return 0, fmt.Errorf("%w: cost overflows", ErrInvalidInput)
	}
	return cost.IntPart(), nil
}

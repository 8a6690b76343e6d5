// Package amount provides integer smallest-unit arithmetic for monetary
// values. No floating point is used anywhere in the ledger or its callers.
package amount

import "errors"

// ErrNegative is returned when an amount would become negative.
var ErrNegative = errors.New("amount: negative amount")

// Amount is a nonnegative quantity of smallest-unit value.
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// Validate reports whether a is a legal (nonnegative) amount.
func Validate(a Amount) error {
	if a < 0 {
		return ErrNegative
	}
	return nil
}

// Add returns a+b. Amounts are bounded by int64 range; this domain never
// approaches overflow at realistic mission rewards.
func Add(a, b Amount) Amount {
	return a + b
}

// Sub returns a-b, or an error if the result would be negative.
func Sub(a, b Amount) (Amount, error) {
	r := a - b
	if r < 0 {
		return 0, ErrNegative
	}
	return r, nil
}

// Frac returns floor(a*num/den), used for fee-split and slash-fraction
// computations. den must be nonzero; fractions are expressed as the ratio
// num/den so the computation stays integer-exact.
func Frac(a Amount, num, den int64) Amount {
	if den == 0 {
		return 0
	}
	return Amount(int64(a) * num / den)
}

// BpsDenominator is the basis-points scale: 10000 bps = 100%.
const BpsDenominator int64 = 10000

// FracBps returns floor(a*bps/10000), the basis-points form of Frac. Bond
// fractions, fee splits, and slash fractions are all expressed in bps
// (e.g. 2000 = 20%) so every value-path computation stays integer-exact.
func FracBps(a Amount, bps int64) Amount {
	if bps <= 0 {
		return 0
	}
	return Frac(a, bps, BpsDenominator)
}

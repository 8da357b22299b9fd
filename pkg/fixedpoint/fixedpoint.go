// Package fixedpoint implements the engine's fixed-scale integer arithmetic.
//
// Three scales flow through the system: capital amounts at 1e6, claim tokens
// at 1e18 (WAD) and NAV prices at 1e27 (RAY, capital per token). Basis points
// are plain integers in [0, 10000]. All conversions multiply before dividing
// and round toward zero, which for the non-negative quantities used here
// always rounds down in the protocol's favor.
package fixedpoint

import (
	"fmt"
	"math/big"
)

// BpsDenominator is the basis point scale: 10000 bps == 100%.
const BpsDenominator = 10_000

// Scale constants. Treat as immutable; never pass to big.Int mutators.
var (
	CapitalOne = pow10(6)  // one capital unit
	WadOne     = pow10(18) // one claim token
	RayOne     = pow10(27) // NAV of exactly 1 capital unit per token

	// tokensTimesRay is the combined divisor for WAD tokens priced in RAY
	// and expressed in 1e6 capital units: 18 + 27 - 6.
	tokensTimesRay = pow10(39)

	bpsDen = big.NewInt(BpsDenominator)
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// MulDiv returns floor(x*y/den). den must be positive.
func MulDiv(x, y, den *big.Int) *big.Int {
	if den.Sign() <= 0 {
		panic("fixedpoint: non-positive denominator")
	}
	prod := new(big.Int).Mul(x, y)
	return prod.Quo(prod, den)
}

// ApplyBps returns floor(x*bps/10000).
func ApplyBps(x *big.Int, bps uint32) *big.Int {
	return MulDiv(x, big.NewInt(int64(bps)), bpsDen)
}

// ValidBps reports whether a basis point value is within [0, 10000].
func ValidBps(bps uint32) bool {
	return bps <= BpsDenominator
}

// TokensToCapital converts a WAD token amount to 1e6 capital units at the
// given RAY price, rounding down.
func TokensToCapital(tokensWad, navRay *big.Int) *big.Int {
	return MulDiv(tokensWad, navRay, tokensTimesRay)
}

// CapitalToTokens converts a 1e6 capital amount to WAD tokens at the given
// RAY price, rounding down. navRay must be positive.
func CapitalToTokens(capital, navRay *big.Int) *big.Int {
	if navRay.Sign() <= 0 {
		panic("fixedpoint: non-positive NAV")
	}
	return MulDiv(capital, tokensTimesRay, navRay)
}

// BandAround returns the inclusive [lo, hi] band of +/- bps around center.
// Both bounds round down, which keeps the band conservative on the upside.
func BandAround(center *big.Int, bps uint32) (lo, hi *big.Int) {
	lo = ApplyBps(center, BpsDenominator-bps)
	hi = ApplyBps(center, BpsDenominator+bps)
	return lo, hi
}

// Clamp returns x limited to [lo, hi].
func Clamp(x, lo, hi *big.Int) *big.Int {
	if x.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if x.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(x)
}

// WithinBps reports whether value lies inside the +/- bps band around center.
// A zero center only matches a zero value.
func WithinBps(value, center *big.Int, bps uint32) bool {
	if center.Sign() == 0 {
		return value.Sign() == 0
	}
	lo, hi := BandAround(center, bps)
	return value.Cmp(lo) >= 0 && value.Cmp(hi) <= 0
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ParseAmount parses a non-negative decimal integer string into a big.Int.
// Used at trust boundaries; amounts never arrive as floats.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	return v, nil
}

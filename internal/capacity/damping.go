package capacity

import (
	"math/big"

	"fundgate/pkg/fixedpoint"
)

// EffectiveCap evaluates the soft-cap damping curve for a record at its
// current utilization. The curve is full below the soft cap, shrinks
// linearly between soft and hard cap at slope slopeBps, and is exactly
// zero at and above the hard cap. Disabled jurisdictions have no capacity.
//
// All products are taken before any division so truncation happens once,
// rounding down.
func EffectiveCap(rec *SovereignCapacityRecord, slopeBps uint32) *big.Int {
	if !rec.Enabled {
		return new(big.Int)
	}
	if rec.Utilized.Cmp(rec.HardCap) >= 0 {
		return new(big.Int)
	}

	// softCap * utilCapBps * (10000 - haircutBps) / 10000^2
	effective := new(big.Int).Mul(rec.SoftCap, big.NewInt(int64(rec.UtilizationCapBps)))
	effective.Mul(effective, big.NewInt(int64(fixedpoint.BpsDenominator-rec.HaircutBps)))

	if rec.Utilized.Cmp(rec.SoftCap) <= 0 {
		return effective.Quo(effective, bpsSquared)
	}

	// dampingBps = slopeBps * (utilized - softCap) / (hardCap - softCap),
	// clamped to [0, 10000].
	over := new(big.Int).Sub(rec.Utilized, rec.SoftCap)
	span := new(big.Int).Sub(rec.HardCap, rec.SoftCap)
	damping := new(big.Int).Mul(over, big.NewInt(int64(slopeBps)))
	damping.Quo(damping, span)
	if damping.Cmp(bpsDen) > 0 {
		damping.Set(bpsDen)
	}

	effective.Mul(effective, new(big.Int).Sub(bpsDen, damping))
	return effective.Quo(effective, bpsCubed)
}

var (
	bpsDen     = big.NewInt(fixedpoint.BpsDenominator)
	bpsSquared = new(big.Int).Mul(bpsDen, bpsDen)
	bpsCubed   = new(big.Int).Mul(bpsSquared, bpsDen)
)

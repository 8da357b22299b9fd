package oracle

import (
	"math/big"
	"time"

	"fundgate/pkg/canonical"
)

// Domain tags keep update and override signatures unexchangeable.
const (
	updateDomainTag   = "nav-update/v1"
	overrideDomainTag = "nav-emergency-override/v1"
)

// UpdateDigest is the canonical digest the pricing quorum signs for a fresh
// NAV update.
func UpdateDigest(p Params, navRay *big.Int, sequence uint64, ts time.Time) []byte {
	return canonical.NewHasher(updateDomainTag, p.Domain, p.ChainID).
		BigInt(navRay).
		Uint64(sequence).
		Uint64(uint64(ts.Unix())).
		Sum()
}

// OverrideDigest is the canonical digest an emergency signer signs to push a
// NAV value while the oracle is degraded. The current sequence binds the
// override to the state it was issued against.
func OverrideDigest(p Params, navRay *big.Int, currentSequence uint64, ts time.Time) []byte {
	return canonical.NewHasher(overrideDomainTag, p.Domain, p.ChainID).
		BigInt(navRay).
		Uint64(currentSequence).
		Uint64(uint64(ts.Unix())).
		Sum()
}

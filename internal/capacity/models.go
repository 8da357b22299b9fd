package capacity

import (
	"math/big"
	"time"

	id "fundgate/pkg/domain"
)

// SovereignCapacityRecord is the per-jurisdiction issuance budget.
// Records are created by governance, updated on every successful
// issuance, and disabled rather than deleted.
type SovereignCapacityRecord struct {
	Jurisdiction id.Jurisdiction

	UtilizationCapBps uint32
	HaircutBps        uint32
	WeightBps         uint32
	Enabled           bool

	// SoftCap, HardCap and Utilized are capital amounts. softCap <= hardCap.
	SoftCap  *big.Int
	HardCap  *big.Int
	Utilized *big.Int

	// Version guards concurrent utilization writes; every Put must carry
	// the version it read.
	Version   uint64
	UpdatedAt time.Time
}

func (r *SovereignCapacityRecord) Clone() *SovereignCapacityRecord {
	clone := *r
	clone.SoftCap = new(big.Int).Set(r.SoftCap)
	clone.HardCap = new(big.Int).Set(r.HardCap)
	clone.Utilized = new(big.Int).Set(r.Utilized)
	return &clone
}

// Decision is the outcome of a capacity check.
type Decision struct {
	Allowed      bool
	EffectiveCap *big.Int
	Utilized     *big.Int
}

package oracle

import (
	"math/big"
	"time"

	id "fundgate/pkg/domain"
)

// DegradationLevel classifies how trustworthy the current NAV is, driven by
// elapsed time since the last verified update.
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelStale
	LevelDegraded
	LevelEmergency
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelStale:
		return "STALE"
	case LevelDegraded:
		return "DEGRADED"
	case LevelEmergency:
		return "EMERGENCY_OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// NavState is the singleton oracle record. NavRay is only written by a
// quorum-verified update or an emergency override while degraded; the
// last-known-good snapshot seeds degraded-base extrapolation.
type NavState struct {
	NavRay         *big.Int
	LastUpdateTime time.Time
	UpdateSequence uint64

	LastGoodRay  *big.Int
	LastGoodTime time.Time

	// EmergencyOverride is set by the emergency path and cleared by the
	// next verified update.
	EmergencyOverride bool
}

// Clone returns a deep copy so callers can mutate freely before Put.
func (s *NavState) Clone() *NavState {
	clone := *s
	clone.NavRay = new(big.Int).Set(s.NavRay)
	clone.LastGoodRay = new(big.Int).Set(s.LastGoodRay)
	return &clone
}

// Params are the degradation state machine parameters. Thresholds ascend:
// StaleAfter < DegradedAfter < EmergencyAfter; haircuts are non-decreasing
// with level.
type Params struct {
	StaleAfter     time.Duration
	DegradedAfter  time.Duration
	EmergencyAfter time.Duration

	StaleHaircutBps     uint32
	DegradedHaircutBps  uint32
	EmergencyHaircutBps uint32

	// MaxGrowthBpsPerDay caps the linear extrapolation rate of the
	// degraded base; BandBps clamps the result symmetrically around the
	// last known good value.
	MaxGrowthBpsPerDay uint32
	BandBps            uint32

	// MaxJumpBps bounds how far a fresh update may move from the previous
	// NAV. Skipped while degraded, since the recovery update is expected
	// to jump.
	MaxJumpBps uint32

	Quorum  int
	Domain  string
	ChainID uint64
}

// HaircutFor is the conservatism haircut applied at a degradation level.
func (p Params) HaircutFor(level DegradationLevel) uint32 {
	switch level {
	case LevelStale:
		return p.StaleHaircutBps
	case LevelDegraded:
		return p.DegradedHaircutBps
	case LevelEmergency:
		return p.EmergencyHaircutBps
	default:
		return 0
	}
}

// Quote is the answer to "what is NAV right now".
type Quote struct {
	NavRay   *big.Int
	Level    DegradationLevel
	Sequence uint64
	AsOf     time.Time
}

// Attestation is one signer's signature over the update digest.
type Attestation struct {
	Signer    id.SignerID
	Signature []byte
}

// Update is a fresh NAV submission from the pricing quorum.
type Update struct {
	NavRay       *big.Int
	Sequence     uint64
	Timestamp    time.Time
	Attestations []Attestation
}

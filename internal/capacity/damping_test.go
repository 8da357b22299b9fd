package capacity

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fundgate/pkg/domain"
)

func record(soft, hard, utilized int64) *SovereignCapacityRecord {
	return &SovereignCapacityRecord{
		Jurisdiction:      id.Jurisdiction("BR"),
		UtilizationCapBps: 8_000,
		HaircutBps:        2_000,
		WeightBps:         10_000,
		Enabled:           true,
		SoftCap:           big.NewInt(soft),
		HardCap:           big.NewInt(hard),
		Utilized:          big.NewInt(utilized),
	}
}

func TestEffectiveCap(t *testing.T) {
	t.Run("below soft cap applies haircut to utilization cap", func(t *testing.T) {
		// soft 1,000,000 * 8000bps * (1 - 2000bps) = 640,000
		got := EffectiveCap(record(1_000_000, 2_000_000, 0), 10_000)
		assert.Equal(t, int64(640_000), got.Int64())
	})

	t.Run("boundary requests around the effective cap", func(t *testing.T) {
		rec := record(1_000_000, 2_000_000, 0)
		effective := EffectiveCap(rec, 10_000)
		assert.True(t, big.NewInt(600_000).Cmp(effective) <= 0, "600,000 fits")
		assert.True(t, big.NewInt(700_000).Cmp(effective) > 0, "700,000 does not fit")
	})

	t.Run("exactly at soft cap still full", func(t *testing.T) {
		got := EffectiveCap(record(1_000_000, 2_000_000, 1_000_000), 10_000)
		assert.Equal(t, int64(640_000), got.Int64())
	})

	t.Run("midpoint dampens by half at full slope", func(t *testing.T) {
		got := EffectiveCap(record(1_000_000, 2_000_000, 1_500_000), 10_000)
		assert.Equal(t, int64(320_000), got.Int64())
	})

	t.Run("zero at hard cap", func(t *testing.T) {
		got := EffectiveCap(record(1_000_000, 2_000_000, 2_000_000), 10_000)
		assert.Zero(t, got.Sign())
	})

	t.Run("zero above hard cap", func(t *testing.T) {
		got := EffectiveCap(record(1_000_000, 2_000_000, 3_000_000), 10_000)
		assert.Zero(t, got.Sign())
	})

	t.Run("disabled jurisdiction has no capacity", func(t *testing.T) {
		rec := record(1_000_000, 2_000_000, 0)
		rec.Enabled = false
		assert.Zero(t, EffectiveCap(rec, 10_000).Sign())
	})

	t.Run("half slope halves damping at midpoint", func(t *testing.T) {
		got := EffectiveCap(record(1_000_000, 2_000_000, 1_500_000), 5_000)
		// damping = 5000 * 0.5 = 2500bps; 640,000 * 0.75 = 480,000
		assert.Equal(t, int64(480_000), got.Int64())
	})
}

func TestEffectiveCapNonIncreasing(t *testing.T) {
	// Continuity and monotonicity across the soft->hard span: stepping
	// utilization up never raises the effective cap, and adjacent steps
	// never jump by more than the slope implies.
	const step = 10_000
	prev := EffectiveCap(record(1_000_000, 2_000_000, 0), 10_000)
	for u := int64(step); u <= 2_000_000; u += step {
		cur := EffectiveCap(record(1_000_000, 2_000_000, u), 10_000)
		require.True(t, cur.Cmp(prev) <= 0, "capacity rose at utilization %d", u)

		jump := new(big.Int).Sub(prev, cur)
		// Full slope over a 1,000,000 span: one step moves at most
		// 640,000 * step/1,000,000, plus 1 for truncation.
		maxJump := big.NewInt(640_000*step/1_000_000 + 1)
		require.True(t, jump.Cmp(maxJump) <= 0, "discontinuity at utilization %d: %s", u, jump)
		prev = cur
	}
	assert.Zero(t, prev.Sign(), "capacity must reach exactly zero at the hard cap")
}

package canonical

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasher_Deterministic(t *testing.T) {
	a := NewHasher("nav-update/v1", "fundgate", 1).BigInt(big.NewInt(42)).Uint64(7).Sum()
	b := NewHasher("nav-update/v1", "fundgate", 1).BigInt(big.NewInt(42)).Uint64(7).Sum()
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestHasher_DomainSeparation(t *testing.T) {
	base := NewHasher("nav-update/v1", "fundgate", 1).Uint64(42).Sum()

	t.Run("different tag", func(t *testing.T) {
		other := NewHasher("mint-intent/v1", "fundgate", 1).Uint64(42).Sum()
		assert.NotEqual(t, base, other)
	})

	t.Run("different chain", func(t *testing.T) {
		other := NewHasher("nav-update/v1", "fundgate", 2).Uint64(42).Sum()
		assert.NotEqual(t, base, other)
	})

	t.Run("different service", func(t *testing.T) {
		other := NewHasher("nav-update/v1", "fundgate-staging", 1).Uint64(42).Sum()
		assert.NotEqual(t, base, other)
	})
}

func TestHasher_LengthPrefixPreventsSplicing(t *testing.T) {
	a := NewHasher("d", "s", 1).String("ab").String("c").Sum()
	b := NewHasher("d", "s", 1).String("a").String("bc").Sum()
	assert.NotEqual(t, a, b)
}

func TestHasher_FieldOrderMatters(t *testing.T) {
	a := NewHasher("d", "s", 1).Uint64(1).Uint64(2).Sum()
	b := NewHasher("d", "s", 1).Uint64(2).Uint64(1).Sum()
	assert.NotEqual(t, a, b)
}

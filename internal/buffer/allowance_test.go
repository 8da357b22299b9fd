package buffer_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundgate/internal/buffer"
	"fundgate/internal/buffer/store"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/requestcontext"
)

func TestAllowance(t *testing.T) {
	account := id.Account("acct-alice")
	day1 := requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	newService := func(t *testing.T, cap int64) *buffer.Service {
		t.Helper()
		svc, err := buffer.New(store.NewMemory(), big.NewInt(cap))
		require.NoError(t, err)
		return svc
	}

	t.Run("consume within cap", func(t *testing.T) {
		svc := newService(t, 1_000)
		require.NoError(t, svc.Consume(day1, account, big.NewInt(400)))
		require.NoError(t, svc.Consume(day1, account, big.NewInt(600)))

		remaining, err := svc.Remaining(day1, account)
		require.NoError(t, err)
		assert.Zero(t, remaining.Sign())
	})

	t.Run("exhausted allowance rejected without eating the cap", func(t *testing.T) {
		svc := newService(t, 1_000)
		require.NoError(t, svc.Consume(day1, account, big.NewInt(900)))

		err := svc.Consume(day1, account, big.NewInt(200))
		assert.Equal(t, dErrors.CodeCapacityExceeded, dErrors.GetCode(err))

		// The rejected request rolled its optimistic add back.
		remaining, err := svc.Remaining(day1, account)
		require.NoError(t, err)
		assert.Equal(t, int64(100), remaining.Int64())
	})

	t.Run("refund restores allowance", func(t *testing.T) {
		svc := newService(t, 1_000)
		require.NoError(t, svc.Consume(day1, account, big.NewInt(800)))
		require.NoError(t, svc.Refund(day1, account, big.NewInt(800)))

		remaining, err := svc.Remaining(day1, account)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000), remaining.Int64())
	})

	t.Run("allowance rolls over at UTC midnight", func(t *testing.T) {
		svc := newService(t, 1_000)
		require.NoError(t, svc.Consume(day1, account, big.NewInt(1_000)))

		day2 := requestcontext.WithTime(context.Background(),
			time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
		require.NoError(t, svc.Consume(day2, account, big.NewInt(1_000)))
	})

	t.Run("accounts are independent", func(t *testing.T) {
		svc := newService(t, 1_000)
		require.NoError(t, svc.Consume(day1, account, big.NewInt(1_000)))
		require.NoError(t, svc.Consume(day1, id.Account("acct-bob"), big.NewInt(1_000)))
	})
}

//go:build integration

package store_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/capacity"
	"fundgate/internal/capacity/store"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "capacity_records")
	s.Require().NoError(err)
}

func newRecord(jurisdiction string) *capacity.SovereignCapacityRecord {
	return &capacity.SovereignCapacityRecord{
		Jurisdiction:      id.Jurisdiction(jurisdiction),
		UtilizationCapBps: 8_000,
		HaircutBps:        250,
		WeightBps:         10_000,
		Enabled:           true,
		SoftCap:           big.NewInt(1_000_000_000_000),
		HardCap:           big.NewInt(2_000_000_000_000),
		Utilized:          new(big.Int),
		UpdatedAt:         time.Now().UTC(),
	}
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	rec := newRecord("CH")

	s.Require().NoError(s.store.Create(ctx, rec))

	got, err := s.store.Get(ctx, rec.Jurisdiction)
	s.Require().NoError(err)
	s.Equal(rec.Jurisdiction, got.Jurisdiction)
	s.Equal(rec.UtilizationCapBps, got.UtilizationCapBps)
	s.Equal(rec.HaircutBps, got.HaircutBps)
	s.True(got.Enabled)
	s.Zero(rec.SoftCap.Cmp(got.SoftCap))
	s.Zero(rec.HardCap.Cmp(got.HardCap))
	s.Zero(got.Utilized.Sign())
	s.Equal(uint64(1), got.Version)
	s.WithinDuration(rec.UpdatedAt, got.UpdatedAt, time.Second)
}

func (s *PostgresStoreSuite) TestCreateDuplicateConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newRecord("SG")))

	err := s.store.Create(ctx, newRecord("SG"))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "ZZ")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestPutAdvancesVersion() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newRecord("LU")))

	rec, err := s.store.Get(ctx, "LU")
	s.Require().NoError(err)

	rec.Utilized = big.NewInt(250_000_000_000)
	rec.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.Put(ctx, rec, rec.Version))

	got, err := s.store.Get(ctx, "LU")
	s.Require().NoError(err)
	s.Equal(uint64(2), got.Version)
	s.Zero(rec.Utilized.Cmp(got.Utilized))
}

func (s *PostgresStoreSuite) TestPutStaleVersionConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newRecord("LU")))

	rec, err := s.store.Get(ctx, "LU")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(ctx, rec, rec.Version))

	// Second write carries the version it read before the first landed.
	err = s.store.Put(ctx, rec, rec.Version)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestPutMissing() {
	rec := newRecord("ZZ")
	err := s.store.Put(context.Background(), rec, 1)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListOrdersByJurisdiction() {
	ctx := context.Background()
	for _, j := range []string{"SG", "CH", "LU"} {
		s.Require().NoError(s.store.Create(ctx, newRecord(j)))
	}

	records, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(id.Jurisdiction("CH"), records[0].Jurisdiction)
	s.Equal(id.Jurisdiction("LU"), records[1].Jurisdiction)
	s.Equal(id.Jurisdiction("SG"), records[2].Jurisdiction)
}

// TestConcurrentPutSingleWinner verifies that writers racing on the same
// version see exactly one success.
func (s *PostgresStoreSuite) TestConcurrentPutSingleWinner() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newRecord("CH")))

	rec, err := s.store.Get(ctx, "CH")
	s.Require().NoError(err)

	const writers = 20
	var wg sync.WaitGroup
	var successes, conflicts atomic.Int32

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			clone := rec.Clone()
			clone.Utilized = big.NewInt(int64(n + 1))
			switch err := s.store.Put(ctx, clone, rec.Version); {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

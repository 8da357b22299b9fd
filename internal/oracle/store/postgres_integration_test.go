//go:build integration

package store_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/oracle"
	"fundgate/internal/oracle/store"
	"fundgate/pkg/fixedpoint"
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
	err := s.postgres.TruncateTables(context.Background(), "nav_state")
	s.Require().NoError(err)
}

func seedState(t time.Time) *oracle.NavState {
	return &oracle.NavState{
		NavRay:         new(big.Int).Set(fixedpoint.RayOne),
		LastUpdateTime: t,
		UpdateSequence: 1,
		LastGoodRay:    new(big.Int).Set(fixedpoint.RayOne),
		LastGoodTime:   t,
	}
}

func (s *PostgresStoreSuite) TestGetUnseeded() {
	_, err := s.store.Get(context.Background())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSeedAndGet() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Seed(ctx, seedState(now)))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Zero(fixedpoint.RayOne.Cmp(got.NavRay))
	s.Zero(fixedpoint.RayOne.Cmp(got.LastGoodRay))
	s.Equal(uint64(1), got.UpdateSequence)
	s.WithinDuration(now, got.LastUpdateTime, time.Second)
	s.False(got.EmergencyOverride)
}

func (s *PostgresStoreSuite) TestSeedTwiceConflicts() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Seed(ctx, seedState(now)))

	err := s.store.Seed(ctx, seedState(now))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestPutGuardsSequence() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Seed(ctx, seedState(now)))

	state, err := s.store.Get(ctx)
	s.Require().NoError(err)

	next := state.Clone()
	next.NavRay = fixedpoint.ApplyBps(fixedpoint.RayOne, 10_020)
	next.LastGoodRay = new(big.Int).Set(next.NavRay)
	next.UpdateSequence = 2
	next.LastUpdateTime = now.Add(time.Minute)
	next.LastGoodTime = next.LastUpdateTime
	s.Require().NoError(s.store.Put(ctx, next, state.UpdateSequence))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Zero(next.NavRay.Cmp(got.NavRay))
	s.Equal(uint64(2), got.UpdateSequence)

	// A writer that read sequence 1 lost the race.
	err = s.store.Put(ctx, next, state.UpdateSequence)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestPutUnseeded() {
	err := s.store.Put(context.Background(), seedState(time.Now().UTC()), 0)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestEmergencyOverrideRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Seed(ctx, seedState(now)))

	state, err := s.store.Get(ctx)
	s.Require().NoError(err)

	next := state.Clone()
	next.UpdateSequence = 2
	next.EmergencyOverride = true
	s.Require().NoError(s.store.Put(ctx, next, state.UpdateSequence))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.True(got.EmergencyOverride)
}

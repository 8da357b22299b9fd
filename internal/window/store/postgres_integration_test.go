//go:build integration

package store_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/window"
	"fundgate/internal/window/store"
	id "fundgate/pkg/domain"
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
	// Truncate in dependency order.
	err := s.postgres.TruncateTables(context.Background(),
		"window_claims", "window_pending", "windows")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) openWindow() *window.Window {
	now := time.Now().UTC().Truncate(time.Millisecond)
	w := &window.Window{
		State:            window.StateOpen,
		OpenTime:         now,
		CloseTime:        now.Add(24 * time.Hour),
		TotalDueCapital:  new(big.Int),
		TotalPaidCapital: new(big.Int),
	}
	s.Require().NoError(s.store.CreateWindow(context.Background(), w))
	return w
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.WadOne)
}

func (s *PostgresStoreSuite) TestCreateAndGetWindow() {
	ctx := context.Background()
	w := s.openWindow()
	s.NotZero(w.ID)
	s.Equal(uint64(1), w.Version)

	got, err := s.store.GetWindow(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(window.StateOpen, got.State)
	s.WithinDuration(w.OpenTime, got.OpenTime, time.Second)
	s.WithinDuration(w.CloseTime, got.CloseTime, time.Second)
	s.True(got.StrikeTime.IsZero())
	s.Nil(got.NavAtStrikeRay)
	s.Zero(got.TotalDueCapital.Sign())
	s.Equal(uint64(1), got.Version)
}

func (s *PostgresStoreSuite) TestGetWindowMissing() {
	_, err := s.store.GetWindow(context.Background(), 99)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestOpenWindowFindsOpenState() {
	ctx := context.Background()

	_, err := s.store.OpenWindow(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)

	w := s.openWindow()
	got, err := s.store.OpenWindow(ctx)
	s.Require().NoError(err)
	s.Equal(w.ID, got.ID)
}

func (s *PostgresStoreSuite) TestPutWindowTransitions() {
	ctx := context.Background()
	w := s.openWindow()

	w.State = window.StateStruck
	w.StrikeTime = w.CloseTime.Add(time.Hour)
	w.NavAtStrikeRay = new(big.Int).Set(fixedpoint.RayOne)
	w.TotalDueCapital = big.NewInt(500_000_000)
	s.Require().NoError(s.store.PutWindow(ctx, w, w.Version))

	got, err := s.store.GetWindow(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(window.StateStruck, got.State)
	s.WithinDuration(w.StrikeTime, got.StrikeTime, time.Second)
	s.Zero(fixedpoint.RayOne.Cmp(got.NavAtStrikeRay))
	s.Zero(w.TotalDueCapital.Cmp(got.TotalDueCapital))
	s.Equal(uint64(2), got.Version)

	// The version we already spent no longer matches.
	err = s.store.PutWindow(ctx, w, w.Version)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestPendingAccumulates() {
	ctx := context.Background()
	w := s.openWindow()
	alice := id.Account("alice")

	s.Require().NoError(s.store.AddPending(ctx, w.ID, alice, tokens(10)))
	s.Require().NoError(s.store.AddPending(ctx, w.ID, alice, tokens(5)))
	s.Require().NoError(s.store.AddPending(ctx, w.ID, "bob", tokens(7)))

	got, err := s.store.GetPending(ctx, w.ID, alice)
	s.Require().NoError(err)
	s.Zero(tokens(15).Cmp(got))

	total, err := s.store.PendingTotal(ctx, w.ID)
	s.Require().NoError(err)
	s.Zero(tokens(22).Cmp(total))
}

func (s *PostgresStoreSuite) TestGetPendingUnknownAccountIsZero() {
	w := s.openWindow()
	got, err := s.store.GetPending(context.Background(), w.ID, "nobody")
	s.Require().NoError(err)
	s.Zero(got.Sign())
}

func (s *PostgresStoreSuite) TestPendingAccountsOrderedAndLimited() {
	ctx := context.Background()
	w := s.openWindow()
	for _, account := range []id.Account{"carol", "alice", "bob"} {
		s.Require().NoError(s.store.AddPending(ctx, w.ID, account, tokens(1)))
	}
	// Fully refunded accounts drop out of the listing.
	s.Require().NoError(s.store.AddPending(ctx, w.ID, "dave", tokens(3)))
	s.Require().NoError(s.store.AddPending(ctx, w.ID, "dave", new(big.Int).Neg(tokens(3))))

	accounts, err := s.store.PendingAccounts(ctx, w.ID, 0)
	s.Require().NoError(err)
	s.Equal([]id.Account{"alice", "bob", "carol"}, accounts)

	limited, err := s.store.PendingAccounts(ctx, w.ID, 2)
	s.Require().NoError(err)
	s.Equal([]id.Account{"alice", "bob"}, limited)
}

func (s *PostgresStoreSuite) TestMintClaimMovesPending() {
	ctx := context.Background()
	w := s.openWindow()
	alice := id.Account("alice")
	s.Require().NoError(s.store.AddPending(ctx, w.ID, alice, tokens(40)))

	claim, err := s.store.MintClaim(ctx, w.ID, alice)
	s.Require().NoError(err)
	s.NotZero(claim.ID)
	s.Equal(w.ID, claim.WindowID)
	s.Equal(alice, claim.Account)
	s.Zero(tokens(40).Cmp(claim.TokensWad))
	s.Zero(claim.PaidCapital.Sign())
	s.Nil(claim.RemainingCapital)
	s.False(claim.Closed)
	s.Equal(uint64(1), claim.Version)

	// Pending is gone, so a second mint for the same account fails.
	pending, err := s.store.GetPending(ctx, w.ID, alice)
	s.Require().NoError(err)
	s.Zero(pending.Sign())

	_, err = s.store.MintClaim(ctx, w.ID, alice)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestPutClaimSettlement() {
	ctx := context.Background()
	w := s.openWindow()
	s.Require().NoError(s.store.AddPending(ctx, w.ID, "alice", tokens(40)))
	claim, err := s.store.MintClaim(ctx, w.ID, "alice")
	s.Require().NoError(err)

	claim.PaidCapital = big.NewInt(30_000_000)
	claim.RemainingCapital = big.NewInt(10_000_000)
	s.Require().NoError(s.store.PutClaim(ctx, claim, claim.Version))

	got, err := s.store.GetClaim(ctx, claim.ID)
	s.Require().NoError(err)
	s.Zero(claim.PaidCapital.Cmp(got.PaidCapital))
	s.Zero(claim.RemainingCapital.Cmp(got.RemainingCapital))
	s.Equal(uint64(2), got.Version)

	err = s.store.PutClaim(ctx, claim, claim.Version)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListClaims() {
	ctx := context.Background()
	w := s.openWindow()
	for _, account := range []id.Account{"alice", "bob"} {
		s.Require().NoError(s.store.AddPending(ctx, w.ID, account, tokens(1)))
		_, err := s.store.MintClaim(ctx, w.ID, account)
		s.Require().NoError(err)
	}

	claims, err := s.store.ListClaims(ctx, w.ID)
	s.Require().NoError(err)
	s.Require().Len(claims, 2)
	s.Equal(id.Account("alice"), claims[0].Account)
	s.Equal(id.Account("bob"), claims[1].Account)
}

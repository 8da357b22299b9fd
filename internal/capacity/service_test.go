package capacity_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fundgate/internal/capacity"
	"fundgate/internal/capacity/store"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/requestcontext"
)

type CapacityServiceSuite struct {
	suite.Suite

	service      *capacity.Service
	jurisdiction id.Jurisdiction
	ctx          context.Context
}

func TestCapacityServiceSuite(t *testing.T) {
	suite.Run(t, new(CapacityServiceSuite))
}

func (s *CapacityServiceSuite) SetupTest() {
	svc, err := capacity.New(store.NewMemory(), 10_000)
	s.Require().NoError(err)
	s.service = svc

	s.jurisdiction = id.Jurisdiction("BR")
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Require().NoError(svc.Upsert(s.ctx, &capacity.SovereignCapacityRecord{
		Jurisdiction:      s.jurisdiction,
		UtilizationCapBps: 8_000,
		HaircutBps:        2_000,
		WeightBps:         10_000,
		Enabled:           true,
		SoftCap:           big.NewInt(1_000_000),
		HardCap:           big.NewInt(2_000_000),
		Utilized:          new(big.Int),
	}))
}

func (s *CapacityServiceSuite) TestCheck() {
	s.Run("allows within effective cap", func() {
		decision, err := s.service.Check(s.ctx, s.jurisdiction, big.NewInt(600_000))
		s.Require().NoError(err)
		s.True(decision.Allowed)
		s.Equal(int64(640_000), decision.EffectiveCap.Int64())
	})

	s.Run("denies beyond effective cap", func() {
		decision, err := s.service.Check(s.ctx, s.jurisdiction, big.NewInt(700_000))
		s.Require().NoError(err)
		s.False(decision.Allowed)
	})

	s.Run("unknown jurisdiction", func() {
		_, err := s.service.Check(s.ctx, id.Jurisdiction("ZZ"), big.NewInt(1))
		s.Equal(dErrors.CodeNotFound, dErrors.GetCode(err))
	})

	s.Run("rejects non-positive amount", func() {
		_, err := s.service.Check(s.ctx, s.jurisdiction, big.NewInt(0))
		s.Equal(dErrors.CodeInvalidInput, dErrors.GetCode(err))
	})
}

func (s *CapacityServiceSuite) TestReserveAccumulatesUtilization() {
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(500_000)))

	rec, err := s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	s.Equal(int64(500_000), rec.Utilized.Int64())

	// Still below soft cap, effective cap unchanged; a second reserve at
	// the boundary succeeds.
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(640_000)))

	rec, err = s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	s.Equal(int64(1_140_000), rec.Utilized.Int64())
}

func (s *CapacityServiceSuite) TestReserveDeniedByDamping() {
	// Push utilization past the soft cap, then check the damped value binds.
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(1_000_000)))
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(500_000)))

	// At utilization 1,500,000 the effective cap is 320,000.
	err := s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(320_001))
	s.Equal(dErrors.CodeCapacityExceeded, dErrors.GetCode(err))

	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(320_000)))
}

func (s *CapacityServiceSuite) TestReserveNeverExceedsHardCap() {
	s.Require().NoError(s.service.Upsert(s.ctx, &capacity.SovereignCapacityRecord{
		Jurisdiction:      s.jurisdiction,
		UtilizationCapBps: 10_000,
		HaircutBps:        0,
		WeightBps:         10_000,
		Enabled:           true,
		// Degenerate curve: soft == hard, effective cap above headroom.
		SoftCap: big.NewInt(1_000_000),
		HardCap: big.NewInt(1_000_000),
	}))

	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(900_000)))

	// 200,000 fits under the effective cap but not under remaining
	// headroom.
	err := s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(200_000))
	s.Equal(dErrors.CodeCapacityExceeded, dErrors.GetCode(err))

	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(100_000)))

	rec, err := s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	s.Zero(rec.Utilized.Cmp(rec.HardCap))
}

func (s *CapacityServiceSuite) TestMonotonicRemainingCapacity() {
	prev, err := s.service.Check(s.ctx, s.jurisdiction, big.NewInt(1))
	s.Require().NoError(err)

	for _, amount := range []int64{100_000, 400_000, 600_000, 300_000} {
		s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(amount)))
		cur, err := s.service.Check(s.ctx, s.jurisdiction, big.NewInt(1))
		s.Require().NoError(err)
		s.True(cur.EffectiveCap.Cmp(prev.EffectiveCap) <= 0,
			"effective cap rose after reserving %d", amount)
		prev = cur
	}
}

func (s *CapacityServiceSuite) TestReleaseRestoresCapacity() {
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(600_000)))
	s.Require().NoError(s.service.Release(s.ctx, s.jurisdiction, big.NewInt(600_000)))

	rec, err := s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	s.Zero(rec.Utilized.Sign())

	s.Run("release clamps at zero", func() {
		s.Require().NoError(s.service.Release(s.ctx, s.jurisdiction, big.NewInt(1_000)))
		rec, err := s.service.Get(s.ctx, s.jurisdiction)
		s.Require().NoError(err)
		s.Zero(rec.Utilized.Sign())
	})
}

func (s *CapacityServiceSuite) TestDisabledJurisdictionDenied() {
	rec, err := s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	rec.Enabled = false
	s.Require().NoError(s.service.Upsert(s.ctx, rec))

	reserveErr := s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(1))
	s.Equal(dErrors.CodeCapacityExceeded, dErrors.GetCode(reserveErr))
}

func (s *CapacityServiceSuite) TestUpsertPreservesUtilization() {
	s.Require().NoError(s.service.Reserve(s.ctx, s.jurisdiction, big.NewInt(250_000)))

	rec, err := s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	rec.HardCap = big.NewInt(3_000_000)
	rec.Utilized = new(big.Int) // governance payloads never carry utilization
	s.Require().NoError(s.service.Upsert(s.ctx, rec))

	rec, err = s.service.Get(s.ctx, s.jurisdiction)
	s.Require().NoError(err)
	s.Equal(int64(250_000), rec.Utilized.Int64())
	s.Equal(int64(3_000_000), rec.HardCap.Int64())
}

func (s *CapacityServiceSuite) TestUpsertValidation() {
	cases := []struct {
		name   string
		mutate func(*capacity.SovereignCapacityRecord)
	}{
		{"soft above hard", func(r *capacity.SovereignCapacityRecord) {
			r.SoftCap = big.NewInt(10)
			r.HardCap = big.NewInt(5)
		}},
		{"bps out of range", func(r *capacity.SovereignCapacityRecord) {
			r.HaircutBps = 10_001
		}},
		{"missing jurisdiction", func(r *capacity.SovereignCapacityRecord) {
			r.Jurisdiction = ""
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := &capacity.SovereignCapacityRecord{
				Jurisdiction:      s.jurisdiction,
				UtilizationCapBps: 8_000,
				Enabled:           true,
				SoftCap:           big.NewInt(1),
				HardCap:           big.NewInt(2),
				Utilized:          new(big.Int),
			}
			tc.mutate(rec)
			err := s.service.Upsert(s.ctx, rec)
			s.Equal(dErrors.CodeInvalidInput, dErrors.GetCode(err))
		})
	}
}

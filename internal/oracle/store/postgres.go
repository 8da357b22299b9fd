package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"fundgate/internal/oracle"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore keeps the singleton NAV state in a one-row table guarded by
// an optimistic sequence check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) queryExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context) (*oracle.NavState, error) {
	var (
		navStr, goodStr      string
		lastUpdate, lastGood time.Time
		sequence             uint64
		emergencyOverride    bool
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT nav_ray, last_update_time, update_sequence,
		       last_good_ray, last_good_time, emergency_override
		FROM nav_state WHERE singleton = TRUE
	`).Scan(&navStr, &lastUpdate, &sequence, &goodStr, &lastGood, &emergencyOverride)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query nav state: %w", err)
	}

	nav, ok := new(big.Int).SetString(navStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt nav_ray value: %q", navStr)
	}
	good, ok := new(big.Int).SetString(goodStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt last_good_ray value: %q", goodStr)
	}

	return &oracle.NavState{
		NavRay:            nav,
		LastUpdateTime:    lastUpdate,
		UpdateSequence:    sequence,
		LastGoodRay:       good,
		LastGoodTime:      lastGood,
		EmergencyOverride: emergencyOverride,
	}, nil
}

func (s *PostgresStore) Put(ctx context.Context, state *oracle.NavState, expectedSequence uint64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE nav_state
		SET nav_ray = $1, last_update_time = $2, update_sequence = $3,
		    last_good_ray = $4, last_good_time = $5, emergency_override = $6
		WHERE singleton = TRUE AND update_sequence = $7
	`,
		state.NavRay.String(), state.LastUpdateTime, state.UpdateSequence,
		state.LastGoodRay.String(), state.LastGoodTime, state.EmergencyOverride,
		expectedSequence,
	)
	if err != nil {
		return fmt.Errorf("update nav state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("nav state rows affected: %w", err)
	}
	if affected == 0 {
		// Either unseeded or a concurrent writer advanced the sequence.
		if _, getErr := s.Get(ctx); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Seed(ctx context.Context, state *oracle.NavState) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO nav_state (
			singleton, nav_ray, last_update_time, update_sequence,
			last_good_ray, last_good_time, emergency_override
		)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6)
	`,
		state.NavRay.String(), state.LastUpdateTime, state.UpdateSequence,
		state.LastGoodRay.String(), state.LastGoodTime, state.EmergencyOverride,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("seed nav state: %w", err)
	}
	return nil
}

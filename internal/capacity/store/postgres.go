package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/lib/pq"

	"fundgate/internal/capacity"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore keeps capacity records keyed by jurisdiction with an
// optimistic version column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) queryExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `jurisdiction, utilization_cap_bps, haircut_bps, weight_bps,
       enabled, soft_cap, hard_cap, utilized, version, updated_at`

func (s *PostgresStore) Get(ctx context.Context, jurisdiction id.Jurisdiction) (*capacity.SovereignCapacityRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM capacity_records WHERE jurisdiction = $1`,
		jurisdiction.String(),
	)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query capacity record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *capacity.SovereignCapacityRecord, expectedVersion uint64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE capacity_records
		SET utilization_cap_bps = $1, haircut_bps = $2, weight_bps = $3,
		    enabled = $4, soft_cap = $5, hard_cap = $6, utilized = $7,
		    version = version + 1, updated_at = $8
		WHERE jurisdiction = $9 AND version = $10
	`,
		rec.UtilizationCapBps, rec.HaircutBps, rec.WeightBps,
		rec.Enabled, rec.SoftCap.String(), rec.HardCap.String(), rec.Utilized.String(),
		rec.UpdatedAt, rec.Jurisdiction.String(), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update capacity record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("capacity record rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, rec.Jurisdiction); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *capacity.SovereignCapacityRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO capacity_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
	`,
		rec.Jurisdiction.String(), rec.UtilizationCapBps, rec.HaircutBps, rec.WeightBps,
		rec.Enabled, rec.SoftCap.String(), rec.HardCap.String(), rec.Utilized.String(),
		rec.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create capacity record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*capacity.SovereignCapacityRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+recordColumns+` FROM capacity_records ORDER BY jurisdiction`,
	)
	if err != nil {
		return nil, fmt.Errorf("list capacity records: %w", err)
	}
	defer rows.Close()

	var recs []*capacity.SovereignCapacityRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan capacity record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capacity records: %w", err)
	}
	return recs, nil
}

func scanRecord(scan func(...any) error) (*capacity.SovereignCapacityRecord, error) {
	var (
		rec                     capacity.SovereignCapacityRecord
		jurisdiction            string
		softStr, hardStr, utStr string
	)
	err := scan(&jurisdiction, &rec.UtilizationCapBps, &rec.HaircutBps, &rec.WeightBps,
		&rec.Enabled, &softStr, &hardStr, &utStr, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseJurisdiction(jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("corrupt jurisdiction %q: %w", jurisdiction, err)
	}
	rec.Jurisdiction = parsed

	for _, field := range []struct {
		dst **big.Int
		src string
	}{
		{&rec.SoftCap, softStr},
		{&rec.HardCap, hardStr},
		{&rec.Utilized, utStr},
	} {
		value, ok := new(big.Int).SetString(field.src, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt capital value: %q", field.src)
		}
		*field.dst = value
	}
	return &rec, nil
}

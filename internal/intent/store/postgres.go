package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

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

func (s *PostgresStore) Get(ctx context.Context, signer id.SignerID) (uint64, error) {
	var nonce uint64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT nonce FROM mint_nonces WHERE signer = $1`, signer.String(),
	).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query mint nonce: %w", err)
	}
	return nonce, nil
}

func (s *PostgresStore) Advance(ctx context.Context, signer id.SignerID, expected uint64) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE mint_nonces SET nonce = $1 WHERE signer = $2 AND nonce = $3`,
		expected+1, signer.String(), expected,
	)
	if err != nil {
		return fmt.Errorf("advance mint nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mint nonce rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if expected != 0 {
		return sentinel.ErrConflict
	}

	// First consumption for this signer: the row does not exist yet.
	res, err = s.execer(ctx).ExecContext(ctx,
		`INSERT INTO mint_nonces (signer, nonce) VALUES ($1, 1)
		 ON CONFLICT (signer) DO NOTHING`,
		signer.String(),
	)
	if err != nil {
		return fmt.Errorf("insert mint nonce: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mint nonce rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

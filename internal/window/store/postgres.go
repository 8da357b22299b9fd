package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/lib/pq"

	"fundgate/internal/window"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
	txcontext "fundgate/pkg/platform/tx"
)

// PostgresStore backs the window engine with three tables: windows (one
// OPEN at a time via a partial unique index), window_pending, and
// window_claims.
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

const windowColumns = `id, state, open_time, close_time, strike_time,
       nav_at_strike, total_due, total_paid, version`

func (s *PostgresStore) CreateWindow(ctx context.Context, w *window.Window) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO windows (state, open_time, close_time, strike_time,
		                     nav_at_strike, total_due, total_paid, version)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, 1)
		RETURNING id
	`,
		int(w.State), w.OpenTime, w.CloseTime,
		w.TotalDueCapital.String(), w.TotalPaidCapital.String(),
	).Scan(&w.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	w.Version = 1
	return nil
}

func (s *PostgresStore) GetWindow(ctx context.Context, windowID id.WindowID) (*window.Window, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+windowColumns+` FROM windows WHERE id = $1`, uint64(windowID))
	w, err := scanWindow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) OpenWindow(ctx context.Context) (*window.Window, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+windowColumns+` FROM windows WHERE state = $1`, int(window.StateOpen))
	w, err := scanWindow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open window: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) PutWindow(ctx context.Context, w *window.Window, expectedVersion uint64) error {
	var navAtStrike, strikeTime any
	if w.NavAtStrikeRay != nil {
		navAtStrike = w.NavAtStrikeRay.String()
	}
	if !w.StrikeTime.IsZero() {
		strikeTime = w.StrikeTime
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE windows
		SET state = $1, strike_time = $2, nav_at_strike = $3,
		    total_due = $4, total_paid = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`,
		int(w.State), strikeTime, navAtStrike,
		w.TotalDueCapital.String(), w.TotalPaidCapital.String(),
		uint64(w.ID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("window rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetWindow(ctx, w.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) AddPending(ctx context.Context, windowID id.WindowID, account id.Account, tokensWad *big.Int) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO window_pending (window_id, account, tokens)
		VALUES ($1, $2, $3)
		ON CONFLICT (window_id, account)
		DO UPDATE SET tokens = (window_pending.tokens::numeric + $3::numeric)::text
	`, uint64(windowID), account.String(), tokensWad.String())
	if err != nil {
		return fmt.Errorf("add pending: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingTotal(ctx context.Context, windowID id.WindowID) (*big.Int, error) {
	var totalStr string
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens::numeric), 0)::text
		FROM window_pending WHERE window_id = $1
	`, uint64(windowID)).Scan(&totalStr)
	if err != nil {
		return nil, fmt.Errorf("pending total: %w", err)
	}
	total, ok := new(big.Int).SetString(totalStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt pending total: %q", totalStr)
	}
	return total, nil
}

func (s *PostgresStore) GetPending(ctx context.Context, windowID id.WindowID, account id.Account) (*big.Int, error) {
	var tokensStr string
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT tokens FROM window_pending WHERE window_id = $1 AND account = $2`,
		uint64(windowID), account.String(),
	).Scan(&tokensStr)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	tokens, ok := new(big.Int).SetString(tokensStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt pending value: %q", tokensStr)
	}
	return tokens, nil
}

func (s *PostgresStore) PendingAccounts(ctx context.Context, windowID id.WindowID, limit int) ([]id.Account, error) {
	query := `SELECT account FROM window_pending
	          WHERE window_id = $1 AND tokens::numeric > 0 ORDER BY account`
	args := []any{uint64(windowID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending accounts: %w", err)
	}
	defer rows.Close()

	var accounts []id.Account
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan pending account: %w", err)
		}
		accounts = append(accounts, id.Account(account))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending accounts: %w", err)
	}
	return accounts, nil
}

// MintClaim removes the pending row and creates the claim in one
// transaction unless the caller already runs in one.
func (s *PostgresStore) MintClaim(ctx context.Context, windowID id.WindowID, account id.Account) (*window.Claim, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.mintClaim(ctx, tx, windowID, account)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mint claim tx: %w", err)
	}
	claim, err := s.mintClaim(ctx, tx, windowID, account)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mint claim tx: %w", err)
	}
	return claim, nil
}

func (s *PostgresStore) mintClaim(ctx context.Context, tx queryExecutor, windowID id.WindowID, account id.Account) (*window.Claim, error) {
	var tokensStr string
	err := tx.QueryRowContext(ctx, `
		DELETE FROM window_pending
		WHERE window_id = $1 AND account = $2 AND tokens::numeric > 0
		RETURNING tokens
	`, uint64(windowID), account.String()).Scan(&tokensStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take pending: %w", err)
	}
	tokens, ok := new(big.Int).SetString(tokensStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt pending value: %q", tokensStr)
	}

	claim := &window.Claim{
		WindowID:    windowID,
		Account:     account,
		TokensWad:   tokens,
		PaidCapital: new(big.Int),
		Version:     1,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO window_claims (window_id, account, tokens, paid, remaining, closed, version)
		VALUES ($1, $2, $3, '0', NULL, FALSE, 1)
		RETURNING id
	`, uint64(windowID), account.String(), tokens.String()).Scan(&claim.ID)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return claim, nil
}

const claimColumns = `id, window_id, account, tokens, paid, remaining, closed, version`

func (s *PostgresStore) GetClaim(ctx context.Context, claimID id.ClaimID) (*window.Claim, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM window_claims WHERE id = $1`, uint64(claimID))
	c, err := scanClaim(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query claim: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListClaims(ctx context.Context, windowID id.WindowID) ([]*window.Claim, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+claimColumns+` FROM window_claims WHERE window_id = $1 ORDER BY id`,
		uint64(windowID))
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []*window.Claim
	for rows.Next() {
		c, err := scanClaim(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func (s *PostgresStore) PutClaim(ctx context.Context, c *window.Claim, expectedVersion uint64) error {
	var remaining any
	if c.RemainingCapital != nil {
		remaining = c.RemainingCapital.String()
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE window_claims
		SET paid = $1, remaining = $2, closed = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`, c.PaidCapital.String(), remaining, c.Closed, uint64(c.ID), expectedVersion)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetClaim(ctx, c.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func scanWindow(scan func(...any) error) (*window.Window, error) {
	var (
		w               window.Window
		state           int
		navStr          sql.NullString
		dueStr, paidStr string
		strikeTime      sql.NullTime
	)
	err := scan(&w.ID, &state, &w.OpenTime, &w.CloseTime, &strikeTime,
		&navStr, &dueStr, &paidStr, &w.Version)
	if err != nil {
		return nil, err
	}
	w.State = window.State(state)
	if strikeTime.Valid {
		w.StrikeTime = strikeTime.Time
	}
	if navStr.Valid {
		nav, ok := new(big.Int).SetString(navStr.String, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt nav_at_strike: %q", navStr.String)
		}
		w.NavAtStrikeRay = nav
	}
	due, ok := new(big.Int).SetString(dueStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt total_due: %q", dueStr)
	}
	paid, ok := new(big.Int).SetString(paidStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt total_paid: %q", paidStr)
	}
	w.TotalDueCapital = due
	w.TotalPaidCapital = paid
	return &w, nil
}

func scanClaim(scan func(...any) error) (*window.Claim, error) {
	var (
		c            window.Claim
		account      string
		tokensStr    string
		paidStr      string
		remainingStr sql.NullString
	)
	err := scan(&c.ID, &c.WindowID, &account, &tokensStr, &paidStr, &remainingStr, &c.Closed, &c.Version)
	if err != nil {
		return nil, err
	}
	c.Account = id.Account(account)

	tokens, ok := new(big.Int).SetString(tokensStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt claim tokens: %q", tokensStr)
	}
	paid, ok := new(big.Int).SetString(paidStr, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt claim paid: %q", paidStr)
	}
	c.TokensWad = tokens
	c.PaidCapital = paid
	if remainingStr.Valid {
		remaining, ok := new(big.Int).SetString(remainingStr.String, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt claim remaining: %q", remainingStr.String)
		}
		c.RemainingCapital = remaining
	}
	return &c, nil
}

//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// fundgate schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fundgate_test"),
		tcpostgres.WithUsername("fundgate"),
		tcpostgres.WithPassword("fundgate"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(context.Background())
	})

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables and resets their sequences.
// Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf(
		"TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "),
	))
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS nav_state (
    singleton          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    nav_ray            TEXT        NOT NULL,
    last_update_time   TIMESTAMPTZ NOT NULL,
    update_sequence    BIGINT      NOT NULL,
    last_good_ray      TEXT        NOT NULL,
    last_good_time     TIMESTAMPTZ NOT NULL,
    emergency_override BOOLEAN     NOT NULL
);

CREATE TABLE IF NOT EXISTS capacity_records (
    jurisdiction        TEXT PRIMARY KEY,
    utilization_cap_bps INTEGER     NOT NULL,
    haircut_bps         INTEGER     NOT NULL,
    weight_bps          INTEGER     NOT NULL,
    enabled             BOOLEAN     NOT NULL,
    soft_cap            TEXT        NOT NULL,
    hard_cap            TEXT        NOT NULL,
    utilized            TEXT        NOT NULL,
    version             BIGINT      NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS windows (
    id            BIGSERIAL PRIMARY KEY,
    state         INTEGER     NOT NULL,
    open_time     TIMESTAMPTZ NOT NULL,
    close_time    TIMESTAMPTZ NOT NULL,
    strike_time   TIMESTAMPTZ,
    nav_at_strike TEXT,
    total_due     TEXT        NOT NULL,
    total_paid    TEXT        NOT NULL,
    version       BIGINT      NOT NULL
);

CREATE TABLE IF NOT EXISTS window_pending (
    window_id BIGINT NOT NULL REFERENCES windows (id),
    account   TEXT   NOT NULL,
    tokens    TEXT   NOT NULL,
    PRIMARY KEY (window_id, account)
);

CREATE TABLE IF NOT EXISTS window_claims (
    id        BIGSERIAL PRIMARY KEY,
    window_id BIGINT  NOT NULL REFERENCES windows (id),
    account   TEXT    NOT NULL,
    tokens    TEXT    NOT NULL,
    paid      TEXT    NOT NULL,
    remaining TEXT,
    closed    BOOLEAN NOT NULL,
    version   BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS mint_nonces (
    signer TEXT   PRIMARY KEY,
    nonce  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
    id             UUID  PRIMARY KEY,
    aggregate_type TEXT        NOT NULL,
    aggregate_id   TEXT        NOT NULL,
    event_type     TEXT        NOT NULL,
    payload        JSONB       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    published_at   TIMESTAMPTZ
);
`

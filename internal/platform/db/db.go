package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Open connects to PostgreSQL and verifies the connection. Returns nil when
// the DSN is empty (Postgres not configured; memory stores are used instead).
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, nil
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return conn, nil
}

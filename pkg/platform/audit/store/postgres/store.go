package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "fundgate/pkg/platform/audit"
	txcontext "fundgate/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the same transaction as the
// domain mutation that produced them; the outbox worker publishes rows to
// Kafka, which is the source of truth for downstream consumers.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Event so consumers can deserialize without a schema registry.
type outboxPayload struct {
	ID           string `json:"ID"`
	Category     string `json:"Category"`
	Timestamp    string `json:"Timestamp"`
	Account      string `json:"Account,omitempty"`
	Action       string `json:"Action"`
	Actor        string `json:"Actor,omitempty"`
	RequestID    string `json:"RequestID,omitempty"`
	Jurisdiction string `json:"Jurisdiction,omitempty"`
	WindowID     uint64 `json:"WindowID,omitempty"`
	ClaimID      uint64 `json:"ClaimID,omitempty"`
	Amount       string `json:"Amount,omitempty"`
	Reason       string `json:"Reason,omitempty"`
	ClientIP     string `json:"ClientIP,omitempty"`
	UserAgent    string `json:"UserAgent,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:           eventID.String(),
		Category:     string(category),
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
		Account:      event.Account.String(),
		Action:       event.Action,
		Actor:        event.Actor,
		RequestID:    event.RequestID,
		Jurisdiction: event.Jurisdiction.String(),
		WindowID:     uint64(event.WindowID),
		ClaimID:      uint64(event.ClaimID),
		Amount:       event.Amount,
		Reason:       event.Reason,
		ClientIP:     event.ClientIP,
		UserAgent:    event.UserAgent,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.Account.IsNil() {
		aggregateType = "account"
		aggregateID = event.Account.String()
	} else if !event.WindowID.IsNil() {
		aggregateType = "window"
		aggregateID = fmt.Sprintf("%d", event.WindowID)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(), // outbox entry ID
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntry is one unpublished outbox row.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
}

// FetchUnpublished returns up to limit unpublished outbox rows in insertion
// order.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPublished stamps an outbox row as delivered.
func (s *Store) MarkPublished(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = $1 WHERE id = $2
	`, time.Now(), entryID)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}

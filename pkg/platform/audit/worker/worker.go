// Package worker drains the transactional outbox to Kafka. Rows are
// published in insertion order and marked as delivered only after the broker
// acks, so a crash between the two steps results in at-least-once delivery.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fundgate/pkg/platform/audit/store/postgres"
)

// outbox is the subset of the Postgres audit store the worker needs.
type outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, entryID uuid.UUID) error
}

// publisher delivers one raw record; satisfied by kafka.Producer.Publish.
type publisher interface {
	Publish(ctx context.Context, key, payload []byte) error
}

// Worker polls the outbox table and forwards entries to Kafka.
type Worker struct {
	outbox    outbox
	sink      publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides the poll interval (default 2s).
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize overrides how many rows are drained per poll (default 100).
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(outbox outbox, sink publisher, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		sink:      sink,
		interval:  2 * time.Second,
		batchSize: 100,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Poll errors are logged, not
// fatal; the outbox row stays unpublished and is retried next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.logger.Warn("outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	entries, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := w.sink.Publish(ctx, []byte(entry.EventType), entry.Payload); err != nil {
			// Stop the batch; remaining rows keep their order next tick.
			return err
		}
		if err := w.outbox.MarkPublished(ctx, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

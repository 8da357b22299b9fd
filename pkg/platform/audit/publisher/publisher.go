// Package publisher fans audit events out to the authoritative store and,
// best-effort, to an optional downstream sink. Sink failures are counted
// against a circuit breaker and never affect core correctness.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	id "fundgate/pkg/domain"
	audit "fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/circuit"
)

// lister is implemented by stores that support per-account queries (the
// in-memory store); List returns nil for stores that don't.
type lister interface {
	ListByAccount(ctx context.Context, account id.Account) ([]audit.Event, error)
}

// probeInterval controls how often an open sink circuit is probed.
const probeInterval = 32

type Publisher struct {
	store audit.Store

	sink    audit.Store
	breaker *circuit.Breaker
	logger  *slog.Logger
	skipped uint64

	inbox     chan audit.Event
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with the given buffer size.
// When the buffer is full events are dropped; audit delivery is best-effort
// by design, the outbox store is the durable path.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

// WithSink attaches an optional downstream observer (e.g. a Kafka producer).
// Absence is a valid configuration, not an error.
func WithSink(sink audit.Store) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:   store,
		breaker: circuit.New("audit-sink", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		go p.drain()
	}
	return p
}

// Emit records an event. In async mode it enqueues and returns immediately;
// otherwise it appends synchronously.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox != nil {
		select {
		case p.inbox <- event:
		default:
			// Buffer full: drop rather than block a settlement path.
		}
		return nil
	}
	return p.deliver(ctx, event)
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	err := p.store.Append(ctx, event)
	p.forward(ctx, event)
	return err
}

// forward pushes the event to the optional sink behind the circuit breaker.
// While the circuit is open only every probeInterval-th event is attempted,
// which lets the breaker close again once the sink recovers.
func (p *Publisher) forward(ctx context.Context, event audit.Event) {
	if p.sink == nil {
		return
	}
	if p.breaker.IsOpen() {
		if atomic.AddUint64(&p.skipped, 1)%probeInterval != 0 {
			return
		}
	}
	if err := p.sink.Append(ctx, event); err != nil {
		p.breaker.RecordFailure()
		if p.logger != nil {
			p.logger.Warn("audit sink append failed", "action", event.Action, "error", err)
		}
		return
	}
	p.breaker.RecordSuccess()
}

func (p *Publisher) drain() {
	for {
		select {
		case event := <-p.inbox:
			_ = p.deliver(context.Background(), event)
		case <-p.done:
			// Drain whatever is left, then exit.
			for {
				select {
				case event := <-p.inbox:
					_ = p.deliver(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// List returns events for an account when the underlying store supports it.
func (p *Publisher) List(ctx context.Context, account id.Account) ([]audit.Event, error) {
	if l, ok := p.store.(lister); ok {
		return l.ListByAccount(ctx, account)
	}
	return nil, nil
}

// Close stops the async drainer, flushing buffered events first.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.inbox != nil {
			// Give the drainer a moment to flush.
			time.Sleep(10 * time.Millisecond)
		}
	})
}

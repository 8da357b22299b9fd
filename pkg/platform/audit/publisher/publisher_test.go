package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fundgate/pkg/domain"
	audit "fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	account := id.Account("acct-settler-1")
	event := audit.Event{
		Account: account,
		Action:  string(audit.EventClaimSettled),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventClaimSettled), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	account := id.Account("acct-redeemer-1")
	event := audit.Event{
		Account: account,
		Action:  string(audit.EventRedeemQueued),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	// Wait for async processing
	time.Sleep(100 * time.Millisecond)

	events, err := pub.List(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventRedeemQueued), events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	account := id.Account("acct-issuer-1")
	for range 10 {
		event := audit.Event{
			Account: account,
			Action:  string(audit.EventIssuanceMinted),
		}
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListByAccount(context.Background(), account)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	account := id.Account("acct-flood-1")

	// Fill the buffer with concurrent writes; just verify no panic and no
	// blocking even when events are dropped.
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Event{
				Account: account,
				Action:  string(audit.EventIssuanceMinted),
			})
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	account := id.Account("acct-ts-1")
	err := pub.Emit(context.Background(), audit.Event{
		Account: account,
		Action:  string(audit.EventWindowOpened),
		// Timestamp deliberately unset
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}

type failingSink struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingSink) Append(_ context.Context, _ audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return errors.New("broker unavailable")
}

func TestPublisher_SinkFailureDoesNotPropagate(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &failingSink{}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	account := id.Account("acct-sink-1")
	for range 20 {
		err := pub.Emit(context.Background(), audit.Event{
			Account: account,
			Action:  string(audit.EventClaimSettled),
		})
		require.NoError(t, err, "sink failures must never surface to callers")
	}

	// The authoritative store saw every event despite the dead sink.
	events, err := store.ListByAccount(context.Background(), account)
	require.NoError(t, err)
	assert.Len(t, events, 20)

	// The breaker capped attempts well below the emit count.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Less(t, sink.attempts, 20)
}

package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "cis/pkg/platform/audit"
	"cis/pkg/platform/audit/store/memory"
)

const userID = "ad|Mozilla-LDAP|jdoe"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		UserID: userID,
		Action: string(audit.EventProfileCreated),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventProfileCreated), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		UserID: userID,
		Action: string(audit.EventSignatureRejected),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), userID)
		return len(events) == 1 && events[0].Category == audit.CategorySecurity
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			UserID: userID,
			Action: string(audit.EventProfileUpdated),
		})
		require.NoError(t, err)
	}

	pub.Close()
	pub.Close()

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

type blockingStore struct {
	*memory.InMemoryStore
	release chan struct{}
}

func (s *blockingStore) Append(ctx context.Context, e audit.Event) error {
	<-s.release
	return s.InMemoryStore.Append(ctx, e)
}

func TestPublisher_BufferFull(t *testing.T) {
	store := &blockingStore{InMemoryStore: memory.NewInMemoryStore(), release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{UserID: userID, Action: string(audit.EventProfileRead)})
			if errors.Is(err, ErrBufferFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(store.release)
	pub.Close()

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Positive(t, dropped)
	assert.Equal(t, 10, dropped+len(events))
}

func TestPublisher_CancelledContextWhenFull(t *testing.T) {
	store := &blockingStore{InMemoryStore: memory.NewInMemoryStore(), release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer func() {
		close(store.release)
		pub.Close()
	}()

	// one event held by the worker, one filling the buffer
	require.NoError(t, pub.Emit(context.Background(), audit.Event{UserID: userID}))
	require.Eventually(t, func() bool {
		return pub.Emit(context.Background(), audit.Event{UserID: userID}) == nil
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Emit(ctx, audit.Event{UserID: userID})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{UserID: userID, Action: string(audit.EventProfileCreated)}))
	after := time.Now()

	events, err := pub.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
}

func TestPublisher_PreservesExistingTimestampAndCategory(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		UserID:    userID,
		Action:    "custom",
		Category:  audit.CategorySecurity,
		Timestamp: customTime,
	}))

	events, err := pub.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestCategories(t *testing.T) {
	assert.Equal(t, audit.CategoryCompliance, audit.EventProfileUpdated.Category())
	assert.Equal(t, audit.CategorySecurity, audit.EventPublisherRejected.Category())
	assert.Equal(t, audit.CategoryOperations, audit.EventKeyUnavailable.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("unknown").Category())
}

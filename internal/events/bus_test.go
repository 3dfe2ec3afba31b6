package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// recorder is a handler double that records invocation order.
type recorder struct {
	mu    sync.Mutex
	name  string
	calls *[]string
	err   error
	panic bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Handle(_ context.Context, _ Event) error {
	r.mu.Lock()
	*r.calls = append(*r.calls, r.name)
	r.mu.Unlock()
	if r.panic {
		panic("handler exploded")
	}
	return r.err
}

func TestPublish_SyncHandlersRunInOrder(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	bus.Subscribe(KindShareIssued, &recorder{name: "first", calls: &calls}, false)
	bus.Subscribe(KindShareIssued, &recorder{name: "second", calls: &calls, err: errors.New("boom")}, false)
	bus.Subscribe(KindShareIssued, &recorder{name: "third", calls: &calls}, false)

	accepted := bus.Publish(context.Background(), New(KindShareIssued, nil))

	assert.True(t, accepted, "publish reports acceptance, not handler success")
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestPublish_SyncHandlerPanicDoesNotStopSiblings(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	bus.Subscribe(KindUserLogin, &recorder{name: "panics", calls: &calls, panic: true}, false)
	bus.Subscribe(KindUserLogin, &recorder{name: "survives", calls: &calls}, false)

	accepted := bus.Publish(context.Background(), New(KindUserLogin, nil))

	assert.True(t, accepted)
	assert.Equal(t, []string{"panics", "survives"}, calls)
}

func TestPublish_AsyncDoesNotBlockCaller(t *testing.T) {
	bus := NewBus(testLogger(), WithPollTimeout(10*time.Millisecond))
	release := make(chan struct{})
	handled := make(chan struct{})

	bus.Subscribe(KindAuditLog, NewHandler("slow", func(context.Context, Event) error {
		<-release
		close(handled)
		return nil
	}), true)

	bus.Start()
	defer bus.Stop()

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), New(KindAuditLog, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on async handler completion")
	}

	close(release)
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestPublish_AsyncHandlersAllRunDespiteFailure(t *testing.T) {
	bus := NewBus(testLogger(), WithPollTimeout(10*time.Millisecond))
	var mu sync.Mutex
	var seen []string

	record := func(name string, err error) Handler {
		return NewHandler(name, func(context.Context, Event) error {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return err
		})
	}

	bus.Subscribe(KindShareIssued, record("fails", errors.New("boom")), true)
	bus.Subscribe(KindShareIssued, record("works", nil), true)

	bus.Start()
	defer bus.Stop()

	require.True(t, bus.Publish(context.Background(), New(KindShareIssued, nil)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"fails", "works"}, seen)
}

func TestPublish_FullQueueRejects(t *testing.T) {
	bus := NewBus(testLogger(), WithQueueSize(1))
	bus.Subscribe(KindAuditLog, NewHandler("noop", func(context.Context, Event) error { return nil }), true)

	// Worker not started, so the first event fills the queue.
	assert.True(t, bus.Publish(context.Background(), New(KindAuditLog, nil)))
	assert.False(t, bus.Publish(context.Background(), New(KindAuditLog, nil)))
}

func TestPublish_NoAsyncHandlersSkipsQueue(t *testing.T) {
	bus := NewBus(testLogger(), WithQueueSize(1))

	// No async handlers registered: the queue is never touched, so repeated
	// publishes keep being accepted even though the bus is stopped.
	for range 5 {
		assert.True(t, bus.Publish(context.Background(), New(KindUserLogout, nil)))
	}
	assert.Equal(t, 0, bus.Stats().QueueDepth)
}

func TestStartStop(t *testing.T) {
	bus := NewBus(testLogger(), WithPollTimeout(10*time.Millisecond))

	bus.Start()
	bus.Start() // idempotent
	assert.True(t, bus.Stats().Running)

	bus.Stop()
	assert.False(t, bus.Stats().Running)

	bus.Stop() // stopping a stopped bus is a no-op

	// Restart works.
	bus.Start()
	defer bus.Stop()
	assert.True(t, bus.Stats().Running)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	kept := &recorder{name: "kept", calls: &calls}
	removed := &recorder{name: "removed", calls: &calls}

	bus.Subscribe(KindShareholderCreated, removed, false)
	bus.Subscribe(KindShareholderCreated, kept, false)
	bus.Unsubscribe(KindShareholderCreated, removed, false)

	// Unsubscribing something never registered is a no-op.
	bus.Unsubscribe(KindShareholderCreated, &recorder{name: "ghost", calls: &calls}, false)
	bus.Unsubscribe(KindUserLogin, kept, true)

	bus.Publish(context.Background(), New(KindShareholderCreated, nil))
	assert.Equal(t, []string{"kept"}, calls)
}

func TestStats(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	bus.Subscribe(KindShareIssued, &recorder{name: "a", calls: &calls}, false)
	bus.Subscribe(KindShareIssued, &recorder{name: "b", calls: &calls}, false)
	bus.Subscribe(KindAuditLog, &recorder{name: "c", calls: &calls}, true)

	stats := bus.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 2, stats.SyncHandlers[KindShareIssued])
	assert.Equal(t, 1, stats.AsyncHandlers[KindAuditLog])
}

func TestEventConstruction(t *testing.T) {
	evt := New(KindShareIssued, map[string]any{"shares": 100})

	assert.NotEqual(t, evt.ID.String(), New(KindShareIssued, nil).ID.String())
	assert.False(t, evt.Timestamp.IsZero())
	assert.NotNil(t, evt.Metadata)

	tagged := evt.WithMetadata("source", "issuance").WithSource("api")
	assert.Equal(t, "issuance", tagged.Metadata["source"])
	assert.Equal(t, "api", tagged.Source)
	// Original metadata map is untouched.
	_, ok := evt.Metadata["source"]
	assert.False(t, ok)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindShareIssued.Valid())
	assert.True(t, KindNotification.Valid())
	assert.False(t, Kind("share.shredded").Valid())
	assert.Len(t, Kinds(), 11)
}

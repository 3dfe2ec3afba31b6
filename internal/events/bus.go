package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes a single event. Handlers carry a stable name so they can
// be unsubscribed later; func values are not comparable in Go.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function into a named Handler.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, event Event) error
}

// NewHandler wraps fn as a Handler registered under name.
func NewHandler(name string, fn func(ctx context.Context, event Event) error) HandlerFunc {
	return HandlerFunc{name: name, fn: fn}
}

func (h HandlerFunc) Name() string { return h.name }

func (h HandlerFunc) Handle(ctx context.Context, event Event) error { return h.fn(ctx, event) }

// Stats reports bus observability data.
type Stats struct {
	Running       bool
	QueueDepth    int
	SyncHandlers  map[Kind]int
	AsyncHandlers map[Kind]int
}

// Bus is the in-process event bus. Synchronous handlers run inline on the
// publishing goroutine in registration order; asynchronous handlers run on a
// single background worker draining a bounded queue. A misbehaving handler
// only affects itself: failures and panics are logged per handler and never
// propagate to the publisher or to sibling handlers.
//
// The bus is constructed explicitly at process start and passed to every
// component that publishes or subscribes. There is no package-level instance.
type Bus struct {
	mu    sync.RWMutex
	sync  map[Kind][]Handler
	async map[Kind][]Handler

	queue chan Event

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	pollTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize bounds the async dispatch queue. Default 1024.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan Event, n)
		}
	}
}

// WithPollTimeout sets how long the worker waits for an event before
// re-checking the stop signal. Default one second.
func WithPollTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.pollTimeout = d
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus constructs a stopped bus. Call Start to spin up the async worker.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		sync:        make(map[Kind][]Handler),
		async:       make(map[Kind][]Handler),
		queue:       make(chan Event, 1024),
		pollTimeout: time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a kind. Async handlers are serviced by
// the background worker; sync handlers run inline on Publish.
func (b *Bus) Subscribe(kind Kind, handler Handler, async bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if async {
		b.async[kind] = append(b.async[kind], handler)
	} else {
		b.sync[kind] = append(b.sync[kind], handler)
	}
	b.logger.Debug("handler subscribed", "kind", kind, "handler", handler.Name(), "async", async)
}

// Unsubscribe removes the handler registered under the same name. Removing a
// handler that was never registered is a no-op.
func (b *Bus) Unsubscribe(kind Kind, handler Handler, async bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	registry := b.sync
	if async {
		registry = b.async
	}
	list := registry[kind]
	for i, h := range list {
		if h.Name() == handler.Name() {
			registry[kind] = append(list[:i:i], list[i+1:]...)
			b.logger.Debug("handler unsubscribed", "kind", kind, "handler", handler.Name(), "async", async)
			return
		}
	}
}

// Publish dispatches the event. All synchronous handlers for the kind run
// immediately, in subscription order, on the caller's goroutine; each
// failure is logged and does not stop subsequent handlers. If asynchronous
// handlers exist the event is additionally queued for the worker.
//
// The return value reports whether the event was accepted for dispatch, not
// whether any handler succeeded. false means the async queue was full.
func (b *Bus) Publish(ctx context.Context, event Event) bool {
	b.mu.RLock()
	syncHandlers := append([]Handler(nil), b.sync[event.Kind]...)
	hasAsync := len(b.async[event.Kind]) > 0
	b.mu.RUnlock()

	for _, h := range syncHandlers {
		b.invoke(ctx, h, event)
	}

	if b.metrics != nil {
		b.metrics.Published.Inc()
	}

	if !hasAsync {
		return true
	}

	select {
	case b.queue <- event:
		if b.metrics != nil {
			b.metrics.QueueDepth.Set(float64(len(b.queue)))
		}
		return true
	default:
		b.logger.Error("event queue full, dropping async dispatch",
			"kind", event.Kind,
			"event_id", event.ID,
		)
		if b.metrics != nil {
			b.metrics.Dropped.Inc()
		}
		return false
	}
}

// Start spins up the background worker. Calling Start on a running bus is a
// no-op.
func (b *Bus) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.workerLoop(b.stop, b.done)
	b.logger.Info("event bus started")
}

// Stop signals the worker to exit after its current iteration and waits for
// it. Events still in the queue are not drained.
func (b *Bus) Stop() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if !b.running {
		return
	}
	close(b.stop)
	<-b.done
	b.running = false
	b.logger.Info("event bus stopped")
}

// Stats returns a snapshot for observability endpoints.
func (b *Bus) Stats() Stats {
	b.runMu.Lock()
	running := b.running
	b.runMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := Stats{
		Running:       running,
		QueueDepth:    len(b.queue),
		SyncHandlers:  make(map[Kind]int, len(b.sync)),
		AsyncHandlers: make(map[Kind]int, len(b.async)),
	}
	for k, v := range b.sync {
		stats.SyncHandlers[k] = len(v)
	}
	for k, v := range b.async {
		stats.AsyncHandlers[k] = len(v)
	}
	return stats
}

// workerLoop drains the queue one event at a time. The poll timeout bounds
// how long a stop signal can go unobserved when the queue is idle.
func (b *Bus) workerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(b.pollTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.pollTimeout)

		select {
		case <-stop:
			return
		case <-timer.C:
			continue
		case event := <-b.queue:
			b.handleAsync(event)
			if b.metrics != nil {
				b.metrics.QueueDepth.Set(float64(len(b.queue)))
			}
		}
	}
}

// handleAsync runs every async handler for the event concurrently and waits
// for all of them. Failures are collected per handler; there is no retry at
// this layer and the event is discarded afterwards.
func (b *Bus) handleAsync(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.async[event.Kind]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			b.invoke(context.Background(), h, event)
		}(h)
	}
	wg.Wait()
}

// invoke runs one handler, containing both errors and panics.
func (b *Bus) invoke(ctx context.Context, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logHandlerFailure(h, event, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h.Handle(ctx, event); err != nil {
		b.logHandlerFailure(h, event, err)
	}
}

func (b *Bus) logHandlerFailure(h Handler, event Event, err error) {
	b.logger.Error("event handler failed",
		"handler", h.Name(),
		"kind", event.Kind,
		"event_id", event.ID,
		"error", err,
	)
	if b.metrics != nil {
		b.metrics.HandlerFailures.Inc()
	}
}

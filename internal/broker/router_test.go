package broker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"captable/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubHandler records the messages it sees and returns a fixed result.
type stubHandler struct {
	result bool
	seen   []Message
}

func (s *stubHandler) Handle(_ context.Context, msg Message) bool {
	s.seen = append(s.seen, msg)
	return s.result
}

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		category  Category
		known     bool
	}{
		{"share.issued", CategoryAudit, true},
		{"user.login", CategoryAudit, true},
		{"audit.log", CategoryAudit, true},
		{"notification", CategoryNotification, true},
		{"system", CategorySystem, true},
		{"share.shredded", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			category, known := Classify(tt.eventType)
			assert.Equal(t, tt.known, known)
			assert.Equal(t, tt.category, category)
		})
	}

	// Every defined kind classifies as audit except notification.
	for _, kind := range events.Kinds() {
		category, known := Classify(kind.String())
		assert.True(t, known, "kind %s must classify", kind)
		if kind == events.KindNotification {
			assert.Equal(t, CategoryNotification, category)
		} else {
			assert.Equal(t, CategoryAudit, category)
		}
	}
}

func TestRouter_DispatchesByCategory(t *testing.T) {
	audit := &stubHandler{result: true}
	notification := &stubHandler{result: true}
	system := &stubHandler{result: true}
	router := NewRouter(testLogger(), audit, notification, system)

	ctx := context.Background()
	assert.True(t, router.Handle(ctx, Message{EventID: "1", EventType: "share.issued"}))
	assert.True(t, router.Handle(ctx, Message{EventID: "2", EventType: "notification"}))
	assert.True(t, router.Handle(ctx, Message{EventID: "3", EventType: "system"}))

	assert.Len(t, audit.seen, 1)
	assert.Len(t, notification.seen, 1)
	assert.Len(t, system.seen, 1)
	assert.Equal(t, "1", audit.seen[0].EventID)
}

func TestRouter_UnknownEventTypeAcks(t *testing.T) {
	audit := &stubHandler{result: false}
	router := NewRouter(testLogger(), audit, nil, nil)

	// Unknown types must report success so the consumer acks instead of
	// requeueing forever.
	assert.True(t, router.Handle(context.Background(), Message{EventType: "mystery.event"}))
	assert.Empty(t, audit.seen)
}

func TestRouter_MissingCategoryHandlerAcks(t *testing.T) {
	router := NewRouter(testLogger(), nil, nil, nil)
	assert.True(t, router.Handle(context.Background(), Message{EventType: "share.issued"}))
}

func TestRouter_HandlerFailurePropagates(t *testing.T) {
	audit := &stubHandler{result: false}
	router := NewRouter(testLogger(), audit, nil, nil)

	assert.False(t, router.Handle(context.Background(), Message{EventType: "share.issued"}))
}

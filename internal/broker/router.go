package broker

import (
	"context"
	"log/slog"

	"captable/internal/events"
)

// Handler processes a decoded wire message for one event category. The
// boolean result drives acknowledgment: true acks the message, false
// requeues it for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg Message) bool
}

// Category classifies wire messages for routing.
type Category string

const (
	CategoryAudit        Category = "audit"
	CategoryNotification Category = "notification"
	CategorySystem       Category = "system"
)

// Classify maps an event_type to its category. Domain event kinds are audit
// events; "notification" and "system" have dedicated handlers; anything else
// is unknown.
func Classify(eventType string) (Category, bool) {
	switch {
	case eventType == string(events.KindNotification):
		return CategoryNotification, true
	case eventType == "system":
		return CategorySystem, true
	case events.Kind(eventType).Valid():
		return CategoryAudit, true
	default:
		return "", false
	}
}

// Router dispatches wire messages to category handlers. Messages with an
// event_type no handler will ever understand are acknowledged, not requeued,
// so they cannot loop forever.
type Router struct {
	handlers map[Category]Handler
	logger   *slog.Logger
}

// NewRouter builds the routing table. Nil handlers are allowed; their
// categories then fall through to the unknown path.
func NewRouter(logger *slog.Logger, audit, notification, system Handler) *Router {
	handlers := make(map[Category]Handler, 3)
	if audit != nil {
		handlers[CategoryAudit] = audit
	}
	if notification != nil {
		handlers[CategoryNotification] = notification
	}
	if system != nil {
		handlers[CategorySystem] = system
	}
	return &Router{handlers: handlers, logger: logger}
}

// Handle routes one message. The result drives ack (true) vs. requeue
// (false) in the consumer.
func (r *Router) Handle(ctx context.Context, msg Message) bool {
	category, ok := Classify(msg.EventType)
	if !ok {
		r.logger.Warn("unrecognized event type, acknowledging to avoid redelivery loop",
			"event_type", msg.EventType,
			"event_id", msg.EventID,
		)
		return true
	}

	handler, ok := r.handlers[category]
	if !ok {
		r.logger.Warn("no handler for event category, acknowledging",
			"category", category,
			"event_type", msg.EventType,
			"event_id", msg.EventID,
		)
		return true
	}

	return handler.Handle(ctx, msg)
}

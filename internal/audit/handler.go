package audit

import (
	"context"
	"log/slog"

	"captable/internal/broker"
	"captable/internal/events"
)

// Handler persists audit-category broker deliveries. Returning false asks
// the consumer to requeue the delivery; a duplicate event ID is a success
// because the record is already in the trail.
type Handler struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

type HandlerOption func(*Handler)

// WithMetrics attaches write counters to the handler.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(store Store, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements broker.Handler.
func (h *Handler) Handle(ctx context.Context, msg broker.Message) bool {
	rec, err := RecordFromMessage(msg)
	if err != nil {
		// A non-UUID event ID cannot be fixed by redelivery.
		h.logger.WarnContext(ctx, "dropping audit event with invalid event id",
			"event_id", msg.EventID,
			"event_type", msg.EventType,
			"error", err,
		)
		return true
	}

	inserted, err := h.store.Insert(ctx, &rec)
	if err != nil {
		if h.metrics != nil {
			h.metrics.WriteFailures.Inc()
		}
		h.logger.ErrorContext(ctx, "failed to persist audit event",
			"event_id", rec.EventID,
			"event_type", rec.EventType,
			"error", err,
		)
		return false
	}

	if !inserted {
		if h.metrics != nil {
			h.metrics.Duplicates.Inc()
		}
		h.logger.DebugContext(ctx, "audit event already recorded",
			"event_id", rec.EventID,
		)
		return true
	}

	if h.metrics != nil {
		h.metrics.RecordsWritten.Inc()
	}
	h.logger.InfoContext(ctx, "audit event recorded",
		"event_id", rec.EventID,
		"event_type", rec.EventType,
		"action", rec.Action,
	)
	return true
}

// BusHandler returns an in-process bus handler that persists audit.log
// events synchronously, so the write happens before Publish returns.
func BusHandler(store Store, logger *slog.Logger) events.Handler {
	return events.NewHandler("audit-persistence", func(ctx context.Context, e events.Event) error {
		rec := RecordFromEvent(e)
		if _, err := store.Insert(ctx, &rec); err != nil {
			return err
		}
		return nil
	})
}

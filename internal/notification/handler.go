package notification

import (
	"context"
	"log/slog"
	"time"

	"captable/internal/broker"
)

// Handler processes notification-category broker deliveries. Each sub-type
// lands in the recipient's inbox; an unrecognized sub-type is undeliverable
// and is acked after a warning, since redelivery cannot fix it.
type Handler struct {
	inbox  Inbox
	logger *slog.Logger
}

func NewHandler(inbox Inbox, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, logger: logger}
}

// Handle implements broker.Handler.
func (h *Handler) Handle(ctx context.Context, msg broker.Message) bool {
	n := fromPayload(msg)

	switch n.Type {
	case TypeShareIssuance:
		return h.deliver(ctx, n, slog.LevelInfo, "share issuance notification")
	case TypeCertificateGenerated:
		return h.deliver(ctx, n, slog.LevelInfo, "certificate notification")
	case TypeSystemAlert:
		return h.deliver(ctx, n, slog.LevelWarn, "system alert")
	default:
		h.logger.WarnContext(ctx, "unrecognized notification type, dropping",
			"notification_type", n.Type,
			"event_id", msg.EventID,
		)
		return true
	}
}

func (h *Handler) deliver(ctx context.Context, n Notification, level slog.Level, what string) bool {
	if err := h.inbox.Push(ctx, n); err != nil {
		h.logger.ErrorContext(ctx, "failed to deliver notification",
			"notification_type", n.Type,
			"user_id", n.UserID,
			"error", err,
		)
		return false
	}

	h.logger.Log(ctx, level, what+" delivered",
		"user_id", n.UserID,
		"title", n.Title,
	)
	return true
}

func fromPayload(msg broker.Message) Notification {
	payload := msg.Payload

	n := Notification{
		EventID:   msg.EventID,
		CreatedAt: msg.Timestamp,
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if s, ok := payload["notification_type"].(string); ok {
		n.Type = s
	}
	if s, ok := payload["user_id"].(string); ok {
		n.UserID = s
	}
	if s, ok := payload["title"].(string); ok {
		n.Title = s
	}
	if s, ok := payload["message"].(string); ok {
		n.Message = s
	}
	if m, ok := payload["metadata"].(map[string]any); ok {
		n.Metadata = m
	}
	return n
}

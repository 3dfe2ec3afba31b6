// Package system handles operational events from the general events queue:
// application startups and database backups. These are logged, not stored.
package system

import (
	"context"
	"log/slog"

	"captable/internal/broker"
)

// Events carried in the payload's "event" field.
const (
	EventApplicationStartup = "application_startup"
	EventDatabaseBackup     = "database_backup"
)

// Handler processes system-category broker deliveries.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle implements broker.Handler. Unknown system events are acked after a
// warning; there is nothing redelivery could change.
func (h *Handler) Handle(ctx context.Context, msg broker.Message) bool {
	event, _ := msg.Payload["event"].(string)

	switch event {
	case EventApplicationStartup:
		h.logger.InfoContext(ctx, "application started",
			"version", msg.Payload["version"],
			"environment", msg.Payload["environment"],
		)
	case EventDatabaseBackup:
		h.logger.InfoContext(ctx, "database backup created",
			"backup_path", msg.Payload["backup_path"],
			"backup_size", msg.Payload["backup_size"],
		)
	default:
		h.logger.WarnContext(ctx, "unrecognized system event, dropping",
			"event", event,
			"event_id", msg.EventID,
		)
	}
	return true
}

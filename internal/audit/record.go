// Package audit persists a queryable trail of business events. Records are
// written idempotently on the unique event ID so that broker redeliveries
// never duplicate history.
package audit

import (
	"time"

	"github.com/google/uuid"

	"captable/internal/events"
)

// Status tracks the processing lifecycle of a stored record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Record is one row of the audit trail. EventID is the broker-assigned UUID
// and is unique; ID is the storage surrogate key.
type Record struct {
	ID           int64          `json:"id"`
	EventType    string         `json:"event_type"`
	EventID      uuid.UUID      `json:"event_id"`
	ActorID      string         `json:"actor_id,omitempty"`
	ActorEmail   string         `json:"actor_email,omitempty"`
	ActorRole    string         `json:"actor_role,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Action       string         `json:"action"`
	Description  string         `json:"description,omitempty"`
	EventData    map[string]any `json:"event_data,omitempty"`
	PreviousData map[string]any `json:"previous_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	Status       Status         `json:"status"`
}

// actionByKind maps each event kind to the verb recorded in the trail.
// A payload-supplied "action" field always wins over this table.
var actionByKind = map[events.Kind]string{
	events.KindUserLogin:            "login",
	events.KindUserLogout:           "logout",
	events.KindShareholderCreated:   "create",
	events.KindShareholderUpdated:   "update",
	events.KindShareIssued:          "create",
	events.KindCertificateGenerated: "generate",
	events.KindPermissionChanged:    "update",
	events.KindDataExport:           "export",
	events.KindSystemError:          "error",
	events.KindNotification:         "notification",
}

// ActionFor returns the trail verb for a kind, or "unknown" for kinds with
// no fixed verb (audit.log records carry their action in the payload).
func ActionFor(kind events.Kind) string {
	if action, ok := actionByKind[kind]; ok {
		return action
	}
	return "unknown"
}

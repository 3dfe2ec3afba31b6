// Package notification delivers user-facing notifications consumed from the
// notifications queue. Deliveries land in a per-user inbox with a bounded
// length.
package notification

import (
	"context"
	"time"
)

// Subtypes carried in the notification_type payload field.
const (
	TypeShareIssuance        = "share_issuance"
	TypeCertificateGenerated = "certificate_generated"
	TypeSystemAlert          = "system_alert"
)

// Notification is one inbox entry.
type Notification struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"notification_type"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Inbox stores delivered notifications per user.
type Inbox interface {
	// Push prepends the notification to the user's inbox, trimming the
	// inbox to its bounded length.
	Push(ctx context.Context, n Notification) error

	// List returns the newest notifications for a user, newest first.
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
}

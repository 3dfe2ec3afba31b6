// Package events defines the domain event model and the in-process event
// bus. Business actions construct an Event and hand it to the Bus; durable
// delivery runs on the separate broker path in internal/broker.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed enumeration of business-significant occurrences. The
// string form doubles as the wire event_type and as the routing-key suffix.
type Kind string

const (
	KindUserLogin            Kind = "user.login"
	KindUserLogout           Kind = "user.logout"
	KindShareholderCreated   Kind = "shareholder.created"
	KindShareholderUpdated   Kind = "shareholder.updated"
	KindShareIssued          Kind = "share.issued"
	KindCertificateGenerated Kind = "certificate.generated"
	KindPermissionChanged    Kind = "permission.changed"
	KindDataExport           Kind = "data.export"
	KindSystemError          Kind = "system.error"
	KindAuditLog             Kind = "audit.log"
	KindNotification         Kind = "notification"
)

// kinds is the authoritative set. Both the bus and the broker-side
// classifier consult it, so adding a Kind here is the single change point.
var kinds = map[Kind]struct{}{
	KindUserLogin:            {},
	KindUserLogout:           {},
	KindShareholderCreated:   {},
	KindShareholderUpdated:   {},
	KindShareIssued:          {},
	KindCertificateGenerated: {},
	KindPermissionChanged:    {},
	KindDataExport:           {},
	KindSystemError:          {},
	KindAuditLog:             {},
	KindNotification:         {},
}

// Valid reports whether k is a member of the closed enumeration.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// Kinds returns every defined kind. The slice is a copy.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// Event is the transient, in-memory event passed through the bus. The ID is
// assigned once at construction and never reused.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Payload   map[string]any
	Metadata  map[string]any
	Timestamp time.Time
	Source    string
}

// New constructs an Event with a fresh ID and the current timestamp.
func New(kind Kind, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		Metadata:  map[string]any{},
		Timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the event with the key set in its metadata.
func (e Event) WithMetadata(key string, value any) Event {
	meta := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// WithSource returns a copy of the event tagged with its originating component.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

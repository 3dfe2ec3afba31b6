package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"captable/internal/broker"
	"captable/internal/events"
)

// NormalizeNumbers walks a decoded JSON value and converts every
// json.Number to float64 so stored event data round-trips as plain JSON
// numbers. Fixed-point amounts from upstream systems arrive as json.Number
// because the broker decoder preserves them; storage wants uniform floats.
func NormalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return NormalizeNumbers(m).(map[string]any)
}

// stringField reads a string value from the payload, falling back to the
// metadata. Non-string values are ignored.
func stringField(payload, metadata map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	if s, ok := metadata[key].(string); ok {
		return s
	}
	return ""
}

// previousData extracts the prior state carried by update events.
func previousData(payload map[string]any) map[string]any {
	prev, ok := payload["previous_data"].(map[string]any)
	if !ok {
		return nil
	}
	return normalizeMap(prev)
}

// buildRecord assembles a Record from an event's type, payload and metadata.
// Actor and resource context read payload first, metadata second.
func buildRecord(kind events.Kind, payload, metadata map[string]any) Record {
	if payload == nil {
		payload = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	action := stringField(payload, nil, "action")
	if action == "" {
		action = ActionFor(kind)
	}

	now := time.Now().UTC()
	return Record{
		EventType:    kind.String(),
		ActorID:      stringField(payload, metadata, "user_id"),
		ActorEmail:   stringField(payload, metadata, "user_email"),
		ActorRole:    stringField(payload, metadata, "user_role"),
		ResourceType: stringField(payload, metadata, "resource_type"),
		ResourceID:   stringField(payload, metadata, "resource_id"),
		Action:       action,
		Description:  stringField(payload, metadata, "description"),
		EventData:    normalizeMap(payload),
		PreviousData: previousData(payload),
		CreatedAt:    now,
		ProcessedAt:  &now,
		Status:       StatusProcessed,
	}
}

// RecordFromEvent builds a Record from an in-process event.
func RecordFromEvent(e events.Event) Record {
	rec := buildRecord(e.Kind, e.Payload, e.Metadata)
	rec.EventID = e.ID
	return rec
}

// RecordFromMessage builds a Record from a broker delivery. The wire carries
// no separate metadata, so only the payload is consulted.
func RecordFromMessage(msg broker.Message) (Record, error) {
	eventID, err := uuid.Parse(msg.EventID)
	if err != nil {
		return Record{}, err
	}
	rec := buildRecord(events.Kind(msg.EventType), msg.Payload, nil)
	rec.EventID = eventID
	return rec, nil
}

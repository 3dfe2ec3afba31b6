package audit

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable/internal/broker"
	"captable/internal/events"
)

func TestNormalizeNumbers(t *testing.T) {
	in := map[string]any{
		"number_of_shares": json.Number("100"),
		"price_per_share":  json.Number("10.50"),
		"nested": map[string]any{
			"total_value": json.Number("1050.00"),
		},
		"amounts": []any{json.Number("1"), json.Number("2.5")},
		"name":    "Alice Martin",
		"active":  true,
	}

	out := NormalizeNumbers(in).(map[string]any)

	assert.Equal(t, float64(100), out["number_of_shares"])
	assert.Equal(t, 10.50, out["price_per_share"])
	assert.Equal(t, 1050.00, out["nested"].(map[string]any)["total_value"])
	assert.Equal(t, []any{1.0, 2.5}, out["amounts"])
	assert.Equal(t, "Alice Martin", out["name"])
	assert.Equal(t, true, out["active"])
}

func TestNormalizeNumbers_UnparsableNumberKeptAsString(t *testing.T) {
	out := NormalizeNumbers(json.Number("1e99999999"))
	assert.Equal(t, "1e99999999", out)
}

func TestRecordFromEvent(t *testing.T) {
	e := events.New(events.KindShareholderCreated, map[string]any{
		"user_id":       "admin",
		"user_email":    "admin@example.com",
		"resource_type": "shareholder",
		"resource_id":   "sh-42",
		"description":   "shareholder created",
	})
	e = e.WithMetadata("user_role", "admin")

	rec := RecordFromEvent(e)

	assert.Equal(t, e.ID, rec.EventID)
	assert.Equal(t, "shareholder.created", rec.EventType)
	assert.Equal(t, "create", rec.Action)
	assert.Equal(t, "admin", rec.ActorID)
	assert.Equal(t, "admin@example.com", rec.ActorEmail)
	assert.Equal(t, "admin", rec.ActorRole, "metadata fills fields missing from payload")
	assert.Equal(t, "shareholder", rec.ResourceType)
	assert.Equal(t, "sh-42", rec.ResourceID)
	assert.Equal(t, StatusProcessed, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
}

func TestRecordFromEvent_PayloadActionWins(t *testing.T) {
	e := events.New(events.KindAuditLog, map[string]any{
		"action": "delete",
	})
	rec := RecordFromEvent(e)
	assert.Equal(t, "delete", rec.Action)
}

func TestRecordFromEvent_PayloadBeatsMetadata(t *testing.T) {
	e := events.New(events.KindUserLogin, map[string]any{"user_id": "from-payload"})
	e = e.WithMetadata("user_id", "from-metadata")

	rec := RecordFromEvent(e)
	assert.Equal(t, "from-payload", rec.ActorID)
}

func TestRecordFromEvent_PreviousData(t *testing.T) {
	e := events.New(events.KindShareholderUpdated, map[string]any{
		"user_id": "admin",
		"previous_data": map[string]any{
			"email":  "old@example.com",
			"shares": json.Number("50"),
		},
	})

	rec := RecordFromEvent(e)

	require.NotNil(t, rec.PreviousData)
	assert.Equal(t, "old@example.com", rec.PreviousData["email"])
	assert.Equal(t, float64(50), rec.PreviousData["shares"])
}

func TestRecordFromMessage(t *testing.T) {
	eventID := uuid.New()
	msg := broker.Message{
		EventID:   eventID.String(),
		EventType: "share.issued",
		Payload: map[string]any{
			"user_id":          "admin",
			"shareholder_id":   "sh-42",
			"number_of_shares": json.Number("100"),
			"price_per_share":  json.Number("10.5"),
		},
	}

	rec, err := RecordFromMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, eventID, rec.EventID)
	assert.Equal(t, "share.issued", rec.EventType)
	assert.Equal(t, "create", rec.Action)
	assert.Equal(t, float64(100), rec.EventData["number_of_shares"])
	assert.Equal(t, 10.5, rec.EventData["price_per_share"])
	assert.Equal(t, StatusProcessed, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
}

func TestRecordFromMessage_InvalidEventID(t *testing.T) {
	_, err := RecordFromMessage(broker.Message{
		EventID:   "not-a-uuid",
		EventType: "share.issued",
		Payload:   map[string]any{},
	})
	assert.Error(t, err)
}

package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable/internal/audit"
	"captable/internal/audit/store/memory"
	"captable/internal/broker"
	"captable/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func shareIssuedMessage(eventID uuid.UUID) broker.Message {
	return broker.Message{
		EventID:   eventID.String(),
		EventType: "share.issued",
		Payload: map[string]any{
			"user_id":          "admin",
			"user_email":       "admin@example.com",
			"resource_type":    "share_issuance",
			"resource_id":      "iss-7",
			"number_of_shares": json.Number("100"),
			"price_per_share":  json.Number("10.5"),
		},
	}
}

func TestHandler_PersistsShareIssued(t *testing.T) {
	store := memory.New()
	h := audit.NewHandler(store, testLogger())
	eventID := uuid.New()

	ok := h.Handle(context.Background(), shareIssuedMessage(eventID))
	require.True(t, ok)

	rec, err := store.GetByEventID(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, "share.issued", rec.EventType)
	assert.Equal(t, "create", rec.Action)
	assert.Equal(t, "admin", rec.ActorID)
	assert.Equal(t, float64(100), rec.EventData["number_of_shares"])
	assert.Equal(t, 10.5, rec.EventData["price_per_share"])
	assert.Equal(t, audit.StatusProcessed, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
}

func TestHandler_DuplicateEventIDIsSuccess(t *testing.T) {
	store := memory.New()
	h := audit.NewHandler(store, testLogger())
	eventID := uuid.New()
	msg := shareIssuedMessage(eventID)

	require.True(t, h.Handle(context.Background(), msg))
	require.True(t, h.Handle(context.Background(), msg), "redelivery must ack, not requeue")

	summary, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalEvents, "exactly one record for the event id")
}

func TestHandler_InvalidEventIDAcks(t *testing.T) {
	store := memory.New()
	h := audit.NewHandler(store, testLogger())

	msg := broker.Message{
		EventID:   "garbage",
		EventType: "share.issued",
		Payload:   map[string]any{},
	}
	assert.True(t, h.Handle(context.Background(), msg))

	summary, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalEvents)
}

type failingStore struct {
	audit.Store
}

func (failingStore) Insert(context.Context, *audit.Record) (bool, error) {
	return false, errors.New("connection refused")
}

func TestHandler_StoreFailureRequestsRequeue(t *testing.T) {
	h := audit.NewHandler(failingStore{}, testLogger())
	assert.False(t, h.Handle(context.Background(), shareIssuedMessage(uuid.New())))
}

func TestBusHandler_PersistsSynchronously(t *testing.T) {
	store := memory.New()
	h := audit.BusHandler(store, testLogger())

	e := events.New(events.KindAuditLog, map[string]any{
		"user_id":     "admin",
		"action":      "view",
		"description": "viewed shareholder list",
	})
	require.NoError(t, h.Handle(context.Background(), e))

	rec, err := store.GetByEventID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "view", rec.Action)
	assert.Equal(t, "audit.log", rec.EventType)
}

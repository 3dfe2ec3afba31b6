package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"captable/pkg/platform/sentinel"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// orderColumns is the whitelist of sortable columns for List.
var orderColumns = map[string]struct{}{
	"created_at":    {},
	"event_type":    {},
	"action":        {},
	"actor_id":      {},
	"resource_type": {},
	"status":        {},
}

// ExportFormat selects the serialization for Export.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Service exposes the query operations over the audit trail.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns records matching the filter, newest first by default. The
// limit defaults to 100 and is capped at 1000.
func (s *Service) List(ctx context.Context, filter Filter, page Page) ([]Record, error) {
	if page.Skip < 0 {
		page.Skip = 0
	}
	if page.Limit <= 0 {
		page.Limit = defaultLimit
	}
	if page.Limit > maxLimit {
		page.Limit = maxLimit
	}
	if page.OrderBy == "" {
		page.OrderBy = "created_at"
		page.Descending = true
	}
	if _, ok := orderColumns[page.OrderBy]; !ok {
		return nil, fmt.Errorf("order column %q: %w", page.OrderBy, sentinel.ErrInvalidState)
	}
	return s.store.List(ctx, filter, page)
}

// Get fetches one record by surrogate ID.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.store.Get(ctx, id)
}

// GetByEventID fetches one record by its event UUID.
func (s *Service) GetByEventID(ctx context.Context, eventID uuid.UUID) (Record, error) {
	return s.store.GetByEventID(ctx, eventID)
}

// ActorActivity returns an actor's records over the trailing window.
func (s *Service) ActorActivity(ctx context.Context, actorID string, days int, page Page) ([]Record, error) {
	if days <= 0 {
		days = 30
	}
	filter := Filter{
		ActorID: actorID,
		From:    time.Now().UTC().AddDate(0, 0, -days),
	}
	return s.List(ctx, filter, page)
}

// ResourceHistory returns the full history of a resource, oldest first.
func (s *Service) ResourceHistory(ctx context.Context, resourceType, resourceID string) ([]Record, error) {
	if resourceType == "" || resourceID == "" {
		return nil, fmt.Errorf("resource type and id required: %w", sentinel.ErrInvalidState)
	}
	return s.store.ResourceHistory(ctx, resourceType, resourceID)
}

// Summary returns the headline counts for the trail.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	return s.store.Summary(ctx)
}

// Statistics returns grouped activity counts inside the window.
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (Statistics, error) {
	return s.store.Statistics(ctx, from, to)
}

// Search matches the term against description, actor email and action.
func (s *Service) Search(ctx context.Context, term string, skip, limit int) ([]Record, error) {
	if term == "" {
		return nil, fmt.Errorf("search term required: %w", sentinel.ErrInvalidState)
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return s.store.Search(ctx, term, skip, limit)
}

// Export serializes every record inside the window as a JSON array or CSV.
func (s *Service) Export(ctx context.Context, format ExportFormat, from, to time.Time) ([]byte, error) {
	switch format {
	case ExportJSON, ExportCSV:
	default:
		return nil, fmt.Errorf("export format %q: %w", format, sentinel.ErrInvalidState)
	}

	records, err := s.store.List(ctx, Filter{From: from, To: to}, Page{OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("load records for export: %w", err)
	}

	if format == ExportJSON {
		return json.Marshal(records)
	}
	return exportCSV(records)
}

// exportCSV writes one row per record with event and previous data as
// embedded JSON documents.
func exportCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "event_type", "event_id",
		"actor_id", "actor_email", "actor_role",
		"resource_type", "resource_id",
		"action", "description",
		"event_data", "previous_data",
		"created_at", "processed_at", "status",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		eventData, err := json.Marshal(rec.EventData)
		if err != nil {
			return nil, fmt.Errorf("marshal event data for %s: %w", rec.EventID, err)
		}
		previous := ""
		if rec.PreviousData != nil {
			b, err := json.Marshal(rec.PreviousData)
			if err != nil {
				return nil, fmt.Errorf("marshal previous data for %s: %w", rec.EventID, err)
			}
			previous = string(b)
		}
		processedAt := ""
		if rec.ProcessedAt != nil {
			processedAt = rec.ProcessedAt.Format(time.RFC3339Nano)
		}

		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.EventType,
			rec.EventID.String(),
			rec.ActorID,
			rec.ActorEmail,
			rec.ActorRole,
			rec.ResourceType,
			rec.ResourceID,
			rec.Action,
			rec.Description,
			string(eventData),
			previous,
			rec.CreatedAt.Format(time.RFC3339Nano),
			processedAt,
			string(rec.Status),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Cleanup deletes records older than daysToKeep days and reports how many
// were removed.
func (s *Service) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, fmt.Errorf("days to keep must be positive: %w", sentinel.ErrInvalidState)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "cleaned up old audit records",
		"deleted", deleted,
		"cutoff", cutoff,
	)
	return deleted, nil
}

// MarkProcessed flips the given events to processed status.
func (s *Service) MarkProcessed(ctx context.Context, eventIDs []uuid.UUID) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	return s.store.UpdateStatus(ctx, eventIDs, StatusProcessed)
}

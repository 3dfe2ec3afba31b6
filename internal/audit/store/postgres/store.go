// Package postgres backs the audit trail with a Postgres table. Inserts are
// idempotent on event_id so broker redeliveries collapse into one row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"captable/internal/audit"
	"captable/pkg/platform/sentinel"
)

// Schema creates the audit_events table and its query indexes. The secondary
// indexes mirror the hot query paths: per-actor activity, per-resource
// history and time-windowed listings.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            BIGSERIAL PRIMARY KEY,
	event_type    VARCHAR(50)  NOT NULL,
	event_id      UUID         NOT NULL UNIQUE,
	actor_id      VARCHAR(100),
	actor_email   VARCHAR(255),
	actor_role    VARCHAR(50),
	resource_type VARCHAR(50),
	resource_id   VARCHAR(100),
	action        VARCHAR(100) NOT NULL,
	description   TEXT,
	event_data    JSONB,
	previous_data JSONB,
	created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
	processed_at  TIMESTAMPTZ,
	status        VARCHAR(20)  NOT NULL DEFAULT 'processed'
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type_actor_date ON audit_events (event_type, actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_resource_date   ON audit_events (resource_type, resource_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_actor_date      ON audit_events (actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_date_type       ON audit_events (created_at, event_type);
`

// Store implements audit.Store on database/sql.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the table and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

const recordColumns = `
	id, event_type, event_id,
	actor_id, actor_email, actor_role,
	resource_type, resource_id,
	action, description,
	event_data, previous_data,
	created_at, processed_at, status
`

// Insert writes the record unless its event_id already exists. Reports
// whether a row was written.
func (s *Store) Insert(ctx context.Context, rec *audit.Record) (bool, error) {
	eventData, err := marshalJSON(rec.EventData)
	if err != nil {
		return false, fmt.Errorf("marshal event data: %w", err)
	}
	previousData, err := marshalJSON(rec.PreviousData)
	if err != nil {
		return false, fmt.Errorf("marshal previous data: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			event_type, event_id,
			actor_id, actor_email, actor_role,
			resource_type, resource_id,
			action, description,
			event_data, previous_data,
			created_at, processed_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.EventType,
		rec.EventID,
		nullString(rec.ActorID),
		nullString(rec.ActorEmail),
		nullString(rec.ActorRole),
		nullString(rec.ResourceType),
		nullString(rec.ResourceID),
		rec.Action,
		nullString(rec.Description),
		eventData,
		previousData,
		rec.CreatedAt,
		rec.ProcessedAt,
		rec.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	return affected > 0, nil
}

// Get fetches a record by surrogate ID.
func (s *Store) Get(ctx context.Context, id int64) (audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_events WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByEventID fetches a record by event UUID.
func (s *Store) GetByEventID(ctx context.Context, eventID uuid.UUID) (audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_events WHERE event_id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, eventID))
}

// List returns records matching the filter, paged and ordered. The order
// column is whitelisted by the service before it reaches here.
func (s *Store) List(ctx context.Context, filter audit.Filter, page audit.Page) ([]audit.Record, error) {
	where, args := buildWhere(filter)

	direction := "ASC"
	if page.Descending {
		direction = "DESC"
	}
	orderBy := page.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}

	query := `SELECT ` + recordColumns + ` FROM audit_events` + where +
		fmt.Sprintf(" ORDER BY %s %s", orderBy, direction)
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Skip > 0 {
		args = append(args, page.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ResourceHistory returns every record for a resource, oldest first.
func (s *Store) ResourceHistory(ctx context.Context, resourceType, resourceID string) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query resource history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Summary computes the headline counts in a single query.
func (s *Store) Summary(ctx context.Context) (audit.Summary, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT actor_id),
		       COUNT(DISTINCT resource_type),
		       MAX(created_at)
		FROM audit_events
	`
	var (
		summary audit.Summary
		last    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&summary.TotalEvents,
		&summary.UniqueActors,
		&summary.ResourceTypes,
		&last,
	)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("query audit summary: %w", err)
	}
	if last.Valid {
		summary.LastEventAt = &last.Time
	}
	return summary, nil
}

// Statistics groups activity by action, resource type and actor inside the
// window. Zero bounds leave that side open.
func (s *Store) Statistics(ctx context.Context, from, to time.Time) (audit.Statistics, error) {
	where, args := buildWhere(audit.Filter{From: from, To: to})

	byAction, err := s.groupedCounts(ctx, "action", where, args)
	if err != nil {
		return audit.Statistics{}, err
	}
	byResource, err := s.groupedCounts(ctx, "resource_type", where, args)
	if err != nil {
		return audit.Statistics{}, err
	}

	query := `
		SELECT actor_id, COALESCE(actor_email, ''), COUNT(*)
		FROM audit_events` + where
	if where == "" {
		query += " WHERE actor_id IS NOT NULL"
	} else {
		query += " AND actor_id IS NOT NULL"
	}
	query += `
		GROUP BY actor_id, actor_email
		ORDER BY COUNT(*) DESC
		LIMIT 10`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Statistics{}, fmt.Errorf("query top actors: %w", err)
	}
	defer rows.Close()

	var topActors []audit.ActorActivity
	for rows.Next() {
		var activity audit.ActorActivity
		if err := rows.Scan(&activity.ActorID, &activity.ActorEmail, &activity.Count); err != nil {
			return audit.Statistics{}, fmt.Errorf("scan top actor: %w", err)
		}
		topActors = append(topActors, activity)
	}
	if err := rows.Err(); err != nil {
		return audit.Statistics{}, fmt.Errorf("iterate top actors: %w", err)
	}

	return audit.Statistics{
		ByAction:       byAction,
		ByResourceType: byResource,
		TopActors:      topActors,
	}, nil
}

// groupedCounts counts rows per value of the given column. The column name
// comes from a fixed set of callers, never from user input.
func (s *Store) groupedCounts(ctx context.Context, column, where string, args []any) ([]audit.CountByKey, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(%s, ''), COUNT(*)
		FROM audit_events%s
		GROUP BY %s
		ORDER BY COUNT(*) DESC
	`, column, where, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counts by %s: %w", column, err)
	}
	defer rows.Close()

	var counts []audit.CountByKey
	for rows.Next() {
		var c audit.CountByKey
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count by %s: %w", column, err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts by %s: %w", column, err)
	}
	return counts, nil
}

// Search matches the term case-insensitively against description, actor
// email and action, newest first.
func (s *Store) Search(ctx context.Context, term string, skip, limit int) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM audit_events
		WHERE description ILIKE $1 OR actor_email ILIKE $1 OR action ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, query, pattern, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("search audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteBefore removes records created before the cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old audit records: %w", err)
	}
	return deleted, nil
}

// UpdateStatus sets status and processed_at for the given event IDs.
func (s *Store) UpdateStatus(ctx context.Context, eventIDs []uuid.UUID, status audit.Status) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		ids[i] = id.String()
	}

	query := `
		UPDATE audit_events
		SET status = $1, processed_at = $2
		WHERE event_id = ANY($3::uuid[])
	`
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("update audit status: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update audit status: %w", err)
	}
	return updated, nil
}

// buildWhere assembles the WHERE clause for a filter with $n placeholders.
func buildWhere(filter audit.Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if len(filter.EventTypes) > 0 {
		add("event_type = ANY($%d)", pq.Array(filter.EventTypes))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.ActorEmail != "" {
		add("actor_email = $%d", filter.ActorEmail)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row rowScanner) (audit.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, fmt.Errorf("audit record: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("scan audit record: %w", err)
	}
	return rec, nil
}

func scanRecord(row rowScanner) (audit.Record, error) {
	var (
		rec          audit.Record
		actorID      sql.NullString
		actorEmail   sql.NullString
		actorRole    sql.NullString
		resourceType sql.NullString
		resourceID   sql.NullString
		description  sql.NullString
		eventData    []byte
		previousData []byte
		processedAt  sql.NullTime
		status       string
	)
	err := row.Scan(
		&rec.ID,
		&rec.EventType,
		&rec.EventID,
		&actorID,
		&actorEmail,
		&actorRole,
		&resourceType,
		&resourceID,
		&rec.Action,
		&description,
		&eventData,
		&previousData,
		&rec.CreatedAt,
		&processedAt,
		&status,
	)
	if err != nil {
		return audit.Record{}, err
	}

	rec.ActorID = actorID.String
	rec.ActorEmail = actorEmail.String
	rec.ActorRole = actorRole.String
	rec.ResourceType = resourceType.String
	rec.ResourceID = resourceID.String
	rec.Description = description.String
	rec.Status = audit.Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	if len(eventData) > 0 {
		if err := json.Unmarshal(eventData, &rec.EventData); err != nil {
			return audit.Record{}, fmt.Errorf("unmarshal event data: %w", err)
		}
	}
	if len(previousData) > 0 {
		if err := json.Unmarshal(previousData, &rec.PreviousData); err != nil {
			return audit.Record{}, fmt.Errorf("unmarshal previous data: %w", err)
		}
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

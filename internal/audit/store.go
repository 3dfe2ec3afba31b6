package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows a trail query. Zero values mean "no constraint".
type Filter struct {
	EventTypes   []string
	ActorID      string
	ActorEmail   string
	ResourceType string
	ResourceID   string
	Action       string
	Status       Status
	From         time.Time
	To           time.Time
}

// Page controls ordering and pagination. Limit <= 0 means unbounded, which
// only the export path uses.
type Page struct {
	Skip       int
	Limit      int
	OrderBy    string
	Descending bool
}

// Summary are the headline counts for the whole trail.
type Summary struct {
	TotalEvents   int64      `json:"total_events"`
	UniqueActors  int64      `json:"unique_actors"`
	ResourceTypes int64      `json:"resource_types"`
	LastEventAt   *time.Time `json:"last_event_date,omitempty"`
}

// CountByKey is one bucket of a grouped count.
type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ActorActivity is one row of the top-actors ranking.
type ActorActivity struct {
	ActorID    string `json:"actor_id"`
	ActorEmail string `json:"actor_email,omitempty"`
	Count      int64  `json:"count"`
}

// Statistics breaks activity down by action, resource type and actor.
type Statistics struct {
	ByAction       []CountByKey    `json:"action_statistics"`
	ByResourceType []CountByKey    `json:"resource_statistics"`
	TopActors      []ActorActivity `json:"top_users"`
}

// Store is the persistence contract for the audit trail.
type Store interface {
	// Insert writes the record unless one with the same EventID already
	// exists. It reports whether a row was actually written; a duplicate
	// is not an error.
	Insert(ctx context.Context, rec *Record) (bool, error)

	// Get fetches a record by its surrogate ID.
	Get(ctx context.Context, id int64) (Record, error)

	// GetByEventID fetches a record by its event UUID.
	GetByEventID(ctx context.Context, eventID uuid.UUID) (Record, error)

	// List returns records matching the filter, paged and ordered.
	List(ctx context.Context, filter Filter, page Page) ([]Record, error)

	// ResourceHistory returns every record touching a resource, oldest first.
	ResourceHistory(ctx context.Context, resourceType, resourceID string) ([]Record, error)

	// Summary computes the headline counts.
	Summary(ctx context.Context) (Summary, error)

	// Statistics computes grouped activity counts inside the window.
	// Zero bounds leave that side of the window open.
	Statistics(ctx context.Context, from, to time.Time) (Statistics, error)

	// Search matches the term case-insensitively against description,
	// actor email and action, newest first.
	Search(ctx context.Context, term string, skip, limit int) ([]Record, error)

	// DeleteBefore removes records created before the cutoff and reports
	// how many were deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// UpdateStatus sets the status and processed-at time for the given
	// event IDs and reports how many rows changed.
	UpdateStatus(ctx context.Context, eventIDs []uuid.UUID, status Status) (int64, error)
}

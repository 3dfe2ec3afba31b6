// Package memory is an in-memory audit.Store for unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"captable/internal/audit"
	"captable/pkg/platform/sentinel"
)

// Store keeps records in insertion order guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	records []audit.Record
	byEvent map[uuid.UUID]int
}

func New() *Store {
	return &Store{byEvent: make(map[uuid.UUID]int)}
}

func (s *Store) Insert(_ context.Context, rec *audit.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEvent[rec.EventID]; exists {
		return false, nil
	}

	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	s.byEvent[rec.EventID] = len(s.records)
	s.records = append(s.records, stored)
	rec.ID = stored.ID
	return true, nil
}

func (s *Store) Get(_ context.Context, id int64) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return audit.Record{}, fmt.Errorf("audit record: %w", sentinel.ErrNotFound)
}

func (s *Store) GetByEventID(_ context.Context, eventID uuid.UUID) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byEvent[eventID]
	if !ok {
		return audit.Record{}, fmt.Errorf("audit record: %w", sentinel.ErrNotFound)
	}
	return s.records[idx], nil
}

func (s *Store) List(_ context.Context, filter audit.Filter, page audit.Page) ([]audit.Record, error) {
	s.mu.RLock()
	matched := s.filtered(filter)
	s.mu.RUnlock()

	sortRecords(matched, page.OrderBy, page.Descending)
	return paginate(matched, page.Skip, page.Limit), nil
}

func (s *Store) ResourceHistory(_ context.Context, resourceType, resourceID string) ([]audit.Record, error) {
	s.mu.RLock()
	matched := s.filtered(audit.Filter{ResourceType: resourceType, ResourceID: resourceID})
	s.mu.RUnlock()

	sortRecords(matched, "created_at", false)
	return matched, nil
}

func (s *Store) Summary(_ context.Context) (audit.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actors := map[string]struct{}{}
	resourceTypes := map[string]struct{}{}
	var last *time.Time

	for _, rec := range s.records {
		if rec.ActorID != "" {
			actors[rec.ActorID] = struct{}{}
		}
		if rec.ResourceType != "" {
			resourceTypes[rec.ResourceType] = struct{}{}
		}
		if last == nil || rec.CreatedAt.After(*last) {
			t := rec.CreatedAt
			last = &t
		}
	}

	return audit.Summary{
		TotalEvents:   int64(len(s.records)),
		UniqueActors:  int64(len(actors)),
		ResourceTypes: int64(len(resourceTypes)),
		LastEventAt:   last,
	}, nil
}

func (s *Store) Statistics(_ context.Context, from, to time.Time) (audit.Statistics, error) {
	s.mu.RLock()
	matched := s.filtered(audit.Filter{From: from, To: to})
	s.mu.RUnlock()

	byAction := map[string]int64{}
	byResource := map[string]int64{}
	byActor := map[string]*audit.ActorActivity{}

	for _, rec := range matched {
		byAction[rec.Action]++
		byResource[rec.ResourceType]++
		if rec.ActorID == "" {
			continue
		}
		activity, ok := byActor[rec.ActorID]
		if !ok {
			activity = &audit.ActorActivity{ActorID: rec.ActorID, ActorEmail: rec.ActorEmail}
			byActor[rec.ActorID] = activity
		}
		activity.Count++
	}

	topActors := make([]audit.ActorActivity, 0, len(byActor))
	for _, activity := range byActor {
		topActors = append(topActors, *activity)
	}
	sort.Slice(topActors, func(i, j int) bool {
		if topActors[i].Count != topActors[j].Count {
			return topActors[i].Count > topActors[j].Count
		}
		return topActors[i].ActorID < topActors[j].ActorID
	})
	if len(topActors) > 10 {
		topActors = topActors[:10]
	}

	return audit.Statistics{
		ByAction:       sortedCounts(byAction),
		ByResourceType: sortedCounts(byResource),
		TopActors:      topActors,
	}, nil
}

func (s *Store) Search(_ context.Context, term string, skip, limit int) ([]audit.Record, error) {
	needle := strings.ToLower(term)

	s.mu.RLock()
	var matched []audit.Record
	for _, rec := range s.records {
		if strings.Contains(strings.ToLower(rec.Description), needle) ||
			strings.Contains(strings.ToLower(rec.ActorEmail), needle) ||
			strings.Contains(strings.ToLower(rec.Action), needle) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, "created_at", true)
	return paginate(matched, skip, limit), nil
}

func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []audit.Record
	var deleted int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}

	s.records = kept
	s.byEvent = make(map[uuid.UUID]int, len(kept))
	for i, rec := range kept {
		s.byEvent[rec.EventID] = i
	}
	return deleted, nil
}

func (s *Store) UpdateStatus(_ context.Context, eventIDs []uuid.UUID, status audit.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var updated int64
	for _, id := range eventIDs {
		idx, ok := s.byEvent[id]
		if !ok {
			continue
		}
		s.records[idx].Status = status
		s.records[idx].ProcessedAt = &now
		updated++
	}
	return updated, nil
}

// filtered returns copies of the records matching the filter. Callers hold
// at least the read lock.
func (s *Store) filtered(filter audit.Filter) []audit.Record {
	var matched []audit.Record
	for _, rec := range s.records {
		if matches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	return matched
}

func matches(rec audit.Record, filter audit.Filter) bool {
	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if rec.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ActorID != "" && rec.ActorID != filter.ActorID {
		return false
	}
	if filter.ActorEmail != "" && rec.ActorEmail != filter.ActorEmail {
		return false
	}
	if filter.ResourceType != "" && rec.ResourceType != filter.ResourceType {
		return false
	}
	if filter.ResourceID != "" && rec.ResourceID != filter.ResourceID {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && rec.CreatedAt.After(filter.To) {
		return false
	}
	return true
}

func sortRecords(records []audit.Record, orderBy string, descending bool) {
	key := func(rec audit.Record) string {
		switch orderBy {
		case "event_type":
			return rec.EventType
		case "action":
			return rec.Action
		case "actor_id":
			return rec.ActorID
		case "resource_type":
			return rec.ResourceType
		case "status":
			return string(rec.Status)
		default:
			return ""
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		var less bool
		if orderBy == "" || orderBy == "created_at" {
			less = records[i].CreatedAt.Before(records[j].CreatedAt)
		} else {
			less = key(records[i]) < key(records[j])
		}
		if descending {
			return !less && !equalKey(records[i], records[j], orderBy)
		}
		return less
	})
}

func equalKey(a, b audit.Record, orderBy string) bool {
	if orderBy == "" || orderBy == "created_at" {
		return a.CreatedAt.Equal(b.CreatedAt)
	}
	switch orderBy {
	case "event_type":
		return a.EventType == b.EventType
	case "action":
		return a.Action == b.Action
	case "actor_id":
		return a.ActorID == b.ActorID
	case "resource_type":
		return a.ResourceType == b.ResourceType
	case "status":
		return a.Status == b.Status
	}
	return false
}

func paginate(records []audit.Record, skip, limit int) []audit.Record {
	if skip >= len(records) {
		return nil
	}
	records = records[skip:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func sortedCounts(counts map[string]int64) []audit.CountByKey {
	out := make([]audit.CountByKey, 0, len(counts))
	for key, count := range counts {
		out = append(out, audit.CountByKey{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

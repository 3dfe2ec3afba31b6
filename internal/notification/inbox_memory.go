package notification

import (
	"context"
	"sync"
)

// MemoryInbox is an in-memory Inbox for unit tests.
type MemoryInbox struct {
	mu        sync.RWMutex
	byUser    map[string][]Notification
	maxLength int
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		byUser:    make(map[string][]Notification),
		maxLength: defaultInboxLength,
	}
}

func (i *MemoryInbox) Push(_ context.Context, n Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	entries := append([]Notification{n}, i.byUser[n.UserID]...)
	if len(entries) > i.maxLength {
		entries = entries[:i.maxLength]
	}
	i.byUser[n.UserID] = entries
	return nil
}

func (i *MemoryInbox) List(_ context.Context, userID string, limit int) ([]Notification, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries := i.byUser[userID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	return append([]Notification{}, entries[:limit]...), nil
}

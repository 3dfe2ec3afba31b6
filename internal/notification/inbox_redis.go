package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// defaultInboxLength bounds each user's inbox; older entries fall off.
const defaultInboxLength = 100

// RedisInbox keeps each user's notifications in a Redis list keyed
// notifications:<user_id>, newest first.
type RedisInbox struct {
	client    redis.Cmdable
	maxLength int64
}

type RedisInboxOption func(*RedisInbox)

// WithMaxLength overrides the bounded inbox length.
func WithMaxLength(n int64) RedisInboxOption {
	return func(i *RedisInbox) { i.maxLength = n }
}

func NewRedisInbox(client redis.Cmdable, opts ...RedisInboxOption) *RedisInbox {
	inbox := &RedisInbox{
		client:    client,
		maxLength: defaultInboxLength,
	}
	for _, opt := range opts {
		opt(inbox)
	}
	return inbox
}

func inboxKey(userID string) string {
	return "notifications:" + userID
}

func (i *RedisInbox) Push(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := inboxKey(n.UserID)
	pipe := i.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, i.maxLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification for %s: %w", n.UserID, err)
	}
	return nil
}

func (i *RedisInbox) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || int64(limit) > i.maxLength {
		limit = int(i.maxLength)
	}

	raw, err := i.client.LRange(ctx, inboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}

	notifications := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification for %s: %w", userID, err)
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

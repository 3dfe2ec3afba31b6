//go:build integration

package notification_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable/internal/notification"
	"captable/pkg/testutil/containers"
)

func TestRedisInbox(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	t.Run("push and list newest first", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		inbox := notification.NewRedisInbox(rc.Client)

		for i := 0; i < 3; i++ {
			err := inbox.Push(ctx, notification.Notification{
				EventID: fmt.Sprintf("e%d", i),
				Type:    notification.TypeShareIssuance,
				UserID:  "user-1",
				Title:   fmt.Sprintf("title %d", i),
			})
			require.NoError(t, err)
		}

		entries, err := inbox.List(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "title 2", entries[0].Title)
		assert.Equal(t, "title 0", entries[2].Title)
	})

	t.Run("inbox is bounded", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		inbox := notification.NewRedisInbox(rc.Client, notification.WithMaxLength(5))

		for i := 0; i < 8; i++ {
			err := inbox.Push(ctx, notification.Notification{
				EventID: fmt.Sprintf("e%d", i),
				Type:    notification.TypeSystemAlert,
				UserID:  "user-2",
				Title:   fmt.Sprintf("title %d", i),
			})
			require.NoError(t, err)
		}

		entries, err := inbox.List(ctx, "user-2", 0)
		require.NoError(t, err)
		require.Len(t, entries, 5, "older entries fall off the trimmed list")
		assert.Equal(t, "title 7", entries[0].Title)
		assert.Equal(t, "title 3", entries[4].Title)
	})

	t.Run("inboxes are per user", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		inbox := notification.NewRedisInbox(rc.Client)

		require.NoError(t, inbox.Push(ctx, notification.Notification{
			EventID: "e1", Type: notification.TypeShareIssuance, UserID: "alice",
		}))

		entries, err := inbox.List(ctx, "bob", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

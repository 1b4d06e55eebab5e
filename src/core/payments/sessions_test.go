package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		store := NewMemorySessionStore(time.Minute)

		session := &Session{
			Memo:      "exec-abc",
			Kind:      "execute",
			Amount:    110,
			Token:     "stable-coin",
			Task:      "summarize this",
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.Put(ctx, session))

		found, err := store.Get(ctx, "exec-abc")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, int64(110), found.Amount)
		assert.Equal(t, "execute", found.Kind)
	})

	t.Run("UnknownMemoIsNilNil", func(t *testing.T) {
		store := NewMemorySessionStore(time.Minute)

		found, err := store.Get(ctx, "never-stored")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("ExpiredSessionIsGone", func(t *testing.T) {
		store := NewMemorySessionStore(10 * time.Millisecond)

		require.NoError(t, store.Put(ctx, &Session{Memo: "short-lived"}))
		time.Sleep(25 * time.Millisecond)

		found, err := store.Get(ctx, "short-lived")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("PutSweepsExpiredEntries", func(t *testing.T) {
		store := NewMemorySessionStore(10 * time.Millisecond)

		require.NoError(t, store.Put(ctx, &Session{Memo: "old"}))
		time.Sleep(25 * time.Millisecond)
		require.NoError(t, store.Put(ctx, &Session{Memo: "new"}))

		store.mu.Lock()
		_, oldPresent := store.items["old"]
		store.mu.Unlock()
		assert.False(t, oldPresent)
	})
}

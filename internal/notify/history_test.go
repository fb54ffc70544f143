package notify_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/linkscan/internal/notify"
	"github.com/jonesrussell/linkscan/internal/storage"
)

func entryWithSignature(sig string) notify.HistoryEntry {
	return notify.HistoryEntry{
		Channel:   notify.ChannelWebhook,
		Status:    notify.StatusSent,
		Signature: sig,
		Timestamp: time.Now(),
	}
}

func TestRedisHistory_AppendAndLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	history := notify.NewRedisHistory(client, "notify:history", 50)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, []notify.HistoryEntry{
		entryWithSignature("first"),
		entryWithSignature("second"),
	}))

	entries, err := history.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Signature, "newest entry comes first")
	assert.Equal(t, "first", entries[1].Signature)
}

func TestRedisHistory_TruncatesAtMax(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	history := notify.NewRedisHistory(client, "notify:history", 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, history.Append(ctx, []notify.HistoryEntry{
			entryWithSignature(fmt.Sprintf("sig-%d", i)),
		}))
	}

	entries, err := history.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "sig-4", entries[0].Signature)
	assert.Equal(t, "sig-2", entries[2].Signature, "oldest entries fall off the end")
}

func TestRedisHistory_EmptyLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	history := notify.NewRedisHistory(client, "notify:history", 50)

	entries, err := history.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreHistory_AppendAndLoad(t *testing.T) {
	history := notify.NewStoreHistory(storage.NewMemoryStore(), "notify:history", 50)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, []notify.HistoryEntry{
		entryWithSignature("first"),
		entryWithSignature("second"),
	}))
	require.NoError(t, history.Append(ctx, []notify.HistoryEntry{
		entryWithSignature("third"),
	}))

	entries, err := history.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Signature)
	assert.Equal(t, "second", entries[1].Signature)
	assert.Equal(t, "first", entries[2].Signature)
}

func TestStoreHistory_TruncatesAtMax(t *testing.T) {
	history := notify.NewStoreHistory(storage.NewMemoryStore(), "notify:history", 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, history.Append(ctx, []notify.HistoryEntry{
			entryWithSignature(fmt.Sprintf("sig-%d", i)),
		}))
	}

	entries, err := history.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sig-3", entries[0].Signature)
	assert.Equal(t, "sig-2", entries[1].Signature)
}

func TestStoreHistory_AppendNothingIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	history := notify.NewStoreHistory(store, "notify:history", 50)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, nil))

	_, ok, err := store.Get(ctx, "notify:history")
	require.NoError(t, err)
	assert.False(t, ok, "empty append must not write")
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCheckResultAppendAndRange(t *testing.T) {
	ctx := context.Background()
	store := NewCheckResultStore(newTestClient(t), time.Hour)
	key := store.Key(1, 1, "dim", 2)

	base := int64(1700000000)
	require.NoError(t, store.Append(ctx, key, base-120, "0", 0))
	require.NoError(t, store.Append(ctx, key, base-60, StatusAnomaly, 0))
	require.NoError(t, store.Append(ctx, key, base, "1.5", 0))

	entries, err := store.Range(ctx, key, base-120, base)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, base-120, entries[0].TS)
	require.Equal(t, base, entries[2].TS)
	require.False(t, entries[0].IsAnomaly())
	require.True(t, entries[1].IsAnomaly())
	require.Equal(t, "1.5", entries[2].Status)
}

func TestCheckResultAppendOverwritesSameTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewCheckResultStore(newTestClient(t), time.Hour)
	key := store.Key(1, 1, "dim", 2)

	ts := int64(1700000000)
	require.NoError(t, store.Append(ctx, key, ts, "0", 0))
	require.NoError(t, store.Append(ctx, key, ts, StatusAnomaly, 0))

	entries, err := store.Range(ctx, key, ts, ts)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsAnomaly())
}

func TestCheckResultRangeBounds(t *testing.T) {
	ctx := context.Background()
	store := NewCheckResultStore(newTestClient(t), time.Hour)
	key := store.Key(1, 1, "dim", 2)

	base := int64(1700000000)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.Append(ctx, key, base+i*60, StatusAnomaly, 0))
	}

	entries, err := store.Range(ctx, key, base+60, base+180)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, base+60, entries[0].TS)
	require.Equal(t, base+180, entries[2].TS)
}

func TestCheckResultTrim(t *testing.T) {
	ctx := context.Background()
	store := NewCheckResultStore(newTestClient(t), time.Hour)
	key := store.Key(1, 1, "dim", 2)

	base := int64(1700000000)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.Append(ctx, key, base+i*60, "0", 0))
	}

	require.NoError(t, store.Trim(ctx, key, base+120))

	entries, err := store.Range(ctx, key, 0, base+600)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, base+120, entries[0].TS)
}

func TestParseEntrySkipsMalformedMembers(t *testing.T) {
	_, ok := parseEntry("not-a-ts|ANOMALY")
	require.False(t, ok)

	_, ok = parseEntry("1700000000")
	require.False(t, ok)

	entry, ok := parseEntry("1700000000|ANOMALY")
	require.True(t, ok)
	require.Equal(t, int64(1700000000), entry.TS)
	require.True(t, entry.IsAnomaly())
}

package redisstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bluescreen10/tablesession"
	"github.com/bluescreen10/tablesession/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestUpsertRead(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "abc123", Data: []byte("hello world"), ExpiresAt: expiresAt}))

	rec, err := tbl.Read(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(rec.Data))
	assert.True(t, expiresAt.Equal(rec.ExpiresAt))
}

func TestUpsertWithoutExpiry(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()

	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "abc", Data: []byte("x"), ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "abc", Data: []byte("y")}))

	rec, err := tbl.Read(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, rec.Expires())

	page, err := tbl.Query(ctx, tablesession.Query{ExpiresBefore: time.Now(), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestEmptyRead(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))

	_, err := tbl.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, tablesession.ErrNotFound)
}

func TestDelete(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()

	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "abc", Data: []byte("x"), ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, tbl.Delete(ctx, "abc"))
	assert.ErrorIs(t, tbl.Delete(ctx, "abc"), tablesession.ErrNotFound)

	page, err := tbl.Query(ctx, tablesession.Query{ExpiresBefore: time.Now(), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestQueryExpired(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: key, Data: []byte(key), ExpiresAt: now.Add(-time.Minute)}))
	}
	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "live", Data: []byte("live"), ExpiresAt: now.Add(time.Hour)}))

	var keys []string
	q := tablesession.Query{ExpiresBefore: now, Limit: 2}
	for {
		page, err := tbl.Query(ctx, q)
		require.NoError(t, err)
		for _, rec := range page.Records {
			keys = append(keys, rec.Key)
		}
		if page.Next == "" {
			break
		}
		q.Continuation = page.Next
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)
}

func TestQueryDrainsWhileDeleting(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 23; i++ {
		key := fmt.Sprintf("s%02d", i)
		require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: key, Data: []byte(key), ExpiresAt: now.Add(-time.Duration(i+1) * time.Second)}))
	}
	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "live1", Data: []byte("x"), ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: "live2", Data: []byte("x")}))

	deleted := 0
	q := tablesession.Query{ExpiresBefore: now, Limit: 5}
	for {
		page, err := tbl.Query(ctx, q)
		require.NoError(t, err)
		for _, rec := range page.Records {
			require.NoError(t, tbl.Delete(ctx, rec.Key))
			deleted++
		}
		if page.Next == "" {
			break
		}
		q.Continuation = page.Next
	}

	assert.Equal(t, 23, deleted)
	page, err := tbl.Query(ctx, tablesession.Query{ExpiresBefore: now, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	for _, key := range []string{"live1", "live2"} {
		_, err := tbl.Read(ctx, key)
		assert.NoError(t, err, key)
	}
}

func TestQuerySkipsEntriesAlreadyReturned(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))
	ctx := context.Background()
	now := time.Now()
	expiresAt := now.Add(-time.Minute)

	for _, key := range []string{"e", "c", "a", "d", "b"} {
		require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: key, Data: []byte(key), ExpiresAt: expiresAt}))
	}

	var keys []string
	queries := 0
	q := tablesession.Query{ExpiresBefore: now, Limit: 2}
	for {
		page, err := tbl.Query(ctx, q)
		require.NoError(t, err)
		queries++
		for _, rec := range page.Records {
			keys = append(keys, rec.Key)
		}
		if page.Next == "" {
			break
		}
		q.Continuation = page.Next
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	assert.Equal(t, 3, queries)
}

func TestQueryRejectsBadContinuation(t *testing.T) {
	tbl := getTable(t, getMiniRedis(t))

	_, err := tbl.Query(context.Background(), tablesession.Query{ExpiresBefore: time.Now(), Continuation: "nope", Limit: 2})
	assert.Error(t, err)
}

func TestSweepOnMiniRedis(t *testing.T) {
	rdb := getMiniRedis(t)
	tbl := getTable(t, rdb)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("old%03d", i)
		require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: key, Data: []byte(key), ExpiresAt: now.Add(-time.Duration(i%40+1) * time.Second)}))
	}
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("live%d", i)
		require.NoError(t, tbl.Upsert(ctx, tablesession.Record{Key: key, Data: []byte(key), ExpiresAt: now.Add(time.Hour)}))
	}

	store, err := tablesession.New(ctx, redisstore.New(rdb), tablesession.WithSweepPageSize(10))
	require.NoError(t, err)
	defer store.Close()

	stats := store.Sweeper().Sweep(ctx)
	assert.Equal(t, 500, stats.Deleted)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Missing)

	for i := 0; i < 7; i++ {
		_, err := tbl.Read(ctx, fmt.Sprintf("live%d", i))
		assert.NoError(t, err)
	}
	_, err = tbl.Read(ctx, "old000")
	assert.ErrorIs(t, err, tablesession.ErrNotFound)
}

func TestTablesAreIsolated(t *testing.T) {
	rdb := getMiniRedis(t)
	ctx := context.Background()

	s := redisstore.New(rdb)
	one, err := s.EnsureTable(ctx, "One")
	require.NoError(t, err)
	two, err := s.EnsureTable(ctx, "Two")
	require.NoError(t, err)

	require.NoError(t, one.Upsert(ctx, tablesession.Record{Key: "abc", Data: []byte("x")}))
	_, err = two.Read(ctx, "abc")
	assert.ErrorIs(t, err, tablesession.ErrNotFound)
}

func TestUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := newClient(mr.Addr())
	mr.Close()

	_, err := redisstore.New(rdb).EnsureTable(context.Background(), "Sessions")
	assert.ErrorIs(t, err, tablesession.ErrBackendUnavailable)
}

func TestStoreOnRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	rdb, err := getRedisDB(t)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := tablesession.New(ctx, redisstore.New(rdb))
	require.NoError(t, err)
	defer store.Close()

	p := tablesession.Payload{OriginalMaxAge: time.Hour, Values: map[string]any{"user": "u-1"}}
	require.NoError(t, store.Set(ctx, "abc123", p))

	got, found, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "u-1", got.Values["user"])

	require.NoError(t, store.Destroy(ctx, "abc123"))
	_, found, err = store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func getTable(t *testing.T, rdb redis.UniversalClient) tablesession.Table {
	t.Helper()
	tbl, err := redisstore.New(rdb).EnsureTable(context.Background(), tablesession.DefaultTableName)
	require.NoError(t, err)
	return tbl
}

func getMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := newClient(mr.Addr())
	t.Cleanup(func() { client.Close() })
	return client
}

func newClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:       addr,
		MaxRetries: -1,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
}

func getRedisDB(t *testing.T) (*redis.Client, error) {
	ctx := context.Background()
	server, err := testcontainers.Run(
		ctx, "redis:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	if err != nil {
		return nil, err
	}
	testcontainers.CleanupContainer(t, server)
	endpoint, err := server.Endpoint(ctx, "")
	if err != nil {
		return nil, err
	}
	return newClient(endpoint), nil
}

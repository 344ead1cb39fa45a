package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"noticeboard/notice/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCache_ReadWriteInvalidate(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb, WithPrefix("test:"))
	ctx := context.Background()

	_, ok, err := c.Read(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "miss is not an error")

	n := domain.Notice{ID: 1, Title: "t", Content: "c", StartAt: winStart, EndAt: winEnd, Version: 2,
		Author: domain.User{ID: 3, Username: "admin"}, Attachments: []domain.Attachment{}}
	require.NoError(t, c.Write(ctx, n, time.Minute))
	assert.True(t, mr.Exists("test:notice:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:notice:1"))

	got, ok, err := c.Read(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, got)

	require.NoError(t, c.Invalidate(ctx, 1))
	_, ok, err = c.Read(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1", mr.HGet("test:notice:1", "gone"))
	assert.Equal(t, DefaultTombstoneTTL, mr.TTL("test:notice:1"))
}

func TestRedisCache_FillRespectsEntriesAndTombstones(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb, WithTombstoneTTL(5*time.Second))
	ctx := context.Background()

	require.NoError(t, c.Fill(ctx, domain.Notice{ID: 3, Title: "first", Version: 1}, time.Minute))
	require.NoError(t, c.Fill(ctx, domain.Notice{ID: 3, Title: "second", Version: 1}, time.Minute))
	got, ok, err := c.Read(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Title)

	// leitura iniciada antes do delete chega depois da invalidação.
	require.NoError(t, c.Invalidate(ctx, 3))
	require.NoError(t, c.Fill(ctx, domain.Notice{ID: 3, Title: "deleted", Version: 1}, time.Minute))
	_, ok, err = c.Read(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(6 * time.Second)
	require.NoError(t, c.Fill(ctx, domain.Notice{ID: 3, Title: "fresh", Version: 1}, time.Minute))
	got, ok, err = c.Read(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Title)
}

func TestRedisCache_WriteKeepsNewestVersion(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, domain.Notice{ID: 4, Title: "v3", Version: 3}, time.Minute))
	require.NoError(t, c.Write(ctx, domain.Notice{ID: 4, Title: "v2", Version: 2}, time.Minute))
	got, _, err := c.Read(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "v3", got.Title)
	assert.Equal(t, "3", mr.HGet("noticeboard:notice:4", "version"))

	require.NoError(t, c.Invalidate(ctx, 4))
	require.NoError(t, c.Write(ctx, domain.Notice{ID: 4, Title: "v4", Version: 4}, time.Minute))
	got, ok, err := c.Read(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok, "write replaces a tombstone")
	assert.Equal(t, "v4", got.Title)
	assert.Equal(t, time.Minute, mr.TTL("noticeboard:notice:4"))
}

func TestRedisCache_ExpiresAfterTTL(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, domain.Notice{ID: 9}, time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Read(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb)
	mr.HSet("noticeboard:notice:5", "version", "1", "data", "{not json")

	_, ok, err := c.Read(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_UnavailableIsClassified(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisCache(rdb)
	mr.Close()

	_, _, err := c.Read(context.Background(), 1)
	assert.True(t, errors.Is(err, domain.ErrCacheUnavailable), "got %v", err)
	err = c.Write(context.Background(), domain.Notice{ID: 1}, time.Minute)
	assert.True(t, errors.Is(err, domain.ErrCacheUnavailable), "got %v", err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestRedisViewCounter_IncrDrain(t *testing.T) {
	mr, rdb := newMiniredis(t)
	v := NewRedisViewCounter(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Incr(ctx, 1)
		require.NoError(t, err)
	}
	n, err := v.Incr(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, v.Add(ctx, 2, 4))

	// chave fora do padrão numérico é ignorada.
	require.NoError(t, mr.Set("noticeboard:views:abc", "10"))

	got, err := v.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 3, 2: 5}, got)
	assert.False(t, mr.Exists("noticeboard:views:1"))
	assert.False(t, mr.Exists("noticeboard:views:2"))
	assert.True(t, mr.Exists("noticeboard:views:abc"), "foreign keys are left alone")

	got, err = v.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisViewCounter_PartialDrainKeepsReadCounts(t *testing.T) {
	mr, rdb := newMiniredis(t)
	v := NewRedisViewCounter(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Incr(ctx, 1)
		require.NoError(t, err)
	}
	// GETDEL nesta chave devolve WRONGTYPE.
	mr.HSet("noticeboard:views:7", "x", "1")

	got, err := v.Drain(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCacheUnavailable), "got %v", err)
	assert.Equal(t, map[int64]int64{1: 3}, got, "counts already removed from redis come back with the error")
	assert.False(t, mr.Exists("noticeboard:views:1"))
}

func TestRedisViewCounter_Discard(t *testing.T) {
	mr, rdb := newMiniredis(t)
	v := NewRedisViewCounter(rdb, WithPrefix("nb"))
	ctx := context.Background()

	_, err := v.Incr(ctx, 4)
	require.NoError(t, err)
	assert.True(t, mr.Exists("nb:views:4"))

	require.NoError(t, v.Discard(ctx, 4))
	assert.False(t, mr.Exists("nb:views:4"))
}

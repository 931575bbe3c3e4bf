package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSetGetDel(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 0))
	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisExistsSingleKey(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	ok, err := client.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Set(ctx, "present", []byte("1"), time.Minute))
	ok, err = client.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisIncrAttachesTTLOnFirstIncrement(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	n, err := client.IncrWithTTL(ctx, "hops:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := client.TTL(ctx, "hops:1.2.3.4")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	n, err = client.IncrWithTTL(ctx, "hops:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Window elapses: counter resets implicitly.
	mr.FastForward(2 * time.Minute)
	n, err = client.IncrWithTTL(ctx, "hops:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryClientMirrorsRedisSemantics(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	ok, _ := m.Exists(ctx, "k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	ok, _ = m.Exists(ctx, "k")
	assert.False(t, ok)

	n, err := m.IncrWithTTL(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = m.IncrWithTTL(ctx, "c", time.Minute)
	assert.Equal(t, int64(2), n)

	ttl, err := m.TTL(ctx, "c")
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)

	ttl, _ = m.TTL(ctx, "gone")
	assert.Negative(t, ttl)
}

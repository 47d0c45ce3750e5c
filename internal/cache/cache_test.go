package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(Config{
		Type:       "redis",
		URL:        "redis://" + mr.Addr(),
		DefaultTTL: time.Minute,
		Prefix:     "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func backends(t *testing.T) map[string]Cache {
	redisCache, _ := newMiniRedisCache(t)
	mem := NewMemoryCache(Config{DefaultTTL: time.Minute})
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]Cache{"redis": redisCache, "memory": mem}
}

func TestCache_Basics(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrCacheMiss)

			require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			require.NoError(t, c.Delete(ctx, "k"))
			_, err = c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrCacheMiss)

			assert.NoError(t, c.Health(ctx))
		})
	}
}

func TestCache_SetNX(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := c.SetNX(ctx, "claim", []byte("1"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.SetNX(ctx, "claim", []byte("2"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second claim must lose")

			require.NoError(t, c.Delete(ctx, "claim"))
			ok, err = c.SetNX(ctx, "claim", []byte("3"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "released claim can be taken again")
		})
	}
}

func TestCache_DeleteIfValue(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := c.DeleteIfValue(ctx, "claim", []byte("a"))
			require.NoError(t, err)
			assert.False(t, ok, "missing key")

			_, err = c.SetNX(ctx, "claim", []byte("a"), time.Minute)
			require.NoError(t, err)
			ok, err = c.DeleteIfValue(ctx, "claim", []byte("b"))
			require.NoError(t, err)
			assert.False(t, ok, "held by another value")
			_, err = c.Get(ctx, "claim")
			require.NoError(t, err)

			ok, err = c.DeleteIfValue(ctx, "claim", []byte("a"))
			require.NoError(t, err)
			assert.True(t, ok)
			_, err = c.Get(ctx, "claim")
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedisCache(t)

	ok, err := c.SetNX(ctx, "claim", []byte("1"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:claim"), "keys are prefixed")

	mr.FastForward(2 * time.Second)
	ok, err = c.SetNX(ctx, "claim", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Set(ctx, "forever", []byte("x"), -1))
	assert.Zero(t, mr.TTL("test:forever"))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(Config{DefaultTTL: time.Minute})
	defer c.Close()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), -1))

	clock = clock.Add(time.Hour)
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	got, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)

	c.cleanup()
	c.mu.Lock()
	assert.Len(t, c.items, 1)
	c.mu.Unlock()
}

func TestNew(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
	require.NoError(t, c.Close())

	_, err = New(Config{Type: "memcached"})
	assert.Error(t, err)

	_, err = NewRedisCache(Config{Type: "redis", URL: "invalid://url"})
	assert.ErrorContains(t, err, "invalid redis URL")
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			p := NewCheckpoints(c)

			token, err := p.Load(ctx, "reconcile")
			require.NoError(t, err)
			assert.Nil(t, token)

			require.NoError(t, p.Save(ctx, "reconcile", []byte{0x01, 0x02}))
			token, err = p.Load(ctx, "reconcile")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02}, token)

			require.NoError(t, p.Reset(ctx, "reconcile"))
			token, err = p.Load(ctx, "reconcile")
			require.NoError(t, err)
			assert.Nil(t, token)
		})
	}
}

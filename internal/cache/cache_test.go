package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	mc := NewMemoryCache(&Config{Enabled: true, Prefix: "t:"})
	defer mc.Close()
	ctx := context.Background()

	value := []byte("hello")
	require.NoError(t, mc.Set(ctx, "k", value, 0))
	value[0] = 'j'

	got, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got[0] = 'y'
	again, _ := mc.Get(ctx, "k")
	assert.Equal(t, "hello", string(again))

	require.NoError(t, mc.Delete(ctx, "k"))
	_, err = mc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotFound)
	assert.Zero(t, mc.Len())
}

func TestMemoryCache_TTL(t *testing.T) {
	mc := NewMemoryCache(&Config{Enabled: true})
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	require.NoError(t, mc.Set(ctx, "forever", []byte("y"), 0))

	assert.Eventually(t, func() bool {
		_, err := mc.Get(ctx, "short")
		return errors.Is(err, ErrCacheNotFound)
	}, time.Second, 5*time.Millisecond)

	mc.removeExpiredItems()
	assert.Equal(t, 1, mc.Len())
	got, err := mc.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "y", string(got))
}

func TestMemoryCache_Disabled(t *testing.T) {
	mc := NewMemoryCache(&Config{Enabled: false})
	defer mc.Close()
	ctx := context.Background()

	assert.ErrorIs(t, mc.Set(ctx, "k", nil, 0), ErrCacheDisabled)
	_, err := mc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, mc.Ping(ctx), ErrCacheDisabled)
	assert.NoError(t, mc.Close())
}

type brokenCache struct{ err error }

func (b brokenCache) Get(context.Context, string) ([]byte, error)              { return nil, b.err }
func (b brokenCache) Set(context.Context, string, []byte, time.Duration) error { return b.err }
func (b brokenCache) Delete(context.Context, string) error                     { return b.err }
func (b brokenCache) Ping(context.Context) error                               { return b.err }
func (b brokenCache) Close() error                                             { return nil }

func TestFallbackCache_ServesFromMemoryWhenPrimaryFails(t *testing.T) {
	down := &CacheError{Op: "get", Key: "k", Err: errors.New("connection refused")}
	fc := NewFallbackCache(brokenCache{err: down}, nil, nil)
	defer fc.Close()
	ctx := context.Background()

	err := fc.Set(ctx, "k", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, down)

	got, err := fc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	assert.Error(t, fc.Ping(ctx))
	require.NoError(t, fc.Delete(ctx, "k"))
	_, err = fc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestFallbackCache_PrimaryMissIsAuthoritative(t *testing.T) {
	primary := NewMemoryCache(nil)
	fc := NewFallbackCache(primary, nil, nil)
	defer fc.Close()
	ctx := context.Background()

	require.NoError(t, fc.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, primary.Delete(ctx, "k"))

	_, err := fc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestFallbackCache_NoPrimary(t *testing.T) {
	fc := NewFallbackCache(nil, nil, nil)
	defer fc.Close()
	ctx := context.Background()

	require.NoError(t, fc.Set(ctx, "k", []byte("v"), 0))
	got, err := fc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	assert.NoError(t, fc.Ping(ctx))
}

func TestCacheError(t *testing.T) {
	inner := errors.New("boom")
	err := &CacheError{Op: "set", Key: "a", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "set")
}

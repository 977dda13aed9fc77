package kvstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bionicpro/auth-service/internal/errors"
	"github.com/bionicpro/auth-service/kvstore"
)

func newRedisStore(t *testing.T) (*kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvstore.NewRedisStoreWithClient(client), mr
}

func TestRedisPutGet(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRedisTTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))

	mr.FastForward(59 * time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRedisGetDel(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))

	value, err := store.GetDel(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRedisSetNX(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "lease", []byte("1"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SetNX(ctx, "lease", []byte("1"), time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = store.SetNX(ctx, "lease", []byte("1"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisUnavailableIsNotNotFound(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	mr.Close()

	_, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, errors.ErrStoreUnavailable)
	require.NotErrorIs(t, err, errors.ErrNotFound)

	require.ErrorIs(t, store.Ping(ctx), errors.ErrStoreUnavailable)
}

package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tollgate/internal/store"
	"github.com/DukeRupert/tollgate/internal/store/redisstore"
	"github.com/DukeRupert/tollgate/internal/store/storetest"
)

func newClient(t *testing.T, mr *miniredis.Miniredis, prefix string) *redisstore.Client {
	t.Helper()
	client, err := redisstore.Open(context.Background(), "redis://"+mr.Addr()+"/0", redisstore.Options{
		KeyPrefix: prefix,
	})
	require.NoError(t, err)
	return client
}

func TestClient(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newClient(t, miniredis.RunT(t), "tollgate:")
	})
}

func TestClient_CounterExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisstore.Open(context.Background(), "redis://"+mr.Addr()+"/0", redisstore.Options{
		UsageTTL: time.Hour,
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	_, err = client.IncrementCount(ctx, "user-1", "2026-10-17", 1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("usage:user-1:2026-10-17"))

	mr.FastForward(2 * time.Hour)

	count, err := client.ReadCount(ctx, "user-1", "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestClient_ResetAll_EscapesPattern(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr, "")
	defer client.Close()

	ctx := context.Background()
	_, err := client.IncrementCount(ctx, "user*", "2026-10-17", 1)
	require.NoError(t, err)
	_, err = client.IncrementCount(ctx, "user-2", "2026-10-17", 4)
	require.NoError(t, err)

	require.NoError(t, client.ResetAll(ctx, "user*"))

	count, err := client.ReadCount(ctx, "user-2", "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "a glob in one user ID must not reset others")
}

func TestClient_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr, "")
	defer client.Close()

	mr.Close()

	_, err := client.ReadCount(context.Background(), "user-1", "2026-10-17")
	require.Error(t, err)
	assert.True(t, store.Error.Has(err))
	assert.False(t, store.ErrNotFound.Has(err))
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := redisstore.Open(ctx, "redis://127.0.0.1:1/0", redisstore.Options{})
	require.Error(t, err)
	assert.True(t, store.Error.Has(err))
}

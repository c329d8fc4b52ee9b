package lock_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/lock"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLeaseIsExclusive(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	first := &lock.Lease{R: client, Key: lock.LaneKey("lane-1"), TTL: time.Second}
	second := &lock.Lease{R: client, Key: lock.LaneKey("lane-1"), TTL: time.Second}

	require.NoError(t, first.Acquire(ctx))
	require.ErrorIs(t, second.Acquire(ctx), lock.ErrHeld)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
}

func TestLeaseRefreshDetectsTakeover(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	lease := &lock.Lease{R: client, Key: lock.LaneKey("lane-2"), TTL: time.Second}
	require.NoError(t, lease.Acquire(ctx))
	require.NoError(t, lease.Refresh(ctx))

	mr.FastForward(2 * time.Second)
	require.ErrorIs(t, lease.Refresh(ctx), lock.ErrLost)

	other := &lock.Lease{R: client, Key: lock.LaneKey("lane-2"), TTL: time.Second}
	require.NoError(t, other.Acquire(ctx))
	require.NoError(t, lease.Release(ctx))
	require.True(t, mr.Exists(lock.LaneKey("lane-2")), "release never deletes a lease owned by someone else")
}

func TestKeepReportsLostLease(t *testing.T) {
	mr, client := newClient(t)
	lease := &lock.Lease{R: client, Key: lock.LaneKey("lane-3"), TTL: 90 * time.Millisecond}
	require.NoError(t, lease.Acquire(context.Background()))
	mr.Del(lock.LaneKey("lane-3"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lost := make(chan error, 1)
	go lease.Keep(ctx, func(err error) { lost <- err })

	select {
	case err := <-lost:
		require.ErrorIs(t, err, lock.ErrLost)
	case <-ctx.Done():
		t.Fatal("lost lease was not reported")
	}
}

package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerRunsFn(t *testing.T) {
	called := false
	err := NewLocalLocker().WithLock(context.Background(), "reconcile", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, ClientOptions{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, 10*time.Second)
	name := "test-" + time.Now().Format("150405.000000")

	err = locker.WithLock(ctx, name, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, name, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	// Released on return, so it can be taken again.
	assert.NoError(t, locker.WithLock(ctx, name, func(context.Context) error { return nil }))
}

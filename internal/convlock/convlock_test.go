package convlock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("redis not reachable at %s, skipping: %v", addr, err)
	}
	conn.Close()
	return redis.NewClient(&redis.Options{Addr: addr})
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	locker := NewLocker(client, 30*time.Second)
	conversationID := "conv-exclusivity-1"
	defer client.Del(ctx, keyPrefix+conversationID)

	lock, err := locker.Acquire(ctx, conversationID)
	require.NoError(t, err)
	require.NotNil(t, lock)

	_, err = locker.Acquire(ctx, conversationID)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, locker.Release(ctx, lock))

	lock2, err := locker.Acquire(ctx, conversationID)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, lock2))
}

func TestReleaseOnlyRemovesOwnToken(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	locker := NewLocker(client, 30*time.Second)
	conversationID := "conv-exclusivity-2"
	defer client.Del(ctx, keyPrefix+conversationID)

	lock, err := locker.Acquire(ctx, conversationID)
	require.NoError(t, err)

	// Simulate the lock having expired and been re-acquired by someone else.
	require.NoError(t, client.Del(ctx, keyPrefix+conversationID).Err())
	other, err := locker.Acquire(ctx, conversationID)
	require.NoError(t, err)

	// The stale Lock's Release must not evict the new holder's key.
	require.NoError(t, locker.Release(ctx, lock))
	exists, err := client.Exists(ctx, keyPrefix+conversationID).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), exists)

	require.NoError(t, locker.Release(ctx, other))
}

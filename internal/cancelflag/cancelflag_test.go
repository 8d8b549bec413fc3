package cancelflag

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

func TestSetCheckConsume(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	flags := NewFlags(client, time.Minute)
	mapID := "map-cancel-1"
	defer client.Del(ctx, key(mapID))

	pending, err := flags.Check(ctx, mapID)
	require.NoError(t, err)
	require.False(t, pending)

	require.NoError(t, flags.Set(ctx, mapID))

	pending, err = flags.Check(ctx, mapID)
	require.NoError(t, err)
	require.True(t, pending)

	// Check must not clear the flag.
	pending, err = flags.Check(ctx, mapID)
	require.NoError(t, err)
	require.True(t, pending)

	wasSet, err := flags.Consume(ctx, mapID)
	require.NoError(t, err)
	require.True(t, wasSet)

	wasSet, err = flags.Consume(ctx, mapID)
	require.NoError(t, err)
	require.False(t, wasSet)
}

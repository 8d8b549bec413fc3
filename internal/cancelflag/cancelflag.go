// Package cancelflag implements the per-map cancellation signal a client
// sets to interrupt an in-flight agentic loop, per spec.md §4.9 / §6's
// "messages:{map_id}:cancelled" Redis key.
package cancelflag

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func key(mapID string) string {
	return fmt.Sprintf("messages:%s:cancelled", mapID)
}

// Flags sets, checks, and consumes cancellation requests against Redis.
type Flags struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFlags constructs a Flags store with the given flag TTL
// (internal/config's CancelFlagTTL, defaulting to spec.md's 5 minutes).
func NewFlags(client *redis.Client, ttl time.Duration) *Flags {
	return &Flags{client: client, ttl: ttl}
}

// Set records a cancellation request for mapID.
func (f *Flags) Set(ctx context.Context, mapID string) error {
	if err := f.client.Set(ctx, key(mapID), "1", f.ttl).Err(); err != nil {
		return fmt.Errorf("cancelflag: setting flag for map %s: %w", mapID, err)
	}
	return nil
}

// Check reports whether a cancellation is currently pending for mapID,
// without clearing it. The agentic loop itself uses Consume, once per
// iteration.
func (f *Flags) Check(ctx context.Context, mapID string) (bool, error) {
	exists, err := f.client.Exists(ctx, key(mapID)).Result()
	if err != nil {
		return false, fmt.Errorf("cancelflag: checking flag for map %s: %w", mapID, err)
	}
	return exists > 0, nil
}

// Consume reports whether a cancellation was pending for mapID and, if so,
// clears it so a subsequent conversation on the same map starts clean.
func (f *Flags) Consume(ctx context.Context, mapID string) (bool, error) {
	n, err := f.client.Del(ctx, key(mapID)).Result()
	if err != nil {
		return false, fmt.Errorf("cancelflag: consuming flag for map %s: %w", mapID, err)
	}
	return n > 0, nil
}

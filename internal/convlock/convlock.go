// Package convlock implements the conversation exclusivity lock: at most
// one agentic loop may run against a given conversation at a time, per
// spec.md §4.9 and §9's "at-most-once lock" design note. The teacher keeps
// its chat lock in an in-process map; this package uses a Redis
// SET NX PX lock with a token-checked release via redis/go-redis/v9, since
// the lock has to hold across processes (Redis here backs only the lock
// and the cancel flag).
package convlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyLocked is returned by Acquire when another loop already holds
// the conversation's lock.
var ErrAlreadyLocked = errors.New("convlock: conversation is already locked")

const keyPrefix = "conversation_lock:"

// Locker acquires and releases per-conversation exclusivity locks in Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker with the given lock TTL (spec.md's
// MUNDI_CONVERSATION_LOCK_TTL-equivalent, internal/config's
// ConversationLockTTL).
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Lock is a held conversation lock; release it with Release once the
// agentic loop has finished (successfully or not).
type Lock struct {
	conversationID string
	token          string
}

// Acquire attempts to take the lock for conversationID. Returns
// ErrAlreadyLocked if another holder currently owns it.
func (l *Locker) Acquire(ctx context.Context, conversationID string) (*Lock, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, keyPrefix+conversationID, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("convlock: acquiring lock for %s: %w", conversationID, err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return &Lock{conversationID: conversationID, token: token}, nil
}

// releaseScript deletes the key only if it still holds our token, so a
// lock that expired and was re-acquired by someone else is never deleted
// out from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Release deletes the lock, but only if it's still held by this Lock's
// token (guards against releasing a lock some other holder acquired after
// ours expired under load).
func (l *Locker) Release(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + lock.conversationID}, lock.token).Result()
	if err != nil {
		return fmt.Errorf("convlock: releasing lock for %s: %w", lock.conversationID, err)
	}
	return nil
}

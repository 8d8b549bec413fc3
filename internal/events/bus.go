package events

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mundiai/agent-runtime/internal/metrics"
	"github.com/mundiai/agent-runtime/internal/models"
)

// MessageResolver re-reads a message row by id, the operation a WS
// connection needs to turn a ReferencePayload into a sanitized view.
// Satisfied by *store.Store.
type MessageResolver interface {
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
}

// Bus fans out NOTIFY payloads to live WebSocket subscribers of a
// conversation and buffers recent payloads per (user, conversation) for
// brief reconnects, per spec.md §4.3. Grounded on the teacher's
// pkg/events.ConnectionManager fan-out/locking discipline, with the
// miss-buffer added (the teacher relies on unbounded DB catchup instead).
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[string]*Subscriber // conversation_id -> conn_id -> subscriber
	missBuffers map[missKey]*missEntry
	missTTL     time.Duration
	missCap     int
	resolver    MessageResolver
}

// SetResolver wires the store lookup used to resolve reference payloads.
// Must be called before the first connection is handled; reference
// payloads are dropped (not sent to the client) if no resolver has been
// set.
func (b *Bus) SetResolver(r MessageResolver) {
	b.resolver = r
}

// missKey identifies a (user, conversation) pair for the miss-buffer. Keying
// on user (not just conversation) prevents cross-user leakage of replay data
// per spec.md §4.3's "No cross-user leakage" guarantee.
type missKey struct {
	userID         string
	conversationID string
}

type missEntry struct {
	disconnectedAt time.Time
	items          *list.List // of missItem
}

type missItem struct {
	ts      time.Time
	payload []byte
}

// Subscriber receives raw payload bytes for one live WebSocket connection.
type Subscriber struct {
	ID     string
	Send   chan []byte
}

// NewBus constructs a Bus with the given miss-buffer TTL and capacity.
func NewBus(missTTL time.Duration, missCap int) *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]*Subscriber),
		missBuffers: make(map[missKey]*missEntry),
		missTTL:     missTTL,
		missCap:     missCap,
	}
}

// Subscribe registers a live subscriber for conversationID and returns it.
// Call Unsubscribe when the connection closes.
func (b *Bus) Subscribe(conversationID, connID string) *Subscriber {
	sub := &Subscriber{ID: connID, Send: make(chan []byte, 64)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[conversationID] == nil {
		b.subscribers[conversationID] = make(map[string]*Subscriber)
	}
	b.subscribers[conversationID][connID] = sub
	metrics.BusSubscribers.Inc()
	return sub
}

// Unsubscribe removes a subscriber and, if userID/conversationID are
// non-empty, opens a miss-buffer entry to capture payloads broadcast during
// the gap before a possible quick reconnect.
func (b *Bus) Unsubscribe(conversationID, connID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[conversationID]; ok {
		if _, existed := subs[connID]; existed {
			metrics.BusSubscribers.Dec()
		}
		delete(subs, connID)
		if len(subs) == 0 {
			delete(b.subscribers, conversationID)
		}
	}
	if userID == "" {
		return
	}
	key := missKey{userID: userID, conversationID: conversationID}
	if _, exists := b.missBuffers[key]; !exists {
		b.missBuffers[key] = &missEntry{disconnectedAt: time.Now(), items: list.New()}
	}
}

// dispatch is called by NotifyListener for every raw NOTIFY payload. It
// extracts the conversation_id, fans the payload out to live subscribers of
// that conversation, and appends it to any open miss-buffer matching that
// conversation (regardless of user — the buffer itself is scoped per-user
// by its key, but a conversation-wide broadcast targets every open buffer
// for that conversation, since any of that conversation's recently
// disconnected users may reconnect).
func (b *Bus) dispatch(payload []byte) {
	var env routingEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("notification bus: payload missing conversation_id", "error", err)
		return
	}
	if env.ConversationID == "" {
		return
	}

	b.mu.Lock()
	var targets []*Subscriber
	if subs, ok := b.subscribers[env.ConversationID]; ok {
		targets = make([]*Subscriber, 0, len(subs))
		for _, s := range subs {
			targets = append(targets, s)
		}
	}
	for key, entry := range b.missBuffers {
		if key.conversationID != env.ConversationID {
			continue
		}
		entry.items.PushBack(missItem{ts: time.Now(), payload: payload})
		for entry.items.Len() > b.missCap {
			entry.items.Remove(entry.items.Front())
		}
	}
	metrics.BusMissBufferSize.Set(float64(b.totalBufferedLocked()))
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.Send <- payload:
		default:
			slog.Warn("notification bus: subscriber send buffer full, dropping", "conn_id", sub.ID)
		}
	}
}

// Drain returns, in order, every buffered payload for (userID,
// conversationID) still within TTL, and discards the entry. Returns nil if
// no entry exists or it has expired.
func (b *Bus) Drain(userID, conversationID string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := missKey{userID: userID, conversationID: conversationID}
	entry, ok := b.missBuffers[key]
	if !ok {
		return nil
	}
	delete(b.missBuffers, key)
	metrics.BusMissBufferSize.Set(float64(b.totalBufferedLocked()))

	if time.Since(entry.disconnectedAt) > b.missTTL {
		return nil
	}

	out := make([][]byte, 0, entry.items.Len())
	for e := entry.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(missItem).payload)
	}
	return out
}

// EvictExpired removes miss-buffer entries older than the TTL. Intended to
// run periodically from a background goroutine.
func (b *Bus) EvictExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for key, entry := range b.missBuffers {
		if now.Sub(entry.disconnectedAt) > b.missTTL {
			delete(b.missBuffers, key)
		}
	}
	metrics.BusMissBufferSize.Set(float64(b.totalBufferedLocked()))
}

// totalBufferedLocked sums buffered item counts across every miss-buffer
// entry; callers must hold b.mu.
func (b *Bus) totalBufferedLocked() int {
	total := 0
	for _, entry := range b.missBuffers {
		total += entry.items.Len()
	}
	return total
}

// RunEvictionLoop periodically calls EvictExpired until ctx is cancelled.
func (b *Bus) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.EvictExpired()
		}
	}
}

// Package ephemeral implements the Ephemeral Action Scope: a bracketed
// "active"→"completed" broadcast pair around a tool invocation, with the
// completed broadcast guaranteed even on error. Grounded on the try/finally
// discipline spec.md §4.4 and §7 call out, and on the event-pairing shape of
// the teacher's publishExecutionProgress calls in
// pkg/agent/controller/iterating.go.
package ephemeral

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mundiai/agent-runtime/internal/events"
)

// yieldDelay is the brief pause after the "active" broadcast that prevents
// a tight producer loop from starving the event loop, per spec.md §4.4 step 1.
const yieldDelay = 10 * time.Millisecond

// Scope brackets one tool invocation. Use as:
//
//	scope, err := ephemeral.Begin(ctx, pub, conversationID, "Querying PostgreSQL database...")
//	if err != nil { ... }
//	defer scope.Close(context.Background(), false)
//	... run the tool body; the deferred Close publishes "completed" on every return ...
type Scope struct {
	pub            *events.Publisher
	conversationID string
	actionID       string
	layerID        *string
	action         string
	bounds         *[4]float64
	closed         bool
}

// Option configures optional ephemeral-payload fields.
type Option func(*Scope)

// WithLayerID attaches a layer id to both the active and completed payloads.
func WithLayerID(layerID string) Option {
	return func(s *Scope) { s.layerID = &layerID }
}

// WithBounds attaches a WGS84 bounding box (used by zoom_to_bounds).
func WithBounds(bounds [4]float64) Option {
	return func(s *Scope) { s.bounds = &bounds }
}

// Begin publishes the "active" payload and returns a Scope whose Close
// publishes the paired "completed" payload. The caller MUST defer
// scope.Close on every exit path, including error returns, to satisfy the
// "exactly one status=completed payload per action_id" invariant
// (spec.md §8).
func Begin(ctx context.Context, pub *events.Publisher, conversationID, action string, opts ...Option) (*Scope, error) {
	s := &Scope{
		pub:            pub,
		conversationID: conversationID,
		actionID:       uuid.New().String(),
		action:         action,
	}
	for _, opt := range opts {
		opt(s)
	}

	payload := events.EphemeralPayload{
		Ephemeral:      true,
		ConversationID: s.conversationID,
		ActionID:       s.actionID,
		LayerID:        s.layerID,
		Action:         s.action,
		Timestamp:      time.Now(),
		CompletedAt:    nil,
		Status:         events.EphemeralActive,
		Bounds:         s.bounds,
		Updates:        events.EphemeralUpdates{},
	}
	if err := pub.PublishEphemeral(ctx, payload); err != nil {
		return nil, err
	}

	time.Sleep(yieldDelay)
	return s, nil
}

// Close publishes the "completed" payload. Safe to call more than once;
// only the first call publishes. updatesStyleJSON should be true when the
// tool body mutated a layer's style (informs the frontend to refetch
// style.json).
func (s *Scope) Close(ctx context.Context, updatesStyleJSON bool) {
	if s == nil || s.closed {
		return
	}
	s.closed = true

	now := time.Now()
	payload := events.EphemeralPayload{
		Ephemeral:      true,
		ConversationID: s.conversationID,
		ActionID:       s.actionID,
		LayerID:        s.layerID,
		Action:         s.action,
		Timestamp:      now,
		CompletedAt:    &now,
		Status:         events.EphemeralCompleted,
		Bounds:         s.bounds,
		Updates:        events.EphemeralUpdates{StyleJSON: updatesStyleJSON},
	}
	if err := s.pub.PublishEphemeral(ctx, payload); err != nil {
		slog.Error("ephemeral: failed to publish completed payload", "action_id", s.actionID, "error", err)
	}
}

// ActionID returns the action id this scope was opened with.
func (s *Scope) ActionID() string { return s.actionID }

// PublishError fires a fire-and-forget ephemeral error notification. It is
// not a Scope: no completed pairing is expected for it, per spec.md §4.4.
func PublishError(ctx context.Context, pub *events.Publisher, conversationID, errorMessage string) error {
	payload := events.EphemeralPayload{
		Ephemeral:      true,
		ConversationID: conversationID,
		ActionID:       uuid.New().String(),
		Action:         "error",
		Timestamp:      time.Now(),
		Status:         events.EphemeralError,
		ErrorMessage:   errorMessage,
	}
	return pub.PublishEphemeral(ctx, payload)
}

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mundiai/agent-runtime/internal/models"
)

const writeTimeout = 5 * time.Second

// HandleConnection manages one WebSocket client for the lifetime of the
// socket: drains any buffered replay for (userID, conversationID), then
// relays live broadcasts until the socket closes or the client disconnects.
// Grounded on the teacher's ConnectionManager.HandleConnection /
// sendRaw, adapted from a multi-channel subscribe protocol to this
// runtime's one-socket-per-conversation WS endpoint
// (spec.md §6: "WS /api/maps/ws/{conversation_id}/messages/updates").
func (b *Bus) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID, conversationID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sub := b.Subscribe(conversationID, connID)
	defer b.Unsubscribe(conversationID, connID, userID)

	// Replay first so the client sees replay-then-live monotonically in time.
	for _, payload := range b.Drain(userID, conversationID) {
		out, send := b.resolveForSend(ctx, payload)
		if !send {
			continue
		}
		if err := writeRaw(ctx, conn, out); err != nil {
			return
		}
	}

	// Reader goroutine: the client sends nothing meaningful over this
	// socket (it's a one-way event stream), but we must keep reading to
	// notice close/ping frames and to unblock promptly on disconnect.
	readErrCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErrCh <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				slog.Debug("events: ws read loop ended", "conn_id", connID, "error", err)
			}
			return
		case payload, ok := <-sub.Send:
			if !ok {
				return
			}
			out, send := b.resolveForSend(ctx, payload)
			if !send {
				continue
			}
			if err := writeRaw(ctx, conn, out); err != nil {
				slog.Warn("events: ws write failed", "conn_id", connID, "error", err)
				return
			}
		}
	}
}

// wireEnvelope distinguishes a reference payload (re-read and sanitize)
// from an ephemeral payload (already safe to forward verbatim).
type wireEnvelope struct {
	Ephemeral bool  `json:"ephemeral"`
	ID        int64 `json:"id"`
}

// sanitizedMessage is the view of a message row sent to WS subscribers:
// the full Message shape minus anything that shouldn't cross the wire.
type sanitizedMessage struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

// resolveForSend turns a raw NOTIFY payload into what should actually reach
// the client. Ephemeral payloads pass through unchanged. Reference payloads
// are re-read via the resolver and re-emitted as a sanitized message view,
// with system-role messages (internal map-state context) filtered out
// entirely, per spec.md §6's "system messages are never exposed over WS".
func (b *Bus) resolveForSend(ctx context.Context, payload []byte) ([]byte, bool) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("events: ws payload not valid JSON, dropping", "error", err)
		return nil, false
	}
	if env.Ephemeral {
		return payload, true
	}

	if b.resolver == nil {
		slog.Warn("events: no message resolver wired, dropping reference payload", "id", env.ID)
		return nil, false
	}
	msg, err := b.resolver.GetMessage(ctx, env.ID)
	if err != nil {
		slog.Warn("events: resolving reference payload", "id", env.ID, "error", err)
		return nil, false
	}
	if msg.Role == models.RoleSystem {
		return nil, false
	}

	out, err := json.Marshal(sanitizedMessage{Type: "message", Message: msg})
	if err != nil {
		slog.Warn("events: marshaling sanitized message", "id", env.ID, "error", err)
		return nil, false
	}
	return out, true
}

func writeRaw(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

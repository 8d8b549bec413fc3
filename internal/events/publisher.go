package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher issues pg_notify calls for in-process ephemeral events. Unlike
// reference notifications (fired automatically by the messages-table
// trigger — see internal/store/migrations), ephemeral payloads are
// transient: never persisted, broadcast-only, grounded on the teacher's
// EventPublisher.notifyOnly in pkg/events/publisher.go.
type Publisher struct {
	pool *pgxpool.Pool
}

// NewPublisher constructs a Publisher against the application database pool.
func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// PublishEphemeral marshals and NOTIFYs an ephemeral payload on Channel.
func (p *Publisher) PublishEphemeral(ctx context.Context, payload EphemeralPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal ephemeral payload: %w", err)
	}
	return p.notify(ctx, data)
}

func (p *Publisher) notify(ctx context.Context, payloadJSON []byte) error {
	truncated, err := truncateIfNeeded(payloadJSON)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, truncated)
	if err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}
	return nil
}

// truncateIfNeeded returns payloadJSON as-is if it fits PostgreSQL's
// 8000-byte NOTIFY limit (with headroom), otherwise a minimal routing-only
// envelope — mirrors the teacher's truncateIfNeeded/buildTruncatedPayload.
func truncateIfNeeded(payloadJSON []byte) (string, error) {
	if len(payloadJSON) <= 7900 {
		return string(payloadJSON), nil
	}

	var routing struct {
		ConversationID string `json:"conversation_id"`
		ActionID       string `json:"action_id"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(payloadJSON, &routing); err != nil {
		return "", fmt.Errorf("events: extracting routing fields for truncation: %w", err)
	}
	truncated := map[string]any{
		"ephemeral":       true,
		"conversation_id": routing.ConversationID,
		"action_id":       routing.ActionID,
		"status":          routing.Status,
		"truncated":       true,
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("events: marshal truncated payload: %w", err)
	}
	return string(out), nil
}

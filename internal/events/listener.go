package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Channel is the single fixed NOTIFY channel this system listens on, per
// spec.md §4.3. Unlike the teacher's NotifyListener (which LISTENs/UNLISTENs
// many dynamic channels for many incident sessions), this runtime has
// exactly one channel for its entire lifetime; routing to a conversation's
// subscribers happens in Bus, keyed on a field inside the payload rather
// than on the PG channel name.
const Channel = "chat_completion_messages_notify"

// NotifyListener holds the single dedicated connection that LISTENs on
// Channel and forwards every payload to a Bus. Grounded closely on the
// teacher's pkg/events/listener.go receive-loop/reconnect discipline,
// simplified for a single always-on channel.
type NotifyListener struct {
	connString string

	connMu sync.Mutex
	conn   *pgx.Conn

	bus *Bus

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener constructs a listener that will forward notifications to bus.
func NewNotifyListener(connString string, bus *Bus) *NotifyListener {
	return &NotifyListener{connString: connString, bus: bus}
}

// Start opens the dedicated connection, issues LISTEN, and begins the
// receive loop. It is the sole goroutine that ever touches the connection.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("events: connecting for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("events: LISTEN %s: %w", Channel, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("notification bus listener started", "channel", Channel)
	return nil
}

func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("notification bus receive error", "error", err)
			l.connMu.Lock()
			l.conn = nil
			l.connMu.Unlock()
			l.reconnect(ctx)
			continue
		}

		l.bus.dispatch([]byte(notification.Payload))
	}
}

func (l *NotifyListener) reconnect(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("notification bus reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
			slog.Error("notification bus re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		slog.Info("notification bus listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, and closes the
// connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mundiai/agent-runtime/internal/models"
)

type fakeResolver struct {
	messages map[int64]*models.Message
}

func (f *fakeResolver) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return f.messages[id], nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	return out
}

func TestDispatchFansOutToSubscribersOfTheSameConversation(t *testing.T) {
	b := NewBus(time.Minute, 100)
	subA := b.Subscribe("conv-1", "conn-a")
	subOther := b.Subscribe("conv-2", "conn-other")

	payload := mustJSON(t, EphemeralPayload{Ephemeral: true, ConversationID: "conv-1", Action: "Doing a thing..."})
	b.dispatch(payload)

	select {
	case got := <-subA.Send:
		if string(got) != string(payload) {
			t.Fatalf("got %s, want %s", got, payload)
		}
	default:
		t.Fatal("expected a payload on the conv-1 subscriber's channel")
	}

	select {
	case <-subOther.Send:
		t.Fatal("conv-2 subscriber should not receive conv-1's broadcast")
	default:
	}
}

func TestUnsubscribeThenDrainReplaysBufferedPayloads(t *testing.T) {
	b := NewBus(time.Minute, 100)
	b.Subscribe("conv-1", "conn-a")
	b.Unsubscribe("conv-1", "conn-a", "user-1")

	payload := mustJSON(t, EphemeralPayload{Ephemeral: true, ConversationID: "conv-1", Action: "Doing a thing..."})
	b.dispatch(payload)

	replay := b.Drain("user-1", "conv-1")
	if len(replay) != 1 {
		t.Fatalf("got %d buffered payloads, want 1", len(replay))
	}

	if again := b.Drain("user-1", "conv-1"); again != nil {
		t.Fatalf("expected Drain to discard the entry after the first read, got %v", again)
	}
}

func TestDrainReturnsNilPastTTL(t *testing.T) {
	b := NewBus(0, 100)
	b.Subscribe("conv-1", "conn-a")
	b.Unsubscribe("conv-1", "conn-a", "user-1")

	time.Sleep(time.Millisecond)
	payload := mustJSON(t, EphemeralPayload{Ephemeral: true, ConversationID: "conv-1"})
	b.dispatch(payload)

	if replay := b.Drain("user-1", "conv-1"); replay != nil {
		t.Fatalf("expected no replay once the miss TTL has elapsed, got %v", replay)
	}
}

func TestResolveForSendPassesThroughEphemeralPayloadsUnchanged(t *testing.T) {
	b := NewBus(time.Minute, 100)
	payload := mustJSON(t, EphemeralPayload{Ephemeral: true, ConversationID: "conv-1", Action: "Zooming..."})

	out, send := b.resolveForSend(context.Background(), payload)
	if !send {
		t.Fatal("expected an ephemeral payload to be sent")
	}
	if string(out) != string(payload) {
		t.Fatalf("got %s, want %s unchanged", out, payload)
	}
}

func TestResolveForSendResolvesAndSanitizesReferencePayloads(t *testing.T) {
	b := NewBus(time.Minute, 100)
	b.SetResolver(&fakeResolver{messages: map[int64]*models.Message{
		42: {ID: 42, ConversationID: "conv-1", Role: models.RoleAssistant, Content: "hello"},
	}})

	payload := mustJSON(t, ReferencePayload{ID: 42, ConversationID: "conv-1"})
	out, send := b.resolveForSend(context.Background(), payload)
	if !send {
		t.Fatal("expected a resolvable reference payload to be sent")
	}

	var got sanitizedMessage
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshaling sanitized message: %v", err)
	}
	if got.Type != "message" || got.Message == nil || got.Message.ID != 42 {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveForSendDropsSystemRoleMessages(t *testing.T) {
	b := NewBus(time.Minute, 100)
	b.SetResolver(&fakeResolver{messages: map[int64]*models.Message{
		7: {ID: 7, ConversationID: "conv-1", Role: models.RoleSystem, Content: "<MapState>...</MapState>"},
	}})

	payload := mustJSON(t, ReferencePayload{ID: 7, ConversationID: "conv-1"})
	if _, send := b.resolveForSend(context.Background(), payload); send {
		t.Fatal("expected system-role messages to never be sent over WS")
	}
}

func TestResolveForSendDropsReferencePayloadsWithNoResolver(t *testing.T) {
	b := NewBus(time.Minute, 100)
	payload := mustJSON(t, ReferencePayload{ID: 1, ConversationID: "conv-1"})
	if _, send := b.resolveForSend(context.Background(), payload); send {
		t.Fatal("expected a reference payload to be dropped when no resolver is wired")
	}
}

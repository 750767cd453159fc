package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/internal/syncer"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

func newBridgeHarness(t *testing.T, window time.Duration) (*bridge, *hub.Hub, *syncer.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, time.Minute, nil, zap.NewNop(), metrics.New())
	sessions := syncer.NewRegistry(zap.NewNop())
	return newBridge(ctx, sessions, h, window, zap.NewNop()), h, sessions
}

func recvFrame(t *testing.T, ch <-chan types.Envelope, within time.Duration) types.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return env
	case <-time.After(within):
		t.Fatalf("timed out waiting for envelope")
		return types.Envelope{} // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan types.Envelope, within time.Duration) {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no envelope within %v, but got: %+v", within, env)
	case <-time.After(within):
	}
}

func TestBridge_StateBurstCollapsesToOneBroadcast(t *testing.T) {
	br, h, _ := newBridgeHarness(t, 50*time.Millisecond)

	out := make(chan types.Envelope, 8)
	h.Send(hub.Register{ClientID: "c1", Outbox: out})
	h.Send(hub.Subscribe{ClientID: "c1", SessionID: "s1", Kind: hub.TopicState})

	base := time.Now().UnixMilli()
	for q := 1; q <= 3; q++ {
		br.HandleState("s1", types.GameSnapshot{
			SessionID: "s1",
			Quarter:   q,
			UpdatedAt: base + int64(q),
		})
	}

	env := recvFrame(t, out, time.Second)
	if env.Type != types.MsgGameStateUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameStateUpdate, env.Type)
	}
	var payload types.StateUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.GameState.Quarter != 3 {
		t.Fatalf("burst must collapse to the latest snapshot, got quarter %d", payload.GameState.Quarter)
	}

	// nothing else was scheduled; the burst was one fan-out
	recvNoFrame(t, out, 150*time.Millisecond)
}

func TestBridge_EventReachesCoordinatorAndSubscribers(t *testing.T) {
	br, h, sessions := newBridgeHarness(t, 50*time.Millisecond)

	out := make(chan types.Envelope, 8)
	h.Send(hub.Register{ClientID: "c1", Outbox: out})
	h.Send(hub.Subscribe{ClientID: "c1", SessionID: "s1", Kind: hub.TopicEvents})

	br.HandleEvent("s1", event.GameEvent{
		ID: "e1", SessionID: "s1", AuthorID: "u1", Type: event.TypeFoul,
		Sequence: 1, ServerTimestamp: time.Now().UnixMilli(),
		Payload:  &event.FoulPayload{TeamID: "home", PlayerID: "p1", FoulType: "personal"},
	})

	env := recvFrame(t, out, time.Second)
	if env.Type != types.MsgGameEventsUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameEventsUpdate, env.Type)
	}

	c, ok := sessions.Lookup("s1")
	if !ok {
		t.Fatalf("feed record must create the session's coordinator")
	}
	if !c.Sequence().Contains("e1") {
		t.Fatalf("event must land in the session log")
	}
}

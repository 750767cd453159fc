package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

func fixtureEvent(id string) event.GameEvent {
	return event.GameEvent{
		ID: id, SessionID: "s1", AuthorID: "u1", Type: event.TypeFoul,
		Payload: &event.FoulPayload{TeamID: "home", PlayerID: "p1", FoulType: "personal"},
	}
}

// helper: receive one envelope with a timeout so tests never hang
func recvEnvelope(t *testing.T, ch <-chan types.Envelope, within time.Duration) types.Envelope {
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

func recvNoEnvelope(t *testing.T, ch <-chan types.Envelope, within time.Duration) {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			return // closed is fine; nothing more can arrive
		}
		t.Fatalf("expected no envelope within %v, but got: %+v", within, env)
	case <-time.After(within):
	}
}

func waitClosed(t *testing.T, ch <-chan types.Envelope, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox not closed within %v", within)
		}
	}
}

func getStats(t *testing.T, h *Hub) Stats {
	t.Helper()
	reply := make(chan Stats, 1)
	h.Inbox() <- GetStats{Reply: reply}
	select {
	case s := <-reply:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for stats")
		return Stats{} // unreachable
	}
}

func newTestHub(t *testing.T, interval time.Duration, snapshot SnapshotFunc) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, interval, snapshot, zap.NewNop(), metrics.New())
}

func TestHub_BroadcastFiltersByTopic(t *testing.T) {
	h := newTestHub(t, time.Minute, nil)

	stateSub := make(chan types.Envelope, 4)
	eventSub := make(chan types.Envelope, 4)
	otherSub := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: stateSub}
	h.Inbox() <- Register{ClientID: "c2", Outbox: eventSub}
	h.Inbox() <- Register{ClientID: "c3", Outbox: otherSub}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}
	h.Inbox() <- Subscribe{ClientID: "c2", SessionID: "s1", Kind: TopicEvents}
	h.Inbox() <- Subscribe{ClientID: "c3", SessionID: "s2", Kind: TopicState}

	h.PublishState("s1", types.GameSnapshot{SessionID: "s1", Quarter: 2})

	env := recvEnvelope(t, stateSub, time.Second)
	if env.Type != types.MsgGameStateUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameStateUpdate, env.Type)
	}
	var payload types.StateUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SessionID != "s1" || payload.GameState.Quarter != 2 {
		t.Fatalf("payload wrong: %+v", payload)
	}

	// event-only and other-session subscribers see nothing
	recvNoEnvelope(t, eventSub, 50*time.Millisecond)
	recvNoEnvelope(t, otherSub, 50*time.Millisecond)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub(t, time.Minute, nil)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicEvents}

	h.PublishEvent("s1", fixtureEvent("e1"))
	env := recvEnvelope(t, out, time.Second)
	if env.Type != types.MsgGameEventsUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameEventsUpdate, env.Type)
	}

	h.Inbox() <- Unsubscribe{ClientID: "c1", SessionID: "s1", Kind: TopicEvents}
	h.PublishEvent("s1", fixtureEvent("e2"))
	recvNoEnvelope(t, out, 50*time.Millisecond)
}

func TestHub_NewStateSubscriberGetsFullSnapshot(t *testing.T) {
	snapshot := func(_ context.Context, sessionID string) (types.GameSnapshot, error) {
		return types.GameSnapshot{SessionID: sessionID, Quarter: 3}, nil
	}
	h := newTestHub(t, time.Minute, snapshot)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}

	// no publish happened; the subscription itself primes full state
	env := recvEnvelope(t, out, time.Second)
	if env.Type != types.MsgGameStateUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameStateUpdate, env.Type)
	}
	var payload types.StateUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.GameState.Quarter != 3 {
		t.Fatalf("want primed snapshot, got %+v", payload.GameState)
	}
}

func TestHub_SubscriberGoneBeforePrimeCompletes(t *testing.T) {
	release := make(chan struct{})
	snapshot := func(_ context.Context, sessionID string) (types.GameSnapshot, error) {
		<-release
		return types.GameSnapshot{SessionID: sessionID, Quarter: 2}, nil
	}
	h := newTestHub(t, time.Minute, snapshot)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}
	h.Inbox() <- Unregister{ClientID: "c1"}
	waitClosed(t, out, time.Second)

	// the fetch finishes with the subscriber already gone
	close(release)

	// the hub must still be alive and able to prime fresh subscribers
	out2 := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c2", Outbox: out2}
	h.Inbox() <- Subscribe{ClientID: "c2", SessionID: "s1", Kind: TopicState}
	env := recvEnvelope(t, out2, time.Second)
	if env.Type != types.MsgGameStateUpdate {
		t.Fatalf("want %s, got %s", types.MsgGameStateUpdate, env.Type)
	}
}

func TestHub_SendAfterShutdownDoesNotBlock(t *testing.T) {
	h := newTestHub(t, time.Minute, nil)
	h.Inbox() <- Shutdown{}

	// well past the inbox capacity: if the guarded send regressed, this
	// would wedge once the buffer fills
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1024; i++ {
			h.Send(Register{ClientID: "late", Outbox: make(chan types.Envelope, 1)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sends blocked after shutdown")
	}
}

func TestHub_HeartbeatKeepsClientAlive(t *testing.T) {
	interval := 40 * time.Millisecond
	h := newTestHub(t, interval, nil)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}

	// heartbeat faster than the sweep for a few rounds
	for i := 0; i < 6; i++ {
		h.Inbox() <- Heartbeat{ClientID: "c1"}
		time.Sleep(interval / 2)
	}

	if stats := getStats(t, h); stats.NumConnections != 1 {
		t.Fatalf("heartbeating client must survive, NumConnections=%d", stats.NumConnections)
	}
}

func TestHub_SilentClientEvictedAfterTwoIntervals(t *testing.T) {
	interval := 30 * time.Millisecond
	h := newTestHub(t, interval, nil)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}

	// never heartbeat; the sweep closes the outbox once 2x interval passes
	waitClosed(t, out, time.Second)

	if stats := getStats(t, h); stats.NumConnections != 0 {
		t.Fatalf("silent client must be evicted, NumConnections=%d", stats.NumConnections)
	}

	// the same client id can register and subscribe again
	out2 := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out2}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}
	h.PublishState("s1", types.GameSnapshot{SessionID: "s1", Quarter: 4})

	env := recvEnvelope(t, out2, time.Second)
	if env.Type != types.MsgGameStateUpdate {
		t.Fatalf("resubscribed client must receive updates, got %s", env.Type)
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := newTestHub(t, time.Minute, nil)

	// outbox with no capacity: the first publish already overflows
	out := make(chan types.Envelope)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}

	h.PublishState("s1", types.GameSnapshot{SessionID: "s1"})

	if stats := getStats(t, h); stats.NumConnections != 0 {
		t.Fatalf("slow client must be dropped, NumConnections=%d", stats.NumConnections)
	}
}

func TestHub_StatsCountsSubscriptions(t *testing.T) {
	h := newTestHub(t, time.Minute, nil)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicState}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s1", Kind: TopicEvents}
	h.Inbox() <- Subscribe{ClientID: "c1", SessionID: "s2", Kind: TopicState}

	stats := getStats(t, h)
	if stats.NumConnections != 1 {
		t.Fatalf("NumConnections=%d", stats.NumConnections)
	}
	if stats.Subscriptions["c1"] != 3 {
		t.Fatalf("want 3 topics, got %d", stats.Subscriptions["c1"])
	}
}

// Package hub is the broadcast fan-out point. A single goroutine owns
// the connection registry; everything talks to it through typed
// messages on the inbox, so no lock guards the subscription maps.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

// TopicKind separates the two subscription streams per session.
type TopicKind string

const (
	TopicState  TopicKind = "state"
	TopicEvents TopicKind = "events"
)

type topic struct {
	sessionID string
	kind      TopicKind
}

// SnapshotFunc fetches the current snapshot for a session so a fresh
// state subscriber starts from complete state, not a diff.
type SnapshotFunc func(ctx context.Context, sessionID string) (types.GameSnapshot, error)

type Msg interface{ isHubMsg() }

type Register struct {
	ClientID string
	Outbox   chan types.Envelope
}

type Unregister struct{ ClientID string }

type Subscribe struct {
	ClientID  string
	SessionID string
	Kind      TopicKind
}

type Unsubscribe struct {
	ClientID  string
	SessionID string
	Kind      TopicKind
}

type Heartbeat struct{ ClientID string }

type Publish struct {
	SessionID string
	Kind      TopicKind
	Frame     types.Envelope
}

type GetStats struct{ Reply chan Stats }

type Shutdown struct{}

// deliver carries a fetched snapshot back into the loop so it lands on
// a subscriber's outbox only while the connection is still registered.
type deliver struct {
	ClientID string
	Frame    types.Envelope
}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (Heartbeat) isHubMsg()   {}
func (Publish) isHubMsg()     {}
func (GetStats) isHubMsg()    {}
func (Shutdown) isHubMsg()    {}
func (deliver) isHubMsg()     {}

// Stats is a race-free view of the registry for tests and diagnostics.
type Stats struct {
	NumConnections int
	Subscriptions  map[string]int // clientID -> topic count
}

type conn struct {
	outbox        chan types.Envelope
	topics        map[topic]struct{}
	lastHeartbeat time.Time
}

type Hub struct {
	inbox    chan Msg
	conns    map[string]*conn
	interval time.Duration
	snapshot SnapshotFunc
	log      *zap.Logger
	metrics  *metrics.Metrics
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
}

// NewHub starts the hub loop. interval is the heartbeat sweep period;
// a connection silent for 2x interval is evicted.
func NewHub(parent context.Context, interval time.Duration, snapshot SnapshotFunc, log *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 256),
		conns:    make(map[string]*conn),
		interval: interval,
		snapshot: snapshot,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// PublishState wraps a snapshot in a wire frame and enqueues it for
// state subscribers of the session.
func (h *Hub) PublishState(sessionID string, snap types.GameSnapshot) {
	frame, err := types.NewEnvelope(types.MsgGameStateUpdate, types.StateUpdatePayload{
		SessionID: sessionID,
		GameState: snap,
	})
	if err != nil {
		h.log.Error("encode state update", zap.Error(err))
		return
	}
	h.Send(Publish{SessionID: sessionID, Kind: TopicState, Frame: frame})
}

// PublishEvent enqueues one stored event for event subscribers.
func (h *Hub) PublishEvent(sessionID string, ev event.GameEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event update", zap.Error(err))
		return
	}
	frame, err := types.NewEnvelope(types.MsgGameEventsUpdate, types.EventUpdatePayload{
		SessionID: sessionID,
		Event:     raw,
	})
	if err != nil {
		h.log.Error("encode event update", zap.Error(err))
		return
	}
	h.Send(Publish{SessionID: sessionID, Kind: TopicEvents, Frame: frame})
}

// Send delivers a message to the hub loop. It never blocks past hub
// shutdown: once the loop is gone the message is dropped instead of
// wedging the caller on a full inbox.
func (h *Hub) Send(m Msg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	sweep := time.NewTicker(h.interval)
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-sweep.C:
			h.evictStale()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.ClientID] = &conn{
					outbox:        msg.Outbox,
					topics:        make(map[topic]struct{}),
					lastHeartbeat: h.now(),
				}
				h.metrics.ConnectedClients.Set(float64(len(h.conns)))
				h.log.Info("client connected",
					zap.String("client_id", msg.ClientID),
					zap.Int("total", len(h.conns)))

			case Unregister:
				h.drop(msg.ClientID, "disconnect")

			case Subscribe:
				c, ok := h.conns[msg.ClientID]
				if !ok {
					break
				}
				c.topics[topic{msg.SessionID, msg.Kind}] = struct{}{}
				if msg.Kind == TopicState {
					h.primeSubscriber(msg.ClientID, msg.SessionID)
				}

			case Unsubscribe:
				if c, ok := h.conns[msg.ClientID]; ok {
					delete(c.topics, topic{msg.SessionID, msg.Kind})
				}

			case Heartbeat:
				if c, ok := h.conns[msg.ClientID]; ok {
					c.lastHeartbeat = h.now()
				}

			case Publish:
				h.broadcast(msg)

			case deliver:
				c, ok := h.conns[msg.ClientID]
				if !ok {
					break
				}
				select {
				case c.outbox <- msg.Frame:
				default:
				}

			case GetStats:
				stats := Stats{
					NumConnections: len(h.conns),
					Subscriptions:  make(map[string]int, len(h.conns)),
				}
				for id, c := range h.conns {
					stats.Subscriptions[id] = len(c.topics)
				}
				msg.Reply <- stats

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) broadcast(msg Publish) {
	key := topic{msg.SessionID, msg.Kind}
	sent := 0
	for id, c := range h.conns {
		if _, ok := c.topics[key]; !ok {
			continue
		}
		select {
		case c.outbox <- msg.Frame:
			sent++
		default:
			// Slow consumer: drop the connection rather than block the
			// hub. At-most-once hub-to-client is the contract.
			h.metrics.DroppedSends.Inc()
			h.drop(id, "outbox full")
		}
	}
	if sent > 0 {
		h.metrics.Broadcasts.WithLabelValues(string(msg.Kind)).Add(float64(sent))
	}
}

// primeSubscriber pushes the current full snapshot to a new state
// subscriber. The store read happens off the hub goroutine; the result
// comes back through the inbox, never touching the outbox directly,
// so a connection dropped mid-fetch is simply skipped.
func (h *Hub) primeSubscriber(clientID, sessionID string) {
	if h.snapshot == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		defer cancel()

		snap, err := h.snapshot(ctx, sessionID)
		if err != nil {
			h.log.Warn("snapshot fetch for new subscriber failed",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		frame, err := types.NewEnvelope(types.MsgGameStateUpdate, types.StateUpdatePayload{
			SessionID: sessionID,
			GameState: snap,
		})
		if err != nil {
			return
		}
		h.Send(deliver{ClientID: clientID, Frame: frame})
	}()
}

func (h *Hub) evictStale() {
	timeout := 2 * h.interval
	now := h.now()
	for id, c := range h.conns {
		if now.Sub(c.lastHeartbeat) > timeout {
			h.metrics.Evictions.Inc()
			h.drop(id, "heartbeat timeout")
		}
	}
}

// drop closes the outbox, which tells the transport writer to close
// the socket, and forgets the connection and its topic set.
func (h *Hub) drop(clientID, reason string) {
	c, ok := h.conns[clientID]
	if !ok {
		return
	}
	close(c.outbox)
	delete(h.conns, clientID)
	h.metrics.ConnectedClients.Set(float64(len(h.conns)))
	h.log.Info("client dropped",
		zap.String("client_id", clientID),
		zap.String("reason", reason),
		zap.Int("total", len(h.conns)))
}

func (h *Hub) shutdown() {
	for id := range h.conns {
		h.drop(id, "shutdown")
	}
	h.cancel()
}

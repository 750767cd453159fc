package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/syncer"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

// bridge sits between the change feeds and the hub. Every record runs
// through the session's coordinator, so the server keeps a reconciled
// per-session log (conflict stats, retention pruning), and state
// broadcasts are debounced per session so a burst of feed records
// collapses into one fan-out carrying the latest snapshot.
type bridge struct {
	ctx      context.Context
	sessions *syncer.Registry
	hub      *hub.Hub
	window   time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pushers map[string]*syncer.Pusher
}

func newBridge(ctx context.Context, sessions *syncer.Registry, h *hub.Hub, window time.Duration, log *zap.Logger) *bridge {
	return &bridge{
		ctx:      ctx,
		sessions: sessions,
		hub:      h,
		window:   window,
		log:      log,
		pushers:  make(map[string]*syncer.Pusher),
	}
}

// HandleState reconciles a snapshot record into the session's
// coordinator and schedules a debounced broadcast of it.
func (b *bridge) HandleState(sessionID string, snap types.GameSnapshot) {
	b.sessions.Get(sessionID).AcceptRemote(snap)
	b.pusher(sessionID).Offer(snap)
}

// HandleEvent folds an event record into the session's log and fans it
// out immediately; events are individually meaningful and not worth
// debouncing.
func (b *bridge) HandleEvent(sessionID string, ev event.GameEvent) {
	b.sessions.Get(sessionID).HandleRemoteEvent(ev)
	b.hub.PublishEvent(sessionID, ev)
}

// pusher lazily starts one debounce loop per session. The loops end
// with the bridge context.
func (b *bridge) pusher(sessionID string) *syncer.Pusher {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pushers[sessionID]
	if !ok {
		p = syncer.NewPusher(b.window, func(_ context.Context, snap types.GameSnapshot) error {
			b.hub.PublishState(sessionID, snap)
			return nil
		}, b.log)
		b.pushers[sessionID] = p
		go func() { _ = p.Run(b.ctx) }()
	}
	return p
}

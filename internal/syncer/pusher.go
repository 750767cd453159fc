package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/pkg/types"
)

// PushFunc sends a snapshot to the remote store/transport.
type PushFunc func(ctx context.Context, snap types.GameSnapshot) error

// Pusher debounces outbound snapshot pushes. Offers made within the
// window collapse into one push of the latest snapshot; clock-only
// deltas are recorded but never scheduled, so once-per-second clock
// ticks stay off the network.
type Pusher struct {
	inbox  chan types.GameSnapshot
	window time.Duration
	push   PushFunc
	log    *zap.Logger
}

func NewPusher(window time.Duration, push PushFunc, log *zap.Logger) *Pusher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Pusher{
		inbox:  make(chan types.GameSnapshot, 64),
		window: window,
		push:   push,
		log:    log,
	}
}

// Offer hands the pusher a new local snapshot. Never blocks the
// caller: if the inbox is full the offer is dropped, and the next
// offer carries the newer state anyway.
func (p *Pusher) Offer(snap types.GameSnapshot) {
	select {
	case p.inbox <- snap:
	default:
	}
}

// Run services the debounce loop until ctx is cancelled. Any snapshot
// still pending at shutdown is flushed.
func (p *Pusher) Run(ctx context.Context) error {
	var (
		prev    types.GameSnapshot
		pending *types.GameSnapshot
		timer   *time.Timer
		fire    <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if pending != nil {
				p.flush(context.Background(), *pending)
			}
			return ctx.Err()

		case snap := <-p.inbox:
			if IsClockOnlyChange(prev, snap) {
				// Applied locally, withheld from the network.
				prev = snap
				continue
			}
			prev = snap
			pending = &snap
			if timer == nil {
				timer = time.NewTimer(p.window)
				fire = timer.C
			}

		case <-fire:
			if pending != nil {
				p.flush(ctx, *pending)
				pending = nil
			}
			timer = nil
			fire = nil
		}
	}
}

func (p *Pusher) flush(ctx context.Context, snap types.GameSnapshot) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.push(pctx, snap); err != nil {
		p.log.Warn("debounced push failed",
			zap.String("session_id", snap.SessionID), zap.Error(err))
	}
}

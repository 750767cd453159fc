package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

// ChangeSource is the slice of the store the poller needs.
type ChangeSource interface {
	SessionsUpdatedSince(ctx context.Context, since int64) ([]types.GameSnapshot, error)
	EventsCreatedSince(ctx context.Context, since int64) ([]event.GameEvent, error)
}

// Poller emulates the change feed by scanning the store at a fixed
// interval. It is the documented degradation used when no listener
// connection is configured; prefer the push-based Listener.
type Poller struct {
	source   ChangeSource
	relay    *Relay
	log      *zap.Logger
	interval time.Duration

	sessionCursor int64
	eventCursor   int64
}

func NewPoller(source ChangeSource, r *Relay, log *zap.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		source:        source,
		relay:         r,
		log:           log,
		interval:      interval,
		sessionCursor: time.Now().UnixMilli(),
		eventCursor:   time.Now().UnixMilli(),
	}
}

// Run blocks until ctx is cancelled. A failed scan is logged and
// retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	snaps, err := p.source.SessionsUpdatedSince(ctx, p.sessionCursor)
	if err != nil {
		p.log.Warn("session poll failed", zap.Error(err))
	} else {
		for _, snap := range snaps {
			if snap.UpdatedAt > p.sessionCursor {
				p.sessionCursor = snap.UpdatedAt
			}
			p.metricsInc("sessions")
			p.relay.emitState(snap.SessionID, snap)
		}
	}

	events, err := p.source.EventsCreatedSince(ctx, p.eventCursor)
	if err != nil {
		p.log.Warn("event poll failed", zap.Error(err))
		return
	}
	for _, ev := range events {
		if ts := ev.ServerTimestamp; ts > p.eventCursor {
			p.eventCursor = ts
		}
		p.metricsInc("events")
		p.relay.emitEvent(ev.SessionID, ev)
	}
}

func (p *Poller) metricsInc(feed string) {
	p.relay.metrics.RelayRecords.WithLabelValues(feed).Inc()
}

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Notification channels the database triggers publish on.
const (
	SessionsChannel = "game_sessions_changes"
	EventsChannel   = "game_events_changes"
)

// Listener is the push-based change feed: a dedicated postgres
// connection LISTENing on the two trigger channels. On any connection
// failure it reconnects after a fixed backoff and keeps going; a bad
// notification payload is skipped, never fatal.
type Listener struct {
	dsn     string
	relay   *Relay
	log     *zap.Logger
	backoff time.Duration
}

func NewListener(dsn string, r *Relay, log *zap.Logger, backoff time.Duration) *Listener {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Listener{dsn: dsn, relay: r, log: log, backoff: backoff}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("change feed disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", l.backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, channel := range []string{SessionsChannel, EventsChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return err
		}
	}
	l.log.Info("change feed connected",
		zap.Strings("channels", []string{SessionsChannel, EventsChannel}))

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		switch notification.Channel {
		case SessionsChannel:
			err = l.relay.HandleSessionRecord([]byte(notification.Payload))
		case EventsChannel:
			err = l.relay.HandleEventRecord([]byte(notification.Payload))
		default:
			continue
		}
		if err != nil && !errors.Is(err, ErrIgnoredAction) {
			l.log.Warn("skipping change record",
				zap.String("channel", notification.Channel), zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/courtsync/courtsync-backend/internal/config"
	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/httpapi"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/internal/relay"
	"github.com/courtsync/courtsync-backend/internal/store"
	"github.com/courtsync/courtsync-backend/internal/syncer"
)

// retentionSweepInterval is how often per-session event logs are
// checked against the configured retention window.
const retentionSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseDSN, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	h := hub.NewHub(ctx, cfg.HeartbeatInterval, st.GetSession, log, m)
	sessions := syncer.NewRegistry(log)
	br := newBridge(ctx, sessions, h, cfg.DebounceWindow, log)

	r := relay.New(log, m)
	unsubState := r.OnStateChange(br.HandleState)
	defer unsubState()
	unsubEvents := r.OnEventChange(br.HandleEvent)
	defer unsubEvents()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.SetupRoutes(st, h, m, log, cfg.HeartbeatInterval, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.ListenerDSN != "" {
		listener := relay.NewListener(cfg.ListenerDSN, r, log, cfg.ReconnectBackoff)
		g.Go(func() error { return listener.Run(gctx) })
		log.Info("change feed: listener", zap.Duration("backoff", cfg.ReconnectBackoff))
	} else {
		poller := relay.NewPoller(st, r, log, cfg.PollInterval)
		g.Go(func() error { return poller.Run(gctx) })
		log.Info("change feed: polling fallback", zap.Duration("interval", cfg.PollInterval))
	}

	g.Go(func() error {
		sweep := time.NewTicker(retentionSweepInterval)
		defer sweep.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-sweep.C:
				if dropped := sessions.CleanupAll(cfg.EventRetention); dropped > 0 {
					log.Info("pruned expired events", zap.Int("dropped", dropped))
				}
			}
		}
	})

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

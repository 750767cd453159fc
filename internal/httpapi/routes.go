package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/internal/store"
	"github.com/courtsync/courtsync-backend/internal/ws"
)

// SetupRoutes builds the router with all collaborators injected.
func SetupRoutes(s *store.Store, h *hub.Hub, m *metrics.Metrics, log *zap.Logger, heartbeatInterval time.Duration, originPatterns []string) http.Handler {
	api := &API{store: s, hub: h, log: log}

	r := chi.NewRouter()

	r.Get("/healthz", api.Health)
	r.Get("/ws", ws.Handler(h, log, heartbeatInterval, originPatterns))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", api.Health)
		r.Get("/generate-session-id", api.GenerateSessionID)

		r.Post("/sessions", api.CreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", api.GetSession)
			r.Put("/", api.UpdateSession)
			r.Delete("/", api.DeleteSession)
			r.Get("/exists", api.SessionExists)
			r.Get("/events", api.ListEvents)
			r.Post("/events", api.AppendEvent)
			r.Post("/activity", api.TouchActivity)
		})

		r.Post("/tunnel/callback", api.TunnelCallback)
	})

	return r
}

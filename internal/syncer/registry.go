package syncer

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry hands out one Coordinator per session and owns their
// lifetimes. Coordinators are created on first use and live until
// Remove.
type Registry struct {
	mu       sync.Mutex
	log      *zap.Logger
	sessions map[string]*Coordinator
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*Coordinator),
	}
}

// Get returns the session's coordinator, creating it if needed.
func (r *Registry) Get(sessionID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[sessionID]
	if !ok {
		c = NewCoordinator(sessionID, r.log)
		r.sessions[sessionID] = c
	}
	return c
}

// Lookup returns the coordinator without creating one.
func (r *Registry) Lookup(sessionID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionID]
	return c, ok
}

// Remove forgets a session's coordinator.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CleanupAll prunes every session's event log and returns the total
// number of dropped events.
func (r *Registry) CleanupAll(maxAge time.Duration) int {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		coords = append(coords, c)
	}
	r.mu.Unlock()

	dropped := 0
	for _, c := range coords {
		dropped += c.CleanupOldEvents(maxAge)
	}
	return dropped
}

// Package relay consumes change-data-capture records from the
// persistent store and republishes decoded mutations to registered
// callbacks. Delivery is at-least-once; downstream consumers dedupe
// by event id or overwrite idempotently.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

var (
	ErrIgnoredAction  = errors.New("change action ignored")
	ErrMissingSession = errors.New("change record missing session id")
	ErrMissingData    = errors.New("change record missing data")
)

// Action is the storage mutation kind carried on a change record.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// ChangeRecord is the typed decode of one feed entry. Data stays raw
// until the feed-specific decoder runs.
type ChangeRecord struct {
	Action    Action          `json:"action"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// StateCallback receives decoded session-snapshot mutations.
type StateCallback func(sessionID string, snap types.GameSnapshot)

// EventCallback receives decoded event insertions.
type EventCallback func(sessionID string, ev event.GameEvent)

// Relay fans decoded change records out to its registered callbacks.
type Relay struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	nextToken int
	stateCbs  map[int]StateCallback
	eventCbs  map[int]EventCallback
}

func New(log *zap.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		log:      log,
		metrics:  m,
		stateCbs: make(map[int]StateCallback),
		eventCbs: make(map[int]EventCallback),
	}
}

// OnStateChange registers a callback; the returned func unregisters
// it.
func (r *Relay) OnStateChange(cb StateCallback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.nextToken
	r.nextToken++
	r.stateCbs[token] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.stateCbs, token)
	}
}

// OnEventChange registers a callback for event insertions.
func (r *Relay) OnEventChange(cb EventCallback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.nextToken
	r.nextToken++
	r.eventCbs[token] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.eventCbs, token)
	}
}

// HandleSessionRecord decodes one session-feed record and dispatches
// it. Deletes are ignored by design; a decode failure affects only
// this record.
func (r *Relay) HandleSessionRecord(raw []byte) error {
	r.metrics.RelayRecords.WithLabelValues("sessions").Inc()

	rec, err := decodeRecord(raw)
	if err != nil {
		r.metrics.RelayDecodeFailures.WithLabelValues("sessions").Inc()
		return err
	}
	if rec.Action != ActionInsert && rec.Action != ActionUpdate {
		return ErrIgnoredAction
	}

	var snap types.GameSnapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		r.metrics.RelayDecodeFailures.WithLabelValues("sessions").Inc()
		return fmt.Errorf("decode session change for %s: %w", rec.SessionID, err)
	}
	snap.SessionID = rec.SessionID

	r.emitState(rec.SessionID, snap)
	return nil
}

// HandleEventRecord decodes one event-feed record and dispatches it.
// Only inserts matter: event rows are immutable once written.
func (r *Relay) HandleEventRecord(raw []byte) error {
	r.metrics.RelayRecords.WithLabelValues("events").Inc()

	rec, err := decodeRecord(raw)
	if err != nil {
		r.metrics.RelayDecodeFailures.WithLabelValues("events").Inc()
		return err
	}
	if rec.Action != ActionInsert {
		return ErrIgnoredAction
	}

	var ev event.GameEvent
	if err := json.Unmarshal(rec.Data, &ev); err != nil {
		r.metrics.RelayDecodeFailures.WithLabelValues("events").Inc()
		return fmt.Errorf("decode event change for %s: %w", rec.SessionID, err)
	}
	ev.SessionID = rec.SessionID

	r.emitEvent(rec.SessionID, ev)
	return nil
}

// emitState invokes every state callback; a panic in one must not
// take down the feed loop.
func (r *Relay) emitState(sessionID string, snap types.GameSnapshot) {
	r.mu.RLock()
	cbs := make([]StateCallback, 0, len(r.stateCbs))
	for _, cb := range r.stateCbs {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	for _, cb := range cbs {
		r.safeInvoke(func() { cb(sessionID, snap) })
	}
}

func (r *Relay) emitEvent(sessionID string, ev event.GameEvent) {
	r.mu.RLock()
	cbs := make([]EventCallback, 0, len(r.eventCbs))
	for _, cb := range r.eventCbs {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	for _, cb := range cbs {
		r.safeInvoke(func() { cb(sessionID, ev) })
	}
}

func (r *Relay) safeInvoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("relay callback panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}

func decodeRecord(raw []byte) (ChangeRecord, error) {
	var rec ChangeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ChangeRecord{}, fmt.Errorf("decode change record: %w", err)
	}
	if rec.SessionID == "" {
		return ChangeRecord{}, ErrMissingSession
	}
	if rec.Action != ActionDelete && len(rec.Data) == 0 {
		return ChangeRecord{}, ErrMissingData
	}
	return rec, nil
}

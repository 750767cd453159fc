// Package sequence owns the per-session ordered event log: insertion,
// de-duplication, sequence assignment, conflict detection and
// retention pruning. One Manager exists per live session and is the
// sole owner of that session's log.
package sequence

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/courtsync/courtsync-backend/internal/event"
)

var ErrDuplicateID = errors.New("event id already in log")

// Status is the lifecycle state of a logged event.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusUndone  Status = "undone"
	StatusFailed  Status = "failed"
	// StatusReconciled marks events whose effects a merged remote
	// snapshot already carries. They stay in the log for dedupe but are
	// excluded from replay.
	StatusReconciled Status = "reconciled"
)

// Entry pairs an event with its log state.
type Entry struct {
	Event     event.GameEvent
	Status    Status
	AppliedAt int64
	UndoneAt  int64
	Err       string
}

// Stats summarizes one session log.
type Stats struct {
	SessionID     string
	TotalEvents   int
	AppliedEvents int
	PendingEvents int
	Conflicts     int
	LastSequence  int64
}

// SyncStatus is the view a sync coordinator consults before deciding
// what to push.
type SyncStatus struct {
	LastSyncedSequence int64
	PendingEvents      []event.GameEvent
	Conflicts          []Conflict
}

// Manager is safe for concurrent use; the event log behind it is
// owned exclusively by this instance.
type Manager struct {
	mu           sync.Mutex
	sessionID    string
	entries      []*Entry
	byID         map[string]*Entry
	lastSequence int64
	lastUpdated  int64
	now          func() time.Time
}

func NewManager(sessionID string) *Manager {
	return &Manager{
		sessionID: sessionID,
		byID:      make(map[string]*Entry),
		now:       time.Now,
	}
}

// Add inserts a validated event as pending. A duplicate id is a no-op
// reported via ErrDuplicateID so the caller can treat redelivery as
// benign.
func (m *Manager) Add(ev event.GameEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[ev.ID]; ok {
		return ErrDuplicateID
	}

	entry := &Entry{Event: ev, Status: StatusPending}
	m.byID[ev.ID] = entry
	m.entries = append(m.entries, entry)
	m.lastUpdated = m.now().UnixMilli()
	m.sortLocked()
	return nil
}

// AddBatch inserts each event, skipping duplicates, and returns the
// first validation error encountered.
func (m *Manager) AddBatch(events []event.GameEvent) error {
	var firstErr error
	for _, ev := range events {
		if err := m.Add(ev); err != nil && !errors.Is(err, ErrDuplicateID) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AssignSequence records the store's authoritative ordering for an
// event, transitioning it pending -> applied.
func (m *Manager) AssignSequence(eventID string, seq, serverTimestamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[eventID]
	if !ok {
		return false
	}
	entry.Event.Sequence = seq
	entry.Event.ServerTimestamp = serverTimestamp
	// Only live entries transition to applied; a reconciled, undone or
	// failed entry keeps its state so redelivery cannot resurrect it
	// into the replay set.
	switch entry.Status {
	case StatusPending, StatusApplied:
		entry.Status = StatusApplied
		entry.AppliedAt = serverTimestamp
	}
	if seq > m.lastSequence {
		m.lastSequence = seq
	}
	m.lastUpdated = m.now().UnixMilli()
	m.sortLocked()
	return true
}

// Undo marks an event undone. The entry stays in the log; only its
// state changes.
func (m *Manager) Undo(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[eventID]
	if !ok {
		return false
	}
	entry.Status = StatusUndone
	entry.UndoneAt = m.now().UnixMilli()
	m.lastUpdated = entry.UndoneAt
	return true
}

// MarkFailed records a store rejection for an optimistic local event.
func (m *Manager) MarkFailed(eventID string, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[eventID]
	if !ok {
		return false
	}
	entry.Status = StatusFailed
	entry.Err = reason
	m.lastUpdated = m.now().UnixMilli()
	return true
}

// MarkReconciled flags every entry whose effects a merged remote
// snapshot already carries: any id in ids, plus anything with an
// assigned sequence at or below throughSeq. Returns how many entries
// were flagged.
func (m *Manager) MarkReconciled(ids map[string]struct{}, throughSeq int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	marked := 0
	for _, entry := range m.entries {
		if entry.Status == StatusReconciled {
			continue
		}
		_, hit := ids[entry.Event.ID]
		if !hit && entry.Event.Sequence > 0 && entry.Event.Sequence <= throughSeq {
			hit = true
		}
		if hit {
			entry.Status = StatusReconciled
			marked++
		}
	}
	if marked > 0 {
		m.lastUpdated = m.now().UnixMilli()
	}
	return marked
}

// AppliedEvents returns the applied events in log order.
func (m *Manager) AppliedEvents() []event.GameEvent {
	return m.eventsWithStatus(StatusApplied)
}

// PendingEvents returns events still awaiting a sequence.
func (m *Manager) PendingEvents() []event.GameEvent {
	return m.eventsWithStatus(StatusPending)
}

func (m *Manager) eventsWithStatus(status Status) []event.GameEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]event.GameEvent, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.Status == status {
			out = append(out, entry.Event)
		}
	}
	return out
}

// Contains reports whether an event id is in the log regardless of
// state.
func (m *Manager) Contains(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[eventID]
	return ok
}

// LastSequence is the highest store-assigned sequence seen.
func (m *Manager) LastSequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSequence
}

// CleanupOldEvents prunes entries older than maxAge from memory,
// keyed off the server timestamp when assigned and the client
// timestamp otherwise. Returns how many were dropped.
func (m *Manager) CleanupOldEvents(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UnixMilli() - maxAge.Milliseconds()
	kept := m.entries[:0]
	dropped := 0
	for _, entry := range m.entries {
		if entry.Event.NormalizedTimestamp() > cutoff {
			kept = append(kept, entry)
			continue
		}
		delete(m.byID, entry.Event.ID)
		dropped++
	}
	m.entries = kept
	if dropped > 0 {
		m.lastUpdated = m.now().UnixMilli()
	}
	return dropped
}

// Reset drops the whole log.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.byID = make(map[string]*Entry)
	m.lastSequence = 0
	m.lastUpdated = m.now().UnixMilli()
}

// Status returns the current sync view: last synced sequence, pending
// events and detected conflicts.
func (m *Manager) Status() SyncStatus {
	return SyncStatus{
		LastSyncedSequence: m.LastSequence(),
		PendingEvents:      m.PendingEvents(),
		Conflicts:          m.DetectConflicts(),
	}
}

// Stats summarizes the log for diagnostics.
func (m *Manager) Stats() Stats {
	conflicts := len(m.DetectConflicts())

	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		SessionID:    m.sessionID,
		TotalEvents:  len(m.entries),
		Conflicts:    conflicts,
		LastSequence: m.lastSequence,
	}
	for _, entry := range m.entries {
		switch entry.Status {
		case StatusApplied:
			s.AppliedEvents++
		case StatusPending:
			s.PendingEvents++
		}
	}
	return s
}

// sortLocked keeps the log in replay order: assigned sequences first,
// ascending; then server timestamp; then client timestamp.
func (m *Manager) sortLocked() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		a, b := m.entries[i].Event, m.entries[j].Event

		if a.Sequence > 0 && b.Sequence > 0 {
			return a.Sequence < b.Sequence
		}
		if a.Sequence > 0 {
			return true
		}
		if b.Sequence > 0 {
			return false
		}

		if a.ServerTimestamp > 0 && b.ServerTimestamp > 0 {
			return a.ServerTimestamp < b.ServerTimestamp
		}
		if a.ServerTimestamp > 0 {
			return true
		}
		if b.ServerTimestamp > 0 {
			return false
		}

		return a.ClientTimestamp < b.ClientTimestamp
	})
}

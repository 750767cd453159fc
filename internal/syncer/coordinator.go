package syncer

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/engine"
	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/sequence"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

// Coordinator owns one client's view of a session: the local
// snapshot, the event log behind it and the sync bookkeeping. Local
// events are applied optimistically before the store acknowledges
// them; the authoritative sequence is reconciled asynchronously.
type Coordinator struct {
	mu            sync.Mutex
	base          types.GameSnapshot
	snapshot      types.GameSnapshot
	seq           *sequence.Manager
	lastSyncTime  int64
	pullTolerance time.Duration
	pushTolerance time.Duration
	log           *zap.Logger
}

func NewCoordinator(sessionID string, log *zap.Logger) *Coordinator {
	base := engine.NewSnapshot(sessionID)
	return &Coordinator{
		base:          base,
		snapshot:      base,
		seq:           sequence.NewManager(sessionID),
		pullTolerance: DefaultPullTolerance,
		pushTolerance: DefaultPushTolerance,
		log:           log,
	}
}

// Snapshot returns a copy of the current local state.
func (c *Coordinator) Snapshot() types.GameSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// Sequence exposes the log for conflict inspection.
func (c *Coordinator) Sequence() *sequence.Manager { return c.seq }

// ApplyLocal optimistically applies one locally authored event. The
// event enters the log as pending and mutates the visible snapshot
// immediately; ConfirmSequence reconciles it once the store answers.
func (c *Coordinator) ApplyLocal(ev event.GameEvent) (types.GameSnapshot, error) {
	if err := c.seq.Add(ev); err != nil && !errors.Is(err, sequence.ErrDuplicateID) {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := engine.Apply(c.snapshot, ev)
	if err != nil {
		c.seq.MarkFailed(ev.ID, err.Error())
		return c.snapshot.Clone(), err
	}
	c.snapshot = next
	return next.Clone(), nil
}

// ConfirmSequence records the store-assigned ordering for an event and
// rebuilds the snapshot from the log, so optimistic application and
// authoritative order converge.
func (c *Coordinator) ConfirmSequence(eventID string, seq, serverTimestamp int64) {
	if !c.seq.AssignSequence(eventID, seq, serverTimestamp) {
		return
	}
	c.rebuild()
}

// HandleRemoteEvent folds in an event another client produced.
// Redelivery is harmless: the log dedupes by id.
func (c *Coordinator) HandleRemoteEvent(ev event.GameEvent) {
	err := c.seq.Add(ev)
	if errors.Is(err, sequence.ErrDuplicateID) {
		// Already known locally; the store stamp may still be news.
		if ev.Sequence > 0 {
			c.seq.AssignSequence(ev.ID, ev.Sequence, ev.ServerTimestamp)
			c.rebuild()
		}
		return
	}
	if err != nil {
		c.log.Warn("rejecting malformed remote event",
			zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if ev.Sequence > 0 {
		c.seq.AssignSequence(ev.ID, ev.Sequence, ev.ServerTimestamp)
	}
	c.rebuild()
}

// AcceptRemote applies the pull heuristic to a remote snapshot and
// merges it in when it wins. Events the merged snapshot already
// reflects are retired from the log so a later rebuild cannot fold
// them onto a base that carries their effects; surviving pending
// events are re-folded. Returns whether the merge happened.
func (c *Coordinator) AcceptRemote(remote types.GameSnapshot) bool {
	c.mu.Lock()
	if !ShouldAcceptRemote(c.snapshot.UpdatedAt, remote.UpdatedAt, c.lastSyncTime, c.pullTolerance) {
		c.mu.Unlock()
		return false
	}
	merged := Merge(c.snapshot, remote)
	c.snapshot = merged
	c.base = merged
	c.lastSyncTime = remote.UpdatedAt
	c.mu.Unlock()

	ids := make(map[string]struct{}, len(remote.Events))
	var throughSeq int64
	for _, ref := range remote.Events {
		ids[ref.ID] = struct{}{}
		if ref.Sequence > throughSeq {
			throughSeq = ref.Sequence
		}
	}
	c.seq.MarkReconciled(ids, throughSeq)
	c.rebuild()
	return true
}

// ShouldPush applies the push heuristic against a known remote
// timestamp.
func (c *Coordinator) ShouldPush(remoteUpdatedAt int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ShouldPushLocal(c.snapshot.UpdatedAt, remoteUpdatedAt, c.lastSyncTime, c.pushTolerance)
}

// MarkPushed records a completed push so the same state is not sent
// again.
func (c *Coordinator) MarkPushed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSyncTime = c.snapshot.UpdatedAt
}

// TickClock advances only the local game clock. The change is visible
// immediately but callers must route it through a Pusher, which
// excludes clock-only deltas from the network.
func (c *Coordinator) TickClock(clock string, at int64) types.GameSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.GameClock = clock
	c.snapshot.UpdatedAt = at
	return c.snapshot.Clone()
}

// CleanupOldEvents prunes the log and rebuilds state from what
// remains of it plus the last merged base.
func (c *Coordinator) CleanupOldEvents(maxAge time.Duration) int {
	dropped := c.seq.CleanupOldEvents(maxAge)
	if dropped > 0 {
		c.rebuild()
	}
	return dropped
}

// rebuild folds the applied log over the base snapshot. Pending
// events are folded after applied ones, mirroring optimistic order.
func (c *Coordinator) rebuild() {
	applied := c.seq.AppliedEvents()
	pending := c.seq.PendingEvents()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := engine.ApplySequence(c.base, applied)
	snap = engine.ApplySequence(snap, pending)
	c.snapshot = snap
}

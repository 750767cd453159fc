// Package syncer decides when a client trusts a remote snapshot over
// its local one and when it pushes local changes out. Convergence is
// last-writer-wins with timestamp tolerances; the event log exists for
// audit and replay underneath.
package syncer

import (
	"reflect"
	"time"

	"github.com/courtsync/courtsync-backend/pkg/types"
)

const (
	// DefaultPullTolerance guards against clock skew when deciding to
	// accept a remote snapshot.
	DefaultPullTolerance = time.Second
	// DefaultPushTolerance is smaller: it only needs to keep a
	// just-received remote update from echoing straight back out.
	DefaultPushTolerance = 500 * time.Millisecond
	// DefaultDebounceWindow batches outbound pushes.
	DefaultDebounceWindow = 500 * time.Millisecond
)

// ShouldAcceptRemote reports whether a remote snapshot should replace
// local state: it must be newer than local by more than the tolerance
// and newer than the last accepted sync.
func ShouldAcceptRemote(localUpdatedAt, remoteUpdatedAt, lastSyncTime int64, tolerance time.Duration) bool {
	return remoteUpdatedAt > localUpdatedAt+tolerance.Milliseconds() &&
		remoteUpdatedAt > lastSyncTime
}

// ShouldPushLocal reports whether local state is worth sending: it
// changed since the last sync and is ahead of the remote by more than
// the tolerance.
func ShouldPushLocal(localUpdatedAt, remoteUpdatedAt, lastSyncTime int64, tolerance time.Duration) bool {
	return localUpdatedAt > lastSyncTime &&
		localUpdatedAt > remoteUpdatedAt+tolerance.Milliseconds()
}

// Merge takes the remote snapshot wholesale except for the locally
// owned ephemeral fields: the session binding and the active-user map.
func Merge(local, remote types.GameSnapshot) types.GameSnapshot {
	merged := remote.Clone()
	if local.SessionID != "" {
		merged.SessionID = local.SessionID
	}
	if local.ActiveUsers != nil {
		merged.ActiveUsers = local.ActiveUsers
	}
	return merged
}

// IsClockOnlyChange reports whether the only delta between two
// snapshots is the running game clock (and its timestamp). Clock
// ticks are applied locally but excluded from network pushes.
func IsClockOnlyChange(prev, cur types.GameSnapshot) bool {
	if prev.GameClock == cur.GameClock {
		return false
	}
	a := prev.Clone()
	b := cur.Clone()
	a.GameClock, b.GameClock = "", ""
	a.UpdatedAt, b.UpdatedAt = 0, 0
	return reflect.DeepEqual(a, b)
}

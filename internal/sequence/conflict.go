package sequence

import (
	"fmt"

	"github.com/courtsync/courtsync-backend/internal/event"
)

// timestampConflictWindow is how close two client timestamps from the
// same author must be to count as a timestamp conflict.
const timestampConflictWindow = 100 // milliseconds

// ConflictKind classifies a detected conflict.
type ConflictKind string

const (
	ConflictSequence  ConflictKind = "sequence"
	ConflictTimestamp ConflictKind = "timestamp"
	ConflictData      ConflictKind = "data"
)

// Resolution is only a suggestion. The manager classifies conflicts;
// executing a resolution is the caller's responsibility.
type Resolution string

const (
	ResolveRetry Resolution = "retry"
	ResolveMerge Resolution = "merge"
	ResolveSkip  Resolution = "skip"
)

// Conflict reports one pairwise clash between logged events.
type Conflict struct {
	EventID             string
	Kind                ConflictKind
	Description         string
	SuggestedResolution Resolution
}

// DetectConflicts runs a pairwise scan over the log. Each pair yields
// at most one conflict, with sequence clashes taking precedence over
// timestamp clashes over data clashes.
func (m *Manager) DetectConflicts() []Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []Conflict
	for i := 0; i < len(m.entries)-1; i++ {
		for j := i + 1; j < len(m.entries); j++ {
			if c, ok := checkPair(m.entries[i].Event, m.entries[j].Event); ok {
				conflicts = append(conflicts, c)
			}
		}
	}
	return conflicts
}

func checkPair(a, b event.GameEvent) (Conflict, bool) {
	if a.Sequence > 0 && a.Sequence == b.Sequence {
		return Conflict{
			EventID:             b.ID,
			Kind:                ConflictSequence,
			Description:         fmt.Sprintf("events %s and %s share sequence %d", a.ID, b.ID, a.Sequence),
			SuggestedResolution: ResolveRetry,
		}, true
	}

	if a.AuthorID == b.AuthorID && absDiff(a.ClientTimestamp, b.ClientTimestamp) < timestampConflictWindow {
		return Conflict{
			EventID:             b.ID,
			Kind:                ConflictTimestamp,
			Description:         fmt.Sprintf("author %s produced near-simultaneous events %s and %s", a.AuthorID, a.ID, b.ID),
			SuggestedResolution: ResolveMerge,
		}, true
	}

	if hasDataConflict(a, b) {
		return Conflict{
			EventID:             b.ID,
			Kind:                ConflictData,
			Description:         fmt.Sprintf("events %s and %s touch the same resource concurrently", a.ID, b.ID),
			SuggestedResolution: ResolveSkip,
		}, true
	}

	return Conflict{}, false
}

// hasDataConflict flags two events that reference the same player with
// different types, or two scoring/foul events against the same team.
func hasDataConflict(a, b event.GameEvent) bool {
	if pa, pb := a.PlayerID(), b.PlayerID(); pa != "" && pa == pb {
		return a.Type != b.Type
	}

	if ta, tb := a.TeamID(), b.TeamID(); ta != "" && ta == tb {
		return (a.Type == event.TypeScore && b.Type == event.TypeScore) ||
			(a.Type == event.TypeFoul && b.Type == event.TypeFoul)
	}

	return false
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

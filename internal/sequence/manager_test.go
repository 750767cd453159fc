package sequence

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/courtsync/courtsync-backend/internal/event"
)

func scoreEv(id, author string, clientTS int64, teamID, playerID string) event.GameEvent {
	return event.GameEvent{
		ID: id, SessionID: "s", AuthorID: author, ClientTimestamp: clientTS,
		Type:    event.TypeScore,
		Payload: &event.ScorePayload{TeamID: teamID, PlayerID: playerID, Points: 2, ScoreType: event.ScoreFieldGoal},
	}
}

func foulEv(id, author string, clientTS int64, teamID, playerID string) event.GameEvent {
	return event.GameEvent{
		ID: id, SessionID: "s", AuthorID: author, ClientTimestamp: clientTS,
		Type:    event.TypeFoul,
		Payload: &event.FoulPayload{TeamID: teamID, PlayerID: playerID, FoulType: "personal"},
	}
}

func TestManager_AddIsIdempotent(t *testing.T) {
	m := NewManager("s")
	ev := scoreEv("e1", "u1", 1000, "home", "p1")

	if err := m.Add(ev); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := m.Add(ev); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("second add: want ErrDuplicateID, got %v", err)
	}
	if got := m.Stats().TotalEvents; got != 1 {
		t.Fatalf("duplicate must not grow the log: total=%d", got)
	}
}

func TestManager_AddRejectsInvalidEvent(t *testing.T) {
	m := NewManager("s")
	ev := scoreEv("", "u1", 1000, "home", "p1")

	if err := m.Add(ev); !errors.Is(err, event.ErrMissingID) {
		t.Fatalf("want ErrMissingID, got %v", err)
	}
	if m.Stats().TotalEvents != 0 {
		t.Fatalf("invalid event must not enter the log")
	}
}

func TestManager_AddBatchSkipsDuplicates(t *testing.T) {
	m := NewManager("s")
	if err := m.Add(scoreEv("e1", "u1", 1000, "home", "p1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := m.AddBatch([]event.GameEvent{
		scoreEv("e1", "u1", 1000, "home", "p1"),
		scoreEv("e2", "u2", 5000, "home", "p1"),
	})
	if err != nil {
		t.Fatalf("batch with duplicate: %v", err)
	}
	if got := m.Stats().TotalEvents; got != 2 {
		t.Fatalf("want 2 events, got %d", got)
	}
}

func TestManager_AssignSequenceOrdersLog(t *testing.T) {
	m := NewManager("s")
	// arrival order deliberately scrambled relative to client time
	if err := m.AddBatch([]event.GameEvent{
		scoreEv("late", "u1", 3000, "home", "p1"),
		scoreEv("early", "u2", 1000, "away", "p9"),
		foulEv("mid", "u3", 2000, "home", "p2"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// before assignment the log follows client timestamps
	pending := m.PendingEvents()
	if len(pending) != 3 || pending[0].ID != "early" || pending[2].ID != "late" {
		t.Fatalf("pending order wrong: %+v", ids(pending))
	}

	// assignment flips events to applied and re-sorts by sequence
	if !m.AssignSequence("late", 1, 9001) {
		t.Fatalf("assign late")
	}
	if !m.AssignSequence("early", 2, 9002) {
		t.Fatalf("assign early")
	}

	applied := m.AppliedEvents()
	if len(applied) != 2 || applied[0].ID != "late" || applied[1].ID != "early" {
		t.Fatalf("applied order must follow assigned sequence: %+v", ids(applied))
	}
	if got := m.LastSequence(); got != 2 {
		t.Fatalf("last sequence: want 2, got %d", got)
	}
	if left := m.PendingEvents(); len(left) != 1 || left[0].ID != "mid" {
		t.Fatalf("pending after assignment: %+v", ids(left))
	}

	if m.AssignSequence("ghost", 3, 9003) {
		t.Fatalf("assigning an unknown id must report false")
	}
}

func TestManager_UndoAndMarkFailed(t *testing.T) {
	m := NewManager("s")
	if err := m.Add(scoreEv("e1", "u1", 1000, "home", "p1")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.AssignSequence("e1", 1, 2000)

	if !m.Undo("e1") {
		t.Fatalf("undo known event")
	}
	if len(m.AppliedEvents()) != 0 {
		t.Fatalf("undone event must leave the applied view")
	}
	if !m.Contains("e1") {
		t.Fatalf("undone event stays in the log")
	}

	if err := m.Add(scoreEv("e2", "u1", 3000, "home", "p1")); err != nil {
		t.Fatalf("seed e2: %v", err)
	}
	if !m.MarkFailed("e2", "rejected") {
		t.Fatalf("mark failed")
	}
	if len(m.PendingEvents()) != 0 {
		t.Fatalf("failed event must leave the pending view")
	}
}

func TestManager_MarkReconciledRetiresFromReplay(t *testing.T) {
	m := NewManager("s")
	if err := m.AddBatch([]event.GameEvent{
		scoreEv("e1", "u1", 1000, "home", "p1"),
		scoreEv("e2", "u2", 50000, "away", "p9"),
		scoreEv("e3", "u3", 90000, "home", "p2"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.AssignSequence("e1", 1, 60000)
	m.AssignSequence("e2", 2, 60001)

	// e1 by id, e2 by sequence coverage; pending e3 untouched
	marked := m.MarkReconciled(map[string]struct{}{"e1": {}}, 2)
	if marked != 2 {
		t.Fatalf("want 2 marked, got %d", marked)
	}
	if got := len(m.AppliedEvents()); got != 0 {
		t.Fatalf("reconciled events must leave the replay set, got %d", got)
	}
	if left := m.PendingEvents(); len(left) != 1 || left[0].ID != "e3" {
		t.Fatalf("pending must survive: %+v", ids(left))
	}

	// dedupe still sees the retired ids
	if !m.Contains("e1") || !m.Contains("e2") {
		t.Fatalf("reconciled events stay in the log for dedupe")
	}
	if err := m.Add(scoreEv("e1", "u1", 1000, "home", "p1")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("redelivered reconciled event: want ErrDuplicateID, got %v", err)
	}

	// a redelivered sequence assignment must not resurrect the entry
	m.AssignSequence("e1", 1, 60000)
	if got := len(m.AppliedEvents()); got != 0 {
		t.Fatalf("reassignment resurrected a reconciled event, applied=%d", got)
	}
}

func TestManager_SequenceConflictSuggestsRetry(t *testing.T) {
	m := NewManager("s")
	a := scoreEv("e1", "u1", 1000, "home", "p1")
	a.Sequence = 5
	b := foulEv("e2", "u2", 50000, "away", "p9")
	b.Sequence = 5
	if err := m.AddBatch([]event.GameEvent{a, b}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conflicts := m.DetectConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("want 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Kind != ConflictSequence || c.SuggestedResolution != ResolveRetry {
		t.Fatalf("want sequence/retry, got %s/%s", c.Kind, c.SuggestedResolution)
	}
}

func TestManager_NearSimultaneousSameAuthorSuggestsMerge(t *testing.T) {
	m := NewManager("s")
	if err := m.AddBatch([]event.GameEvent{
		scoreEv("e1", "u1", 1000, "home", "p1"),
		foulEv("e2", "u1", 1040, "away", "p9"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conflicts := m.DetectConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("want 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Kind != ConflictTimestamp || c.SuggestedResolution != ResolveMerge {
		t.Fatalf("want timestamp/merge, got %s/%s", c.Kind, c.SuggestedResolution)
	}
}

func TestManager_TimestampWindowBoundary(t *testing.T) {
	m := NewManager("s")
	// 100ms apart exactly: outside the window, and different resources
	if err := m.AddBatch([]event.GameEvent{
		scoreEv("e1", "u1", 1000, "home", "p1"),
		scoreEv("e2", "u1", 1100, "away", "p9"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if conflicts := m.DetectConflicts(); len(conflicts) != 0 {
		t.Fatalf("want no conflicts at the window boundary, got %+v", conflicts)
	}
}

func TestManager_DataConflicts(t *testing.T) {
	cases := []struct {
		name string
		a, b event.GameEvent
		want int
	}{
		{
			"same player different types",
			scoreEv("e1", "u1", 1000, "home", "p1"),
			foulEv("e2", "u2", 50000, "home", "p1"),
			1,
		},
		{
			"same team double score",
			scoreEv("e1", "u1", 1000, "home", "p1"),
			scoreEv("e2", "u2", 50000, "home", "p2"),
			1,
		},
		{
			"same team double foul",
			foulEv("e1", "u1", 1000, "home", "p1"),
			foulEv("e2", "u2", 50000, "home", "p2"),
			1,
		},
		{
			"different teams no conflict",
			scoreEv("e1", "u1", 1000, "home", "p1"),
			scoreEv("e2", "u2", 50000, "away", "p9"),
			0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager("s")
			if err := m.AddBatch([]event.GameEvent{tc.a, tc.b}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			conflicts := m.DetectConflicts()
			if len(conflicts) != tc.want {
				t.Fatalf("want %d conflicts, got %d: %+v", tc.want, len(conflicts), conflicts)
			}
			if tc.want == 1 {
				c := conflicts[0]
				if c.Kind != ConflictData || c.SuggestedResolution != ResolveSkip {
					t.Fatalf("want data/skip, got %s/%s", c.Kind, c.SuggestedResolution)
				}
			}
		})
	}
}

func TestManager_CleanupOldEvents(t *testing.T) {
	m := NewManager("s")
	now := time.UnixMilli(10_000_000)
	m.now = func() time.Time { return now }

	old := scoreEv("old", "u1", now.UnixMilli()-120_000, "home", "p1")
	fresh := scoreEv("fresh", "u2", now.UnixMilli()-1_000, "away", "p9")
	if err := m.AddBatch([]event.GameEvent{old, fresh}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dropped := m.CleanupOldEvents(time.Minute)
	if dropped != 1 {
		t.Fatalf("want 1 dropped, got %d", dropped)
	}
	if m.Contains("old") {
		t.Fatalf("old event must be pruned")
	}
	if !m.Contains("fresh") {
		t.Fatalf("fresh event must survive")
	}
}

func TestManager_CleanupUsesServerTimestampWhenAssigned(t *testing.T) {
	m := NewManager("s")
	now := time.UnixMilli(10_000_000)
	m.now = func() time.Time { return now }

	// old by client time, fresh by server stamp: the server stamp wins
	ev := scoreEv("e1", "u1", now.UnixMilli()-120_000, "home", "p1")
	if err := m.Add(ev); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.AssignSequence("e1", 1, now.UnixMilli()-1_000)

	if dropped := m.CleanupOldEvents(time.Minute); dropped != 0 {
		t.Fatalf("assigned event within retention must survive, dropped=%d", dropped)
	}
}

func TestManager_StatsAndStatus(t *testing.T) {
	m := NewManager("s")
	if err := m.AddBatch([]event.GameEvent{
		scoreEv("e1", "u1", 1000, "home", "p1"),
		scoreEv("e2", "u2", 50000, "away", "p9"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.AssignSequence("e1", 1, 60000)

	stats := m.Stats()
	if stats.TotalEvents != 2 || stats.AppliedEvents != 1 || stats.PendingEvents != 1 {
		t.Fatalf("stats wrong: %+v", stats)
	}
	if stats.LastSequence != 1 {
		t.Fatalf("last sequence: want 1, got %d", stats.LastSequence)
	}

	status := m.Status()
	if status.LastSyncedSequence != 1 {
		t.Fatalf("status last synced: want 1, got %d", status.LastSyncedSequence)
	}
	if len(status.PendingEvents) != 1 || status.PendingEvents[0].ID != "e2" {
		t.Fatalf("status pending: %+v", ids(status.PendingEvents))
	}
}

func TestManager_Reset(t *testing.T) {
	m := NewManager("s")
	if err := m.Add(scoreEv("e1", "u1", 1000, "home", "p1")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.AssignSequence("e1", 3, 2000)

	m.Reset()
	if m.Stats().TotalEvents != 0 || m.LastSequence() != 0 {
		t.Fatalf("reset must empty the log")
	}
	if err := m.Add(scoreEv("e1", "u1", 1000, "home", "p1")); err != nil {
		t.Fatalf("re-add after reset: %v", err)
	}
}

func ids(events []event.GameEvent) string {
	out := ""
	for _, ev := range events {
		out += fmt.Sprintf("%s ", ev.ID)
	}
	return out
}

// Package engine is the pure reducer at the heart of state sync.
// Apply never does I/O and never consults the clock: every output is a
// function of the snapshot and event passed in, so replaying the same
// log always reproduces the same state.
package engine

import (
	"errors"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

const MaxOnCourt = 5

var (
	ErrUnknownTeam    = errors.New("event references unknown team")
	ErrUnknownPlayer  = errors.New("event references unknown player")
	ErrCourtFull      = errors.New("substitution would exceed on-court limit")
	ErrAlreadyOnCourt = errors.New("incoming player already on court")
	ErrUnknownAction  = errors.New("unsupported control action")
	ErrUnknownEvent   = errors.New("unsupported event type")
	ErrNilPayload     = errors.New("event has no payload")
)

const defaultQuarterLength = "12:00"

// NewSnapshot builds the base state a fresh session starts from.
func NewSnapshot(sessionID string) types.GameSnapshot {
	return types.GameSnapshot{
		SessionID:     sessionID,
		HomeTeam:      types.Team{ID: "home", Name: "Home", Timeouts: 7, Players: []types.Player{}},
		AwayTeam:      types.Team{ID: "away", Name: "Away", Timeouts: 7, Players: []types.Player{}},
		Quarter:       1,
		GameClock:     defaultQuarterLength,
		QuarterLength: defaultQuarterLength,
		Events:        []types.EventRef{},
	}
}

// Apply maps one event onto a new snapshot. The input snapshot is
// never modified; on error the returned snapshot equals the input.
func Apply(snap types.GameSnapshot, ev event.GameEvent) (types.GameSnapshot, error) {
	if ev.Payload == nil {
		return snap, ErrNilPayload
	}

	next := snap.Clone()
	var err error

	switch p := ev.Payload.(type) {
	case *event.ScorePayload:
		err = applyScore(&next, p)
	case *event.FoulPayload:
		err = applyFoul(&next, p)
	case *event.ReboundPayload:
		err = bumpPlayer(&next, p.TeamID, p.PlayerID, func(pl *types.Player) { pl.Rebounds++ })
	case *event.AssistPayload:
		err = bumpPlayer(&next, p.TeamID, p.PlayerID, func(pl *types.Player) { pl.Assists++ })
	case *event.StealPayload:
		err = bumpPlayer(&next, p.TeamID, p.PlayerID, func(pl *types.Player) { pl.Steals++ })
	case *event.BlockPayload:
		err = bumpPlayer(&next, p.TeamID, p.PlayerID, func(pl *types.Player) { pl.Blocks++ })
	case *event.TurnoverPayload:
		err = bumpPlayer(&next, p.TeamID, p.PlayerID, func(pl *types.Player) { pl.Turnovers++ })
	case *event.MissedShotPayload:
		err = applyMissedShot(&next, p)
	case *event.SubstitutionPayload:
		err = applySubstitution(&next, p)
	case *event.TimeoutPayload:
		err = applyTimeout(&next, p)
	case *event.GameControlPayload:
		err = applyGameControl(&next, p)
	case *event.PlayerManagementPayload:
		err = applyPlayerManagement(&next, p)
	case *event.UndoPayload, *event.SystemPayload:
		// Undo is resolved at the log level; system events are
		// informational. Neither touches the snapshot, but both stamp
		// UpdatedAt below so observers see activity.
	default:
		return snap, ErrUnknownEvent
	}
	if err != nil {
		return snap, err
	}

	// Resets clear the audit trail; everything else appends to it.
	if ctrl, ok := ev.Payload.(*event.GameControlPayload); !ok || ctrl.Action != event.ControlReset {
		next.Events = append(next.Events, types.EventRef{
			ID:       ev.ID,
			Type:     string(ev.Type),
			Sequence: ev.Sequence,
			Quarter:  ev.Quarter,
		})
	}
	next.UpdatedAt = ev.NormalizedTimestamp()
	return next, nil
}

// ApplySequence folds Apply left to right. Events the reducer rejects
// leave the accumulated state untouched, which keeps the fold
// deterministic and re-entrant.
func ApplySequence(base types.GameSnapshot, events []event.GameEvent) types.GameSnapshot {
	snap := base
	for _, ev := range events {
		next, err := Apply(snap, ev)
		if err != nil {
			continue
		}
		snap = next
	}
	return snap
}

func teamByID(snap *types.GameSnapshot, teamID string) *types.Team {
	if snap.HomeTeam.ID == teamID {
		return &snap.HomeTeam
	}
	if snap.AwayTeam.ID == teamID {
		return &snap.AwayTeam
	}
	return nil
}

func playerByID(team *types.Team, playerID string) *types.Player {
	for i := range team.Players {
		if team.Players[i].ID == playerID {
			return &team.Players[i]
		}
	}
	return nil
}

func bumpPlayer(snap *types.GameSnapshot, teamID, playerID string, fn func(*types.Player)) error {
	team := teamByID(snap, teamID)
	if team == nil {
		return ErrUnknownTeam
	}
	player := playerByID(team, playerID)
	if player == nil {
		return ErrUnknownPlayer
	}
	fn(player)
	return nil
}

func applyScore(snap *types.GameSnapshot, p *event.ScorePayload) error {
	team := teamByID(snap, p.TeamID)
	if team == nil {
		return ErrUnknownTeam
	}
	player := playerByID(team, p.PlayerID)
	if player == nil {
		return ErrUnknownPlayer
	}

	team.Score += p.Points
	player.Points += p.Points

	switch p.ScoreType {
	case event.ScoreFieldGoal:
		player.FieldGoalsMade++
		player.FieldGoalsAttempted++
	case event.ScoreThreePointer:
		// A made three counts as a made field goal too.
		player.ThreePointersMade++
		player.ThreePointersAttempted++
		player.FieldGoalsMade++
		player.FieldGoalsAttempted++
	case event.ScoreFreeThrow:
		player.FreeThrowsMade++
		player.FreeThrowsAttempted++
	}

	if p.AssistPlayerID != "" {
		if assister := playerByID(team, p.AssistPlayerID); assister != nil {
			assister.Assists++
		}
	}
	return nil
}

func applyFoul(snap *types.GameSnapshot, p *event.FoulPayload) error {
	team := teamByID(snap, p.TeamID)
	if team == nil {
		return ErrUnknownTeam
	}
	player := playerByID(team, p.PlayerID)
	if player == nil {
		return ErrUnknownPlayer
	}
	team.Fouls++
	player.Fouls++
	return nil
}

// applyMissedShot mirrors applyScore's attempted counters without the
// makes.
func applyMissedShot(snap *types.GameSnapshot, p *event.MissedShotPayload) error {
	return bumpPlayer(snap, p.TeamID, p.PlayerID, func(pl *types.Player) {
		switch p.ShotType {
		case event.ScoreFieldGoal:
			pl.FieldGoalsAttempted++
		case event.ScoreThreePointer:
			pl.ThreePointersAttempted++
			pl.FieldGoalsAttempted++
		case event.ScoreFreeThrow:
			pl.FreeThrowsAttempted++
		}
	})
}

func applySubstitution(snap *types.GameSnapshot, p *event.SubstitutionPayload) error {
	team := teamByID(snap, p.TeamID)
	if team == nil {
		return ErrUnknownTeam
	}
	in := playerByID(team, p.PlayerInID)
	out := playerByID(team, p.PlayerOutID)
	if in == nil || out == nil {
		return ErrUnknownPlayer
	}
	if in.IsOnCourt {
		return ErrAlreadyOnCourt
	}

	onCourt := team.OnCourtCount() + 1 // incoming player
	if out.IsOnCourt {
		onCourt--
	}
	if onCourt > MaxOnCourt {
		return ErrCourtFull
	}

	in.IsOnCourt = true
	out.IsOnCourt = false
	return nil
}

func applyTimeout(snap *types.GameSnapshot, p *event.TimeoutPayload) error {
	team := teamByID(snap, p.TeamID)
	if team == nil {
		return ErrUnknownTeam
	}
	if team.Timeouts > 0 {
		team.Timeouts--
	}
	return nil
}

func applyGameControl(snap *types.GameSnapshot, p *event.GameControlPayload) error {
	quarterLength := snap.QuarterLength
	if quarterLength == "" {
		quarterLength = defaultQuarterLength
	}

	switch p.Action {
	case event.ControlStart, event.ControlResume:
		snap.IsRunning = true
		snap.IsPaused = false
	case event.ControlPause:
		snap.IsRunning = false
		snap.IsPaused = true
	case event.ControlStop:
		snap.IsRunning = false
		snap.IsPaused = false
	case event.ControlNextQuarter:
		snap.Quarter++
		snap.GameClock = quarterLength
	case event.ControlReset:
		snap.HomeTeam.Score = 0
		snap.HomeTeam.Fouls = 0
		snap.AwayTeam.Score = 0
		snap.AwayTeam.Fouls = 0
		snap.Quarter = 1
		snap.GameClock = quarterLength
		snap.IsRunning = false
		snap.IsPaused = false
		snap.Events = []types.EventRef{}
	default:
		return ErrUnknownAction
	}
	return nil
}

func applyPlayerManagement(snap *types.GameSnapshot, p *event.PlayerManagementPayload) error {
	team := teamByID(snap, p.TeamID)
	if team == nil {
		return ErrUnknownTeam
	}

	switch p.Action {
	case event.RosterAdd:
		if playerByID(team, p.PlayerID) != nil {
			return nil // roster add is idempotent
		}
		player := types.Player{ID: p.PlayerID}
		if p.PlayerData != nil {
			player.Name = p.PlayerData.Name
			player.Number = p.PlayerData.Number
			player.Position = p.PlayerData.Position
		}
		team.Players = append(team.Players, player)
	case event.RosterRemove:
		for i := range team.Players {
			if team.Players[i].ID == p.PlayerID {
				team.Players = append(team.Players[:i], team.Players[i+1:]...)
				break
			}
		}
	case event.RosterUpdate:
		player := playerByID(team, p.PlayerID)
		if player == nil {
			return ErrUnknownPlayer
		}
		if p.PlayerData != nil {
			if p.PlayerData.Name != "" {
				player.Name = p.PlayerData.Name
			}
			if p.PlayerData.Number != 0 {
				player.Number = p.PlayerData.Number
			}
			if p.PlayerData.Position != "" {
				player.Position = p.PlayerData.Position
			}
		}
	default:
		return ErrUnknownAction
	}
	return nil
}

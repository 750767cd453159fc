package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingID      = errors.New("event missing id")
	ErrMissingSession = errors.New("event missing session id")
	ErrMissingAuthor  = errors.New("event missing author id")
	ErrMissingPayload = errors.New("event missing payload")
	ErrUnknownType    = errors.New("unknown event type")
	ErrBadPayload     = errors.New("malformed event payload")
)

// Type tags the closed set of domain events.
type Type string

const (
	TypeScore            Type = "SCORE"
	TypeFoul             Type = "FOUL"
	TypeRebound          Type = "REBOUND"
	TypeAssist           Type = "ASSIST"
	TypeSteal            Type = "STEAL"
	TypeBlock            Type = "BLOCK"
	TypeTurnover         Type = "TURNOVER"
	TypeMissedShot       Type = "MISSED_SHOT"
	TypeSubstitution     Type = "SUBSTITUTION"
	TypeTimeout          Type = "TIMEOUT"
	TypeGameControl      Type = "GAME_CONTROL"
	TypePlayerManagement Type = "PLAYER_MANAGEMENT"
	TypeUndo             Type = "UNDO"
	TypeSystem           Type = "SYSTEM"
)

// ScoreType distinguishes how points were scored.
type ScoreType string

const (
	ScoreFieldGoal    ScoreType = "field_goal"
	ScoreThreePointer ScoreType = "three_pointer"
	ScoreFreeThrow    ScoreType = "free_throw"
)

// ControlAction is the finite set of clock/game transitions.
type ControlAction string

const (
	ControlStart       ControlAction = "START"
	ControlPause       ControlAction = "PAUSE"
	ControlResume      ControlAction = "RESUME"
	ControlStop        ControlAction = "STOP"
	ControlNextQuarter ControlAction = "NEXT_QUARTER"
	ControlReset       ControlAction = "RESET"
)

// RosterAction is the player-management verb.
type RosterAction string

const (
	RosterAdd    RosterAction = "ADD"
	RosterRemove RosterAction = "REMOVE"
	RosterUpdate RosterAction = "UPDATE"
)

// Payload is the per-type variant attached to a GameEvent. Payload
// values are immutable once constructed.
type Payload interface{ isPayload() }

type ScorePayload struct {
	TeamID         string    `json:"teamId"`
	PlayerID       string    `json:"playerId"`
	Points         int       `json:"points"` // 1, 2 or 3
	ScoreType      ScoreType `json:"scoreType"`
	AssistPlayerID string    `json:"assistPlayerId,omitempty"`
}

type FoulPayload struct {
	TeamID      string `json:"teamId"`
	PlayerID    string `json:"playerId"`
	FoulType    string `json:"foulType"` // personal, technical, flagrant, offensive
	Description string `json:"description,omitempty"`
}

type ReboundPayload struct {
	TeamID      string `json:"teamId"`
	PlayerID    string `json:"playerId"`
	ReboundType string `json:"reboundType"` // offensive, defensive
}

type AssistPayload struct {
	TeamID           string `json:"teamId"`
	PlayerID         string `json:"playerId"`
	AssistedPlayerID string `json:"assistedPlayerId"`
}

type StealPayload struct {
	TeamID       string `json:"teamId"`
	PlayerID     string `json:"playerId"`
	FromTeamID   string `json:"fromTeamId"`
	FromPlayerID string `json:"fromPlayerId,omitempty"`
}

type BlockPayload struct {
	TeamID          string `json:"teamId"`
	PlayerID        string `json:"playerId"`
	BlockedTeamID   string `json:"blockedTeamId"`
	BlockedPlayerID string `json:"blockedPlayerId,omitempty"`
}

type TurnoverPayload struct {
	TeamID       string `json:"teamId"`
	PlayerID     string `json:"playerId"`
	TurnoverType string `json:"turnoverType"` // bad_pass, lost_ball, travel, ...
	Description  string `json:"description,omitempty"`
}

type MissedShotPayload struct {
	TeamID   string    `json:"teamId"`
	PlayerID string    `json:"playerId"`
	ShotType ScoreType `json:"shotType"`
}

type SubstitutionPayload struct {
	TeamID      string `json:"teamId"`
	PlayerInID  string `json:"playerInId"`
	PlayerOutID string `json:"playerOutId"`
}

type TimeoutPayload struct {
	TeamID      string `json:"teamId"`
	TimeoutType string `json:"timeoutType"` // regular, technical, official
	Duration    int    `json:"duration"`    // seconds
}

type GameControlPayload struct {
	Action       ControlAction `json:"action"`
	PreviousTime string        `json:"previousTime,omitempty"`
}

type PlayerData struct {
	Name     string `json:"name,omitempty"`
	Number   int    `json:"number,omitempty"`
	Position string `json:"position,omitempty"`
}

type PlayerManagementPayload struct {
	Action     RosterAction `json:"action"`
	TeamID     string       `json:"teamId"`
	PlayerID   string       `json:"playerId"`
	PlayerData *PlayerData  `json:"playerData,omitempty"`
}

type UndoPayload struct {
	TargetEventID string `json:"targetEventId"`
	Reason        string `json:"reason,omitempty"`
}

type SystemPayload struct {
	Action string          `json:"action"` // USER_JOINED, USER_LEFT, SESSION_CREATED, SESSION_ENDED
	UserID string          `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (ScorePayload) isPayload()            {}
func (FoulPayload) isPayload()             {}
func (ReboundPayload) isPayload()          {}
func (AssistPayload) isPayload()           {}
func (StealPayload) isPayload()            {}
func (BlockPayload) isPayload()            {}
func (TurnoverPayload) isPayload()         {}
func (MissedShotPayload) isPayload()       {}
func (SubstitutionPayload) isPayload()     {}
func (TimeoutPayload) isPayload()          {}
func (GameControlPayload) isPayload()      {}
func (PlayerManagementPayload) isPayload() {}
func (UndoPayload) isPayload()             {}
func (SystemPayload) isPayload()           {}

// GameEvent is one immutable, causally stamped domain action.
// Sequence and ServerTimestamp are zero until the store assigns them.
type GameEvent struct {
	ID              string
	SessionID       string
	AuthorID        string
	Sequence        int64
	ServerTimestamp int64 // unix millis
	ClientTimestamp int64 // unix millis
	Quarter         int
	GameClock       string // MM:SS
	Type            Type
	Payload         Payload
}

// wireEvent is the JSON shape; the payload stays raw until the tag is
// known.
type wireEvent struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	AuthorID        string          `json:"authorId"`
	Sequence        int64           `json:"sequence"`
	ServerTimestamp int64           `json:"timestamp"`
	ClientTimestamp int64           `json:"clientTimestamp"`
	Quarter         int             `json:"quarter"`
	GameClock       string          `json:"gameTime"`
	Type            Type            `json:"type"`
	Payload         json.RawMessage `json:"payload"`
}

func (e GameEvent) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:              e.ID,
		SessionID:       e.SessionID,
		AuthorID:        e.AuthorID,
		Sequence:        e.Sequence,
		ServerTimestamp: e.ServerTimestamp,
		ClientTimestamp: e.ClientTimestamp,
		Quarter:         e.Quarter,
		GameClock:       e.GameClock,
		Type:            e.Type,
		Payload:         raw,
	})
}

func (e *GameEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = GameEvent{
		ID:              w.ID,
		SessionID:       w.SessionID,
		AuthorID:        w.AuthorID,
		Sequence:        w.Sequence,
		ServerTimestamp: w.ServerTimestamp,
		ClientTimestamp: w.ClientTimestamp,
		Quarter:         w.Quarter,
		GameClock:       w.GameClock,
		Type:            w.Type,
		Payload:         payload,
	}
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrMissingPayload
	}
	unmarshal := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return v, nil
	}
	switch t {
	case TypeScore:
		return unmarshal(&ScorePayload{})
	case TypeFoul:
		return unmarshal(&FoulPayload{})
	case TypeRebound:
		return unmarshal(&ReboundPayload{})
	case TypeAssist:
		return unmarshal(&AssistPayload{})
	case TypeSteal:
		return unmarshal(&StealPayload{})
	case TypeBlock:
		return unmarshal(&BlockPayload{})
	case TypeTurnover:
		return unmarshal(&TurnoverPayload{})
	case TypeMissedShot:
		return unmarshal(&MissedShotPayload{})
	case TypeSubstitution:
		return unmarshal(&SubstitutionPayload{})
	case TypeTimeout:
		return unmarshal(&TimeoutPayload{})
	case TypeGameControl:
		return unmarshal(&GameControlPayload{})
	case TypePlayerManagement:
		return unmarshal(&PlayerManagementPayload{})
	case TypeUndo:
		return unmarshal(&UndoPayload{})
	case TypeSystem:
		return unmarshal(&SystemPayload{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// Validate enforces the construction invariants. A malformed event is
// rejected here and never enters a log.
func (e GameEvent) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.SessionID == "" {
		return ErrMissingSession
	}
	if e.AuthorID == "" {
		return ErrMissingAuthor
	}
	if e.Payload == nil {
		return ErrMissingPayload
	}
	switch p := e.Payload.(type) {
	case *ScorePayload:
		if p.Points < 1 || p.Points > 3 {
			return fmt.Errorf("%w: score points %d", ErrBadPayload, p.Points)
		}
		if p.ScoreType != ScoreFieldGoal && p.ScoreType != ScoreThreePointer && p.ScoreType != ScoreFreeThrow {
			return fmt.Errorf("%w: score type %q", ErrBadPayload, p.ScoreType)
		}
	case *SubstitutionPayload:
		if p.PlayerInID == "" || p.PlayerOutID == "" {
			return fmt.Errorf("%w: substitution needs both players", ErrBadPayload)
		}
	case *UndoPayload:
		if p.TargetEventID == "" {
			return fmt.Errorf("%w: undo missing target event", ErrBadPayload)
		}
	}
	return nil
}

// NormalizedTimestamp returns the authoritative time for ordering and
// retention: the server stamp once assigned, the client stamp before.
func (e GameEvent) NormalizedTimestamp() int64 {
	if e.ServerTimestamp > 0 {
		return e.ServerTimestamp
	}
	return e.ClientTimestamp
}

// PlayerID extracts the primary player a payload refers to, if any.
// Substitutions report the incoming player.
func (e GameEvent) PlayerID() string {
	switch p := e.Payload.(type) {
	case *ScorePayload:
		return p.PlayerID
	case *FoulPayload:
		return p.PlayerID
	case *ReboundPayload:
		return p.PlayerID
	case *AssistPayload:
		return p.PlayerID
	case *StealPayload:
		return p.PlayerID
	case *BlockPayload:
		return p.PlayerID
	case *TurnoverPayload:
		return p.PlayerID
	case *MissedShotPayload:
		return p.PlayerID
	case *SubstitutionPayload:
		return p.PlayerInID
	case *PlayerManagementPayload:
		return p.PlayerID
	}
	return ""
}

// TeamID extracts the team a payload targets, if any.
func (e GameEvent) TeamID() string {
	switch p := e.Payload.(type) {
	case *ScorePayload:
		return p.TeamID
	case *FoulPayload:
		return p.TeamID
	case *ReboundPayload:
		return p.TeamID
	case *AssistPayload:
		return p.TeamID
	case *StealPayload:
		return p.TeamID
	case *BlockPayload:
		return p.TeamID
	case *TurnoverPayload:
		return p.TeamID
	case *MissedShotPayload:
		return p.TeamID
	case *SubstitutionPayload:
		return p.TeamID
	case *TimeoutPayload:
		return p.TeamID
	case *PlayerManagementPayload:
		return p.TeamID
	}
	return ""
}

package types

// Player is one roster entry plus its accumulated box-score stats.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Number   int    `json:"number"`
	Position string `json:"position"`

	Points                 int `json:"points"`
	Rebounds               int `json:"rebounds"`
	Assists                int `json:"assists"`
	Steals                 int `json:"steals"`
	Blocks                 int `json:"blocks"`
	Fouls                  int `json:"fouls"`
	Turnovers              int `json:"turnovers"`
	FieldGoalsMade         int `json:"fieldGoalsMade"`
	FieldGoalsAttempted    int `json:"fieldGoalsAttempted"`
	ThreePointersMade      int `json:"threePointersMade"`
	ThreePointersAttempted int `json:"threePointersAttempted"`
	FreeThrowsMade         int `json:"freeThrowsMade"`
	FreeThrowsAttempted    int `json:"freeThrowsAttempted"`

	IsOnCourt bool `json:"isOnCourt"`
}

// Team aggregates one side of the scoreboard.
type Team struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Color    string   `json:"color,omitempty"`
	Score    int      `json:"score"`
	Fouls    int      `json:"fouls"`
	Timeouts int      `json:"timeouts"`
	Players  []Player `json:"players"`
}

// EventRef is the compact trace of an applied event kept on the
// snapshot for display and audit.
type EventRef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`
	Quarter  int    `json:"quarter"`
}

// GameSnapshot is the derived state of one session. It is produced
// only by replaying events through the engine; nothing mutates one in
// place.
type GameSnapshot struct {
	SessionID     string           `json:"sessionId"`
	HomeTeam      Team             `json:"homeTeam"`
	AwayTeam      Team             `json:"awayTeam"`
	Quarter       int              `json:"quarter"`
	GameClock     string           `json:"gameClock"`     // MM:SS
	QuarterLength string           `json:"quarterLength"` // MM:SS, clock reset value
	IsRunning     bool             `json:"isRunning"`
	IsPaused      bool             `json:"isPaused"`
	Events        []EventRef       `json:"events"`
	UpdatedAt     int64            `json:"updatedAt"` // unix millis
	ActiveUsers   map[string]int64 `json:"activeUsers,omitempty"`
}

// Clone returns a deep copy so callers can hold a snapshot across
// engine applications without aliasing the team rosters.
func (s GameSnapshot) Clone() GameSnapshot {
	out := s
	out.HomeTeam.Players = append([]Player(nil), s.HomeTeam.Players...)
	out.AwayTeam.Players = append([]Player(nil), s.AwayTeam.Players...)
	out.Events = append([]EventRef(nil), s.Events...)
	if s.ActiveUsers != nil {
		out.ActiveUsers = make(map[string]int64, len(s.ActiveUsers))
		for k, v := range s.ActiveUsers {
			out.ActiveUsers[k] = v
		}
	}
	return out
}

// OnCourtCount reports how many of the team's players are flagged as
// on the floor.
func (t Team) OnCourtCount() int {
	n := 0
	for _, p := range t.Players {
		if p.IsOnCourt {
			n++
		}
	}
	return n
}

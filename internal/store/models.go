package store

// GameSessionRow is the persisted session record. The snapshot and
// active-user map are stored as JSON documents; last_sequence is the
// per-session counter the store hands out to events.
type GameSessionRow struct {
	SessionID    string `gorm:"column:session_id;primaryKey"`
	GameState    []byte `gorm:"column:game_state;type:jsonb"`
	ActiveUsers  []byte `gorm:"column:active_users;type:jsonb"`
	LastSequence int64  `gorm:"column:last_sequence"`
	CreatedAt    int64  `gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt    int64  `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (GameSessionRow) TableName() string { return "game_sessions" }

// GameEventRow is one append-only event record, keyed by
// (session_id, event_id) so duplicate appends collide on the primary
// key and become idempotent no-ops.
type GameEventRow struct {
	SessionID string `gorm:"column:session_id;primaryKey"`
	EventID   string `gorm:"column:event_id;primaryKey"`
	Sequence  int64  `gorm:"column:sequence;index:idx_session_sequence"`
	EventData []byte `gorm:"column:event_data;type:jsonb"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:milli"`
}

func (GameEventRow) TableName() string { return "game_events" }

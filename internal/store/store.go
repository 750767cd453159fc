// Package store is the persistent-store collaborator: point lookups,
// conditional writes and range scans over sessions and events, plus
// the queries the polling change feed and replay path rely on.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

var (
	ErrNotFound      = errors.New("row not found")
	ErrAlreadyExists = errors.New("row already exists")
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to postgres and migrates the two tables.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&GameSessionRow{}, &GameEventRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an existing gorm handle (tests).
func NewWithDB(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// CreateSession inserts a session row, failing with ErrAlreadyExists
// if the id is taken (conditional insert, must-not-already-exist).
func (s *Store) CreateSession(ctx context.Context, snap types.GameSnapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	users, err := json.Marshal(snap.ActiveUsers)
	if err != nil {
		return err
	}

	row := GameSessionRow{
		SessionID:   snap.SessionID,
		GameState:   state,
		ActiveUsers: users,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session %s: %w", snap.SessionID, err)
	}
	return nil
}

// GetSession is the point lookup by session id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (types.GameSnapshot, error) {
	var row GameSessionRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.GameSnapshot{}, ErrNotFound
	}
	if err != nil {
		return types.GameSnapshot{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return decodeSessionRow(row)
}

// UpdateSession overwrites the stored snapshot (conditional update,
// must-already-exist). Last-writer-wins by design.
func (s *Store) UpdateSession(ctx context.Context, snap types.GameSnapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	users, err := json.Marshal(snap.ActiveUsers)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&GameSessionRow{}).
		Where("session_id = ?", snap.SessionID).
		Updates(map[string]any{
			"game_state":   state,
			"active_users": users,
			"updated_at":   time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return fmt.Errorf("update session %s: %w", snap.SessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session row and its events.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&GameEventRow{}, "session_id = ?", sessionID).Error; err != nil {
			return err
		}
		return tx.Delete(&GameSessionRow{}, "session_id = ?", sessionID).Error
	})
}

// SessionExists reports whether the id is taken.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&GameSessionRow{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendEvent stores one event, assigning the next per-session
// sequence and the server timestamp inside a transaction. A duplicate
// event id returns ErrAlreadyExists without consuming a sequence.
func (s *Store) AppendEvent(ctx context.Context, ev event.GameEvent) (int64, int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, 0, err
	}

	var assigned int64
	serverTS := time.Now().UnixMilli()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&GameEventRow{}).
			Where("session_id = ? AND event_id = ?", ev.SessionID, ev.ID).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists > 0 {
			return ErrAlreadyExists
		}

		// Bump the per-session counter and read the assigned value back.
		res := tx.Model(&GameSessionRow{}).
			Where("session_id = ?", ev.SessionID).
			Update("last_sequence", gorm.Expr("last_sequence + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var row GameSessionRow
		if err := tx.Select("last_sequence").First(&row, "session_id = ?", ev.SessionID).Error; err != nil {
			return err
		}
		assigned = row.LastSequence

		stamped := ev
		stamped.Sequence = assigned
		stamped.ServerTimestamp = serverTS
		data, err := json.Marshal(stamped)
		if err != nil {
			return err
		}

		return tx.Create(&GameEventRow{
			SessionID: ev.SessionID,
			EventID:   ev.ID,
			Sequence:  assigned,
			EventData: data,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, 0, ErrAlreadyExists
		}
		return 0, 0, err
	}
	return assigned, serverTS, nil
}

// EventsDesc is the newest-first scan used by the history endpoint.
// Every stored row carries a store-assigned sequence, so ordering by
// it is total and chronological; event ids are opaque and sort in no
// useful order.
func (s *Store) EventsDesc(ctx context.Context, sessionID string, limit int) ([]event.GameEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []GameEventRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("scan events %s: %w", sessionID, err)
	}
	return decodeEventRows(rows, s.log)
}

// EventsAfterSequence is the replay query: applied events with a
// sequence strictly greater than afterSeq, in replay order.
func (s *Store) EventsAfterSequence(ctx context.Context, sessionID string, afterSeq int64) ([]event.GameEvent, error) {
	var rows []GameEventRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND sequence > ?", sessionID, afterSeq).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("replay events %s after %d: %w", sessionID, afterSeq, err)
	}
	return decodeEventRows(rows, s.log)
}

// TouchUserActivity upserts one user's last-seen stamp on the session
// row's active-user map.
func (s *Store) TouchUserActivity(ctx context.Context, sessionID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row GameSessionRow
		if err := tx.First(&row, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		users := map[string]int64{}
		if len(row.ActiveUsers) > 0 {
			_ = json.Unmarshal(row.ActiveUsers, &users)
		}
		users[userID] = time.Now().UnixMilli()
		data, err := json.Marshal(users)
		if err != nil {
			return err
		}

		return tx.Model(&GameSessionRow{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"active_users": data,
				"updated_at":   time.Now().UnixMilli(),
			}).Error
	})
}

// SessionsUpdatedSince backs the polling change feed.
func (s *Store) SessionsUpdatedSince(ctx context.Context, since int64) ([]types.GameSnapshot, error) {
	var rows []GameSessionRow
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.GameSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeSessionRow(row)
		if err != nil {
			s.log.Warn("skipping undecodable session row",
				zap.String("session_id", row.SessionID), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// EventsCreatedSince backs the polling change feed's event side.
func (s *Store) EventsCreatedSince(ctx context.Context, since int64) ([]event.GameEvent, error) {
	var rows []GameEventRow
	err := s.db.WithContext(ctx).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return decodeEventRows(rows, s.log)
}

func decodeSessionRow(row GameSessionRow) (types.GameSnapshot, error) {
	var snap types.GameSnapshot
	if err := json.Unmarshal(row.GameState, &snap); err != nil {
		return types.GameSnapshot{}, fmt.Errorf("decode session %s: %w", row.SessionID, err)
	}
	snap.SessionID = row.SessionID
	snap.UpdatedAt = row.UpdatedAt
	if len(row.ActiveUsers) > 0 {
		users := map[string]int64{}
		if err := json.Unmarshal(row.ActiveUsers, &users); err == nil && len(users) > 0 {
			snap.ActiveUsers = users
		}
	}
	return snap, nil
}

// decodeEventRows drops undecodable rows instead of failing the scan;
// one bad row must not block the feed.
func decodeEventRows(rows []GameEventRow, log *zap.Logger) ([]event.GameEvent, error) {
	out := make([]event.GameEvent, 0, len(rows))
	for _, row := range rows {
		var ev event.GameEvent
		if err := json.Unmarshal(row.EventData, &ev); err != nil {
			log.Warn("skipping undecodable event row",
				zap.String("session_id", row.SessionID),
				zap.String("event_id", row.EventID),
				zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

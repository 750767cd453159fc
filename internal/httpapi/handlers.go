// Package httpapi is the HTTP control surface: session/event CRUD,
// user activity and the webhook ingestion path.
package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/store"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

type API struct {
	store *store.Store
	hub   *hub.Hub
	log   *zap.Logger
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"service":   "courtsync backend",
	})
}

// GenerateSessionID hands out an unused 6-character session code.
func (a *API) GenerateSessionID(w http.ResponseWriter, r *http.Request) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateCode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate code")
			return
		}
		taken, err := a.store.SessionExists(r.Context(), code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check session")
			return
		}
		if !taken {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": code})
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "could not find a free session id")
}

type createSessionRequest struct {
	SessionID string             `json:"sessionId"`
	GameState types.GameSnapshot `json:"gameState"`
}

func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing required field: sessionId")
		return
	}
	req.GameState.SessionID = req.SessionID

	if err := a.store.CreateSession(r.Context(), req.GameState); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "session already exists")
			return
		}
		a.log.Error("create session failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create game session")
		return
	}

	// Seed the log with a marker event so history scans always have an
	// origin row. Best-effort: the session exists either way.
	f := event.NewFactory(req.SessionID, "system")
	sys := f.System(req.GameState.Quarter, req.GameState.GameClock, event.SystemPayload{Action: "SESSION_CREATED"})
	if _, _, err := a.store.AppendEvent(r.Context(), sys); err != nil {
		a.log.Warn("seed session event failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "sessionId": req.SessionID})
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snap, err := a.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game session not found")
			return
		}
		a.log.Error("get session failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get game session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "gameState": snap})
}

type updateSessionRequest struct {
	GameState types.GameSnapshot `json:"gameState"`
}

func (a *API) UpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.GameState.SessionID = sessionID

	if err := a.store.UpdateSession(r.Context(), req.GameState); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game session not found")
			return
		}
		a.log.Error("update session failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update game state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := a.store.DeleteSession(r.Context(), sessionID); err != nil {
		a.log.Error("delete session failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete game session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) SessionExists(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	exists, err := a.store.SessionExists(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "exists": exists})
}

type appendEventRequest struct {
	Event event.GameEvent `json:"event"`
}

// AppendEvent stores one event. Duplicate ids are idempotent
// successes so client retries and webhook redelivery converge.
func (a *API) AppendEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Event.SessionID = sessionID
	if err := req.Event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seq, serverTS, err := a.store.AppendEvent(r.Context(), req.Event)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "game session not found")
		default:
			a.log.Error("append event failed",
				zap.String("session_id", sessionID),
				zap.String("event_id", req.Event.ID),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to add game event")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"sequence":  seq,
		"timestamp": serverTS,
	})
}

// ListEvents returns history (descending scan) or, when afterSequence
// is given, the replay slice in ascending sequence order.
func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if after := r.URL.Query().Get("afterSequence"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid afterSequence")
			return
		}
		events, err := a.store.EventsAfterSequence(r.Context(), sessionID, seq)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get game events")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events, "count": len(events)})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events, err := a.store.EventsDesc(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get game events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events, "count": len(events)})
}

type activityRequest struct {
	UserID string `json:"userId"`
}

func (a *API) TouchActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing required field: userId")
		return
	}

	if err := a.store.TouchUserActivity(r.Context(), sessionID, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update user activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

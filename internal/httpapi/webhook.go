package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/event"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

// tunnelCallback is the payload delivered by an external change feed
// bridge. Type selects which stream the record belongs to.
type tunnelCallback struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TunnelCallback ingests change records delivered over HTTP instead of
// the database feed. Rebroadcasts to subscribers; redelivery of a
// record produces the same broadcast, so the endpoint is safe to
// retry.
func (a *API) TunnelCallback(w http.ResponseWriter, r *http.Request) {
	var cb tunnelCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cb.SessionID == "" || len(cb.Data) == 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: sessionId, data")
		return
	}

	switch cb.Type {
	case "gameState":
		var snap types.GameSnapshot
		if err := json.Unmarshal(cb.Data, &snap); err != nil {
			writeError(w, http.StatusBadRequest, "invalid game state payload")
			return
		}
		snap.SessionID = cb.SessionID
		a.hub.PublishState(cb.SessionID, snap)

	case "gameEvent":
		var ev event.GameEvent
		if err := json.Unmarshal(cb.Data, &ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid game event payload")
			return
		}
		ev.SessionID = cb.SessionID
		a.hub.PublishEvent(cb.SessionID, ev)

	default:
		a.log.Warn("tunnel callback with unknown type", zap.String("type", cb.Type))
		writeError(w, http.StatusBadRequest, "unknown callback type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

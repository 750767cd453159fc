// Package ws bridges websocket connections to the hub. Each
// connection gets a writer goroutine draining its hub outbox and a
// reader loop translating client envelopes into hub messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

// Handler upgrades the request and services the connection until the
// client leaves or the hub evicts it.
func Handler(h *hub.Hub, log *zap.Logger, heartbeatInterval time.Duration, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		outbox := make(chan types.Envelope, outboxSize)

		h.Send(hub.Register{ClientID: clientID, Outbox: outbox})
		defer h.Send(hub.Unregister{ClientID: clientID})

		// Writer: drains the hub outbox. The hub closing the outbox
		// (eviction or shutdown) ends the connection.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range outbox {
				payload, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				werr := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if werr != nil {
					return
				}
			}
			conn.Close(websocket.StatusGoingAway, "dropped by hub")
		}()

		greet(r.Context(), conn, clientID)

		// Reader: a connection that stays silent past two heartbeat
		// windows is abandoned here even before the hub sweep catches
		// it.
		readTimeout := 2 * heartbeatInterval
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var frame types.Envelope
			if err := json.Unmarshal(data, &frame); err != nil {
				writeFrame(r.Context(), conn, types.ErrorEnvelope("invalid message format"))
				continue
			}

			if err := dispatch(h, clientID, frame); err != nil {
				writeFrame(r.Context(), conn, types.ErrorEnvelope(err.Error()))
				continue
			}
			if frame.Type == types.MsgPing {
				writeFrame(r.Context(), conn, types.Envelope{Type: types.MsgPong})
			}
		}
	}
}

var errMissingSession = errors.New("missing sessionId")

func dispatch(h *hub.Hub, clientID string, frame types.Envelope) error {
	switch frame.Type {
	case types.MsgPing:
		h.Send(hub.Heartbeat{ClientID: clientID})
		return nil

	case types.MsgSubscribeSession, types.MsgUnsubscribeSession,
		types.MsgSubscribeEvents, types.MsgUnsubscribeEvents:
		var p types.SubscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SessionID == "" {
			return errMissingSession
		}
		kind := hub.TopicState
		if frame.Type == types.MsgSubscribeEvents || frame.Type == types.MsgUnsubscribeEvents {
			kind = hub.TopicEvents
		}
		if frame.Type == types.MsgSubscribeSession || frame.Type == types.MsgSubscribeEvents {
			h.Send(hub.Subscribe{ClientID: clientID, SessionID: p.SessionID, Kind: kind})
		} else {
			h.Send(hub.Unsubscribe{ClientID: clientID, SessionID: p.SessionID, Kind: kind})
		}
		return nil

	default:
		return errors.New("unknown message type")
	}
}

func greet(ctx context.Context, conn *websocket.Conn, clientID string) {
	frame, err := types.NewEnvelope(types.MsgConnected, types.ConnectedPayload{ClientID: clientID})
	if err != nil {
		return
	}
	writeFrame(ctx, conn, frame)
}

// writeFrame is used for reader-side replies (pong, errors, greeting);
// coder/websocket serializes concurrent writers internally.
func writeFrame(ctx context.Context, conn *websocket.Conn, frame types.Envelope) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

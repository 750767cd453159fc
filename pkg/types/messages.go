package types

import "encoding/json"

// MessageType tags one websocket envelope.
type MessageType string

const (
	// Client -> Server
	MsgSubscribeSession   MessageType = "subscribe_session"
	MsgUnsubscribeSession MessageType = "unsubscribe_session"
	MsgSubscribeEvents    MessageType = "subscribe_events"
	MsgUnsubscribeEvents  MessageType = "unsubscribe_events"
	MsgPing               MessageType = "ping"

	// Server -> Client
	MsgPong             MessageType = "pong"
	MsgConnected        MessageType = "connected"
	MsgGameStateUpdate  MessageType = "game_state_update"
	MsgGameEventsUpdate MessageType = "game_events_update"
	MsgError            MessageType = "error"
)

// Envelope is the wire frame carried in both directions over the
// websocket transport.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SubscribePayload names the session a client wants updates for.
type SubscribePayload struct {
	SessionID string `json:"sessionId"`
}

// ConnectedPayload is sent once after the socket is accepted.
type ConnectedPayload struct {
	ClientID string `json:"clientId"`
}

// StateUpdatePayload carries a full snapshot for a session.
type StateUpdatePayload struct {
	SessionID string       `json:"sessionId"`
	GameState GameSnapshot `json:"gameState"`
}

// EventUpdatePayload carries one newly stored event. The event body is
// kept raw so the envelope layer does not depend on the event model.
type EventUpdatePayload struct {
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// ErrorEnvelope builds an error frame.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: MsgError, Error: msg}
}

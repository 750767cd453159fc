package event

import (
	"time"

	"github.com/google/uuid"
)

// Factory stamps causal metadata onto payloads. It is stateless apart
// from the identity it writes into every event; it never mutates an
// event after construction.
type Factory struct {
	sessionID string
	authorID  string
	now       func() time.Time
}

func NewFactory(sessionID, authorID string) *Factory {
	return &Factory{sessionID: sessionID, authorID: authorID, now: time.Now}
}

func (f *Factory) newEvent(t Type, quarter int, gameClock string, p Payload) GameEvent {
	return GameEvent{
		ID:              uuid.NewString(),
		SessionID:       f.sessionID,
		AuthorID:        f.authorID,
		Sequence:        0, // assigned by the store
		ServerTimestamp: 0, // assigned by the store
		ClientTimestamp: f.now().UnixMilli(),
		Quarter:         quarter,
		GameClock:       gameClock,
		Type:            t,
		Payload:         p,
	}
}

func (f *Factory) Score(quarter int, clock string, p ScorePayload) GameEvent {
	return f.newEvent(TypeScore, quarter, clock, &p)
}

func (f *Factory) Foul(quarter int, clock string, p FoulPayload) GameEvent {
	return f.newEvent(TypeFoul, quarter, clock, &p)
}

func (f *Factory) Rebound(quarter int, clock string, p ReboundPayload) GameEvent {
	return f.newEvent(TypeRebound, quarter, clock, &p)
}

func (f *Factory) Assist(quarter int, clock string, p AssistPayload) GameEvent {
	return f.newEvent(TypeAssist, quarter, clock, &p)
}

func (f *Factory) Steal(quarter int, clock string, p StealPayload) GameEvent {
	return f.newEvent(TypeSteal, quarter, clock, &p)
}

func (f *Factory) Block(quarter int, clock string, p BlockPayload) GameEvent {
	return f.newEvent(TypeBlock, quarter, clock, &p)
}

func (f *Factory) Turnover(quarter int, clock string, p TurnoverPayload) GameEvent {
	return f.newEvent(TypeTurnover, quarter, clock, &p)
}

func (f *Factory) MissedShot(quarter int, clock string, p MissedShotPayload) GameEvent {
	return f.newEvent(TypeMissedShot, quarter, clock, &p)
}

func (f *Factory) Substitution(quarter int, clock string, p SubstitutionPayload) GameEvent {
	return f.newEvent(TypeSubstitution, quarter, clock, &p)
}

func (f *Factory) Timeout(quarter int, clock string, p TimeoutPayload) GameEvent {
	return f.newEvent(TypeTimeout, quarter, clock, &p)
}

func (f *Factory) GameControl(quarter int, clock string, p GameControlPayload) GameEvent {
	return f.newEvent(TypeGameControl, quarter, clock, &p)
}

func (f *Factory) PlayerManagement(quarter int, clock string, p PlayerManagementPayload) GameEvent {
	return f.newEvent(TypePlayerManagement, quarter, clock, &p)
}

func (f *Factory) Undo(quarter int, clock string, p UndoPayload) GameEvent {
	return f.newEvent(TypeUndo, quarter, clock, &p)
}

func (f *Factory) System(quarter int, clock string, p SystemPayload) GameEvent {
	return f.newEvent(TypeSystem, quarter, clock, &p)
}

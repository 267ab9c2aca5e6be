package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// Event types carried through the outbox. The payload of every type is the
// full post-write session snapshot, never a delta, so gateway consumers can
// apply them idempotently and out of order.
const (
	EventRoomCreated         = "RoomCreated"
	EventSettingsUpdated     = "SettingsUpdated"
	EventParticipantJoined   = "ParticipantJoined"
	EventParticipantKicked   = "ParticipantKicked"
	EventParticipantUpdated  = "ParticipantUpdated"
	EventCountdownStarted    = "CountdownStarted"
	EventRaceStarted         = "RaceStarted"
	EventAnswerRecorded      = "AnswerRecorded"
	EventRacingFinished      = "RacingFinished"
	EventRaceFinished        = "RaceFinished"
	EventResponsesBackfilled = "ResponsesBackfilled"
)

// Event represents an outbox row for the application layer.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	RoomCode  string          `json:"room_code"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// NewEvent builds an outbox event whose payload is the given session's full
// snapshot as it was just written.
func NewEvent(eventType string, session *models.Session) (Event, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return Event{}, fmt.Errorf("marshal session snapshot: %w", err)
	}
	return Event{
		ID:        uuid.New(),
		SessionID: session.ID,
		RoomCode:  session.RoomCode,
		EventType: eventType,
		Payload:   payload,
	}, nil
}

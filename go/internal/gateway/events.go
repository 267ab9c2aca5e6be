package gateway

import (
	"encoding/json"
	"time"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
)

// RaceEvent is the wire shape pushed to WebSocket clients. Data always
// carries the full session snapshot the event was written with, so a client
// that misses an event is healed by the next one.
type RaceEvent struct {
	ID        string          `json:"id"`
	RoomCode  string          `json:"room_code"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FromEnvelope converts a relayed stream envelope into the client-facing
// event shape.
func FromEnvelope(env outbox.Envelope) *RaceEvent {
	return &RaceEvent{
		ID:        env.EventID,
		RoomCode:  env.RoomCode,
		Type:      env.EventType,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	}
}

// SessionFromEvent unmarshals the snapshot carried by the event.
func SessionFromEvent(ev *RaceEvent) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(ev.Data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

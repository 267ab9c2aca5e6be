package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle phase of a race session.
// Transitions are forward-only; there is no way back to an earlier phase.
type SessionStatus string

const (
	SessionStatusWaiting          SessionStatus = "WAITING"
	SessionStatusCountdownPending SessionStatus = "COUNTDOWN_PENDING"
	SessionStatusActive           SessionStatus = "ACTIVE"
	SessionStatusFinished         SessionStatus = "FINISHED"
)

// Difficulty selects which slice of the question bank a room plays with.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// RoomSettings holds JSONB configuration for a session, fixed by the host
// before the countdown can start.
type RoomSettings struct {
	TotalTimeMinutes int        `json:"total_time_minutes"`
	QuestionCount    int        `json:"question_count"`
	Difficulty       Difficulty `json:"difficulty"`
}

// Session represents one race room. Participants, the frozen question set and
// per-player responses are embedded JSONB arrays on the row; the row is the
// single source of truth and Version guards every read-modify-write.
type Session struct {
	ID                 uuid.UUID     `json:"id"`
	RoomCode           string        `json:"room_code"`
	Status             SessionStatus `json:"status"`
	Settings           RoomSettings  `json:"settings"`
	Participants       []Participant `json:"participants"`
	Questions          []Question    `json:"questions"`
	Responses          []Response    `json:"responses"`
	CountdownStartedAt *time.Time    `json:"countdown_started_at,omitempty"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	FinalizedAt        *time.Time    `json:"finalized_at,omitempty"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// DurationSeconds returns the configured quiz duration in seconds.
func (s *Session) DurationSeconds() int {
	return s.Settings.TotalTimeMinutes * 60
}

// FindParticipant returns the participant with the given id, or nil if the
// id is not in the roster (the definition of "kicked").
func (s *Session) FindParticipant(id uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// FindResponse returns the response belonging to the given participant, or
// nil if the participant has not recorded anything yet.
func (s *Session) FindResponse(participantID uuid.UUID) *Response {
	for i := range s.Responses {
		if s.Responses[i].Participant == participantID {
			return &s.Responses[i]
		}
	}
	return nil
}

package room

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrVersionConflict     = errors.New("session version conflict")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// CreateRoomRequest creates a new session. Settings are optional; absent
// fields fall back to the defaults.
type CreateRoomRequest struct {
	Settings *models.RoomSettings `json:"settings,omitempty"`
}

// JoinRoomRequest appends a participant to a room. The client may bring its
// own id (persisted in browser storage so reloads re-associate); a nil id
// gets a fresh one.
type JoinRoomRequest struct {
	ParticipantID *uuid.UUID `json:"participant_id,omitempty"`
	Nickname      string     `json:"nickname"`
	Car           models.Car `json:"car,omitempty"`
}

// UpdateSettingsRequest replaces the room settings and refreezes the
// question set. Only valid while the room is waiting.
type UpdateSettingsRequest struct {
	TotalTimeMinutes int               `json:"total_time_minutes"`
	QuestionCount    int               `json:"question_count"`
	Difficulty       models.Difficulty `json:"difficulty"`
}

// DefaultSettings are used when the host creates a room without any.
func DefaultSettings() models.RoomSettings {
	return models.RoomSettings{
		TotalTimeMinutes: 5,
		QuestionCount:    10,
		Difficulty:       models.DifficultyEasy,
	}
}

// allowedTransitions is the forward-only lifecycle. There is no path back to
// an earlier phase and FINISHED is terminal.
var allowedTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusWaiting:          {models.SessionStatusCountdownPending},
	models.SessionStatusCountdownPending: {models.SessionStatusActive},
	models.SessionStatusActive:           {models.SessionStatusFinished},
	models.SessionStatusFinished:         {},
}

// ValidateTransition checks the lifecycle table. Same-status is rejected;
// callers that want idempotent no-ops check for it before transitioning.
func ValidateTransition(from, to models.SessionStatus) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, from)
	}
	for _, allowed := range next {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// roomCodeLen is what fits on a party screen and a phone keyboard.
const roomCodeLen = 6

// NewRoomCode returns a short shareable code. Ambiguous characters (0/O, 1/I)
// are excluded from the alphabet.
func NewRoomCode() string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, roomCodeLen)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// ValidateNickname enforces the 2-20 character display name bounds.
func ValidateNickname(nickname string) error {
	if n := len([]rune(nickname)); n < 2 || n > 20 {
		return fmt.Errorf("nickname must be 2-20 characters, got %d", n)
	}
	return nil
}

// ValidateSettings rejects settings no session could play.
func ValidateSettings(s models.RoomSettings) error {
	if s.TotalTimeMinutes <= 0 {
		return fmt.Errorf("total_time_minutes must be greater than 0")
	}
	if s.QuestionCount <= 0 {
		return fmt.Errorf("question_count must be greater than 0")
	}
	switch s.Difficulty {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
		return nil
	default:
		return fmt.Errorf("invalid difficulty: %s", s.Difficulty)
	}
}

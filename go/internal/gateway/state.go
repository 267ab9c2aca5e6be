package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/crazyrace/crazyrace/go/internal/countdown"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/roster"
)

// RoomState is the monitor view of one room, derived from the latest
// snapshot. Remaining times are computed from stored timestamps at read time,
// so polling clients converge on the same value regardless of when their last
// update arrived.
type RoomState struct {
	RoomCode           string                `json:"room_code"`
	Status             models.SessionStatus `json:"status"`
	Roster             []roster.Entry       `json:"roster"`
	CountdownRemaining int                  `json:"countdown_remaining"`
	RaceRemaining      int                  `json:"race_remaining"`
	ServerTime         time.Time            `json:"server_time"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// RoomStateManager keeps the latest session snapshot per room code. It is
// written by the event consumer goroutine and read by HTTP handlers.
type RoomStateManager struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	appliedAt map[string]time.Time
	rules     models.GameRules
}

// NewRoomStateManager creates a new state manager.
func NewRoomStateManager(rules models.GameRules) *RoomStateManager {
	return &RoomStateManager{
		sessions:  make(map[string]*models.Session),
		appliedAt: make(map[string]time.Time),
		rules:     rules,
	}
}

// ApplyEvent replaces the stored snapshot with the one carried by the event.
// A snapshot older than the stored one (by version) is ignored; events can
// arrive out of order after a consumer redelivery.
func (m *RoomStateManager) ApplyEvent(ev *RaceEvent) error {
	s, err := SessionFromEvent(ev)
	if err != nil {
		return fmt.Errorf("decode session snapshot: %w", err)
	}
	if s.RoomCode == "" {
		return fmt.Errorf("snapshot for event %s has no room code", ev.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.RoomCode]; ok && prev.Version > s.Version {
		return nil
	}
	m.sessions[s.RoomCode] = s
	m.appliedAt[s.RoomCode] = time.Now()
	return nil
}

// Seed stores a snapshot fetched from the database, used on a cold-start
// read before any event has arrived for the room.
func (m *RoomStateManager) Seed(s *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.RoomCode]; ok && prev.Version >= s.Version {
		return
	}
	m.sessions[s.RoomCode] = s
	m.appliedAt[s.RoomCode] = time.Now()
}

// Rules returns the game rules the manager derives timers with.
func (m *RoomStateManager) Rules() models.GameRules {
	return m.rules
}

// Session returns the stored snapshot for a room, or nil.
func (m *RoomStateManager) Session(roomCode string) *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[roomCode]
}

// State derives the monitor view for a room at now. Returns nil when the
// room is unknown.
func (m *RoomStateManager) State(roomCode string, now time.Time) *RoomState {
	m.mu.RLock()
	s, ok := m.sessions[roomCode]
	applied := m.appliedAt[roomCode]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	entries := roster.Derive(s)
	if s.Status == models.SessionStatusActive {
		roster.SortLive(entries)
	}

	state := &RoomState{
		RoomCode:   s.RoomCode,
		Status:     s.Status,
		Roster:     entries,
		ServerTime: now,
		UpdatedAt:  applied,
	}
	if s.Status == models.SessionStatusCountdownPending && s.CountdownStartedAt != nil {
		state.CountdownRemaining = countdown.Remaining(now, *s.CountdownStartedAt,
			time.Duration(m.rules.CountdownSeconds)*time.Second)
	}
	if s.Status == models.SessionStatusActive && s.StartedAt != nil {
		state.RaceRemaining = countdown.Remaining(now, *s.StartedAt,
			time.Duration(s.DurationSeconds())*time.Second)
	}
	return state
}

// Prune drops finished rooms whose last update is older than maxAge. Live
// rooms are kept regardless of age.
func (m *RoomStateManager) Prune(now time.Time, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for code, s := range m.sessions {
		if s.Status != models.SessionStatusFinished {
			continue
		}
		if now.Sub(m.appliedAt[code]) > maxAge {
			delete(m.sessions, code)
			delete(m.appliedAt, code)
			removed++
		}
	}
	return removed
}

// Package roster recomputes the derived participant view from a full session
// snapshot. Every update carries the complete row, never a diff, so Derive is
// deliberately a pure function of the snapshot: feeding the same snapshot
// twice yields the same roster, and a missed intermediate update is corrected
// by the next one.
package roster

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// Entry is one participant's derived display state.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	Nickname        string    `json:"nickname"`
	Car             models.Car `json:"car"`
	JoinedAt        time.Time `json:"joined_at"`
	CurrentQuestion int       `json:"current_question"`
	TotalQuestion   int       `json:"total_question"`
	Racing          bool      `json:"racing"`
	IsComplete      bool      `json:"is_complete"`
	Score           int       `json:"score"`
}

// Derive recomputes every participant's entry from the snapshot. Participants
// without a response yet get zero progress.
func Derive(s *models.Session) []Entry {
	entries := make([]Entry, 0, len(s.Participants))
	for _, p := range s.Participants {
		e := Entry{
			ID:            p.ID,
			Nickname:      p.Nickname,
			Car:           p.Car,
			JoinedAt:      p.JoinedAt,
			TotalQuestion: len(s.Questions),
		}
		if r := s.FindResponse(p.ID); r != nil {
			e.CurrentQuestion = r.CurrentQuestion
			e.TotalQuestion = r.TotalQuestion
			e.Racing = r.Racing
			e.IsComplete = r.TotalQuestion > 0 && r.CurrentQuestion == r.TotalQuestion
			e.Score = r.Score
		}
		entries = append(entries, e)
	}
	return entries
}

// Contains reports whether id is still present in the roster. A client whose
// id disappears from a snapshot has been kicked and must navigate away.
func Contains(participants []models.Participant, id uuid.UUID) bool {
	for _, p := range participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ViewerFirst reorders entries so the viewer's own entry leads, keeping join
// order for everyone else.
func ViewerFirst(entries []Entry, viewer uuid.UUID) []Entry {
	out := make([]Entry, 0, len(entries))
	rest := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID == viewer {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	return append(out, rest...)
}

// SortLive orders entries for the in-progress host monitor: completed first,
// then players currently in the mini-game, then by progress, earliest joiner
// breaking remaining ties. This is intentionally a different ordering from
// the final leaderboard's score-first sort.
func SortLive(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsComplete != b.IsComplete {
			return a.IsComplete
		}
		if a.Racing != b.Racing {
			return a.Racing
		}
		if a.CurrentQuestion != b.CurrentQuestion {
			return a.CurrentQuestion > b.CurrentQuestion
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
}

// Package rank computes the final leaderboard. It is a pure function over
// the session's stored participants, responses and frozen question set: no
// I/O, reproducible across runs.
package rank

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank         int        `json:"rank"`
	Participant  uuid.UUID  `json:"participant"`
	Nickname     string     `json:"nickname"`
	Car          models.Car `json:"car"`
	FinalScore   int        `json:"final_score"`
	Correct      int        `json:"correct"`
	Total        int        `json:"total"`
	Accuracy     string     `json:"accuracy"`
	TotalSeconds int        `json:"total_seconds"`
}

// Accuracy formats correct/total as a two-decimal percentage string, the
// same representation stored on responses.
func Accuracy(correct, total int) string {
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(correct)/float64(total)*100)
}

// Replay recounts correct answers by checking each stored answer against the
// frozen question set. Stored is_correct flags are not trusted; partial or
// legacy records replay to the same result as fresh ones.
func Replay(answers []models.Answer, questions []models.Question) int {
	byID := make(map[uuid.UUID]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	correct := 0
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		if a.SelectedAnswer == q.CorrectOption {
			correct++
		}
	}
	return correct
}

// Leaderboard ranks every participant that recorded a response. Scores sort
// descending; equal scores break by lower total answer time, then by earlier
// join. Participants whose answer list is empty (AFK backfill) stay on the
// board with a zero score.
func Leaderboard(s *models.Session, rules models.GameRules) []Entry {
	joined := make(map[uuid.UUID]time.Time, len(s.Participants))
	entries := make([]Entry, 0, len(s.Responses))

	for _, p := range s.Participants {
		joined[p.ID] = p.JoinedAt
		r := s.FindResponse(p.ID)
		if r == nil {
			continue
		}

		total := r.TotalQuestion
		if total == 0 {
			total = len(s.Questions)
		}

		e := Entry{
			Participant: p.ID,
			Nickname:    p.Nickname,
			Car:         p.Car,
			Total:       total,
		}
		if r.Answered() {
			e.Correct = Replay(r.Answers, s.Questions)
			e.FinalScore = rules.FinalScore(e.Correct)
			for _, a := range r.Answers {
				e.TotalSeconds += a.TimeTaken
			}
		}
		e.Accuracy = Accuracy(e.Correct, total)
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.TotalSeconds != b.TotalSeconds {
			return a.TotalSeconds < b.TotalSeconds
		}
		return joined[a.Participant].Before(joined[b.Participant])
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Podium splits a ranked board into the top three and the remainder.
func Podium(entries []Entry) (top []Entry, rest []Entry) {
	if len(entries) <= 3 {
		return entries, nil
	}
	return entries[:3], entries[3:]
}

// Package finalize closes out the books of a finished race. Players who went
// AFK mid-game never post a result, which would leave holes in the
// leaderboard; BackfillResponses synthesizes their zero records.
package finalize

import (
	"github.com/crazyrace/crazyrace/go/internal/models"
)

// BackfillResponses gives every participant without a single recorded answer
// a completed zero response. Responses that contain answers are left exactly
// as stored, partial runs keep the credit they earned. Returns whether the
// snapshot was modified.
func BackfillResponses(s *models.Session) bool {
	total := len(s.Questions)
	changed := false

	for _, p := range s.Participants {
		r := s.FindResponse(p.ID)
		if r != nil && r.Answered() {
			continue
		}
		if r != nil && afkRecord(r, total) {
			continue
		}

		synth := models.Response{
			Participant:     p.ID,
			Score:           0,
			Correct:         0,
			Accuracy:        "0.00",
			CurrentQuestion: total,
			TotalQuestion:   total,
			Answers:         []models.Answer{},
			Racing:          false,
			Completion:      true,
		}
		if r == nil {
			s.Responses = append(s.Responses, synth)
		} else {
			*r = synth
		}
		changed = true
	}
	return changed
}

// afkRecord reports whether r is already the synthesized zero record, so a
// second backfill pass is a no-op.
func afkRecord(r *models.Response, total int) bool {
	return r.Completion && !r.Racing &&
		r.Score == 0 && r.Correct == 0 && r.Accuracy == "0.00" &&
		r.CurrentQuestion == total && r.TotalQuestion == total
}

package finalize

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

func finishedSession() (*models.Session, []uuid.UUID) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	answered := uuid.New()
	partial := uuid.New()
	emptyRec := uuid.New()
	noRec := uuid.New()

	return &models.Session{
		Status: models.SessionStatusFinished,
		Participants: []models.Participant{
			{ID: answered, Nickname: "Nova", JoinedAt: base},
			{ID: partial, Nickname: "Bolt", JoinedAt: base.Add(time.Second)},
			{ID: emptyRec, Nickname: "Idle", JoinedAt: base.Add(2 * time.Second)},
			{ID: noRec, Nickname: "Ghost", JoinedAt: base.Add(3 * time.Second)},
		},
		Questions: make([]models.Question, 4),
		Responses: []models.Response{
			{Participant: answered, Score: 450, Correct: 4, Accuracy: "100.00",
				CurrentQuestion: 4, TotalQuestion: 4, Completion: true,
				Answers: make([]models.Answer, 4)},
			{Participant: partial, Score: 150, Correct: 1, Accuracy: "25.00",
				CurrentQuestion: 2, TotalQuestion: 4,
				Answers: make([]models.Answer, 2)},
			// Joined the race but never answered: response row exists, empty.
			{Participant: emptyRec, TotalQuestion: 4, Racing: true},
		},
	}, []uuid.UUID{answered, partial, emptyRec, noRec}
}

func TestBackfillSynthesizesMissingAndEmpty(t *testing.T) {
	s, ids := finishedSession()

	if !BackfillResponses(s) {
		t.Fatal("backfill over AFK players should report a change")
	}
	if len(s.Responses) != 4 {
		t.Fatalf("expected 4 responses after backfill, got %d", len(s.Responses))
	}

	for _, id := range []uuid.UUID{ids[2], ids[3]} {
		r := s.FindResponse(id)
		if r == nil {
			t.Fatalf("participant %s has no response after backfill", id)
		}
		if r.Score != 0 || r.Correct != 0 || r.Accuracy != "0.00" {
			t.Errorf("synthesized record carries score: %+v", r)
		}
		if !r.Completion || r.Racing {
			t.Errorf("synthesized record not closed out: %+v", r)
		}
		if r.CurrentQuestion != 4 || r.TotalQuestion != 4 {
			t.Errorf("synthesized cursor %d/%d, want 4/4", r.CurrentQuestion, r.TotalQuestion)
		}
		if len(r.Answers) != 0 {
			t.Errorf("synthesized record should have no answers, got %d", len(r.Answers))
		}
	}
}

func TestBackfillLeavesRecordedAnswersUntouched(t *testing.T) {
	s, ids := finishedSession()

	before := *s.FindResponse(ids[1])
	BackfillResponses(s)
	after := s.FindResponse(ids[1])

	// Partial credit survives: the two recorded answers and their score stay.
	if after.Score != before.Score || after.Correct != before.Correct ||
		after.CurrentQuestion != before.CurrentQuestion ||
		after.Completion != before.Completion ||
		len(after.Answers) != len(before.Answers) {
		t.Errorf("partial response mutated by backfill: %+v vs %+v", before, *after)
	}

	full := s.FindResponse(ids[0])
	if full.Score != 450 || !full.Completion {
		t.Errorf("completed response mutated by backfill: %+v", *full)
	}
}

func TestBackfillIdempotent(t *testing.T) {
	s, _ := finishedSession()

	BackfillResponses(s)
	if BackfillResponses(s) {
		t.Error("second backfill pass should be a no-op")
	}
	if len(s.Responses) != 4 {
		t.Errorf("second pass changed response count to %d", len(s.Responses))
	}
}

func TestBackfillNoParticipants(t *testing.T) {
	s := &models.Session{Status: models.SessionStatusFinished}
	if BackfillResponses(s) {
		t.Error("empty session should not report a change")
	}
}

package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
	"github.com/crazyrace/crazyrace/go/internal/room"
)

type fakeSessions struct {
	byCode map[string]*models.Session
	events []outbox.Event
}

func (f *fakeSessions) GetSessionByCode(_ context.Context, code string) (*models.Session, error) {
	s, ok := f.byCode[code]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	raw, _ := json.Marshal(s)
	var out models.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out.Version = s.Version
	return &out, nil
}

func (f *fakeSessions) UpdateSessionCAS(_ context.Context, s *models.Session, ev outbox.Event) error {
	stored := f.byCode[s.RoomCode]
	if stored.Version != s.Version {
		return room.ErrVersionConflict
	}
	s.Version++
	f.byCode[s.RoomCode] = s
	f.events = append(f.events, ev)
	return nil
}

type fakeBank struct {
	questions []models.Question
}

func (f fakeBank) ListQuestionsByDifficulty(_ context.Context, d models.Difficulty) ([]models.Question, error) {
	var out []models.Question
	for _, q := range f.questions {
		if q.Difficulty == d {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeCache struct {
	marks map[uuid.UUID]time.Time
	sets  map[string][]models.Question
}

func (f *fakeCache) StoreFrozenSet(_ context.Context, roomCode string, questions []models.Question) error {
	if f.sets == nil {
		f.sets = make(map[string][]models.Question)
	}
	f.sets[roomCode] = questions
	return nil
}

func (f *fakeCache) FrozenSet(_ context.Context, roomCode string) ([]models.Question, bool, error) {
	qs, ok := f.sets[roomCode]
	return qs, ok, nil
}

func (f *fakeCache) MarkAnswered(_ context.Context, _ string, id uuid.UUID, at time.Time) error {
	if f.marks == nil {
		f.marks = make(map[uuid.UUID]time.Time)
	}
	f.marks[id] = at
	return nil
}

func (f *fakeCache) LastAnsweredAt(_ context.Context, _ string, id uuid.UUID) (time.Time, bool, error) {
	at, ok := f.marks[id]
	return at, ok, nil
}

func activeSession(questionCount int) (*models.Session, uuid.UUID) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	participant := uuid.New()

	questions := make([]models.Question, questionCount)
	for i := range questions {
		questions[i] = models.Question{
			ID:            uuid.New(),
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: i % 4,
			Difficulty:    models.DifficultyEasy,
		}
	}

	return &models.Session{
		ID:       uuid.New(),
		RoomCode: "ABC123",
		Status:   models.SessionStatusActive,
		Settings: models.RoomSettings{TotalTimeMinutes: 5, QuestionCount: questionCount, Difficulty: models.DifficultyEasy},
		Participants: []models.Participant{
			{ID: participant, Nickname: "Nova", Car: models.CarRed, JoinedAt: start.Add(-time.Minute)},
		},
		Questions: questions,
		Responses: []models.Response{},
		StartedAt: &start,
		Version:   1,
	}, participant
}

func newQuizApp(s *models.Session) (*App, *fakeSessions, *clockwork.FakeClock) {
	repo := &fakeSessions{byCode: map[string]*models.Session{s.RoomCode: s}}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	app := NewApp(repo, fakeBank{}, &fakeCache{}, clock, models.DefaultGameRules())
	return app, repo, clock
}

func answer(t *testing.T, app *App, s *models.Session, p uuid.UUID, questionIx, selected int) *models.Session {
	t.Helper()
	after, err := app.RecordAnswer(context.Background(), s.RoomCode, RecordAnswerRequest{
		ParticipantID:  p,
		QuestionID:     s.Questions[questionIx].ID,
		SelectedAnswer: selected,
		TimeTaken:      2,
	})
	if err != nil {
		t.Fatalf("RecordAnswer question %d: %v", questionIx, err)
	}
	return after
}

func TestRecordAnswerScoring(t *testing.T) {
	s, p := activeSession(6)
	app, _, _ := newQuizApp(s)
	rules := models.DefaultGameRules()

	after := answer(t, app, s, p, 0, s.Questions[0].CorrectOption)
	r := after.FindResponse(p)
	if r.Correct != 1 || r.Score != rules.FinalScore(1) {
		t.Errorf("first correct answer: correct=%d score=%d, want score %d", r.Correct, r.Score, rules.FinalScore(1))
	}
	if r.CurrentQuestion != 1 || r.Accuracy != "100.00" {
		t.Errorf("cursor=%d accuracy=%q after one correct answer", r.CurrentQuestion, r.Accuracy)
	}

	wrong := (s.Questions[1].CorrectOption + 1) % 4
	after = answer(t, app, s, p, 1, wrong)
	r = after.FindResponse(p)
	if r.Correct != 1 || r.Accuracy != "50.00" {
		t.Errorf("after one wrong answer: correct=%d accuracy=%q", r.Correct, r.Accuracy)
	}
	// A wrong answer keeps the bonus but earns no points.
	if r.Score != rules.FinalScore(1) {
		t.Errorf("score after a wrong answer = %d, want %d", r.Score, rules.FinalScore(1))
	}
	if r.Answers[1].IsCorrect {
		t.Error("wrong answer flagged correct")
	}
}

func TestRacingEveryThirdQuestion(t *testing.T) {
	s, p := activeSession(6)
	app, _, _ := newQuizApp(s)

	var after *models.Session
	for i := 0; i < 6; i++ {
		after = answer(t, app, s, p, i, s.Questions[i].CorrectOption)
		r := after.FindResponse(p)

		wantRacing := (i+1)%3 == 0 && i != 5 // completion clears the flag
		if r.Racing != wantRacing {
			t.Errorf("after question %d: racing=%v, want %v", i+1, r.Racing, wantRacing)
		}
	}

	r := after.FindResponse(p)
	if !r.Completion {
		t.Fatal("answering every question should complete the run")
	}
	if r.Score != models.DefaultGameRules().FinalScore(6) {
		t.Errorf("final score %d, want %d", r.Score, models.DefaultGameRules().FinalScore(6))
	}
}

func TestRecordAnswerIdempotent(t *testing.T) {
	s, p := activeSession(6)
	app, repo, _ := newQuizApp(s)

	answer(t, app, s, p, 0, s.Questions[0].CorrectOption)
	events := len(repo.events)

	after := answer(t, app, s, p, 0, s.Questions[0].CorrectOption)
	r := after.FindResponse(p)
	if len(r.Answers) != 1 || r.Correct != 1 {
		t.Errorf("duplicate submit changed the record: %+v", r)
	}
	if len(repo.events) != events {
		t.Error("duplicate submit should not emit an event")
	}
}

func TestRecordAnswerRejections(t *testing.T) {
	s, p := activeSession(6)
	app, _, _ := newQuizApp(s)
	ctx := context.Background()

	_, err := app.RecordAnswer(ctx, s.RoomCode, RecordAnswerRequest{
		ParticipantID: p, QuestionID: uuid.New(), SelectedAnswer: 0,
	})
	if !errors.Is(err, ErrQuestionNotInSet) {
		t.Errorf("unknown question: got %v, want ErrQuestionNotInSet", err)
	}

	_, err = app.RecordAnswer(ctx, s.RoomCode, RecordAnswerRequest{
		ParticipantID: uuid.New(), QuestionID: s.Questions[0].ID, SelectedAnswer: 0,
	})
	if !errors.Is(err, room.ErrParticipantNotFound) {
		t.Errorf("kicked participant: got %v, want ErrParticipantNotFound", err)
	}

	s.Status = models.SessionStatusFinished
	_, err = app.RecordAnswer(ctx, s.RoomCode, RecordAnswerRequest{
		ParticipantID: p, QuestionID: s.Questions[0].ID, SelectedAnswer: 0,
	})
	if !errors.Is(err, room.ErrInvalidTransition) {
		t.Errorf("finished room: got %v, want ErrInvalidTransition", err)
	}
}

func TestRacingFinished(t *testing.T) {
	s, p := activeSession(6)
	app, repo, _ := newQuizApp(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		answer(t, app, s, p, i, 0)
	}

	after, err := app.RacingFinished(ctx, s.RoomCode, p)
	if err != nil {
		t.Fatalf("RacingFinished: %v", err)
	}
	if after.FindResponse(p).Racing {
		t.Error("racing flag should be cleared")
	}

	// Clearing again is a no-op.
	events := len(repo.events)
	if _, err := app.RacingFinished(ctx, s.RoomCode, p); err != nil {
		t.Fatalf("second RacingFinished: %v", err)
	}
	if len(repo.events) != events {
		t.Error("second clear should not emit an event")
	}
}

func TestTimeTakenDerivedFromMarks(t *testing.T) {
	s, p := activeSession(6)
	app, _, clock := newQuizApp(s)
	ctx := context.Background()

	// No client-reported time: first answer derives from race start.
	clock.Advance(7 * time.Second)
	after, err := app.RecordAnswer(ctx, s.RoomCode, RecordAnswerRequest{
		ParticipantID: p, QuestionID: s.Questions[0].ID, SelectedAnswer: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := after.FindResponse(p).Answers[0].TimeTaken; got != 7 {
		t.Errorf("first derived time_taken = %d, want 7", got)
	}

	// Second answer derives from the previous answer's mark.
	clock.Advance(4 * time.Second)
	after, err = app.RecordAnswer(ctx, s.RoomCode, RecordAnswerRequest{
		ParticipantID: p, QuestionID: s.Questions[1].ID, SelectedAnswer: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := after.FindResponse(p).Answers[1].TimeTaken; got != 4 {
		t.Errorf("second derived time_taken = %d, want 4", got)
	}
}

func TestFreezeQuestionSet(t *testing.T) {
	bank := fakeBank{}
	for i := 0; i < 20; i++ {
		d := models.DifficultyEasy
		if i%2 == 0 {
			d = models.DifficultyHard
		}
		bank.questions = append(bank.questions, models.Question{ID: uuid.New(), Difficulty: d})
	}

	app := NewApp(nil, bank, &fakeCache{}, clockwork.NewFakeClock(), models.DefaultGameRules())
	ctx := context.Background()

	frozen, err := app.FreezeQuestionSet(ctx, "ABC123", models.RoomSettings{
		TotalTimeMinutes: 5, QuestionCount: 4, Difficulty: models.DifficultyHard,
	})
	if err != nil {
		t.Fatalf("FreezeQuestionSet: %v", err)
	}
	if len(frozen) != 4 {
		t.Errorf("frozen %d questions, want 4", len(frozen))
	}
	for _, q := range frozen {
		if q.Difficulty != models.DifficultyHard {
			t.Errorf("frozen set leaked difficulty %s", q.Difficulty)
		}
	}

	_, err = app.FreezeQuestionSet(ctx, "ABC123", models.RoomSettings{
		TotalTimeMinutes: 5, QuestionCount: 4, Difficulty: models.DifficultyMedium,
	})
	if !errors.Is(err, ErrEmptyBank) {
		t.Errorf("empty difficulty slice: got %v, want ErrEmptyBank", err)
	}
}

func TestQuestionSetCacheAside(t *testing.T) {
	s, _ := activeSession(4)
	app, repo, _ := newQuizApp(s)
	ctx := context.Background()

	// Cold cache: the set comes off the session row, and the read primes the
	// cache.
	qs, err := app.QuestionSet(ctx, s.RoomCode)
	if err != nil {
		t.Fatalf("QuestionSet: %v", err)
	}
	if len(qs) != 4 || qs[0].ID != s.Questions[0].ID {
		t.Fatalf("cold read returned wrong set: %d questions", len(qs))
	}

	// Warm cache: empty the stored row to prove the second read never
	// touches it.
	repo.byCode[s.RoomCode].Questions = nil
	qs, err = app.QuestionSet(ctx, s.RoomCode)
	if err != nil {
		t.Fatalf("warm QuestionSet: %v", err)
	}
	if len(qs) != 4 {
		t.Errorf("warm read returned %d questions, want 4 from the cache", len(qs))
	}
}

func TestQuestionSetUnknownRoom(t *testing.T) {
	s, _ := activeSession(4)
	app, _, _ := newQuizApp(s)

	if _, err := app.QuestionSet(context.Background(), "ZZZZZZ"); !errors.Is(err, room.ErrRoomNotFound) {
		t.Errorf("unknown room: got %v, want ErrRoomNotFound", err)
	}
}

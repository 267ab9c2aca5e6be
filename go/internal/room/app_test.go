package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
)

// fakeRepo keeps sessions in memory with real version semantics: gets hand
// out copies, CAS writes fail unless the version still matches.
type fakeRepo struct {
	sessions  map[uuid.UUID]*models.Session
	byCode    map[string]uuid.UUID
	events    []outbox.Event
	conflicts int // fail this many CAS writes before accepting
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]*models.Session),
		byCode:   make(map[string]uuid.UUID),
	}
}

func (f *fakeRepo) CreateSession(_ context.Context, s *models.Session, ev outbox.Event) error {
	s.Version = 1
	f.sessions[s.ID] = copySession(s)
	f.byCode[s.RoomCode] = s.ID
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return copySession(s), nil
}

func (f *fakeRepo) GetSessionByCode(_ context.Context, code string) (*models.Session, error) {
	id, ok := f.byCode[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return copySession(f.sessions[id]), nil
}

func (f *fakeRepo) UpdateSessionCAS(_ context.Context, s *models.Session, ev outbox.Event) error {
	stored, ok := f.sessions[s.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if f.conflicts > 0 {
		f.conflicts--
		// Simulate a concurrent writer winning the race.
		stored.Version++
		return ErrVersionConflict
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	f.sessions[s.ID] = copySession(s)
	f.events = append(f.events, ev)
	return nil
}

func copySession(s *models.Session) *models.Session {
	raw, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	var out models.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	out.Version = s.Version
	return &out
}

type fakeFreezer struct{}

func (fakeFreezer) FreezeQuestionSet(_ context.Context, _ string, settings models.RoomSettings) ([]models.Question, error) {
	qs := make([]models.Question, settings.QuestionCount)
	for i := range qs {
		qs[i] = models.Question{ID: uuid.New(), Difficulty: settings.Difficulty}
	}
	return qs, nil
}

func newTestApp(repo *fakeRepo) (*App, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewApp(repo, fakeFreezer{}, clock, models.DefaultGameRules()), clock
}

func mustCreate(t *testing.T, app *App) *models.Session {
	t.Helper()
	s, err := app.CreateRoom(context.Background(), CreateRoomRequest{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return s
}

func mustJoin(t *testing.T, app *App, code, nickname string) *models.Participant {
	t.Helper()
	p, _, err := app.Join(context.Background(), code, JoinRoomRequest{Nickname: nickname})
	if err != nil {
		t.Fatalf("Join %s: %v", nickname, err)
	}
	return p
}

func TestCreateRoomDefaults(t *testing.T) {
	repo := newFakeRepo()
	app, _ := newTestApp(repo)

	s := mustCreate(t, app)

	if len(s.RoomCode) != roomCodeLen {
		t.Errorf("room code %q, want %d characters", s.RoomCode, roomCodeLen)
	}
	if strings.ContainsAny(s.RoomCode, "01IO") {
		t.Errorf("room code %q contains ambiguous characters", s.RoomCode)
	}
	if s.Status != models.SessionStatusWaiting {
		t.Errorf("new room status %s, want WAITING", s.Status)
	}
	if len(s.Questions) != DefaultSettings().QuestionCount {
		t.Errorf("frozen %d questions, want %d", len(s.Questions), DefaultSettings().QuestionCount)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != outbox.EventRoomCreated {
		t.Errorf("expected one RoomCreated event, got %+v", repo.events)
	}
}

func TestRoomCodesVary(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[NewRoomCode()] = true
	}
	if len(seen) < 45 {
		t.Errorf("50 generated codes collapsed to %d distinct values", len(seen))
	}
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to models.SessionStatus
		ok       bool
	}{
		{models.SessionStatusWaiting, models.SessionStatusCountdownPending, true},
		{models.SessionStatusCountdownPending, models.SessionStatusActive, true},
		{models.SessionStatusActive, models.SessionStatusFinished, true},
		{models.SessionStatusWaiting, models.SessionStatusActive, false},
		{models.SessionStatusActive, models.SessionStatusWaiting, false},
		{models.SessionStatusFinished, models.SessionStatusActive, false},
		{models.SessionStatusCountdownPending, models.SessionStatusWaiting, false},
		{models.SessionStatusWaiting, models.SessionStatusWaiting, false},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if c.ok && err != nil {
			t.Errorf("%s -> %s should be allowed: %v", c.from, c.to, err)
		}
		if !c.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s should be rejected", c.from, c.to)
		}
	}
}

func TestJoinAssignsDistinctCars(t *testing.T) {
	app, _ := newTestApp(newFakeRepo())
	s := mustCreate(t, app)

	seen := make(map[models.Car]bool)
	for i := 0; i < len(models.CarPalette); i++ {
		p := mustJoin(t, app, s.RoomCode, fmt.Sprintf("racer-%d", i))
		if seen[p.Car] {
			t.Errorf("car %s handed out twice before palette exhausted", p.Car)
		}
		seen[p.Car] = true
	}
}

func TestJoinValidation(t *testing.T) {
	app, _ := newTestApp(newFakeRepo())
	s := mustCreate(t, app)
	ctx := context.Background()

	if _, _, err := app.Join(ctx, s.RoomCode, JoinRoomRequest{Nickname: "x"}); err == nil {
		t.Error("one-character nickname should be rejected")
	}
	if _, _, err := app.Join(ctx, s.RoomCode, JoinRoomRequest{Nickname: strings.Repeat("x", 21)}); err == nil {
		t.Error("21-character nickname should be rejected")
	}
	if _, _, err := app.Join(ctx, s.RoomCode, JoinRoomRequest{Nickname: "Nova", Car: "TEAL"}); err == nil {
		t.Error("off-palette car should be rejected")
	}
	if _, _, err := app.Join(ctx, "ZZZZZZ", JoinRoomRequest{Nickname: "Nova"}); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("unknown room: got %v, want ErrRoomNotFound", err)
	}
}

func TestJoinRejoinIsNoop(t *testing.T) {
	repo := newFakeRepo()
	app, _ := newTestApp(repo)
	s := mustCreate(t, app)
	ctx := context.Background()

	id := uuid.New()
	req := JoinRoomRequest{ParticipantID: &id, Nickname: "Nova"}
	if _, _, err := app.Join(ctx, s.RoomCode, req); err != nil {
		t.Fatalf("first join: %v", err)
	}
	events := len(repo.events)

	_, after, err := app.Join(ctx, s.RoomCode, req)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(after.Participants) != 1 {
		t.Errorf("rejoin duplicated the participant: %d entries", len(after.Participants))
	}
	if len(repo.events) != events {
		t.Error("rejoin no-op should not emit an event")
	}
}

func TestKick(t *testing.T) {
	app, _ := newTestApp(newFakeRepo())
	s := mustCreate(t, app)
	ctx := context.Background()

	p1 := mustJoin(t, app, s.RoomCode, "Nova")
	p2 := mustJoin(t, app, s.RoomCode, "Bolt")

	after, err := app.Kick(ctx, s.RoomCode, p1.ID)
	if err != nil {
		t.Fatalf("Kick: %v", err)
	}
	if after.FindParticipant(p1.ID) != nil {
		t.Error("kicked participant still present in snapshot")
	}
	if after.FindParticipant(p2.ID) == nil {
		t.Error("kick removed the wrong participant")
	}

	if _, err := app.Kick(ctx, s.RoomCode, uuid.New()); !errors.Is(err, ErrParticipantNotFound) {
		t.Errorf("kicking a stranger: got %v, want ErrParticipantNotFound", err)
	}
}

func TestStartCountdown(t *testing.T) {
	app, clock := newTestApp(newFakeRepo())
	s := mustCreate(t, app)
	ctx := context.Background()

	if _, err := app.StartCountdown(ctx, s.RoomCode); err == nil {
		t.Error("countdown in an empty room should be rejected")
	}

	mustJoin(t, app, s.RoomCode, "Nova")
	after, err := app.StartCountdown(ctx, s.RoomCode)
	if err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if after.Status != models.SessionStatusCountdownPending {
		t.Errorf("status %s, want COUNTDOWN_PENDING", after.Status)
	}
	if after.CountdownStartedAt == nil || !after.CountdownStartedAt.Equal(clock.Now().UTC()) {
		t.Errorf("countdown_started_at not stamped with now: %v", after.CountdownStartedAt)
	}

	if _, err := app.StartCountdown(ctx, s.RoomCode); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second countdown: got %v, want ErrInvalidTransition", err)
	}
}

func TestActivateAndFinish(t *testing.T) {
	repo := newFakeRepo()
	app, _ := newTestApp(repo)
	s := mustCreate(t, app)
	ctx := context.Background()

	mustJoin(t, app, s.RoomCode, "Nova")
	if _, err := app.Activate(ctx, s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("activating a waiting room: got %v, want ErrInvalidTransition", err)
	}

	if _, err := app.StartCountdown(ctx, s.RoomCode); err != nil {
		t.Fatal(err)
	}
	active, err := app.Activate(ctx, s.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if active.Status != models.SessionStatusActive || active.StartedAt == nil {
		t.Errorf("activation did not start the race: %+v", active.Status)
	}
	if active.CountdownStartedAt != nil {
		t.Error("activation should clear countdown_started_at")
	}

	// Duplicate deadline firing is a no-op.
	events := len(repo.events)
	if _, err := app.Activate(ctx, s.ID); err != nil {
		t.Fatalf("duplicate Activate: %v", err)
	}
	if len(repo.events) != events {
		t.Error("duplicate activation should not emit an event")
	}

	done, err := app.Finish(ctx, s.ID)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != models.SessionStatusFinished || done.EndedAt == nil {
		t.Errorf("finish did not close the race: %s", done.Status)
	}
	if _, err := app.Finish(ctx, s.ID); err != nil {
		t.Errorf("finishing twice should be a no-op, got %v", err)
	}
}

func TestMutationRetriesOnVersionConflict(t *testing.T) {
	repo := newFakeRepo()
	app, _ := newTestApp(repo)
	s := mustCreate(t, app)
	ctx := context.Background()

	repo.conflicts = maxCASRetries - 1
	if _, _, err := app.Join(ctx, s.RoomCode, JoinRoomRequest{Nickname: "Nova"}); err != nil {
		t.Errorf("join should survive %d conflicts: %v", maxCASRetries-1, err)
	}

	repo.conflicts = maxCASRetries
	_, _, err := app.Join(ctx, s.RoomCode, JoinRoomRequest{Nickname: "Bolt"})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("join should give up after %d conflicts with ErrVersionConflict, got %v", maxCASRetries, err)
	}
}

func TestBackfillAFKRunsOnce(t *testing.T) {
	repo := newFakeRepo()
	app, _ := newTestApp(repo)
	s := mustCreate(t, app)
	ctx := context.Background()

	p := mustJoin(t, app, s.RoomCode, "Ghost")
	if _, err := app.StartCountdown(ctx, s.RoomCode); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Activate(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Finish(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	after, err := app.BackfillAFK(ctx, s.ID)
	if err != nil {
		t.Fatalf("BackfillAFK: %v", err)
	}
	if after.FinalizedAt == nil {
		t.Error("backfill should stamp finalized_at")
	}
	r := after.FindResponse(p.ID)
	if r == nil || !r.Completion || r.Score != 0 {
		t.Errorf("AFK participant not backfilled: %+v", r)
	}

	events := len(repo.events)
	if _, err := app.BackfillAFK(ctx, s.ID); err != nil {
		t.Fatalf("second BackfillAFK: %v", err)
	}
	if len(repo.events) != events {
		t.Error("second backfill should be a no-op without an event")
	}
}

func TestUpdateSettingsOnlyWhileWaiting(t *testing.T) {
	app, _ := newTestApp(newFakeRepo())
	s := mustCreate(t, app)
	ctx := context.Background()

	updated, err := app.UpdateSettings(ctx, s.RoomCode, UpdateSettingsRequest{
		TotalTimeMinutes: 3, QuestionCount: 6, Difficulty: models.DifficultyHard,
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if len(updated.Questions) != 6 {
		t.Errorf("refrozen set has %d questions, want 6", len(updated.Questions))
	}
	if updated.Settings.Difficulty != models.DifficultyHard {
		t.Errorf("difficulty %s, want HARD", updated.Settings.Difficulty)
	}

	mustJoin(t, app, s.RoomCode, "Nova")
	if _, err := app.StartCountdown(ctx, s.RoomCode); err != nil {
		t.Fatal(err)
	}
	_, err = app.UpdateSettings(ctx, s.RoomCode, UpdateSettingsRequest{
		TotalTimeMinutes: 1, QuestionCount: 1, Difficulty: models.DifficultyEasy,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("settings after countdown: got %v, want ErrInvalidTransition", err)
	}
}

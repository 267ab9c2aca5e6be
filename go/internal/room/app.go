package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/finalize"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
)

// maxCASRetries bounds how often a mutation re-reads after losing the
// version race before giving up.
const maxCASRetries = 3

// codeAttempts bounds room code generation against collisions.
const codeAttempts = 5

// SessionRepository defines what the app layer needs from the repository.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *models.Session, ev outbox.Event) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	UpdateSessionCAS(ctx context.Context, s *models.Session, ev outbox.Event) error
}

// QuestionFreezer freezes a question set for a room at settings time.
type QuestionFreezer interface {
	FreezeQuestionSet(ctx context.Context, roomCode string, settings models.RoomSettings) ([]models.Question, error)
}

// Waker is nudged when a mutation creates a sooner deadline, typically the
// scheduler.
type Waker interface {
	Wake()
}

// App handles room lifecycle business logic.
type App struct {
	repo    SessionRepository
	freezer QuestionFreezer
	clock   clockwork.Clock
	rules   models.GameRules
	waker   Waker
}

func NewApp(repo SessionRepository, freezer QuestionFreezer, clock clockwork.Clock, rules models.GameRules) *App {
	return &App{
		repo:    repo,
		freezer: freezer,
		clock:   clock,
		rules:   rules,
	}
}

// SetWaker attaches the scheduler nudge; wired at startup.
func (a *App) SetWaker(w Waker) {
	a.waker = w
}

func (a *App) wake() {
	if a.waker != nil {
		a.waker.Wake()
	}
}

// CreateRoom creates a waiting session with a fresh room code and a question
// set frozen from the initial settings.
func (a *App) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Session, error) {
	settings := DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	code, err := a.freshRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	questions, err := a.freezer.FreezeQuestionSet(ctx, code, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze question set: %w", err)
	}

	s := &models.Session{
		ID:           uuid.New(),
		RoomCode:     code,
		Status:       models.SessionStatusWaiting,
		Settings:     settings,
		Participants: []models.Participant{},
		Questions:    questions,
		Responses:    []models.Response{},
	}

	ev, err := outbox.NewEvent(outbox.EventRoomCreated, s)
	if err != nil {
		return nil, err
	}
	if err := a.repo.CreateSession(ctx, s, ev); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("room_code", s.RoomCode).
		Str("session_id", s.ID.String()).
		Msg("room created")
	return s, nil
}

// GetRoom returns the current full snapshot for a room code.
func (a *App) GetRoom(ctx context.Context, code string) (*models.Session, error) {
	s, err := a.repo.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", code, err)
	}
	return s, nil
}

// GetSession returns the snapshot by id, used by the scheduler.
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// UpdateSettings replaces the room settings while waiting and refreezes the
// question set to match.
func (a *App) UpdateSettings(ctx context.Context, code string, req UpdateSettingsRequest) (*models.Session, error) {
	settings := models.RoomSettings{
		TotalTimeMinutes: req.TotalTimeMinutes,
		QuestionCount:    req.QuestionCount,
		Difficulty:       req.Difficulty,
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	questions, err := a.freezer.FreezeQuestionSet(ctx, code, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze question set: %w", err)
	}

	return a.mutateByCode(ctx, code, outbox.EventSettingsUpdated, func(s *models.Session) error {
		if s.Status != models.SessionStatusWaiting {
			return fmt.Errorf("%w: settings are frozen once status is %s", ErrInvalidTransition, s.Status)
		}
		s.Settings = settings
		s.Questions = questions
		return nil
	})
}

// Join appends a participant to the roster. Allowed until the race goes
// active; a rejoin with a known id is a no-op returning the current state.
func (a *App) Join(ctx context.Context, code string, req JoinRoomRequest) (*models.Participant, *models.Session, error) {
	if err := ValidateNickname(req.Nickname); err != nil {
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}
	if req.Car != "" && !models.ValidCar(req.Car) {
		return nil, nil, fmt.Errorf("validation failed: invalid car %s", req.Car)
	}

	id := uuid.New()
	if req.ParticipantID != nil && *req.ParticipantID != uuid.Nil {
		id = *req.ParticipantID
	}

	s, err := a.mutateByCode(ctx, code, outbox.EventParticipantJoined, func(s *models.Session) error {
		if existing := s.FindParticipant(id); existing != nil {
			return errNoop
		}
		switch s.Status {
		case models.SessionStatusWaiting, models.SessionStatusCountdownPending:
		default:
			return fmt.Errorf("%w: cannot join a room with status %s", ErrInvalidTransition, s.Status)
		}
		s.Participants = append(s.Participants, models.Participant{
			ID:       id,
			Nickname: req.Nickname,
			Car:      a.pickCar(s, req.Car),
			JoinedAt: a.clock.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	p := s.FindParticipant(id)
	if p == nil {
		return nil, nil, fmt.Errorf("participant %s: %w", id, ErrParticipantNotFound)
	}
	log.Info().
		Str("room_code", code).
		Str("participant_id", id.String()).
		Str("nickname", p.Nickname).
		Msg("participant joined")
	return p, s, nil
}

// Kick removes a participant from the roster. Removal of the array element
// is the whole mechanism; the kicked client notices its id is gone from the
// next snapshot.
func (a *App) Kick(ctx context.Context, code string, participantID uuid.UUID) (*models.Session, error) {
	s, err := a.mutateByCode(ctx, code, outbox.EventParticipantKicked, func(s *models.Session) error {
		if s.Status == models.SessionStatusFinished {
			return fmt.Errorf("%w: room already finished", ErrInvalidTransition)
		}
		for i, p := range s.Participants {
			if p.ID == participantID {
				s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("participant %s: %w", participantID, ErrParticipantNotFound)
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("room_code", code).
		Str("participant_id", participantID.String()).
		Msg("participant kicked")
	return s, nil
}

// UpdateCar changes a participant's car before the race goes active.
func (a *App) UpdateCar(ctx context.Context, code string, participantID uuid.UUID, car models.Car) (*models.Session, error) {
	if !models.ValidCar(car) {
		return nil, fmt.Errorf("validation failed: invalid car %s", car)
	}
	return a.updateParticipant(ctx, code, participantID, func(p *models.Participant) {
		p.Car = car
	})
}

// UpdateNickname changes a participant's display name before the race goes
// active.
func (a *App) UpdateNickname(ctx context.Context, code string, participantID uuid.UUID, nickname string) (*models.Session, error) {
	if err := ValidateNickname(nickname); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return a.updateParticipant(ctx, code, participantID, func(p *models.Participant) {
		p.Nickname = nickname
	})
}

func (a *App) updateParticipant(ctx context.Context, code string, participantID uuid.UUID, apply func(*models.Participant)) (*models.Session, error) {
	return a.mutateByCode(ctx, code, outbox.EventParticipantUpdated, func(s *models.Session) error {
		switch s.Status {
		case models.SessionStatusWaiting, models.SessionStatusCountdownPending:
		default:
			return fmt.Errorf("%w: profile is locked once status is %s", ErrInvalidTransition, s.Status)
		}
		p := s.FindParticipant(participantID)
		if p == nil {
			return fmt.Errorf("participant %s: %w", participantID, ErrParticipantNotFound)
		}
		apply(p)
		return nil
	})
}

// StartCountdown stamps the shared countdown start. Clients derive the
// remaining seconds from this absolute timestamp; the scheduler arms the
// activation deadline off the same instant.
func (a *App) StartCountdown(ctx context.Context, code string) (*models.Session, error) {
	s, err := a.mutateByCode(ctx, code, outbox.EventCountdownStarted, func(s *models.Session) error {
		if err := ValidateTransition(s.Status, models.SessionStatusCountdownPending); err != nil {
			return err
		}
		if len(s.Participants) == 0 {
			return fmt.Errorf("cannot start countdown with an empty room")
		}
		now := a.clock.Now().UTC()
		s.Status = models.SessionStatusCountdownPending
		s.CountdownStartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.wake()
	log.Info().
		Str("room_code", code).
		Time("countdown_started_at", *s.CountdownStartedAt).
		Msg("countdown started")
	return s, nil
}

// Activate flips a pending countdown into the running race. Called by the
// scheduler when the countdown deadline fires; already-active sessions are a
// no-op so a duplicate firing is harmless.
func (a *App) Activate(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := a.mutateByID(ctx, id, outbox.EventRaceStarted, func(s *models.Session) error {
		if s.Status == models.SessionStatusActive || s.Status == models.SessionStatusFinished {
			return errNoop
		}
		if err := ValidateTransition(s.Status, models.SessionStatusActive); err != nil {
			return err
		}
		now := a.clock.Now().UTC()
		s.Status = models.SessionStatusActive
		s.StartedAt = &now
		s.CountdownStartedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Status == models.SessionStatusActive {
		a.wake()
		log.Info().
			Str("room_code", s.RoomCode).
			Msg("race started")
	}
	return s, nil
}

// Finish ends the race, either by the host or by the duration deadline.
// Finishing a finished session is a no-op.
func (a *App) Finish(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := a.mutateByID(ctx, id, outbox.EventRaceFinished, func(s *models.Session) error {
		if s.Status == models.SessionStatusFinished {
			return errNoop
		}
		if err := ValidateTransition(s.Status, models.SessionStatusFinished); err != nil {
			return err
		}
		now := a.clock.Now().UTC()
		s.Status = models.SessionStatusFinished
		s.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.wake()
	log.Info().
		Str("room_code", s.RoomCode).
		Msg("race finished")
	return s, nil
}

// FinishByCode is the host-initiated end of race.
func (a *App) FinishByCode(ctx context.Context, code string) (*models.Session, error) {
	s, err := a.repo.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", code, err)
	}
	return a.Finish(ctx, s.ID)
}

// BackfillAFK runs once per session after the finalize grace period: players
// who never answered get their zero records so the leaderboard is complete.
// Stamping finalized_at makes the sweep terminal even when nothing needed
// backfilling.
func (a *App) BackfillAFK(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := a.mutateByID(ctx, id, outbox.EventResponsesBackfilled, func(s *models.Session) error {
		if s.Status != models.SessionStatusFinished {
			return fmt.Errorf("%w: cannot backfill a session with status %s", ErrInvalidTransition, s.Status)
		}
		if s.FinalizedAt != nil {
			return errNoop
		}
		changed := finalize.BackfillResponses(s)
		now := a.clock.Now().UTC()
		s.FinalizedAt = &now
		if changed {
			log.Info().
				Str("room_code", s.RoomCode).
				Msg("backfilled AFK responses")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// errNoop aborts a mutation without error: the read snapshot is returned
// unchanged and no event is written.
var errNoop = errors.New("mutation is a no-op")

// mutateByCode runs the read-modify-CAS-write loop. A lost version race
// re-reads and reapplies fn on the fresh snapshot, at most maxCASRetries
// times, so concurrent writers serialize instead of clobbering each other.
func (a *App) mutateByCode(ctx context.Context, code string, eventType string, fn func(*models.Session) error) (*models.Session, error) {
	return a.mutate(ctx, eventType, fn, func() (*models.Session, error) {
		return a.repo.GetSessionByCode(ctx, code)
	})
}

func (a *App) mutateByID(ctx context.Context, id uuid.UUID, eventType string, fn func(*models.Session) error) (*models.Session, error) {
	return a.mutate(ctx, eventType, fn, func() (*models.Session, error) {
		return a.repo.GetSession(ctx, id)
	})
}

func (a *App) mutate(ctx context.Context, eventType string, fn func(*models.Session) error, read func() (*models.Session, error)) (*models.Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		s, err := read()
		if err != nil {
			return nil, err
		}

		if err := fn(s); err != nil {
			if errors.Is(err, errNoop) {
				return s, nil
			}
			return nil, err
		}

		ev, err := outbox.NewEvent(eventType, s)
		if err != nil {
			return nil, err
		}

		err = a.repo.UpdateSessionCAS(ctx, s, ev)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		log.Debug().
			Str("event_type", eventType).
			Int("attempt", attempt+1).
			Msg("version conflict, retrying")
	}
	return nil, fmt.Errorf("mutation gave up after %d attempts: %w", maxCASRetries, lastErr)
}

// pickCar honors an explicit choice and otherwise hands out the first car
// not already taken, wrapping around when the palette is exhausted.
func (a *App) pickCar(s *models.Session, requested models.Car) models.Car {
	if requested != "" {
		return requested
	}
	taken := make(map[models.Car]bool, len(s.Participants))
	for _, p := range s.Participants {
		taken[p.Car] = true
	}
	for _, c := range models.CarPalette {
		if !taken[c] {
			return c
		}
	}
	return models.CarPalette[len(s.Participants)%len(models.CarPalette)]
}

func (a *App) freshRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := NewRoomCode()
		_, err := a.repo.GetSessionByCode(ctx, code)
		if errors.Is(err, ErrRoomNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check room code: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate a free room code in %d attempts", codeAttempts)
}

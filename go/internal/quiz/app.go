package quiz

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/outbox"
	"github.com/crazyrace/crazyrace/go/internal/rank"
	"github.com/crazyrace/crazyrace/go/internal/room"
)

// maxCASRetries matches the room app's bound on version-race retries.
const maxCASRetries = 3

// SessionRepository defines what the quiz app needs from the session store.
type SessionRepository interface {
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	UpdateSessionCAS(ctx context.Context, s *models.Session, ev outbox.Event) error
}

// QuestionBank defines what the quiz app needs from the question bank.
type QuestionBank interface {
	ListQuestionsByDifficulty(ctx context.Context, difficulty models.Difficulty) ([]models.Question, error)
}

// SetCache is the best-effort Redis layer: a frozen set copy for cheap reads
// and per-participant answer marks for server-side time_taken. Misses and
// failures degrade to the session snapshot, never to an error for the player.
type SetCache interface {
	StoreFrozenSet(ctx context.Context, roomCode string, questions []models.Question) error
	FrozenSet(ctx context.Context, roomCode string) ([]models.Question, bool, error)
	MarkAnswered(ctx context.Context, roomCode string, participantID uuid.UUID, at time.Time) error
	LastAnsweredAt(ctx context.Context, roomCode string, participantID uuid.UUID) (time.Time, bool, error)
}

// App handles quiz business logic: freezing question sets and recording
// answers against them.
type App struct {
	repo  SessionRepository
	bank  QuestionBank
	cache SetCache
	clock clockwork.Clock
	rules models.GameRules
}

func NewApp(repo SessionRepository, bank QuestionBank, cache SetCache, clock clockwork.Clock, rules models.GameRules) *App {
	return &App{
		repo:  repo,
		bank:  bank,
		cache: cache,
		clock: clock,
		rules: rules,
	}
}

// FreezeQuestionSet draws a shuffled, truncated copy of the bank for the
// room. The copy is immutable for the session's lifetime: later bank edits
// never affect a running race.
func (a *App) FreezeQuestionSet(ctx context.Context, roomCode string, settings models.RoomSettings) ([]models.Question, error) {
	bank, err := a.bank.ListQuestionsByDifficulty(ctx, settings.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank questions: %w", err)
	}
	if len(bank) == 0 {
		return nil, fmt.Errorf("difficulty %s: %w", settings.Difficulty, ErrEmptyBank)
	}

	frozen := make([]models.Question, len(bank))
	copy(frozen, bank)
	rand.Shuffle(len(frozen), func(i, j int) { frozen[i], frozen[j] = frozen[j], frozen[i] })
	if len(frozen) > settings.QuestionCount {
		frozen = frozen[:settings.QuestionCount]
	}

	if err := a.cache.StoreFrozenSet(ctx, roomCode, frozen); err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("failed to cache frozen set")
	}

	log.Info().
		Str("room_code", roomCode).
		Str("difficulty", string(settings.Difficulty)).
		Int("count", len(frozen)).
		Msg("froze question set")
	return frozen, nil
}

// QuestionSet returns the room's frozen question set, serving from the cache
// and falling back to the session row on a miss. The fallback re-primes the
// cache so the next read hits.
func (a *App) QuestionSet(ctx context.Context, roomCode string) ([]models.Question, error) {
	qs, ok, err := a.cache.FrozenSet(ctx, roomCode)
	if err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("failed to read cached question set")
	}
	if ok {
		return qs, nil
	}

	s, err := a.repo.GetSessionByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if err := a.cache.StoreFrozenSet(ctx, roomCode, s.Questions); err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("failed to cache frozen set")
	}
	return s.Questions, nil
}

// RecordAnswer checks the answer against the frozen set and folds it into
// the participant's response. Submitting the same question twice is a no-op
// returning current state, so client retries are safe.
func (a *App) RecordAnswer(ctx context.Context, roomCode string, req RecordAnswerRequest) (*models.Session, error) {
	s, err := a.mutate(ctx, roomCode, outbox.EventAnswerRecorded, func(s *models.Session) error {
		if s.Status != models.SessionStatusActive {
			return fmt.Errorf("%w: cannot answer in status %s", room.ErrInvalidTransition, s.Status)
		}
		if s.FindParticipant(req.ParticipantID) == nil {
			return fmt.Errorf("participant %s: %w", req.ParticipantID, room.ErrParticipantNotFound)
		}

		q := findQuestion(s.Questions, req.QuestionID)
		if q == nil {
			return fmt.Errorf("question %s: %w", req.QuestionID, ErrQuestionNotInSet)
		}

		r := s.FindResponse(req.ParticipantID)
		if r == nil {
			s.Responses = append(s.Responses, models.Response{
				Participant:   req.ParticipantID,
				Accuracy:      "0.00",
				TotalQuestion: len(s.Questions),
				Answers:       []models.Answer{},
			})
			r = &s.Responses[len(s.Responses)-1]
		}
		if r.Completion || hasAnswer(r.Answers, req.QuestionID) {
			return errNoop
		}

		answer := models.Answer{
			QuestionID:     req.QuestionID,
			SelectedAnswer: req.SelectedAnswer,
			TimeTaken:      a.timeTaken(ctx, s, r, req),
			IsCorrect:      req.SelectedAnswer == q.CorrectOption,
		}
		r.Answers = append(r.Answers, answer)

		if answer.IsCorrect {
			r.Correct++
		}
		r.CurrentQuestion = len(r.Answers)
		r.DurationSec += answer.TimeTaken
		if max := s.DurationSeconds(); r.DurationSec > max {
			r.DurationSec = max
		}
		r.Accuracy = rank.Accuracy(r.Correct, r.CurrentQuestion)
		// The participation bonus accretes from the first answer on, the same
		// formula the leaderboard applies.
		r.Score = a.rules.FinalScore(r.Correct)

		if r.CurrentQuestion == r.TotalQuestion {
			r.Completion = true
			r.Racing = false
		} else if a.rules.RacingEvery > 0 && r.CurrentQuestion%a.rules.RacingEvery == 0 {
			// Every n-th question drops the player into the mini-game.
			r.Racing = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := a.cache.MarkAnswered(ctx, roomCode, req.ParticipantID, a.clock.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("failed to mark answer time")
	}
	return s, nil
}

// RacingFinished clears the mini-game flag once the game frame reports the
// run is over. Clearing an already-clear flag is a no-op.
func (a *App) RacingFinished(ctx context.Context, roomCode string, participantID uuid.UUID) (*models.Session, error) {
	return a.mutate(ctx, roomCode, outbox.EventRacingFinished, func(s *models.Session) error {
		if s.FindParticipant(participantID) == nil {
			return fmt.Errorf("participant %s: %w", participantID, room.ErrParticipantNotFound)
		}
		r := s.FindResponse(participantID)
		if r == nil || !r.Racing {
			return errNoop
		}
		r.Racing = false
		return nil
	})
}

// timeTaken prefers the client-reported duration and otherwise derives it
// from the answer marks: time since the previous answer, or since the race
// start for the first question. Capped at the configured total so a stale
// mark cannot produce absurd values.
func (a *App) timeTaken(ctx context.Context, s *models.Session, r *models.Response, req RecordAnswerRequest) int {
	max := s.DurationSeconds()

	taken := req.TimeTaken
	if taken <= 0 {
		since := s.StartedAt
		if at, ok, err := a.cache.LastAnsweredAt(ctx, s.RoomCode, req.ParticipantID); err == nil && ok {
			since = &at
		} else if err != nil {
			log.Warn().Err(err).Str("room_code", s.RoomCode).Msg("failed to read answer mark")
		}
		if since != nil {
			taken = int(a.clock.Now().UTC().Sub(*since).Seconds())
		}
	}

	if taken < 0 {
		taken = 0
	}
	if taken > max {
		taken = max
	}
	return taken
}

var errNoop = errors.New("mutation is a no-op")

func (a *App) mutate(ctx context.Context, code string, eventType string, fn func(*models.Session) error) (*models.Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		s, err := a.repo.GetSessionByCode(ctx, code)
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
		if !errors.Is(err, room.ErrVersionConflict) {
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

func findQuestion(questions []models.Question, id uuid.UUID) *models.Question {
	for i := range questions {
		if questions[i].ID == id {
			return &questions[i]
		}
	}
	return nil
}

func hasAnswer(answers []models.Answer, questionID uuid.UUID) bool {
	for _, a := range answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

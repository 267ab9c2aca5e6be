// Package scheduler drives the wall-clock transitions a client never asks
// for: countdown expiry into the running race, the race duration into
// finished, and the post-finish grace into the AFK backfill. Deadlines are
// derived from the session rows, so a restarted scheduler picks up exactly
// where the last one stopped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/countdown"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/room"
)

// Clock is the time source. Production uses clockwork.NewRealClock(), tests
// a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// RoomApp defines what the scheduler needs from the room application.
type RoomApp interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Finish(ctx context.Context, id uuid.UUID) (*models.Session, error)
	BackfillAFK(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// DeadlineRepository defines what the scheduler needs from the session
// repository.
type DeadlineRepository interface {
	FetchNextDeadline(ctx context.Context, countdown, grace time.Duration) (*room.NextDeadline, error)
	FetchSessionsDue(ctx context.Context, countdown, grace time.Duration, limit int32) ([]uuid.UUID, error)
}

type Scheduler struct {
	app        RoomApp
	repo       DeadlineRepository
	clock      Clock
	rules      models.GameRules
	batchSize  int32
	wakeCh     chan struct{}
	instanceID string

	numWorkers int
	workCh     chan uuid.UUID

	// Track in-flight sessions to prevent duplicate processing.
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

func New(app RoomApp, repo DeadlineRepository, rules models.GameRules, batchSize int32) *Scheduler {
	numWorkers := 4
	return &Scheduler{
		app:        app,
		repo:       repo,
		clock:      clockwork.NewRealClock(),
		rules:      rules,
		batchSize:  batchSize,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],

		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler after a mutation created a sooner deadline, so a
// fresh countdown does not wait out the idle poll.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) countdownDuration() time.Duration {
	return time.Duration(s.rules.CountdownSeconds) * time.Second
}

// Run loops forever, sleeping until the next deadline and dispatching due
// sessions to the worker pool.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("all workers shut down")
	}()

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	const idlePollDuration = 5 * time.Second
	// Cap the sleep so a missed wake only delays a far deadline, not forever.
	const maxWait = 30 * time.Second

	for {
		select {
		case <-s.wakeCh:
		default:
		}

		nd, err := s.repo.FetchNextDeadline(ctx, s.countdownDuration(), s.rules.FinalizeGrace)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch next deadline")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if nd == nil {
			timer.Reset(idlePollDuration)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during idle")
				return nil
			case <-s.wakeCh:
				continue
			}
		}

		wait := nd.Deadline.Sub(s.clock.Now())
		if wait > maxWait {
			wait = maxWait
		}
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during wait")
				return nil
			case <-s.wakeCh:
				continue
			}
		}

		due, err := s.repo.FetchSessionsDue(ctx, s.countdownDuration(), s.rules.FinalizeGrace, s.batchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch due sessions")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, id := range due {
			s.inFlightMu.Lock()
			if s.inFlight[id] {
				s.inFlightMu.Unlock()
				continue
			}
			s.inFlight[id] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, id)
				s.inFlightMu.Unlock()
				return nil
			case s.workCh <- id:
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.workCh:
			if !ok {
				return
			}
			if err := s.handleDue(ctx, id); err != nil {
				log.Error().
					Err(err).
					Str("session_id", id.String()).
					Int("worker_id", workerID).
					Msg("failed to handle due session")
			}
			s.inFlightMu.Lock()
			delete(s.inFlight, id)
			s.inFlightMu.Unlock()
		}
	}
}

// handleDue re-reads the session and applies whichever transition its phase
// is waiting on. The re-read makes a stale queue entry harmless: a session
// someone else already moved along simply is not due anymore.
func (s *Scheduler) handleDue(ctx context.Context, id uuid.UUID) error {
	session, err := s.app.GetSession(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	switch session.Status {
	case models.SessionStatusCountdownPending:
		if session.CountdownStartedAt == nil ||
			!countdown.Expired(now, *session.CountdownStartedAt, s.countdownDuration()) {
			return nil
		}
		_, err := s.app.Activate(ctx, id)
		return err

	case models.SessionStatusActive:
		if session.StartedAt == nil ||
			!countdown.Expired(now, *session.StartedAt, time.Duration(session.DurationSeconds())*time.Second) {
			return nil
		}
		_, err := s.app.Finish(ctx, id)
		return err

	case models.SessionStatusFinished:
		if session.FinalizedAt != nil {
			return nil
		}
		if session.EndedAt == nil || !countdown.Expired(now, *session.EndedAt, s.rules.FinalizeGrace) {
			return nil
		}
		_, err := s.app.BackfillAFK(ctx, id)
		return err
	}
	return nil
}

// WithClock swaps the time source, for tests.
func (s *Scheduler) WithClock(clock Clock) *Scheduler {
	s.clock = clock
	return s
}

package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/quiz"
	"github.com/crazyrace/crazyrace/go/internal/room"
	"github.com/crazyrace/crazyrace/go/internal/scheduler"
)

type Services struct {
	Room      *room.Service
	Quiz      *quiz.Service
	Scheduler *scheduler.Scheduler
}

const schedulerBatchSize = 50

func setupServices(pool *pgxpool.Pool, cache quiz.SetCache, rules models.GameRules) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	sessionRepo := room.NewRepository(pool)
	questionBank := quiz.NewRepository(pool)

	quizApp := quiz.NewApp(sessionRepo, questionBank, cache, clock, rules)
	roomApp := room.NewApp(sessionRepo, quizApp, clock, rules)

	sched := scheduler.New(roomApp, sessionRepo, rules, schedulerBatchSize)
	// Lifecycle writes nudge the scheduler so deadlines fire without waiting
	// for the next poll.
	roomApp.SetWaker(sched)

	return &Services{
		Room:      room.NewService(roomApp, clock, rules),
		Quiz:      quiz.NewService(quizApp),
		Scheduler: sched,
	}
}

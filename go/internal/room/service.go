package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/crazyrace/crazyrace/go/internal/api"
	"github.com/crazyrace/crazyrace/go/internal/countdown"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/rank"
	"github.com/crazyrace/crazyrace/go/internal/roster"
)

// RoomApp defines what the service layer needs from the room application.
type RoomApp interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Session, error)
	GetRoom(ctx context.Context, code string) (*models.Session, error)
	UpdateSettings(ctx context.Context, code string, req UpdateSettingsRequest) (*models.Session, error)
	Join(ctx context.Context, code string, req JoinRoomRequest) (*models.Participant, *models.Session, error)
	Kick(ctx context.Context, code string, participantID uuid.UUID) (*models.Session, error)
	UpdateCar(ctx context.Context, code string, participantID uuid.UUID, car models.Car) (*models.Session, error)
	UpdateNickname(ctx context.Context, code string, participantID uuid.UUID, nickname string) (*models.Session, error)
	StartCountdown(ctx context.Context, code string) (*models.Session, error)
	FinishByCode(ctx context.Context, code string) (*models.Session, error)
}

// Service exposes the room lifecycle over HTTP JSON.
type Service struct {
	app   RoomApp
	clock clockwork.Clock
	rules models.GameRules
}

func NewService(app RoomApp, clock clockwork.Clock, rules models.GameRules) *Service {
	return &Service{
		app:   app,
		clock: clock,
		rules: rules,
	}
}

// RegisterRoutes mounts the room endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", s.handleBootstrap)
	mux.HandleFunc("PUT /api/rooms/{code}/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /api/rooms/{code}/join", s.handleJoin)
	mux.HandleFunc("DELETE /api/rooms/{code}/participants/{id}", s.handleKick)
	mux.HandleFunc("PUT /api/rooms/{code}/participants/{id}/car", s.handleUpdateCar)
	mux.HandleFunc("PUT /api/rooms/{code}/participants/{id}/nickname", s.handleUpdateNickname)
	mux.HandleFunc("POST /api/rooms/{code}/countdown", s.handleStartCountdown)
	mux.HandleFunc("POST /api/rooms/{code}/end", s.handleEnd)
	mux.HandleFunc("GET /api/rooms/{code}/leaderboard", s.handleLeaderboard)
}

// BootstrapResponse is the page-load read: the full snapshot plus everything
// the client would otherwise derive client-side with a drifting clock.
type BootstrapResponse struct {
	Session            *models.Session `json:"session"`
	Roster             []roster.Entry  `json:"roster"`
	CountdownRemaining int             `json:"countdown_remaining"`
	RaceRemaining      int             `json:"race_remaining"`
	ServerTime         time.Time       `json:"server_time"`
}

func (s *Service) bootstrap(session *models.Session, viewer uuid.UUID) BootstrapResponse {
	now := s.clock.Now().UTC()

	entries := roster.Derive(session)
	if viewer != uuid.Nil {
		entries = roster.ViewerFirst(entries, viewer)
	}

	resp := BootstrapResponse{
		Session:    session,
		Roster:     entries,
		ServerTime: now,
	}
	if session.Status == models.SessionStatusCountdownPending && session.CountdownStartedAt != nil {
		resp.CountdownRemaining = countdown.Remaining(now, *session.CountdownStartedAt,
			time.Duration(s.rules.CountdownSeconds)*time.Second)
	}
	if session.Status == models.SessionStatusActive && session.StartedAt != nil {
		resp.RaceRemaining = countdown.Remaining(now, *session.StartedAt,
			time.Duration(session.DurationSeconds())*time.Second)
	}
	return resp
}

func (s *Service) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	// An empty body means default settings.
	var req CreateRoomRequest
	if err := api.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.app.CreateRoom(r.Context(), req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, s.bootstrap(session, uuid.Nil))
}

func (s *Service) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	session, err := s.app.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	viewer := uuid.Nil
	if raw := r.URL.Query().Get("participant_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			viewer = id
		}
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, viewer))
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.app.UpdateSettings(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, uuid.Nil))
}

func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	p, session, err := s.app.Join(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, struct {
		Participant *models.Participant `json:"participant"`
		BootstrapResponse
	}{p, s.bootstrap(session, p.ID)})
}

func (s *Service) handleKick(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid participant id: %w", err))
		return
	}

	session, err := s.app.Kick(r.Context(), r.PathValue("code"), id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, uuid.Nil))
}

func (s *Service) handleUpdateCar(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid participant id: %w", err))
		return
	}

	var req struct {
		Car models.Car `json:"car"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.app.UpdateCar(r.Context(), r.PathValue("code"), id, req.Car)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, id))
}

func (s *Service) handleUpdateNickname(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid participant id: %w", err))
		return
	}

	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.app.UpdateNickname(r.Context(), r.PathValue("code"), id, req.Nickname)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, id))
}

func (s *Service) handleStartCountdown(w http.ResponseWriter, r *http.Request) {
	session, err := s.app.StartCountdown(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, uuid.Nil))
}

func (s *Service) handleEnd(w http.ResponseWriter, r *http.Request) {
	session, err := s.app.FinishByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.bootstrap(session, uuid.Nil))
}

// LeaderboardResponse carries the ranked board; the top-3 podium split is
// provided so the results screen does not re-derive it.
type LeaderboardResponse struct {
	Entries []rank.Entry `json:"entries"`
	Podium  []rank.Entry `json:"podium"`
	Rest    []rank.Entry `json:"rest"`
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	session, err := s.app.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	entries := rank.Leaderboard(session, s.rules)
	podium, rest := rank.Podium(entries)
	api.WriteJSON(w, http.StatusOK, LeaderboardResponse{
		Entries: entries,
		Podium:  podium,
		Rest:    rest,
	})
}

func (s *Service) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrParticipantNotFound):
		api.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, ErrVersionConflict):
		api.WriteError(w, http.StatusConflict, err)
	default:
		api.WriteError(w, http.StatusInternalServerError, err)
	}
}

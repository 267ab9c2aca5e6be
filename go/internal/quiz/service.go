package quiz

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/crazyrace/crazyrace/go/internal/api"
	"github.com/crazyrace/crazyrace/go/internal/models"
	"github.com/crazyrace/crazyrace/go/internal/room"
)

// QuizApp defines what the service layer needs from the quiz application.
type QuizApp interface {
	QuestionSet(ctx context.Context, roomCode string) ([]models.Question, error)
	RecordAnswer(ctx context.Context, roomCode string, req RecordAnswerRequest) (*models.Session, error)
	RacingFinished(ctx context.Context, roomCode string, participantID uuid.UUID) (*models.Session, error)
}

// Service exposes answering over HTTP JSON.
type Service struct {
	app QuizApp
}

func NewService(app QuizApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the quiz endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{code}/questions", s.handleQuestionSet)
	mux.HandleFunc("POST /api/rooms/{code}/answers", s.handleRecordAnswer)
	mux.HandleFunc("POST /api/rooms/{code}/racing-finished", s.handleRacingFinished)
}

// handleQuestionSet serves the frozen question set the race screen plays
// through, cache-first with the session row as fallback.
func (s *Service) handleQuestionSet(w http.ResponseWriter, r *http.Request) {
	questions, err := s.app.QuestionSet(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, struct {
		Questions []models.Question `json:"questions"`
	}{questions})
}

func (s *Service) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	var req RecordAnswerRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.ParticipantID == uuid.Nil || req.QuestionID == uuid.Nil {
		api.WriteError(w, http.StatusBadRequest, errors.New("participant_id and question_id are required"))
		return
	}

	session, err := s.app.RecordAnswer(r.Context(), r.PathValue("code"), req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, responseView(session, req.ParticipantID))
}

func (s *Service) handleRacingFinished(w http.ResponseWriter, r *http.Request) {
	var req RacingFinishedRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.ParticipantID == uuid.Nil {
		api.WriteError(w, http.StatusBadRequest, errors.New("participant_id is required"))
		return
	}

	session, err := s.app.RacingFinished(r.Context(), r.PathValue("code"), req.ParticipantID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, responseView(session, req.ParticipantID))
}

// responseView returns the caller's own response plus the session snapshot,
// what the quiz screen needs to advance.
func responseView(s *models.Session, participantID uuid.UUID) any {
	return struct {
		Response *models.Response `json:"response"`
		Session  *models.Session  `json:"session"`
	}{s.FindResponse(participantID), s}
}

func (s *Service) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrParticipantNotFound):
		api.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrQuestionNotInSet):
		api.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, room.ErrInvalidTransition), errors.Is(err, room.ErrVersionConflict):
		api.WriteError(w, http.StatusConflict, err)
	default:
		api.WriteError(w, http.StatusInternalServerError, err)
	}
}

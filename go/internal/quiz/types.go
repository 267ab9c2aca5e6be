package quiz

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrQuestionNotInSet = errors.New("question is not part of the frozen set")
	ErrEmptyBank        = errors.New("question bank has no questions for this difficulty")
)

// RecordAnswerRequest is one submitted answer. TimeTaken is optional; when
// the client omits it the server derives it from the previous answer's
// timestamp (or the race start for the first question).
type RecordAnswerRequest struct {
	ParticipantID  uuid.UUID `json:"participant_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedAnswer int       `json:"selected_answer"`
	TimeTaken      int       `json:"time_taken,omitempty"`
}

// RacingFinishedRequest reports the mini-game handoff: the page forwards the
// game frame's {type:"racing_finished"} message here.
type RacingFinishedRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
}

package models

import "github.com/google/uuid"

// Answer is one recorded answer inside a response.
type Answer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedAnswer int       `json:"selected_answer"`
	TimeTaken      int       `json:"time_taken"` // seconds spent on this question
	IsCorrect      bool      `json:"is_correct"`
}

// Response is the per-participant result record embedded in the session row,
// matched to the roster by the Participant id. Accuracy is kept as a
// two-decimal string so display never suffers float artifacts.
type Response struct {
	Participant     uuid.UUID `json:"participant"`
	Score           int       `json:"score"`
	Correct         int       `json:"correct"`
	Accuracy        string    `json:"accuracy"`
	DurationSec     int       `json:"duration"`
	CurrentQuestion int       `json:"current_question"`
	TotalQuestion   int       `json:"total_question"`
	Answers         []Answer  `json:"answers"`
	Racing          bool      `json:"racing"`
	Completion      bool      `json:"completion"`
}

// Answered reports whether the response carries at least one answer. A
// participant whose response never answered anything is treated as AFK once
// the session finishes.
func (r *Response) Answered() bool {
	return len(r.Answers) > 0
}

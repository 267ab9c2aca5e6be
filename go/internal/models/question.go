package models

import "github.com/google/uuid"

// Question is one entry of the question bank. A session freezes a shuffled,
// truncated copy of bank questions at settings time; correctness is always
// checked against the frozen copy, never the live bank.
type Question struct {
	ID            uuid.UUID  `json:"id"`
	Text          string     `json:"text"`
	Options       []string   `json:"options"`
	CorrectOption int        `json:"correct_option"`
	Difficulty    Difficulty `json:"difficulty"`
}

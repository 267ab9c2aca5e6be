package models

import (
	"time"

	"github.com/google/uuid"
)

// Car is one of the fixed palette of avatar skins.
type Car string

const (
	CarRed    Car = "RED"
	CarBlue   Car = "BLUE"
	CarGreen  Car = "GREEN"
	CarYellow Car = "YELLOW"
	CarPurple Car = "PURPLE"
	CarBlack  Car = "BLACK"
)

// CarPalette lists every selectable car skin.
var CarPalette = []Car{CarRed, CarBlue, CarGreen, CarYellow, CarPurple, CarBlack}

// ValidCar reports whether c is part of the palette.
func ValidCar(c Car) bool {
	for _, p := range CarPalette {
		if p == c {
			return true
		}
	}
	return false
}

// Participant is one player inside a session's embedded roster. The ID is
// minted by the joining client and persisted in its local storage so the same
// browser re-associates across reloads. Removal from the array is a kick;
// there is no soft-delete flag.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
	Car      Car       `json:"car"`
	JoinedAt time.Time `json:"joined_at"`
}

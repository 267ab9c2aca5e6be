package models

import "time"

// GameRules holds the tunable game constants shared by the answer recorder,
// the leaderboard ranker and the scheduler. Loaded from config.yaml.
type GameRules struct {
	CountdownSeconds  int           `yaml:"countdown_seconds"`
	PointsPerQuestion int           `yaml:"points_per_question"`
	BaseBonus         int           `yaml:"base_bonus"`
	RacingEvery       int           `yaml:"racing_every"`
	FinalizeGrace     time.Duration `yaml:"finalize_grace"`
}

// DefaultGameRules returns the rules used when config.yaml is absent.
func DefaultGameRules() GameRules {
	return GameRules{
		CountdownSeconds:  10,
		PointsPerQuestion: 100,
		BaseBonus:         50,
		RacingEvery:       3,
		FinalizeGrace:     5 * time.Second,
	}
}

// FinalScore applies the scoring formula. The recorder and the ranker must
// agree on it, so it lives here and nowhere else.
func (g GameRules) FinalScore(correct int) int {
	return correct*g.PointsPerQuestion + g.BaseBonus
}

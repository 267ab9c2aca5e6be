// Package config loads the tunable game rules from config.yaml. Absent file
// or unset fields fall back to the defaults, so every process can run with
// no config at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crazyrace/crazyrace/go/internal/models"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "config.yaml"

// gameFile mirrors GameRules with optional fields; absent keys keep the
// default value rather than zeroing it.
type gameFile struct {
	CountdownSeconds  *int    `yaml:"countdown_seconds"`
	PointsPerQuestion *int    `yaml:"points_per_question"`
	BaseBonus         *int    `yaml:"base_bonus"`
	RacingEvery       *int    `yaml:"racing_every"`
	FinalizeGrace     *string `yaml:"finalize_grace"`
}

type fileFormat struct {
	Game gameFile `yaml:"game"`
}

// Path resolves the config file location from the environment.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadGameRules reads rules from the given file. A missing file yields the
// defaults; a malformed one is an error, silently ignoring a typo'd config
// would be worse than failing to start.
func LoadGameRules(path string) (models.GameRules, error) {
	rules := models.DefaultGameRules()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return rules, fmt.Errorf("read config %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return rules, fmt.Errorf("parse config %s: %w", path, err)
	}

	if f.Game.CountdownSeconds != nil {
		rules.CountdownSeconds = *f.Game.CountdownSeconds
	}
	if f.Game.PointsPerQuestion != nil {
		rules.PointsPerQuestion = *f.Game.PointsPerQuestion
	}
	if f.Game.BaseBonus != nil {
		rules.BaseBonus = *f.Game.BaseBonus
	}
	if f.Game.RacingEvery != nil {
		rules.RacingEvery = *f.Game.RacingEvery
	}
	if f.Game.FinalizeGrace != nil {
		d, err := time.ParseDuration(*f.Game.FinalizeGrace)
		if err != nil {
			return rules, fmt.Errorf("config %s: finalize_grace: %w", path, err)
		}
		rules.FinalizeGrace = d
	}

	if err := validate(rules); err != nil {
		return models.DefaultGameRules(), fmt.Errorf("config %s: %w", path, err)
	}
	return rules, nil
}

func validate(g models.GameRules) error {
	if g.CountdownSeconds <= 0 {
		return fmt.Errorf("countdown_seconds must be positive, got %d", g.CountdownSeconds)
	}
	if g.PointsPerQuestion <= 0 {
		return fmt.Errorf("points_per_question must be positive, got %d", g.PointsPerQuestion)
	}
	if g.RacingEvery <= 0 {
		return fmt.Errorf("racing_every must be positive, got %d", g.RacingEvery)
	}
	if g.BaseBonus < 0 {
		return fmt.Errorf("base_bonus must not be negative, got %d", g.BaseBonus)
	}
	if g.FinalizeGrace < 0 {
		return fmt.Errorf("finalize_grace must not be negative, got %s", g.FinalizeGrace)
	}
	return nil
}

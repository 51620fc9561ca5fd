// Package config loads workbook engine configuration from a TOML
// file. All fields have defaults; a missing config file is not an
// error, and a partial file overrides only what it names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/formula"
)

// Config is the full engine configuration.
type Config struct {
	// Database holds storage settings.
	Database DatabaseConfig `toml:"database"`

	// Eval holds sandbox evaluation budgets.
	Eval EvalConfig `toml:"eval"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Relative paths resolve against
	// the working directory.
	Path string `toml:"path"`
}

// EvalConfig bounds formula evaluation and recompute passes.
type EvalConfig struct {
	// StepBudget caps interpreter steps per formula evaluation.
	StepBudget int `toml:"step_budget"`

	// Timeout caps wall-clock time per formula evaluation.
	Timeout Duration `toml:"timeout"`

	// MaxNodesPerPass caps the affected closure of one recompute pass.
	MaxNodesPerPass int `toml:"max_nodes_per_pass"`
}

// Duration wraps time.Duration for TOML text marshaling ("250ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "workbook.db",
		},
		Eval: EvalConfig{
			StepBudget:      formula.DefaultMaxSteps,
			Timeout:         Duration{250 * time.Millisecond},
			MaxNodesPerPass: engine.DefaultMaxNodes,
		},
	}
}

// Load reads a config file over the defaults. A missing file returns
// the defaults unchanged; a present but broken file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if c.Eval.StepBudget <= 0 {
		return fmt.Errorf("eval.step_budget must be positive, got %d", c.Eval.StepBudget)
	}
	if c.Eval.Timeout.Duration <= 0 {
		return fmt.Errorf("eval.timeout must be positive, got %s", c.Eval.Timeout)
	}
	if c.Eval.MaxNodesPerPass <= 0 {
		return fmt.Errorf("eval.max_nodes_per_pass must be positive, got %d", c.Eval.MaxNodesPerPass)
	}
	return nil
}

// Budget converts the eval settings to an evaluation budget.
func (c Config) Budget() formula.Budget {
	return formula.Budget{
		MaxSteps: c.Eval.StepBudget,
		Timeout:  c.Eval.Timeout.Duration,
	}
}

package tuning

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Throttle selects what the match loop does every ThrottleCount rounds.
type Throttle string

const (
	ThrottleNone  Throttle = "none"
	ThrottleYield Throttle = "yield"
	ThrottleSleep Throttle = "sleep"
)

// Config holds the run-loop tuning. Values come from defaults, then the yaml
// file, then ARENA_* environment variables.
type Config struct {
	Debug         bool     `yaml:"debug" env:"DEBUG"`
	Interactive   bool     `yaml:"interactive" env:"INTERACTIVE"`
	Throttle      Throttle `yaml:"throttle" env:"THROTTLE"`
	ThrottleCount int      `yaml:"throttle_count" env:"THROTTLE_COUNT"`

	MapDir    string `yaml:"map_dir" env:"MAP_DIR"`
	ScriptDir string `yaml:"script_dir" env:"SCRIPT_DIR"`
	DataDir   string `yaml:"data_dir" env:"DATA_DIR"`

	MaxEffectsPerTurn      int `yaml:"max_effects_per_turn" env:"MAX_EFFECTS_PER_TURN"`
	MaxInstructionsPerTurn int `yaml:"max_instructions_per_turn" env:"MAX_INSTRUCTIONS_PER_TURN"`
}

const EnvPrefix = "ARENA_"

func Defaults() Config {
	return Config{
		Throttle:               ThrottleYield,
		ThrottleCount:          50,
		MapDir:                 "./maps",
		ScriptDir:              "./bots",
		DataDir:                "./data",
		MaxEffectsPerTurn:      16,
		MaxInstructionsPerTurn: 1_000_000,
	}
}

// Load reads path (optional) and applies environment overrides from the
// process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil environ means the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("tuning: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.Throttle = Throttle(strings.ToLower(strings.TrimSpace(string(c.Throttle))))
	if c.Throttle == "" {
		c.Throttle = ThrottleNone
	}
	if c.MaxEffectsPerTurn <= 0 {
		c.MaxEffectsPerTurn = 16
	}
	if c.MaxInstructionsPerTurn <= 0 {
		c.MaxInstructionsPerTurn = 1_000_000
	}
}

func (c Config) Validate() error {
	switch c.Throttle {
	case ThrottleNone, ThrottleYield, ThrottleSleep:
	default:
		return fmt.Errorf("throttle must be one of none|yield|sleep, got %q", c.Throttle)
	}
	if c.ThrottleCount < 0 {
		return fmt.Errorf("throttle_count must be >= 0")
	}
	if c.Throttle != ThrottleNone && c.ThrottleCount == 0 {
		return fmt.Errorf("throttle_count must be > 0 when throttle is %s", c.Throttle)
	}
	return nil
}

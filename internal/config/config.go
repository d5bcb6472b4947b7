// Package config loads server settings from an optional YAML file, an
// optional .env file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`

	Game    GameConfig    `yaml:"game"`
	Janitor JanitorConfig `yaml:"janitor"`
	Logging LoggingConfig `yaml:"logging"`

	TournamentCountdown time.Duration `yaml:"tournamentCountdown"`
}

type GameConfig struct {
	TickRate       int           `yaml:"tickRate"`
	WinScore       int           `yaml:"winScore"`
	ForfeitTimeout time.Duration `yaml:"forfeitTimeout"`
}

type JanitorConfig struct {
	Interval         time.Duration `yaml:"interval"`
	IdleMatchTimeout time.Duration `yaml:"idleMatchTimeout"`
}

type LoggingConfig struct {
	Sinks       []string `yaml:"sinks"`
	MinSeverity string   `yaml:"minSeverity"`
	JSONPath    string   `yaml:"jsonPath"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Game: GameConfig{
			TickRate:       30,
			WinScore:       5,
			ForfeitTimeout: 10 * time.Second,
		},
		Janitor: JanitorConfig{
			Interval:         30 * time.Second,
			IdleMatchTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Sinks:       []string{"console"},
			MinSeverity: "info",
		},
		TournamentCountdown: 3 * time.Second,
	}
}

// Load builds the effective configuration. A missing YAML or .env file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := os.Getenv("ARENA_ADDR"); raw != "" {
		c.Addr = raw
	}
	if raw := os.Getenv("ARENA_TICK_RATE"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid ARENA_TICK_RATE=%q: %w", raw, err)
		}
		c.Game.TickRate = value
	}
	if raw := os.Getenv("ARENA_WIN_SCORE"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid ARENA_WIN_SCORE=%q: %w", raw, err)
		}
		c.Game.WinScore = value
	}
	if raw := os.Getenv("ARENA_FORFEIT_TIMEOUT"); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid ARENA_FORFEIT_TIMEOUT=%q: %w", raw, err)
		}
		c.Game.ForfeitTimeout = value
	}
	if raw := os.Getenv("ARENA_TOURNAMENT_COUNTDOWN"); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid ARENA_TOURNAMENT_COUNTDOWN=%q: %w", raw, err)
		}
		c.TournamentCountdown = value
	}
	if raw := os.Getenv("ARENA_LOG_JSON_PATH"); raw != "" {
		c.Logging.JSONPath = raw
	}
	return nil
}

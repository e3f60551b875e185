// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tablerelay/internal/game"
	"tablerelay/internal/protocol"
)

// Config holds the settings of cmd/web and cmd/selfplay.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	BaseURL         string        `env:"BASE_URL"`
	Players         int           `env:"PLAYERS" envDefault:"4"`
	RulesScript     string        `env:"RULES_SCRIPT"`
	GameLogDelay    time.Duration `env:"GAMELOG_DELAY" envDefault:"200ms"`
	ProtocolVersion int           `env:"PROTOCOL_VERSION" envDefault:"2"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the optional dotenv files, then the environment. Variables
// already set win over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Players < game.MinPlayers || c.Players > game.MaxPlayers {
		return fmt.Errorf("PLAYERS must be between %d and %d, got %d", game.MinPlayers, game.MaxPlayers, c.Players)
	}
	if c.GameLogDelay < 0 {
		return fmt.Errorf("GAMELOG_DELAY must not be negative, got %s", c.GameLogDelay)
	}
	if _, err := protocol.ParseVersion(c.ProtocolVersion); err != nil {
		return fmt.Errorf("PROTOCOL_VERSION: %w", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Version is the configured gamelog shape.
func (c Config) Version() protocol.Version {
	v, err := protocol.ParseVersion(c.ProtocolVersion)
	if err != nil {
		return protocol.Current
	}
	return v
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + strings.TrimSpace(c.Port)
}

// Logger builds the process logger.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Package config loads settings from .env, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Transport names accepted by the client.
const (
	TransportMatrix = "matrix"
	TransportRelay  = "relay"
	TransportWS     = "ws"
)

type Logging struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Dev   bool   `env:"LOG_DEV" envDefault:"false"`
}

type Server struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	Logging
}

func (s Server) Addr() string { return fmt.Sprintf(":%d", s.Port) }

func (s Server) Validate() error {
	var err error
	if s.Port <= 0 || s.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT %d out of range", s.Port))
	}
	return multierr.Append(err, s.Logging.validate())
}

type Client struct {
	Transport        string        `env:"MEETING_TRANSPORT" envDefault:"relay"`
	DisplayName      string        `env:"DISPLAY_NAME"`
	PollTimeout      time.Duration `env:"POLL_TIMEOUT" envDefault:"5s"`
	MatrixHomeserver string        `env:"MATRIX_HOMESERVER"`
	MatrixUser       string        `env:"MATRIX_USER"`
	MatrixPassword   string        `env:"MATRIX_PASSWORD"`
	MatrixRoom       string        `env:"MATRIX_ROOM"`
	MatrixRegister   bool          `env:"MATRIX_REGISTER" envDefault:"false"`
	RelayURL         string        `env:"RELAY_URL" envDefault:"http://localhost:8080"`
	RelayRoom        string        `env:"RELAY_ROOM"`
	RelayUser        string        `env:"RELAY_USER"`
	Logging
}

func (c Client) Validate() error {
	var err error
	switch c.Transport {
	case TransportMatrix:
		if c.MatrixHomeserver == "" {
			err = multierr.Append(err, errors.New("MATRIX_HOMESERVER is required"))
		}
		if c.MatrixUser == "" {
			err = multierr.Append(err, errors.New("MATRIX_USER is required"))
		}
		if c.MatrixPassword == "" {
			err = multierr.Append(err, errors.New("MATRIX_PASSWORD is required"))
		}
		if c.MatrixRoom == "" {
			err = multierr.Append(err, errors.New("MATRIX_ROOM is required"))
		}
	case TransportRelay, TransportWS:
		if c.RelayURL == "" {
			err = multierr.Append(err, errors.New("RELAY_URL is required"))
		}
		if c.RelayUser == "" {
			err = multierr.Append(err, errors.New("RELAY_USER is required"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("MEETING_TRANSPORT %q is not one of matrix, relay, ws", c.Transport))
	}
	if c.PollTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("POLL_TIMEOUT %s must be positive", c.PollTimeout))
	}
	return multierr.Append(err, c.Logging.validate())
}

func (l Logging) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", l.Level)
}

// LoadDotEnv reads the given .env files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

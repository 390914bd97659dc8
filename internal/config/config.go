// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every server setting.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	JWTSecret string `env:"BUSTRACK_JWT_SECRET"`
	JWTIssuer string `env:"BUSTRACK_JWT_ISSUER"`

	DBPath   string `env:"BUSTRACK_DB_PATH"`
	SeedFile string `env:"BUSTRACK_SEED_FILE"`

	CORSOrigins   []string `env:"BUSTRACK_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	SpeedLimitKPH float64  `env:"BUSTRACK_SPEED_LIMIT_KPH" envDefault:"80"`

	StreamQueueSize      int           `env:"BUSTRACK_STREAM_QUEUE_SIZE" envDefault:"64"`
	StreamWriteTimeout   time.Duration `env:"BUSTRACK_STREAM_WRITE_TIMEOUT" envDefault:"10s"`
	StreamPingInterval   time.Duration `env:"BUSTRACK_STREAM_PING_INTERVAL" envDefault:"25s"`
	StreamAllowAnonymous bool          `env:"BUSTRACK_STREAM_ALLOW_ANONYMOUS" envDefault:"false"`

	RequestTimeout  time.Duration `env:"BUSTRACK_REQUEST_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"BUSTRACK_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"BUSTRACK_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BUSTRACK_LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	origins := cfg.CORSOrigins[:0]
	for _, origin := range cfg.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.CORSOrigins = origins
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that the env tags cannot express.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("BUSTRACK_JWT_SECRET is required")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.SpeedLimitKPH <= 0 {
		return fmt.Errorf("BUSTRACK_SPEED_LIMIT_KPH must be positive")
	}
	if c.StreamQueueSize <= 0 {
		return fmt.Errorf("BUSTRACK_STREAM_QUEUE_SIZE must be positive")
	}
	if c.StreamWriteTimeout <= 0 || c.StreamPingInterval <= 0 {
		return fmt.Errorf("stream timeouts must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("BUSTRACK_LOG_FORMAT must be text or json")
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// NewLogger builds the process logger from the log settings.
func (c Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("BUSTRACK_LOG_LEVEL: %w", err)
	}
	return level, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the server.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	BadgerPath  string `envconfig:"BADGER_PATH" default:"data/badger"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	// Auth
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenDuration time.Duration `envconfig:"TOKEN_DURATION" default:"24h"`
	AuthRequired  bool          `envconfig:"AUTH_REQUIRED" default:"false"`

	// Rooms
	DefaultRoom   string        `envconfig:"DEFAULT_ROOM" default:"general"`
	SeedRooms     []string      `envconfig:"SEED_ROOMS" default:"general,games,music,work"`
	CabalTTL      time.Duration `envconfig:"CABAL_TTL" default:"1h"`
	ColloquyTTL   time.Duration `envconfig:"COLLOQUY_TTL" default:"30m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10s"`

	// Messages
	HistoryLimit       int `envconfig:"HISTORY_LIMIT" default:"50"`
	MaxMessageLength   int `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	StoreWriteAttempts int `envconfig:"STORE_WRITE_ATTEMPTS" default:"3"`

	// Delivery
	SendBufferSize  int           `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	RetryAttempts   int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"1s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads .env.local or .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.SeedRooms = normalizeRooms(cfg.SeedRooms)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DefaultRoom) == "" {
		errs = append(errs, errors.New("DEFAULT_ROOM must not be empty"))
	}
	if c.CabalTTL <= 0 || c.ColloquyTTL <= 0 {
		errs = append(errs, errors.New("room TTLs must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER_SIZE must be positive"))
	}
	if c.RetryAttempts <= 0 || c.StoreWriteAttempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}
	if c.AuthRequired && (c.DatabaseURL == "" || c.JWTSecret == "") {
		errs = append(errs, errors.New("AUTH_REQUIRED needs DATABASE_URL and JWT_SECRET"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AuthEnabled reports whether the account endpoints and token handshake are served.
func (c *Config) AuthEnabled() bool {
	return c.DatabaseURL != "" && c.JWTSecret != ""
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func normalizeRooms(rooms []string) []string {
	out := make([]string, 0, len(rooms))
	seen := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

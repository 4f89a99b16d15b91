package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	req.NoError(err)
	req.Equal("8080", cfg.Port)
	req.Equal("general", cfg.DefaultRoom)
	req.Equal([]string{"general", "games", "music", "work"}, cfg.SeedRooms)
	req.Equal(10*time.Second, cfg.SweepInterval)
	req.Equal(50, cfg.HistoryLimit)
	req.False(cfg.AuthEnabled())
	req.True(cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("SEED_ROOMS", " lobby , lobby,random,")
	t.Setenv("DEFAULT_ROOM", "lobby")
	t.Setenv("CABAL_TTL", "2m")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	req.NoError(err)
	req.Equal([]string{"lobby", "random"}, cfg.SeedRooms)
	req.Equal("lobby", cfg.DefaultRoom)
	req.Equal(2*time.Minute, cfg.CabalTTL)
	req.Equal(zerolog.DebugLevel, cfg.Level())
}

func TestValidate_RejectsImpossibleValues(t *testing.T) {
	req := require.New(t)
	cfg := Config{
		DefaultRoom:        "general",
		CabalTTL:           time.Minute,
		ColloquyTTL:        0,
		SweepInterval:      time.Second,
		HistoryLimit:       50,
		MaxMessageLength:   10,
		SendBufferSize:     1,
		RetryAttempts:      1,
		StoreWriteAttempts: 1,
		AuthRequired:       true,
	}

	err := cfg.Validate()
	req.Error(err)
	req.Contains(err.Error(), "room TTLs must be positive")
	req.Contains(err.Error(), "AUTH_REQUIRED")
}

func TestLevel_FallsBackToInfo(t *testing.T) {
	cfg := Config{LogLevel: "loud"}
	require.Equal(t, zerolog.InfoLevel, cfg.Level())
}

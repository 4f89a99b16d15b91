package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/config"
	"github.com/thereayou/cabal/internal/database"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/rooms"
	"github.com/thereayou/cabal/internal/services"
	"github.com/thereayou/cabal/internal/store"
	"github.com/thereayou/cabal/internal/websocket"
	"github.com/thereayou/cabal/pkg/auth"
)

type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	Router *gin.Engine
	HTTP   *http.Server

	KV       *store.BadgerKV
	DB       *database.Database
	Redis    *redis.Client
	Hub      *websocket.Hub
	Rooms    *rooms.Registry
	Messages *store.MessageStore
	Chat     *services.ChatService
	Auth     *services.AuthService
}

// NewServer opens the stores and wires the chat components. Only a store that
// cannot be opened is an error.
func NewServer(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, log: log, ctx: ctx, cancel: cancel}

	kv, err := store.OpenBadger(cfg.BadgerPath, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open badger at %s: %w", cfg.BadgerPath, err)
	}
	s.KV = kv
	log.Info().Str("path", cfg.BadgerPath).Msg("message store opened")

	if err := s.connectAuth(ctx); err != nil {
		s.closeStores()
		cancel()
		return nil, err
	}

	retry := services.RetryPolicy{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	s.Hub = websocket.NewHub(log)
	broadcaster := services.NewBroadcaster(s.Hub, log)
	notifier := services.NewNotifier(broadcaster, retry, log)
	s.Messages = store.NewMessageStore(kv, notifier, log,
		store.WithWriteRetry(cfg.StoreWriteAttempts, 50*time.Millisecond),
	)
	s.Rooms = rooms.NewRegistry(s.Messages, notifier, log,
		rooms.WithTTL(models.RoomTypeCabal, cfg.CabalTTL),
		rooms.WithTTL(models.RoomTypeColloquy, cfg.ColloquyTTL),
		rooms.WithSweepInterval(cfg.SweepInterval),
	)
	s.Chat = services.NewChatService(s.Hub, s.Rooms, s.Messages, broadcaster, services.ChatConfig{
		DefaultRoom:      cfg.DefaultRoom,
		HistoryLimit:     cfg.HistoryLimit,
		MaxMessageLength: cfg.MaxMessageLength,
		Retry:            retry,
	}, log)
	s.Chat.Seed(cfg.SeedRooms)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.Router = NewRouter(s)
	s.HTTP = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// connectAuth opens Postgres and Redis when configured. Without a database
// the server accepts anonymous handshakes only.
func (s *Server) connectAuth(ctx context.Context) error {
	if !s.cfg.AuthEnabled() {
		s.log.Warn().Msg("DATABASE_URL or JWT_SECRET not set, running without accounts")
		return nil
	}

	db, err := database.Connect(s.cfg.DatabaseURL, s.log)
	if err != nil {
		return fmt.Errorf("postgres connect failed: %w", err)
	}
	s.DB = db

	var blacklist services.TokenBlacklist
	if s.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis connect failed: %w", err)
		}
		s.Redis = rdb
		blacklist = services.NewRedisBlacklist(rdb)
		s.log.Info().Msg("redis connected")
	}

	s.Auth = services.NewAuthService(db, auth.NewJWTManager(s.cfg.JWTSecret, s.cfg.TokenDuration), blacklist, s.log)
	return nil
}

func (s *Server) Start() {
	s.Rooms.Start(s.ctx)
	go func() {
		s.log.Info().Str("port", s.cfg.Port).Str("env", s.cfg.Env).Msg("starting cabal server")
		if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatal().Err(err).Msg("server failed to start")
		}
	}()
}

// Shutdown stops accepting connections, stops the sweeper, closes every
// socket and finally the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	s.Rooms.Stop()
	s.Hub.Stop()
	s.cancel()
	if err := s.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeStores() error {
	var errs []error
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if s.KV != nil {
		if err := s.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("badger: %w", err))
		}
	}
	return errors.Join(errs...)
}

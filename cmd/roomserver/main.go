package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/roomchat/internal/api"
	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/store"
	"github.com/whisper/roomchat/internal/ws"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fallback := config.NewLogger("production")
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.Logger().With().Str("server", cfg.ServerName).Logger()
	ctx := context.Background()

	// --- Rooms ---
	var rooms store.RoomStore = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		rooms = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, rooms are kept in memory")
	}
	defer rooms.Close()

	// --- Redis ---
	var tracker presence.Tracker = presence.NewLocalTracker()
	var limiter *ratelimit.Limiter
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = presence.Dial(cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisClient.Close()
		tracker = presence.NewRedisTracker(redisClient)
		limiter = ratelimit.NewLimiter(redisClient, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	// --- NATS ---
	var broker messaging.Broker = messaging.NewLocalBroker()
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		nb, err := messaging.NewNATSBroker(natsConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		broker = nb
	}
	defer broker.Close()

	wsConfig := ws.DefaultServerConfig()
	wsConfig.MaxConnections = cfg.MaxConnections
	wsConfig.WriteTimeout = cfg.WriteTimeout
	wsConfig.Heartbeat = ws.HeartbeatConfig{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
	}
	if filter := moderation.NewFilter(cfg.BlockedTerms, cfg.SpamFilter); filter.Enabled() {
		wsConfig.Filter = filter
		logger.Info().Int("terms", len(cfg.BlockedTerms)).Bool("spam", cfg.SpamFilter).Msg("content filter enabled")
	}
	channels := ws.NewServer(wsConfig, broker, tracker, limiter, logger)
	if err := channels.Start(); err != nil {
		logger.Fatal().Err(err).Msg("channel endpoint failed to start")
	}

	handler := api.NewHandler(rooms, broker, tracker, channels, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(handler, cfg.AllowedOrigins, logger),
		// Only the header read is bounded; upgraded channels manage their
		// own deadlines.
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("env", cfg.Env).
			Bool("postgres", cfg.DatabaseURL != "").
			Bool("redis", cfg.RedisAddr != "").
			Bool("nats", cfg.NATSURL != "").
			Msg("starting room server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked channels are not tracked by http.Server.
	channels.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

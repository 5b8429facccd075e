// Package config loads server and client settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Server holds the room server settings.
type Server struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	Env         string `envconfig:"ENV" default:"development"`
	ServerName  string `envconfig:"SERVER_NAME" default:"roomchat-1"`
	DatabaseURL string `envconfig:"DATABASE_URL"` // empty: in-memory rooms
	RedisAddr   string `envconfig:"REDIS_ADDR"`   // empty: local presence, no rate limiting
	NATSURL     string `envconfig:"NATS_URL"`     // empty: single-instance broker

	MaxConnections    int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"10s"`
	AllowedOrigins    []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	BlockedTerms      []string      `envconfig:"BLOCKED_TERMS"`
	SpamFilter        bool          `envconfig:"SPAM_FILTER" default:"false"`
}

// IsDevelopment returns true if running in development mode.
func (c Server) IsDevelopment() bool {
	return c.Env == "development"
}

// Client holds the settings a room chat client needs.
type Client struct {
	APIBaseURL   string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	WSBaseURL    string        `envconfig:"WS_BASE_URL" default:"ws://localhost:8080"`
	OpenTimeout  time.Duration `envconfig:"OPEN_TIMEOUT" default:"10s"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"` // per channel frame write
	AccessToken  string        `envconfig:"ACCESS_TOKEN"`
}

// LoadServer reads the server settings.
func LoadServer() (Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := envconfig.Process("", &cfg); err != nil {
		return Server{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return Server{}, fmt.Errorf("config: DATABASE_URL is required in production")
	}
	return cfg, nil
}

// LoadClient reads the client settings.
func LoadClient() (Client, error) {
	_ = godotenv.Load()

	var cfg Client
	if err := envconfig.Process("", &cfg); err != nil {
		return Client{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Logger returns the server logger: console output at debug level in
// development, JSON at info level otherwise.
func (c Server) Logger() zerolog.Logger {
	if c.IsDevelopment() {
		return NewLogger(c.Env).Level(zerolog.DebugLevel)
	}
	return NewLogger(c.Env).Level(zerolog.InfoLevel)
}

// NewLogger returns a console logger in development and a JSON logger
// otherwise.
func NewLogger(env string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Logger()
}

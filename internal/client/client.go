// Package client is the caller-facing surface of the room chat core. A UI
// (or the roomchat CLI) opens sessions through a Client, posts into them and
// exits them through the room lifecycle.
package client

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/lifecycle"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
)

// Client opens room sessions against one server.
type Client struct {
	cfg        config.Client
	transport  *transport.Transport
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Client that dials channels with the gobwas/ws dialer.
func New(cfg config.Client, logger zerolog.Logger) *Client {
	return NewWithDialer(cfg, transport.WSDialer{WriteTimeout: cfg.WriteTimeout}, logger)
}

// NewWithDialer creates a Client with a custom channel dialer.
func NewWithDialer(cfg config.Client, dialer transport.Dialer, logger zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		transport: transport.New(dialer, transport.Config{
			BaseURL:     cfg.WSBaseURL,
			OpenTimeout: cfg.OpenTimeout,
			AccessToken: cfg.AccessToken,
		}, logger),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

// Session is an open room session bound to its lifecycle controller.
type Session struct {
	*session.Session
	controller *lifecycle.Controller
}

// OpenSession fetches the room and opens its channel for p.
func (c *Client) OpenSession(ctx context.Context, roomID string, p protocol.Participant) (*Session, error) {
	dir := c.directory(p)
	s, err := session.Open(ctx, session.Deps{
		Directory: dir,
		Transport: c.transport,
		Logger:    c.logger,
	}, roomID, p)
	if err != nil {
		return nil, err
	}
	return &Session{Session: s, controller: lifecycle.New(dir, c.logger)}, nil
}

// CreateRoom creates a room owned by p.
func (c *Client) CreateRoom(ctx context.Context, p protocol.Participant, name string) (room.Room, error) {
	return c.directory(p).CreateRoom(ctx, name)
}

func (c *Client) directory(p protocol.Participant) *room.HTTPDirectory {
	opts := []room.Option{room.WithHTTPClient(c.httpClient)}
	if c.cfg.AccessToken != "" {
		opts = append(opts, room.WithAccessToken(c.cfg.AccessToken))
	}
	return room.NewHTTPDirectory(c.cfg.APIBaseURL, p, opts...)
}

// DeleteRoom deletes the room for everyone. Only the owner may do this.
func (s *Session) DeleteRoom(ctx context.Context) (lifecycle.Navigation, error) {
	return s.controller.DeleteRoom(ctx, s.Session)
}

// LeaveRoom exits the room without touching it.
func (s *Session) LeaveRoom(ctx context.Context) (lifecycle.Navigation, error) {
	return s.controller.LeaveRoom(ctx, s.Session)
}

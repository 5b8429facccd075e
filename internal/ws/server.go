// Package ws implements the room channel endpoint: upgrading HTTP requests
// with gobwas/ws, tracking connections per room, relaying frames through the
// message broker and closing every channel of a deleted room.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the channel endpoint.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for each frame write
	CloseGrace     time.Duration // how long a closed channel may take to echo the close frame
	MaxFrameBytes  int64         // larger client frames close the channel with 1009
	Heartbeat      HeartbeatConfig
	Filter         *moderation.Filter // nil relays chat text unscreened
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
		CloseGrace:     2 * time.Second,
		MaxFrameBytes:  protocol.MaxFrameBytes,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server owns every channel connected to this instance.
type Server struct {
	config   ServerConfig
	conns    *ConnectionManager
	broker   messaging.Broker
	presence presence.Tracker
	limiter  *ratelimit.Limiter // nil disables rate limiting
	logger   zerolog.Logger

	subsMu     sync.Mutex
	roomSubs   map[string]messaging.Subscription
	deletedSub messaging.Subscription

	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time
}

// NewServer creates a Server. limiter may be nil.
func NewServer(config ServerConfig, broker messaging.Broker, tracker presence.Tracker, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	return &Server{
		config:   config,
		conns:    NewConnectionManager(),
		broker:   broker,
		presence: tracker,
		limiter:  limiter,
		logger:   logger.With().Str("component", "ws").Logger(),
		roomSubs: make(map[string]messaging.Subscription),
		done:     make(chan struct{}),
	}
}

// Start subscribes to room deletions and starts the heartbeat monitor.
func (s *Server) Start() error {
	sub, err := s.broker.SubscribeRoomDeleted(s.closeRoom)
	if err != nil {
		return fmt.Errorf("ws: subscribe room deletions: %w", err)
	}
	s.deletedSub = sub
	s.startedAt = time.Now()

	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info().
		Int("max_conns", s.config.MaxConnections).
		Dur("write_timeout", s.config.WriteTimeout).
		Msg("channel endpoint started")
	return nil
}

// HandleUpgrade upgrades r to a channel bound to roomID and p. The caller has
// already checked that the room exists.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request, roomID string, p protocol.Participant) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		if ok, _ := s.limiter.Allow(r.Context(), clientAddr(r), ratelimit.RuleConnect); !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	netConn, rw, _, err := gws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("upgrade failed")
		return
	}
	// Deadlines set by net/http before the hijack would outlive it.
	_ = netConn.SetDeadline(time.Time{})

	c := &Connection{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Participant: p,
		Conn:        NewConn(WithBufferedReader(netConn, rw.Reader), gws.StateServerSide, s.config.WriteTimeout),
		CreatedAt:   time.Now(),
	}
	c.Conn.SetReadLimit(s.config.MaxFrameBytes)

	if err := s.attach(c); err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Msg("attach failed")
		_ = c.Conn.WriteClose(int(gws.StatusInternalServerError), "room unavailable")
		c.Conn.Close()
		return
	}

	metrics.ConnectionsTotal.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := s.presence.Join(ctx, roomID, c.ID); err != nil {
		s.logger.Warn().Err(err).Str("conn", c.ID).Msg("presence join failed")
	}
	cancel()

	s.logger.Info().
		Str("conn", c.ID).
		Str("room", roomID).
		Int64("participant", p.ID).
		Str("remote", c.Conn.RemoteAddr()).
		Int("total", s.conns.Count()).
		Msg("new connection")

	go s.readLoop(c)
}

// attach registers c and makes sure this instance receives the room's
// frames. Both happen under subsMu so a concurrent release cannot drop the
// subscription between them.
func (s *Server) attach(c *Connection) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if _, ok := s.roomSubs[c.RoomID]; !ok {
		roomID := c.RoomID
		sub, err := s.broker.SubscribeRoom(roomID, func(data []byte) {
			s.deliver(roomID, data)
		})
		if err != nil {
			return err
		}
		s.roomSubs[roomID] = sub
	}
	s.conns.Add(c)
	return nil
}

// releaseIfEmpty drops the room subscription once no local connection
// remains in the room.
func (s *Server) releaseIfEmpty(roomID string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if s.conns.RoomCount(roomID) > 0 {
		return
	}
	sub, ok := s.roomSubs[roomID]
	if !ok {
		return
	}
	delete(s.roomSubs, roomID)
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("unsubscribe failed")
	}
}

func (s *Server) readLoop(c *Connection) {
	for {
		data, err := c.Conn.ReadText()
		if errors.Is(err, ErrMessageTooBig) {
			metrics.FramesTotal.WithLabelValues("oversized").Inc()
			s.logger.Warn().Str("conn", c.ID).Int64("limit", s.config.MaxFrameBytes).Msg("frame too big, closing")
			if s.conns.Remove(c.ID) {
				s.release(c, int(gws.StatusMessageTooBig), "message too big")
			} else {
				c.Conn.Close()
			}
			return
		}
		if err != nil {
			var closed *CloseError
			switch {
			case errors.As(err, &closed):
				s.logger.Debug().Str("conn", c.ID).Int("code", closed.Code).Msg("closed by client")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				s.logger.Debug().Err(err).Str("conn", c.ID).Msg("read failed")
			}
			s.RemoveConnection(c)
			return
		}
		s.dispatch(c, data)
	}
}

// RemoveConnection closes c and unregisters it. It is safe to call more
// than once; only the first call does the cleanup.
func (s *Server) RemoveConnection(c *Connection) {
	c.Conn.Close()
	if !s.conns.Remove(c.ID) {
		return
	}
	s.forget(c)
}

// forget runs the bookkeeping for a connection that left the registry.
func (s *Server) forget(c *Connection) {
	metrics.ConnectionsTotal.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := s.presence.Leave(ctx, c.RoomID, c.ID); err != nil {
		s.logger.Warn().Err(err).Str("conn", c.ID).Msg("presence leave failed")
	}
	cancel()

	s.releaseIfEmpty(c.RoomID)
	s.logger.Info().
		Str("conn", c.ID).
		Str("room", c.RoomID).
		Dur("duration", time.Since(c.CreatedAt).Round(time.Millisecond)).
		Int("total", s.conns.Count()).
		Msg("connection closed")
}

// release closes a connection already removed from the registry with code.
// The socket stays open for CloseGrace so the client can read the close
// frame and echo it.
func (s *Server) release(c *Connection, code int, reason string) {
	_ = c.Conn.WriteClose(code, reason)
	s.forget(c)

	conn := c.Conn
	time.AfterFunc(s.config.CloseGrace, func() { conn.Close() })
}

// closeRoom tells every local channel of a deleted room that it is gone and
// closes it with protocol.CloseRoomDeleted. Connections are unregistered at
// once, so frames they still send are dropped; the socket is closed when the
// client echoes the close or after CloseGrace.
func (s *Server) closeRoom(roomID string) {
	notice, err := protocol.Encode(protocol.DeletedNotice())
	if err != nil {
		s.logger.Error().Err(err).Msg("encode deleted notice")
		return
	}

	conns := s.conns.InRoom(roomID)
	for _, c := range conns {
		if !s.conns.Remove(c.ID) {
			continue
		}
		if err := c.Conn.WriteText(notice); err != nil {
			s.logger.Debug().Err(err).Str("conn", c.ID).Msg("deleted notice not delivered")
		}
		s.release(c, protocol.CloseRoomDeleted, "room deleted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.presence.Clear(ctx, roomID); err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("presence clear failed")
	}

	s.logger.Info().Str("room", roomID).Int("closed", len(conns)).Msg("room deleted, channels closed")
}

// Connections returns the ConnectionManager for the heartbeat and health
// endpoints.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops the heartbeat and closes every channel with 1001.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })

	if s.deletedSub != nil {
		_ = s.deletedSub.Unsubscribe()
	}

	for _, c := range s.conns.All() {
		_ = c.Conn.WriteClose(int(gws.StatusGoingAway), "server shutting down")
		s.RemoveConnection(c)
	}
	s.logger.Info().Msg("channel endpoint stopped")
}

// clientAddr returns the client IP without the port. chi's RealIP middleware
// has already replaced RemoteAddr when a proxy header is present.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

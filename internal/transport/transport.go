// Package transport maintains the bidirectional channel a session uses to
// exchange frames with the room server. Opening is asynchronous: Open returns
// a Channel in the Connecting state and reports the outcome to a Listener.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/ws"
)

// CloseNormal is the close code used for voluntary closes.
const CloseNormal = 1000

// DefaultOpenTimeout bounds how long a channel may stay Connecting.
const DefaultOpenTimeout = 10 * time.Second

// State is the lifecycle state of a Channel.
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrChannelNotOpen is matched by every error returned for a send attempted
// outside the Open state.
var ErrChannelNotOpen = errors.New("transport: channel not open")

// NotOpenError reports the state a send was rejected in.
type NotOpenError struct {
	State State
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("transport: channel not open (state=%s)", e.State)
}

func (e *NotOpenError) Is(target error) bool { return target == ErrChannelNotOpen }

// ChannelOpenError means the channel never reached Open.
type ChannelOpenError struct {
	RoomID string
	Err    error
}

func (e *ChannelOpenError) Error() string {
	return fmt.Sprintf("transport: open channel for room %q: %v", e.RoomID, e.Err)
}

func (e *ChannelOpenError) Unwrap() error { return e.Err }

// Conn is one established framed connection. *ws.Conn satisfies it.
type Conn interface {
	ReadText() ([]byte, error)
	WriteText(data []byte) error
	WriteClose(code int, reason string) error
	Close() error
}

// Dialer establishes connections to the room server.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Listener receives channel events. Callbacks run on the channel's own
// goroutine, one at a time and in order: at most one OnOpen, any number of
// OnMessage, then exactly one of OnClose or OnError.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int)
	OnError(err error)
}

// Config holds the transport settings.
type Config struct {
	BaseURL     string // e.g. "ws://localhost:8080"
	OpenTimeout time.Duration
	AccessToken string
}

// Transport opens channels to rooms.
type Transport struct {
	dialer Dialer
	cfg    Config
	logger zerolog.Logger
}

// New creates a Transport. A zero OpenTimeout means DefaultOpenTimeout.
func New(dialer Dialer, cfg Config, logger zerolog.Logger) *Transport {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Transport{
		dialer: dialer,
		cfg:    cfg,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// Open starts connecting to roomID as p and returns immediately. The outcome
// is reported to l.
func (t *Transport) Open(roomID string, p protocol.Participant, l Listener) *Channel {
	ctx, cancel := context.WithCancel(context.Background())

	header := room.IdentityHeader(p)
	if t.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	}

	c := &Channel{
		roomID:      roomID,
		participant: p,
		listener:    l,
		logger:      t.logger.With().Str("room", roomID).Int64("participant", p.ID).Logger(),
		state:       Connecting,
		cancelDial:  cancel,
		done:        make(chan struct{}),
	}
	go c.run(ctx, t.dialer, t.channelURL(roomID), header, t.cfg.OpenTimeout)
	return c
}

func (t *Transport) channelURL(roomID string) string {
	return t.cfg.BaseURL + "/ws/chat/" + url.PathEscape(roomID)
}

// Channel is one participant's connection to one room.
type Channel struct {
	roomID      string
	participant protocol.Participant
	listener    Listener
	logger      zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	cancelDial context.CancelFunc

	done chan struct{}
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel has reported its final event.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// RoomID returns the room the channel is bound to.
func (c *Channel) RoomID() string {
	return c.roomID
}

// Send writes msg as one frame. It fails with an error matching
// ErrChannelNotOpen unless the channel is Open, and nothing is written.
func (c *Channel) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		metrics.ClientFrames.WithLabelValues("dropped").Inc()
		return &NotOpenError{State: c.state}
	}
	if err := c.conn.WriteText(data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	metrics.ClientFrames.WithLabelValues("sent").Inc()
	return nil
}

// Close ends the channel. From Open it announces the participant's departure
// once and closes normally. From Connecting it abandons the attempt without
// writing anything. In any other state it does nothing.
func (c *Channel) Close(reason string) {
	c.mu.Lock()
	switch c.state {
	case Connecting:
		c.state = Closed
		c.mu.Unlock()
		c.cancelDial()
		c.logger.Debug().Msg("channel closed while connecting")

	case Open:
		c.state = Closing
		conn := c.conn
		if data, err := protocol.Encode(protocol.LeaveNotice(c.participant)); err == nil {
			if err := conn.WriteText(data); err != nil {
				c.logger.Warn().Err(err).Msg("failed to announce leave")
			} else {
				metrics.ClientFrames.WithLabelValues("sent").Inc()
			}
		}
		_ = conn.WriteClose(CloseNormal, reason)
		c.state = Closed
		c.mu.Unlock()
		conn.Close()
		c.logger.Debug().Str("reason", reason).Msg("channel closed")

	default:
		c.mu.Unlock()
	}
}

func (c *Channel) run(ctx context.Context, dialer Dialer, target string, header http.Header, timeout time.Duration) {
	defer close(c.done)
	defer c.cancelDial()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := dialer.Dial(dialCtx, target, header)
	cancel()

	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		c.listener.OnClose(CloseNormal)
		return
	}
	if err != nil {
		c.state = Errored
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("channel open failed")
		c.listener.OnError(&ChannelOpenError{RoomID: c.roomID, Err: err})
		return
	}

	join, err := protocol.Encode(protocol.JoinNotice(c.participant))
	if err == nil {
		err = conn.WriteText(join)
	}
	if err != nil {
		c.state = Errored
		c.mu.Unlock()
		conn.Close()
		c.listener.OnError(&ChannelOpenError{RoomID: c.roomID, Err: err})
		return
	}
	metrics.ClientFrames.WithLabelValues("sent").Inc()
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	c.logger.Debug().Msg("channel open")
	c.listener.OnOpen()
	c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadText()
		if err != nil {
			c.finish(conn, err)
			return
		}
		metrics.ClientFrames.WithLabelValues("received").Inc()
		c.listener.OnMessage(data)
	}
}

func (c *Channel) finish(conn Conn, err error) {
	c.mu.Lock()
	if c.state == Closing || c.state == Closed {
		c.state = Closed
		c.mu.Unlock()
		c.listener.OnClose(CloseNormal)
		return
	}

	var closed *ws.CloseError
	if errors.As(err, &closed) {
		c.state = Closed
		c.mu.Unlock()
		conn.Close()
		c.logger.Info().Int("code", closed.Code).Str("reason", closed.Reason).Msg("channel closed by server")
		c.listener.OnClose(closed.Code)
		return
	}

	c.state = Errored
	c.mu.Unlock()
	conn.Close()
	c.logger.Warn().Err(err).Msg("channel read failed")
	c.listener.OnError(fmt.Errorf("transport: read: %w", err))
}

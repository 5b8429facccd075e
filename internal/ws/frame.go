package ws

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrMessageTooBig is returned by Conn.ReadText for a message over the read
// limit. The payload is not read.
var ErrMessageTooBig = errors.New("ws: message too big")

// CloseError is returned by Conn.ReadText when the peer sent a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("ws: closed by peer (code=%d reason=%q)", e.Code, e.Reason)
}

// Conn frames text messages over an upgraded connection. It is used on both
// sides of a channel: the room server wraps hijacked connections with
// ws.StateServerSide and the client transport wraps dialed connections with
// ws.StateClientSide. Writes are serialized with a mutex so that control
// frame replies never interleave with application frames.
type Conn struct {
	conn         net.Conn
	state        ws.State
	writeTimeout time.Duration
	writeMu      sync.Mutex
	reader       *wsutil.Reader
	readLimit    int64
	lastActivity atomic.Int64 // unix nanos of the last frame read
}

// NewConn wraps conn. A zero writeTimeout disables write deadlines.
func NewConn(conn net.Conn, state ws.State, writeTimeout time.Duration) *Conn {
	c := &Conn{
		conn:         conn,
		state:        state,
		writeTimeout: writeTimeout,
	}
	c.reader = &wsutil.Reader{
		Source:         conn,
		State:          state,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// SetReadLimit caps the size of a text message; 0 means no limit. Call it
// before the first ReadText.
func (c *Conn) SetReadLimit(n int64) {
	c.readLimit = n
	c.reader.MaxFrameSize = n
}

// ReadText blocks until the next text message arrives. Pings are answered
// and pongs swallowed along the way; a close frame is echoed and reported as
// a *CloseError.
func (c *Conn) ReadText() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if errors.Is(err, wsutil.ErrFrameTooLarge) {
			return nil, ErrMessageTooBig
		}
		if err != nil {
			return nil, err
		}
		c.lastActivity.Store(time.Now().UnixNano())

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		if c.readLimit <= 0 {
			return io.ReadAll(c.reader)
		}
		// Continuation frames are checked one by one, so the total is
		// bounded here as well.
		data, err := io.ReadAll(io.LimitReader(c.reader, c.readLimit+1))
		if errors.Is(err, wsutil.ErrFrameTooLarge) || int64(len(data)) > c.readLimit {
			return nil, ErrMessageTooBig
		}
		return data, err
	}
}

// WriteText sends a single text frame.
func (c *Conn) WriteText(data []byte) error {
	return c.write(ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Conn) WritePing() error {
	return c.write(ws.OpPing, nil)
}

// WriteClose sends a close frame carrying code and reason. It does not close
// the underlying connection.
func (c *Conn) WriteClose(code int, reason string) error {
	return c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SetReadDeadline bounds the next ReadText.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// LastActivity reports when the last frame (of any kind) was read.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteMessage(c.conn, c.state, op, payload)
}

// handleControl answers pings and echoes close frames. The peer's close code
// is reported even when the echo cannot be written.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		return c.write(ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		var body []byte
		if code != 0 {
			body = ws.NewCloseFrameBody(code, "")
		}
		_ = c.write(ws.OpClose, body)
		return &CloseError{Code: int(code), Reason: reason}
	default:
		return nil
	}
}

// WithBufferedReader returns conn reading first from br, which holds bytes
// buffered during the upgrade handshake. A nil or empty br returns conn.
func WithBufferedReader(conn net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return conn
	}
	return &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Package transporttest provides in-memory Dialer and Conn implementations
// for exercising channels without a network.
package transporttest

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/ws"
)

// FakeConn records every frame written to it and delivers frames queued with
// Deliver. With EchoChat set, chat frames written to it are delivered back,
// the way the room server relays a sender's own messages.
type FakeConn struct {
	EchoChat bool

	mu          sync.Mutex
	writes      [][]byte
	closeCode   int
	closeReason string
	writeErr    error

	incoming  chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// NewFakeConn returns an open FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		incoming: make(chan []byte, 64),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// ReadText implements transport.Conn.
func (c *FakeConn) ReadText() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	default:
	}

	select {
	case data := <-c.incoming:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

// WriteText implements transport.Conn.
func (c *FakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()

	if c.EchoChat {
		if msg, err := protocol.Decode(data); err == nil {
			if _, ok := msg.(protocol.ChatMessage); ok {
				c.Deliver(data)
			}
		}
	}
	return nil
}

// WriteClose implements transport.Conn.
func (c *FakeConn) WriteClose(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
	c.closeReason = reason
	return nil
}

// Close implements transport.Conn.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Deliver queues a raw frame for the reader.
func (c *FakeConn) Deliver(data []byte) {
	select {
	case c.incoming <- data:
	case <-c.closed:
	}
}

// DeliverMessage encodes msg and queues it for the reader.
func (c *FakeConn) DeliverMessage(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		panic(err)
	}
	c.Deliver(data)
}

// RemoteClose simulates the server closing the channel with code.
func (c *FakeConn) RemoteClose(code int) {
	c.readErr <- &ws.CloseError{Code: code}
}

// Fail simulates a broken connection.
func (c *FakeConn) Fail(err error) {
	c.readErr <- err
}

// FailWrites makes every subsequent write fail with err.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Writes returns a copy of the raw frames written so far.
func (c *FakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Messages decodes the frames written so far. Undecodable frames are skipped.
func (c *FakeConn) Messages() []protocol.Message {
	var out []protocol.Message
	for _, data := range c.Writes() {
		if msg, err := protocol.Decode(data); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// CloseCode returns the code of the close frame written, or 0.
func (c *FakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// IsClosed reports whether Close was called.
func (c *FakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FakeDialer hands out a fixed connection or error.
type FakeDialer struct {
	Conn *FakeConn
	Err  error
	// Block makes Dial wait until its context ends.
	Block bool

	mu      sync.Mutex
	urls    []string
	headers []http.Header
}

// Dial implements transport.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())
	d.mu.Unlock()

	if d.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

// URLs returns the URLs dialed so far.
func (d *FakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Headers returns the handshake headers sent so far.
func (d *FakeDialer) Headers() []http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]http.Header(nil), d.headers...)
}

// Recorder is a transport.Listener that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []string
	msgs   [][]byte
	code   int
	err    error
	opened chan struct{}
	once   sync.Once
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{opened: make(chan struct{})}
}

func (r *Recorder) OnOpen() {
	r.record("open")
	r.once.Do(func() { close(r.opened) })
}

func (r *Recorder) OnMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "message")
	r.msgs = append(r.msgs, data)
}

func (r *Recorder) OnClose(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "close")
	r.code = code
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.err = err
}

func (r *Recorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Opened is closed on the first OnOpen.
func (r *Recorder) Opened() <-chan struct{} { return r.opened }

// Events returns the recorded event names.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Received returns the raw frames delivered to OnMessage.
func (r *Recorder) Received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

// CloseCode returns the code passed to OnClose.
func (r *Recorder) CloseCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Err returns the error passed to OnError.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

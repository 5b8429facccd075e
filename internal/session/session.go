// Package session turns channel events into a participant's local timeline
// and gates the room actions that participant may take.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/transport"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Initializing State = iota
	Active
	Leaving
	Deleting
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Deleting:
		return "deleting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotActive is returned for operations that require an Active session.
	ErrNotActive = errors.New("session: not active")
	// ErrRoomDeleted terminates sessions whose room was deleted by its owner.
	ErrRoomDeleted = errors.New("session: room deleted")
	// ErrChannelClosed terminates sessions whose channel the server closed.
	ErrChannelClosed = errors.New("session: channel closed")
)

// Opener opens channels. *transport.Transport satisfies it.
type Opener interface {
	Open(roomID string, p protocol.Participant, l transport.Listener) *transport.Channel
}

// Deps are the collaborators a Session is built from.
type Deps struct {
	Directory room.Directory
	Transport Opener
	Logger    zerolog.Logger
}

// Session is one participant's view of one room.
type Session struct {
	roomID      string
	participant protocol.Participant
	logger      zerolog.Logger
	channel     *transport.Channel

	mu          sync.Mutex
	state       State
	room        room.Room
	fetched     bool
	opened      bool
	timeline    Timeline
	subscribers map[int]subscriber
	nextSub     int
	delivered   int        // timeline entries handed to subscribers
	updated     *sync.Cond // signals appends and termination, uses mu
	err         error

	// channelEnd holds how the channel ended while the session was Leaving
	// or Deleting, for a delete that fails afterwards.
	channelEnd error

	openedCh chan struct{}
	done     chan struct{}
}

// Open fetches the room and opens its channel concurrently. The session is
// returned Active only when both succeed; otherwise the channel is closed
// and the first failure is returned (a *room.MetadataFetchError or a
// *transport.ChannelOpenError).
func Open(ctx context.Context, deps Deps, roomID string, p protocol.Participant) (*Session, error) {
	s := &Session{
		roomID:      roomID,
		participant: p,
		logger: deps.Logger.With().
			Str("component", "session").
			Str("room", roomID).
			Int64("participant", p.ID).
			Logger(),
		state:       Initializing,
		subscribers: make(map[int]subscriber),
		openedCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.updated = sync.NewCond(&s.mu)
	go s.deliverLoop()

	s.channel = deps.Transport.Open(roomID, p, events{s: s})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := deps.Directory.FetchRoom(gctx, roomID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.room = r
		s.fetched = true
		s.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		select {
		case <-s.openedCh:
			return nil
		default:
		}
		select {
		case <-s.openedCh:
			return nil
		case <-s.done:
			return s.Err()
		case <-gctx.Done():
			return &transport.ChannelOpenError{RoomID: roomID, Err: gctx.Err()}
		}
	})

	if err := g.Wait(); err != nil {
		s.terminate(err)
		s.channel.Close("session open failed")
		<-s.channel.Done()
		s.logger.Warn().Err(err).Msg("session open failed")
		return nil, err
	}

	s.mu.Lock()
	if s.state == Terminated {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.state = Active
	s.mu.Unlock()

	s.logger.Info().Msg("session active")
	return s, nil
}

// RoomID returns the room identifier the session was opened for.
func (s *Session) RoomID() string { return s.roomID }

// Participant returns the participant the session acts for.
func (s *Session) Participant() protocol.Participant { return s.participant }

// Channel returns the session's channel.
func (s *Session) Channel() *transport.Channel { return s.channel }

// Room returns the fetched room metadata.
func (s *Session) Room() room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session terminated; nil for a voluntary exit or a
// session still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsOwner reports whether the participant created the room. Only the owner
// may delete it.
func (s *Session) IsOwner() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched && s.room.OwnerID == s.participant.ID
}

// IsSelf reports whether msg is a chat message sent by this participant.
func (s *Session) IsSelf(msg protocol.Message) bool {
	chat, ok := msg.(protocol.ChatMessage)
	return ok && chat.Author == s.participant.Name
}

// Messages returns a snapshot of the timeline.
func (s *Session) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Snapshot()
}

// Subscribe registers fn for every message appended from now on and returns
// a function that removes it. Calls are made in timeline order on a
// delivery goroutine owned by the session, so fn may call back into the
// session (including closing it) but should not block for long.
func (s *Session) Subscribe(fn func(protocol.Message)) (unsubscribe func()) {
	_, unsubscribe = s.Follow(fn)
	return unsubscribe
}

// Follow returns the timeline so far and registers fn for every message
// appended after it, with no gap or overlap between the two.
func (s *Session) Follow(fn func(protocol.Message)) (history []protocol.Message, unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = subscriber{fn: fn, from: s.timeline.Len()}
	history = s.timeline.Snapshot()
	s.mu.Unlock()

	return history, func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// PostMessage sends text as a chat message. Nothing is appended locally: the
// message shows up in the timeline when the server relays it back.
func (s *Session) PostMessage(text string) error {
	if st := s.State(); st != Active {
		if cs := s.channel.State(); cs != transport.Open {
			return fmt.Errorf("session: post: %w: %w", ErrNotActive, &transport.NotOpenError{State: cs})
		}
		return fmt.Errorf("session: post: %w (state=%s)", ErrNotActive, st)
	}
	if err := protocol.ValidateText(text); err != nil {
		return fmt.Errorf("session: post: %w", err)
	}
	if err := s.channel.Send(protocol.NewChat(s.participant, text)); err != nil {
		return fmt.Errorf("session: post: %w", err)
	}
	return nil
}

// BeginLeaving moves an Active session to Leaving.
func (s *Session) BeginLeaving() error { return s.transition(Active, Leaving) }

// BeginDeleting moves an Active session to Deleting.
func (s *Session) BeginDeleting() error { return s.transition(Active, Deleting) }

// ResumeActive returns a Deleting session to Active after a failed delete.
// If the channel ended while the delete was pending, the session terminates
// with that cause instead and the cause is returned.
func (s *Session) ResumeActive() error {
	s.mu.Lock()
	if s.state != Deleting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot move from %s to %s", ErrNotActive, st, Active)
	}
	if end := s.channelEnd; end != nil {
		s.mu.Unlock()
		s.terminate(end)
		return end
	}
	s.state = Active
	s.mu.Unlock()
	return nil
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrNotActive, s.state, to)
	}
	s.state = to
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("session transition")
	return nil
}

// Close closes the channel, waits for it to finish and terminates the
// session without error. When the channel was open the participant's leave
// notice is appended locally, mirroring the one sent to the room.
func (s *Session) Close(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.state == Active || s.state == Initializing {
		s.state = Leaving
	}
	s.mu.Unlock()

	wasOpen := s.channel.State() == transport.Open
	s.channel.Close(reason)

	select {
	case <-s.channel.Done():
	case <-ctx.Done():
		s.terminate(ctx.Err())
		return ctx.Err()
	}

	if wasOpen {
		s.append(protocol.LeaveNotice(s.participant))
	}
	s.terminate(nil)
	return nil
}

func (s *Session) append(msg protocol.Message) {
	s.mu.Lock()
	s.timeline.Append(msg)
	s.mu.Unlock()
	s.updated.Broadcast()
}

type subscriber struct {
	fn   func(protocol.Message)
	from int // first timeline index fn receives
}

// deliverLoop hands appended messages to subscribers in order. It exits
// once the session has terminated and everything appended was delivered.
func (s *Session) deliverLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for s.delivered == s.timeline.Len() && s.state != Terminated {
			s.updated.Wait()
		}
		if s.delivered == s.timeline.Len() {
			return
		}

		idx := s.delivered
		msg := s.timeline.At(idx)
		s.delivered++

		fns := make([]func(protocol.Message), 0, len(s.subscribers))
		for i := 0; i < s.nextSub; i++ {
			if sub, ok := s.subscribers[i]; ok && sub.from <= idx {
				fns = append(fns, sub.fn)
			}
		}

		s.mu.Unlock()
		for _, fn := range fns {
			fn(msg)
		}
		s.mu.Lock()
	}
}

func (s *Session) terminate(err error) {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	s.state = Terminated
	s.err = err
	s.mu.Unlock()
	s.updated.Broadcast()

	close(s.done)
	if err != nil {
		s.logger.Info().Err(err).Msg("session terminated")
	} else {
		s.logger.Debug().Msg("session terminated")
	}
}

// events adapts channel callbacks onto the session.
type events struct {
	s *Session
}

func (e events) OnOpen() {
	s := e.s
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()

	s.append(protocol.JoinNotice(s.participant))
	close(s.openedCh)
}

func (e events) OnMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return
	}
	e.s.append(msg)
}

func (e events) OnClose(code int) {
	s := e.s
	s.mu.Lock()
	var cause error
	switch {
	case !s.opened:
		cause = &transport.ChannelOpenError{
			RoomID: s.roomID,
			Err:    fmt.Errorf("%w (code=%d)", ErrChannelClosed, code),
		}
	case code == protocol.CloseRoomDeleted:
		cause = ErrRoomDeleted
	default:
		cause = fmt.Errorf("%w (code=%d)", ErrChannelClosed, code)
	}
	if s.channelGoneLocked(cause) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.terminate(cause)
}

func (e events) OnError(err error) {
	s := e.s
	s.mu.Lock()
	if s.channelGoneLocked(err) {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("channel failed while closing")
		return
	}
	s.mu.Unlock()
	s.terminate(err)
}

// channelGoneLocked records cause while the session is winding down and
// reports whether the caller should stop there. Callers hold mu.
func (s *Session) channelGoneLocked(cause error) bool {
	switch s.state {
	case Leaving, Deleting:
		s.channelEnd = cause
		return true
	case Terminated:
		return true
	}
	return false
}

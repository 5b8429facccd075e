// Package lifecycle implements the two ways a participant exits a room:
// leaving it, or (for the owner) deleting it for everyone.
//
// Both operations assume the caller already obtained the user's
// confirmation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
)

// Navigation tells the caller what to do with the room view.
type Navigation int

const (
	// Stay keeps the room view open.
	Stay Navigation = iota
	// NavigateAway leaves the room view.
	NavigateAway
)

func (n Navigation) String() string {
	if n == NavigateAway {
		return "navigate-away"
	}
	return "stay"
}

// AuthorizationError is returned when a participant who does not own the
// room tries to delete it. No request is made.
type AuthorizationError struct {
	RoomID        string
	ParticipantID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("lifecycle: participant %d does not own room %q", e.ParticipantID, e.RoomID)
}

// Controller coordinates room exits with the room resource.
type Controller struct {
	directory room.Directory
	logger    zerolog.Logger
}

// New creates a Controller that deletes rooms through dir.
func New(dir room.Directory, logger zerolog.Logger) *Controller {
	return &Controller{
		directory: dir,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
	}
}

// DeleteRoom destroys the session's room. The deletion notice is broadcast
// only after the resource API confirms the delete; when the delete fails
// the session is returned to Active with its channel untouched, unless the
// channel ended in the meantime, in which case the session terminates.
func (c *Controller) DeleteRoom(ctx context.Context, s *session.Session) (Navigation, error) {
	if !s.IsOwner() {
		return Stay, &AuthorizationError{RoomID: s.RoomID(), ParticipantID: s.Participant().ID}
	}
	if err := s.BeginDeleting(); err != nil {
		return Stay, fmt.Errorf("lifecycle: delete: %w", err)
	}

	logger := c.logger.With().Str("room", s.RoomID()).Logger()

	if err := c.directory.DeleteRoom(ctx, s.RoomID()); err != nil {
		// A channel that ended meanwhile terminates the session here.
		if rerr := s.ResumeActive(); rerr != nil {
			logger.Warn().Err(rerr).Msg("channel ended while delete was pending")
		}
		logger.Warn().Err(err).Msg("room delete failed")
		return Stay, err
	}

	ch := s.Channel()
	if ch.State() == transport.Open {
		if err := ch.Send(protocol.DeletedNotice()); err != nil && !errors.Is(err, transport.ErrChannelNotOpen) {
			logger.Warn().Err(err).Msg("failed to broadcast room deletion")
		}
	}

	if err := s.Close(ctx, "room deleted"); err != nil {
		logger.Warn().Err(err).Msg("channel close interrupted")
	}
	logger.Info().Msg("room deleted")
	return NavigateAway, nil
}

// LeaveRoom closes the session's channel, which announces the departure to
// the room. The room itself is not touched.
func (c *Controller) LeaveRoom(ctx context.Context, s *session.Session) (Navigation, error) {
	if err := s.BeginLeaving(); err != nil && s.State() != session.Terminated {
		return Stay, fmt.Errorf("lifecycle: leave: %w", err)
	}
	if err := s.Close(ctx, "left room"); err != nil {
		return NavigateAway, fmt.Errorf("lifecycle: leave: %w", err)
	}
	c.logger.Info().Str("room", s.RoomID()).Msg("left room")
	return NavigateAway, nil
}

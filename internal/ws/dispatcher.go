package ws

import (
	"context"
	"time"

	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
)

// dispatch handles one frame read from c. Chat frames are validated,
// rate limited, attributed to the connection's participant and relayed to
// the whole room including the sender. System frames are relayed to everyone
// else in the room.
func (s *Server) dispatch(c *Connection, data []byte) {
	// Connections of a deleted room are detached before their socket closes.
	if s.conns.Get(c.ID) == nil {
		return
	}
	start := time.Now()

	msg, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn().Err(err).Str("conn", c.ID).Msg("malformed frame dropped")
		return
	}

	echo := false
	switch m := msg.(type) {
	case protocol.ChatMessage:
		if err := protocol.ValidateText(m.Text); err != nil {
			metrics.FramesTotal.WithLabelValues("invalid").Inc()
			s.notify(c, err.Error())
			return
		}
		if res := s.config.Filter.Check(m.Text); res.Blocked {
			metrics.FramesTotal.WithLabelValues("blocked").Inc()
			s.logger.Info().Str("conn", c.ID).Str("reason", res.Reason).Str("term", res.Term).Msg("chat frame blocked")
			s.notify(c, "your message was not sent: it violates the room rules")
			return
		}
		if s.limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			ok, _ := s.limiter.Allow(ctx, c.ID, ratelimit.RuleMessage)
			cancel()
			if !ok {
				metrics.FramesTotal.WithLabelValues("limited").Inc()
				s.notify(c, "you are sending messages too fast")
				return
			}
		}
		msg = protocol.NewChat(c.Participant, m.Text)
		echo = true
	case protocol.SystemMessage:
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("conn", c.ID).Msg("encode frame")
		return
	}
	event, err := messaging.MarshalRoomEvent(c.ID, echo, frame)
	if err != nil {
		s.logger.Error().Err(err).Str("conn", c.ID).Msg("encode room event")
		return
	}
	if err := s.broker.PublishRoom(c.RoomID, event); err != nil {
		s.logger.Error().Err(err).Str("room", c.RoomID).Msg("publish failed")
		return
	}

	metrics.FramesTotal.WithLabelValues("relayed").Inc()
	metrics.RelayLatency.Observe(time.Since(start).Seconds())
}

// deliver writes a room event to every local connection in the room.
func (s *Server) deliver(roomID string, data []byte) {
	ev, err := messaging.UnmarshalRoomEvent(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("bad room event")
		return
	}

	for _, c := range s.conns.InRoom(roomID) {
		if !ev.Echo && c.ID == ev.From {
			continue
		}
		if err := c.Conn.WriteText(ev.Frame); err != nil {
			s.logger.Debug().Err(err).Str("conn", c.ID).Msg("deliver failed")
			s.RemoveConnection(c)
		}
	}
}

// notify sends a system notice to c alone.
func (s *Server) notify(c *Connection, text string) {
	data, err := protocol.Encode(protocol.SystemMessage{Text: text})
	if err != nil {
		return
	}
	if err := c.Conn.WriteText(data); err != nil {
		s.logger.Debug().Err(err).Str("conn", c.ID).Msg("notice not delivered")
	}
}

// Package protocol defines the JSON frames exchanged over a room chat channel
// and the closed Message union they decode into. Every frame has the shape
//
//	{"message": "...", "username": "...", "type": "system"}
//
// where "type" is only present on system notices and "username" is only
// present on chat messages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// TypeSystem is the only recognised value of the "type" discriminator.
const TypeSystem = "system"

// CloseRoomDeleted is the WebSocket close code sent by the server to every
// channel bound to a room when that room is deleted.
const CloseRoomDeleted = 4404

// Participant is the already-authenticated user a session acts for.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Message is either a SystemMessage or a ChatMessage. The set is closed:
// code switching on a Message only has to handle those two variants.
type Message interface {
	// Render returns the single-line display form of the message.
	Render() string
	sealed()
}

// SystemMessage is an unattributed notice (join, leave, deletion).
type SystemMessage struct {
	Text string
}

// ChatMessage is a message attributed to a participant by display name.
type ChatMessage struct {
	Author string
	Text   string
}

func (SystemMessage) sealed() {}
func (ChatMessage) sealed()   {}

// Render implements Message.
func (m SystemMessage) Render() string { return m.Text }

// Render implements Message.
func (m ChatMessage) Render() string { return m.Author + ": " + m.Text }

// JoinNotice is announced when a participant's channel opens.
func JoinNotice(p Participant) SystemMessage {
	return SystemMessage{Text: p.Name + " has joined the room"}
}

// LeaveNotice is announced when a participant closes an open channel.
func LeaveNotice(p Participant) SystemMessage {
	return SystemMessage{Text: p.Name + " has left the room"}
}

// DeletedNotice is announced when the room owner deletes the room.
func DeletedNotice() SystemMessage {
	return SystemMessage{Text: "this room has been deleted"}
}

// NewChat builds the chat message p sends with the given text.
func NewChat(p Participant, text string) ChatMessage {
	return ChatMessage{Author: p.Name, Text: text}
}

// Frame is the wire representation of a Message.
type Frame struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type,omitempty"`
}

// rawFrame distinguishes absent fields from empty ones while decoding.
type rawFrame struct {
	Message  *string `json:"message"`
	Username *string `json:"username"`
	Type     *string `json:"type"`
}

// MalformedMessageError is returned by Decode for frames that match neither
// message variant.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "protocol: malformed frame: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Decode parses a raw frame. A "type" of "system" yields a SystemMessage;
// an absent or any other "type" yields a ChatMessage, which additionally
// requires a non-empty "username".
func Decode(data []byte) (Message, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &MalformedMessageError{Reason: "invalid json", Err: err}
	}
	if f.Message == nil {
		return nil, &MalformedMessageError{Reason: `missing "message" field`}
	}

	if f.Type != nil && *f.Type == TypeSystem {
		return SystemMessage{Text: *f.Message}, nil
	}

	if f.Username == nil || *f.Username == "" {
		return nil, &MalformedMessageError{Reason: `chat frame without "username"`}
	}
	return ChatMessage{Author: *f.Username, Text: *f.Message}, nil
}

// Encode serializes a Message into its wire frame.
func Encode(m Message) ([]byte, error) {
	var f Frame
	switch msg := m.(type) {
	case SystemMessage:
		f = Frame{Message: msg.Text, Type: TypeSystem}
	case ChatMessage:
		if msg.Author == "" {
			return nil, fmt.Errorf("protocol: chat message without author")
		}
		f = Frame{Message: msg.Text, Username: msg.Author}
	default:
		return nil, fmt.Errorf("protocol: unsupported message %T", m)
	}

	out, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal frame: %w", err)
	}
	return out, nil
}

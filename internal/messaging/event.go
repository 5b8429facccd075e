package messaging

import (
	"encoding/json"
	"fmt"
)

// RoomEvent is the envelope a room frame travels in between instances.
type RoomEvent struct {
	From  string          `json:"from"`           // sending connection id
	Echo  bool            `json:"echo,omitempty"` // deliver to the sender too
	Frame json.RawMessage `json:"frame"`
}

// MarshalRoomEvent encodes a room event.
func MarshalRoomEvent(from string, echo bool, frame []byte) ([]byte, error) {
	data, err := json.Marshal(RoomEvent{From: from, Echo: echo, Frame: frame})
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal room event: %w", err)
	}
	return data, nil
}

// UnmarshalRoomEvent decodes a room event.
func UnmarshalRoomEvent(data []byte) (RoomEvent, error) {
	var ev RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RoomEvent{}, fmt.Errorf("messaging: unmarshal room event: %w", err)
	}
	return ev, nil
}

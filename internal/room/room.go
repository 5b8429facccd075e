// Package room resolves room identifiers to room metadata through the
// external resource API and issues the destructive room mutation.
package room

import (
	"context"
	"errors"
	"fmt"
)

// Identity headers carried on every request to the resource API and on the
// channel handshake. Authentication happens upstream; these only identify.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
)

// Room is the read-mostly metadata a chat session needs.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"created_by"`
}

// Directory is the resource collaborator for rooms.
type Directory interface {
	// FetchRoom returns the room or a *MetadataFetchError.
	FetchRoom(ctx context.Context, roomID string) (Room, error)
	// DeleteRoom destroys the room or returns a *MutationFailedError.
	DeleteRoom(ctx context.Context, roomID string) error
}

var (
	// ErrRoomNotFound is wrapped by errors for rooms that do not exist.
	ErrRoomNotFound = errors.New("room: not found")
	// ErrForbidden is wrapped when the resource API refuses a mutation.
	ErrForbidden = errors.New("room: forbidden")
)

// MetadataFetchError means the room lookup failed. It is terminal for the
// session open attempt that issued it.
type MetadataFetchError struct {
	RoomID string
	Err    error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("room: fetch %q: %v", e.RoomID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// MutationFailedError means the resource API rejected or never received the
// delete request; the room still exists.
type MutationFailedError struct {
	RoomID string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *MutationFailedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("room: delete %q failed with status %d: %v", e.RoomID, e.Status, e.Err)
	}
	return fmt.Sprintf("room: delete %q failed: %v", e.RoomID, e.Err)
}

func (e *MutationFailedError) Unwrap() error { return e.Err }

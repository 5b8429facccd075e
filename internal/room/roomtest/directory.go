// Package roomtest provides an in-memory room.Directory for tests.
package roomtest

import (
	"context"
	"sync"

	"github.com/whisper/roomchat/internal/room"
)

// Directory serves a fixed set of rooms and counts every call.
type Directory struct {
	// FetchErr and DeleteErr, when set, are returned instead of the result.
	FetchErr  error
	DeleteErr error
	// OnDelete, when set, runs at the start of DeleteRoom.
	OnDelete func()

	mu          sync.Mutex
	rooms       map[string]room.Room
	fetchCalls  int
	deleteCalls int
}

// NewDirectory returns a Directory holding rooms.
func NewDirectory(rooms ...room.Room) *Directory {
	d := &Directory{rooms: make(map[string]room.Room)}
	for _, r := range rooms {
		d.rooms[r.ID] = r
	}
	return d
}

func (d *Directory) FetchRoom(ctx context.Context, roomID string) (room.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetchCalls++

	if err := ctx.Err(); err != nil {
		return room.Room{}, &room.MetadataFetchError{RoomID: roomID, Err: err}
	}
	if d.FetchErr != nil {
		return room.Room{}, &room.MetadataFetchError{RoomID: roomID, Err: d.FetchErr}
	}
	r, ok := d.rooms[roomID]
	if !ok {
		return room.Room{}, &room.MetadataFetchError{RoomID: roomID, Err: room.ErrRoomNotFound}
	}
	return r, nil
}

func (d *Directory) DeleteRoom(_ context.Context, roomID string) error {
	if d.OnDelete != nil {
		d.OnDelete()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteCalls++

	if d.DeleteErr != nil {
		return &room.MutationFailedError{RoomID: roomID, Status: 500, Err: d.DeleteErr}
	}
	if _, ok := d.rooms[roomID]; !ok {
		return &room.MutationFailedError{RoomID: roomID, Status: 404, Err: room.ErrRoomNotFound}
	}
	delete(d.rooms, roomID)
	return nil
}

// FetchCalls returns how many times FetchRoom ran.
func (d *Directory) FetchCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchCalls
}

// DeleteCalls returns how many times DeleteRoom ran.
func (d *Directory) DeleteCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteCalls
}

// Has reports whether roomID still exists.
func (d *Directory) Has(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[roomID]
	return ok
}

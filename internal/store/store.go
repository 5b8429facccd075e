// Package store persists rooms for the reference resource API.
package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/whisper/roomchat/internal/room"
)

// ErrNotFound is returned for rooms that do not exist.
var ErrNotFound = errors.New("store: room not found")

// RoomStore creates, reads and deletes rooms.
type RoomStore interface {
	Create(ctx context.Context, name string, ownerID int64) (room.Room, error)
	Get(ctx context.Context, id string) (room.Room, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps rooms in process memory. Ids are sequential integers
// rendered as strings, matching the Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rooms  map[string]room.Room
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]room.Room)}
}

func (s *MemoryStore) Create(_ context.Context, name string, ownerID int64) (room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r := room.Room{ID: strconv.FormatInt(s.nextID, 10), Name: name, OwnerID: ownerID}
	s.rooms[r.ID] = r
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return room.Room{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

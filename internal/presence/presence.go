// Package presence tracks which channels are connected to each room. The
// Redis tracker shares counts across server instances; the local tracker is
// used when no Redis is configured.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RoomPrefix is the Redis key prefix for per-room member sets.
	RoomPrefix = "presence:room:"

	// MemberTTL bounds how long a set survives without a join. It is
	// refreshed on every join so that crashed instances do not pin rooms
	// forever.
	MemberTTL = 1 * time.Hour
)

// Tracker records channel membership per room.
type Tracker interface {
	Join(ctx context.Context, roomID, connID string) error
	Leave(ctx context.Context, roomID, connID string) error
	Count(ctx context.Context, roomID string) (int64, error)
	Clear(ctx context.Context, roomID string) error
}

// RedisTracker stores membership in Redis sets.
type RedisTracker struct {
	client *redis.Client
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}
	return client, nil
}

// NewRedisTracker creates a tracker on an existing client.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

// Join adds connID to the room set and refreshes its TTL.
func (t *RedisTracker) Join(ctx context.Context, roomID, connID string) error {
	key := RoomPrefix + roomID
	pipe := t.client.Pipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, MemberTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave removes connID from the room set.
func (t *RedisTracker) Leave(ctx context.Context, roomID, connID string) error {
	return t.client.SRem(ctx, RoomPrefix+roomID, connID).Err()
}

// Count returns the number of connected channels in the room.
func (t *RedisTracker) Count(ctx context.Context, roomID string) (int64, error) {
	return t.client.SCard(ctx, RoomPrefix+roomID).Result()
}

// Clear drops the room set, used when the room is deleted.
func (t *RedisTracker) Clear(ctx context.Context, roomID string) error {
	return t.client.Del(ctx, RoomPrefix+roomID).Err()
}

// LocalTracker keeps membership in process memory.
type LocalTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

// NewLocalTracker returns an empty LocalTracker.
func NewLocalTracker() *LocalTracker {
	return &LocalTracker{rooms: make(map[string]map[string]struct{})}
}

func (t *LocalTracker) Join(_ context.Context, roomID, connID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return nil
}

func (t *LocalTracker) Leave(_ context.Context, roomID, connID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return nil
}

func (t *LocalTracker) Count(_ context.Context, roomID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.rooms[roomID])), nil
}

func (t *LocalTracker) Clear(_ context.Context, roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
	return nil
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/whisper/roomchat/internal/room"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies every pending schema migration to databaseURL.
func RunMigrations(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// PostgresStore keeps rooms in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Create inserts a room owned by ownerID.
func (s *PostgresStore) Create(ctx context.Context, name string, ownerID int64) (room.Room, error) {
	const query = `
		INSERT INTO rooms (name, created_by)
		VALUES ($1, $2)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, name, ownerID).Scan(&id); err != nil {
		return room.Room{}, fmt.Errorf("store: insert room: %w", err)
	}
	return room.Room{ID: strconv.FormatInt(id, 10), Name: name, OwnerID: ownerID}, nil
}

// Get loads a room by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (room.Room, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return room.Room{}, ErrNotFound
	}

	const query = `SELECT name, created_by FROM rooms WHERE id = $1`

	r := room.Room{ID: id}
	err = s.db.QueryRowContext(ctx, query, key).Scan(&r.Name, &r.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, ErrNotFound
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("store: get room: %w", err)
	}
	return r, nil
}

// Delete removes a room by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, key)
	if err != nil {
		return fmt.Errorf("store: delete room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete room: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

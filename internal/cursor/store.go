// Package cursor persists the bridge's dedup cursor in a small local
// SQLite database. One row per room: the last processed event ID and
// its timestamp. The store is written on every advance so a restarted
// bridge resumes where it left off instead of reprocessing the fetch
// window.
package cursor

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cursor is the persisted position in a room's event stream.
type Cursor struct {
	EventID   string
	Timestamp int64
}

// Store is a SQLite-backed cursor store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cursor database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cursor db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cursor db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			room_id    TEXT PRIMARY KEY,
			event_id   TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cursors table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted cursor for a room. A room with no
// persisted cursor returns the zero Cursor and no error — the caller
// treats that as "start from now".
func (s *Store) Load(roomID string) (Cursor, error) {
	row := s.db.QueryRow(`SELECT event_id, ts FROM cursors WHERE room_id = ?`, roomID)

	var c Cursor
	err := row.Scan(&c.EventID, &c.Timestamp)
	if err == sql.ErrNoRows {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("load cursor for %s: %w", roomID, err)
	}
	return c, nil
}

// Save upserts the cursor for a room.
func (s *Store) Save(roomID string, c Cursor) error {
	_, err := s.db.Exec(`
		INSERT INTO cursors (room_id, event_id, ts, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			event_id = excluded.event_id,
			ts = excluded.ts,
			updated_at = excluded.updated_at
	`, roomID, c.EventID, c.Timestamp, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cursor for %s: %w", roomID, err)
	}
	return nil
}

package journal

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal is a SQLite-backed log of stream lifecycle events (connected,
// disconnected, reconnecting, reconnect_failed, join_timeout). The
// engine records into it best-effort: a journal write failure is logged
// and never propagated into the data plane.
type Journal struct {
	db *sql.DB
}

// Event is one recorded lifecycle transition.
type Event struct {
	ID        string    `json:"id"`
	StreamID  int       `json:"stream_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Open creates or opens the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS stream_events (
		id TEXT PRIMARY KEY,
		stream_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stream_events_stream ON stream_events(stream_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record writes one event. Failures are logged, not returned, so the
// stream engine never stalls on the journal.
func (j *Journal) Record(streamID int, event, detail string) {
	_, err := j.db.Exec(
		"INSERT INTO stream_events (id, stream_id, event, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		uuid.New().String(), streamID, event, detail, time.Now().UTC(),
	)
	if err != nil {
		log.Printf("Warning: failed to record stream event %q for stream %d: %v", event, streamID, err)
	}
}

// ListEvents returns the most recent events, newest first.
func (j *Journal) ListEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.Query(
		"SELECT id, stream_id, event, detail, created_at FROM stream_events ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stream event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListStreamEvents returns the most recent events for one stream.
func (j *Journal) ListStreamEvents(streamID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.Query(
		"SELECT id, stream_id, event, detail, created_at FROM stream_events WHERE stream_id = ? ORDER BY created_at DESC LIMIT ?",
		streamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for stream %d: %w", streamID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stream event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

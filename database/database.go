package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store is the shared event log used by every pipeline coordinator and by the
// dashboard handlers. It owns the events/detections tables and the thumbnail
// directory lifecycle.
type Store struct {
	DB            *sql.DB
	ThumbnailsDir string
}

func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable write-ahead logging for better concurrency; busy_timeout queues
	// concurrent writers instead of surfacing "database is locked"
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Printf("warning: failed to apply %s: %v", pragma, err)
		}
	}

	sqlStmt := `
	CREATE TABLE IF NOT EXISTS events (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id       TEXT    NOT NULL DEFAULT 'front_door',
		recorded_at     TEXT    NOT NULL,
		event_type      TEXT    NOT NULL DEFAULT 'motion',
		recording_id    TEXT,
		person_name     TEXT,
		face_confidence REAL,
		face_distance   REAL,
		unlock_granted  INTEGER NOT NULL DEFAULT 0,
		door_action     TEXT    DEFAULT 'none',
		thumbnail_path  TEXT,
		alert_sent      INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS detections (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		label      TEXT    NOT NULL,
		confidence REAL    NOT NULL,
		bbox_x1    REAL,
		bbox_y1    REAL,
		bbox_x2    REAL,
		bbox_y2    REAL
	);
	CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_camera_id ON events(camera_id);
	CREATE INDEX IF NOT EXISTS idx_events_person_name ON events(person_name);
	CREATE INDEX IF NOT EXISTS idx_detections_event_id ON detections(event_id);
	CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
	`
	_, err = db.Exec(sqlStmt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event tables: %w", err)
	}

	log.Println("database initialized successfully at", dataSourceName)
	return db, nil
}

// NewStore wraps an initialized database handle and ensures the thumbnail
// directory exists.
func NewStore(db *sql.DB, thumbnailsDir string) (*Store, error) {
	if err := os.MkdirAll(thumbnailsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnails directory %s: %w", thumbnailsDir, err)
	}
	return &Store{DB: db, ThumbnailsDir: thumbnailsDir}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

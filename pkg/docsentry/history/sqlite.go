// Package history persists the change-event log in SQLite. Writes are
// best-effort: tracking correctness never depends on a log write landing.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Store is the SQLite-backed change-event log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS change_events (
	id           TEXT PRIMARY KEY,
	token        TEXT NOT NULL,
	change_type  TEXT NOT NULL,
	editor_id    TEXT NOT NULL,
	edited_at    TEXT NOT NULL,
	detected_via TEXT NOT NULL,
	logged_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_events_token ON change_events(token, edited_at DESC);
`

// Open opens (or creates) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogChangeEvent appends one change event. An empty ID gets a generated one.
func (s *Store) LogChangeEvent(ev tracking.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO change_events
			(id, token, change_type, editor_id, edited_at, detected_via, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Token,
		string(ev.ChangeType),
		ev.EditorID,
		ev.EditedAt.UTC().Format(time.RFC3339Nano),
		string(ev.DetectedVia),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log change event for %q: %w", ev.Token, err)
	}
	return nil
}

// RecentChanges returns up to limit events for token, newest first.
func (s *Store) RecentChanges(token string, limit int) ([]tracking.ChangeEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, token, change_type, editor_id, edited_at, detected_via
		FROM change_events
		WHERE token = ?
		ORDER BY edited_at DESC
		LIMIT ?`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("recent changes for %q: %w", token, err)
	}
	defer rows.Close()

	var events []tracking.ChangeEvent
	for rows.Next() {
		var (
			ev       tracking.ChangeEvent
			cType    string
			editedAt string
			via      string
		)
		if err := rows.Scan(&ev.ID, &ev.Token, &cType, &ev.EditorID, &editedAt, &via); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		ev.ChangeType = tracking.ChangeType(cType)
		ev.DetectedVia = tracking.Source(via)
		ev.EditedAt, _ = time.Parse(time.RFC3339Nano, editedAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

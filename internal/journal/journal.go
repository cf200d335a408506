// Package journal keeps a rolling SQLite log of recognition lifecycle events
// for diagnostics. It never stores transcript text.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/doobs/internal/recognition"
)

const (
	DefaultPath = "data/doobs.db"
	DefaultKeep = 1000

	// pruneEvery is how many records go by between automatic prunes.
	pruneEvery = 100
)

// Entry is one stored lifecycle event.
type Entry struct {
	ID     int64                     `json:"id"`
	Kind   recognition.LifecycleKind `json:"kind"`
	Code   recognition.ErrorCode     `json:"code,omitempty"`
	Detail string                    `json:"detail,omitempty"`
	Words  int                       `json:"words,omitempty"`
	At     time.Time                 `json:"at"`
}

// Journal is a SQLite-backed lifecycle log. It implements
// recognition.EventSink.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	keep   int

	mu      sync.Mutex
	written int
}

// Open creates or opens the journal at path. keep bounds how many entries are
// retained; zero or less keeps everything.
func Open(path string, keep int, logger *slog.Logger) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, logger: logger.With(slog.String("component", "journal")), keep: keep}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			words INTEGER NOT NULL DEFAULT 0,
			at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create lifecycle_events table: %w", err)
	}

	if _, err := j.db.Exec("CREATE INDEX IF NOT EXISTS idx_lifecycle_events_at ON lifecycle_events(at)"); err != nil {
		return fmt.Errorf("create lifecycle_events index: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) DB() *sql.DB {
	return j.db
}

// Record stores one lifecycle event.
func (j *Journal) Record(event recognition.LifecycleEvent) error {
	if event.Kind == "" {
		return fmt.Errorf("lifecycle event kind is required")
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.Exec(
		`INSERT INTO lifecycle_events(kind, code, detail, words, at) VALUES(?, ?, ?, ?, ?)`,
		string(event.Kind),
		string(event.Code),
		strings.TrimSpace(event.Detail),
		event.Words,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", event.Kind, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(
		`SELECT id, kind, code, detail, words, at
		 FROM lifecycle_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var kind, code, at string
		if err := rows.Scan(&entry.ID, &kind, &code, &entry.Detail, &entry.Words, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event %d time: %w", entry.ID, err)
		}
		entry.Kind = recognition.LifecycleKind(kind)
		entry.Code = recognition.ErrorCode(code)
		entry.At = parsed
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return entries, nil
}

// Prune deletes all but the newest keep entries and reports how many rows
// were removed.
func (j *Journal) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := j.db.Exec(
		`DELETE FROM lifecycle_events
		 WHERE id NOT IN (SELECT id FROM lifecycle_events ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return rows, nil
}

// SnapshotChanged is a no-op; snapshots carry transcript text.
func (j *Journal) SnapshotChanged(recognition.Snapshot) {}

// Lifecycle records the event, pruning old entries now and then.
func (j *Journal) Lifecycle(event recognition.LifecycleEvent) {
	if err := j.Record(event); err != nil {
		j.logger.Warn("journal write failed", slog.String("error", err.Error()))
		return
	}
	if j.keep <= 0 {
		return
	}

	j.mu.Lock()
	j.written++
	due := j.written%pruneEvery == 0
	j.mu.Unlock()
	if !due {
		return
	}

	removed, err := j.Prune(j.keep)
	if err != nil {
		j.logger.Warn("journal prune failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		j.logger.Debug("journal pruned", slog.Int64("removed", removed))
	}
}

package index

// This file contains the SQLite backend. Updates run in a transaction so
// several qaflow processes can share one index file.

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qaflow/qaflow/model"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tests (
	name             TEXT PRIMARY KEY,
	created_at       TEXT NOT NULL,
	last_run_at      TEXT,
	last_status      TEXT,
	last_report_file TEXT,
	last_app_url     TEXT
)`

// SQLiteStore keeps the index in a SQLite database.
type SQLiteStore struct {
	logger zerolog.Logger
	db     *sql.DB
	now    func() time.Time

	mu sync.Mutex
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(logger zerolog.Logger, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// One writer at a time; the mutex below serializes this process, the busy
	// timeout other processes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure index database (%s): %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	return &SQLiteStore{
		logger: logger.With().Str("component", "index").Logger(),
		db:     db,
		now:    time.Now,
	}, nil
}

func (s *SQLiteStore) Ensure(name string, createdAt time.Time) (model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.NewIndexEntry(name, createdAt)
	_, err := s.db.Exec(
		`INSERT INTO tests (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return entry, fmt.Errorf("failed to insert index entry: %w", err)
	}
	existing, _, err := scanEntry(s.db.QueryRow(selectEntry+` WHERE name = ?`, name))
	if err != nil {
		return entry, err
	}
	return existing, nil
}

func (s *SQLiteStore) Get(name string) (model.IndexEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return scanEntry(s.db.QueryRow(selectEntry+` WHERE name = ?`, name))
}

func (s *SQLiteStore) List() ([]model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(selectEntry + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list index: %w", err)
	}
	defer rows.Close()

	var entries []model.IndexEntry
	for rows.Next() {
		entry, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list index: %w", err)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *SQLiteStore) Update(name string, fn func(*model.IndexEntry)) (model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return model.IndexEntry{}, fmt.Errorf("failed to begin index update: %w", err)
	}
	defer tx.Rollback()

	entry, ok, err := scanEntry(tx.QueryRow(selectEntry+` WHERE name = ?`, name))
	if err != nil {
		return entry, err
	}
	if !ok {
		entry = model.NewIndexEntry(name, s.now())
	}
	fn(&entry)
	entry.Name = name

	_, err = tx.Exec(`
INSERT INTO tests (name, created_at, last_run_at, last_status, last_report_file, last_app_url)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	created_at = excluded.created_at,
	last_run_at = excluded.last_run_at,
	last_status = excluded.last_status,
	last_report_file = excluded.last_report_file,
	last_app_url = excluded.last_app_url`,
		entry.Name,
		formatTime(entry.CreatedAt),
		nullTime(entry.LastRunAt),
		nullStatus(entry.LastStatus),
		nullString(entry.LastReportFile),
		nullString(entry.LastAppURL),
	)
	if err != nil {
		return entry, fmt.Errorf("failed to write index entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("failed to commit index update: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectEntry = `SELECT name, created_at, last_run_at, last_status, last_report_file, last_app_url FROM tests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.IndexEntry, bool, error) {
	var (
		entry                               model.IndexEntry
		createdAt                           string
		lastRunAt, lastStatus, report, aURL sql.NullString
	)
	err := row.Scan(&entry.Name, &createdAt, &lastRunAt, &lastStatus, &report, &aURL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IndexEntry{}, false, nil
	}
	if err != nil {
		return model.IndexEntry{}, false, fmt.Errorf("failed to read index entry: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		entry.CreatedAt = t
	}
	if lastRunAt.Valid {
		if t, err := time.Parse(time.RFC3339, lastRunAt.String); err == nil {
			entry.LastRunAt = &t
		}
	}
	if lastStatus.Valid {
		if st := model.ParseStatus(lastStatus.String); st != "" {
			entry.LastStatus = &st
		}
	}
	if report.Valid {
		r := report.String
		entry.LastReportFile = &r
	}
	if aURL.Valid {
		u := aURL.String
		entry.LastAppURL = &u
	}
	return entry, true, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStatus(s *model.Status) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

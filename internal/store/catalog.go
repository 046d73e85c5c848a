package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog is a purely-derived SQLite index of (course_name, date,
// session_number) -> directory path, used to make
// ListAvailableSessions/CheckTodaySession fast without a directory walk
// per call as the number of sessions grows. It is never the system of
// record: every row is rebuildable from the JSON files a Store writes,
// and a missing or corrupt catalog file never loses data, only lookup
// speed. mattn/go-sqlite3 is the same driver the teacher's own local
// (non-Postgres) stores use elsewhere in the example pack.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if needed) the SQLite catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		course_name TEXT NOT NULL,
		date TEXT NOT NULL,
		session_number INTEGER NOT NULL,
		dir TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		PRIMARY KEY (course_name, date, session_number)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// Index records (or updates) one session's location. Called after every
// successful StartSession so the catalog stays current without a
// rebuild; a failure here never fails the calling StartSession, it only
// degrades future lookups to the directory-walk fallback.
func (c *Catalog) Index(courseName, date string, sessionNumber int, dir string, startedAt int64) error {
	_, err := c.db.Exec(`INSERT INTO sessions (course_name, date, session_number, dir, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(course_name, date, session_number) DO UPDATE SET dir=excluded.dir, started_at=excluded.started_at`,
		courseName, date, sessionNumber, dir, startedAt)
	return err
}

// Rebuild truncates and repopulates the catalog from a Store's directory
// listing, used when the catalog file is missing, corrupt, or simply
// stale relative to the JSON files (which remain the system of record).
func (c *Catalog) Rebuild(s *Store) error {
	if _, err := c.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("catalog: clear: %w", err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read root: %w", err)
	}
	for _, courseEntry := range entries {
		if !courseEntry.IsDir() {
			continue
		}
		course := courseEntry.Name()
		dirs, err := s.listSessionDirs(course)
		if err != nil {
			continue
		}
		for _, d := range dirs {
			rec, err := s.LoadSession(course, d.date, d.number)
			if err != nil {
				continue
			}
			_ = c.Index(course, d.date, d.number, s.sessionDirLocked(course, d.date, d.number), rec.StartedAt)
		}
	}
	return nil
}

// Lookup returns the newest session number for courseName on date, or
// ok=false if none is indexed.
func (c *Catalog) Lookup(courseName, date string) (int, bool, error) {
	row := c.db.QueryRow(`SELECT session_number FROM sessions
		WHERE course_name = ? AND date = ?
		ORDER BY session_number DESC LIMIT 1`, courseName, date)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("catalog: lookup: %w", err)
	}
	return n, true, nil
}

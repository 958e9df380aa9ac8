// Package store provides the SQLite-backed revision index of a repository.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mfaure/git-as-svn/cas"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrRevisionNotFound = errors.New("revision not found")
	ErrRevisionOrder    = errors.New("revision does not follow the latest indexed revision")
	ErrMetaNotFound     = errors.New("meta key not found")
)

// Well-known meta keys.
const (
	MetaUUID   = "uuid"
	MetaBranch = "branch"
)

// DB wraps a SQLite connection holding one repository's revision index.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string
}

// OpenRepoDB opens or creates the index for a named repository under root.
func OpenRepoDB(root, repo string) (*DB, error) {
	dir := filepath.Join(root, repo)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	return Open(filepath.Join(dir, "index.db"))
}

// Open opens a database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Pragmas are per connection; a single connection keeps them in force
	// and serialises writers.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// ----- Revisions -----

// Revision is one indexed revision.
type Revision struct {
	Rev     int64
	Commit  string
	Author  string
	Date    time.Time
	Message string
	Changes []byte
}

// AppendRevision inserts the next revision together with the paths it
// touched. The revision must directly follow the latest indexed one, so
// the index never has gaps.
func (db *DB) AppendRevision(tx *sql.Tx, r *Revision, paths []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var latest int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(rev), -1) FROM revisions`).Scan(&latest); err != nil {
		return fmt.Errorf("querying latest revision: %w", err)
	}
	if r.Rev != latest+1 {
		return fmt.Errorf("appending r%d after r%d: %w", r.Rev, latest, ErrRevisionOrder)
	}

	changes := r.Changes
	if changes == nil {
		changes = []byte{}
	}
	_, err := tx.Exec(
		`INSERT INTO revisions (rev, commit_hash, author, date, message, changes, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Rev, r.Commit, r.Author, r.Date.UnixMilli(), r.Message, changes, cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting revision: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO node_changes (path, rev) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing node change insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range paths {
		if _, err := stmt.Exec(p, r.Rev); err != nil {
			return fmt.Errorf("inserting node change %s: %w", p, err)
		}
	}
	return nil
}

// LatestRevision returns the highest indexed revision, or -1 when the
// index is empty.
func (db *DB) LatestRevision() (int64, error) {
	var latest int64
	err := db.conn.QueryRow(`SELECT COALESCE(MAX(rev), -1) FROM revisions`).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("querying latest revision: %w", err)
	}
	return latest, nil
}

// GetRevision retrieves one revision.
func (db *DB) GetRevision(rev int64) (*Revision, error) {
	var r Revision
	var date int64
	err := db.conn.QueryRow(
		`SELECT rev, commit_hash, author, date, message, changes FROM revisions WHERE rev = ?`,
		rev,
	).Scan(&r.Rev, &r.Commit, &r.Author, &date, &r.Message, &r.Changes)
	if err == sql.ErrNoRows {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying revision: %w", err)
	}
	r.Date = time.UnixMilli(date).UTC()
	return &r, nil
}

// RevisionByCommit returns the revision that indexed a commit.
func (db *DB) RevisionByCommit(hash string) (int64, error) {
	var rev int64
	err := db.conn.QueryRow(
		`SELECT rev FROM revisions WHERE commit_hash = ? ORDER BY rev LIMIT 1`, hash,
	).Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, ErrRevisionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying revision by commit: %w", err)
	}
	return rev, nil
}

// RevisionAtDate returns the latest revision dated at or before t, or 0.
func (db *DB) RevisionAtDate(t time.Time) (int64, error) {
	var rev int64
	err := db.conn.QueryRow(
		`SELECT COALESCE(MAX(rev), 0) FROM revisions WHERE date <= ?`, t.UnixMilli(),
	).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("querying revision by date: %w", err)
	}
	return rev, nil
}

// ----- Node changes -----

// LastChange returns the greatest revision <= rev that touched path or
// anything below it.
func (db *DB) LastChange(path string, rev int64) (int64, error) {
	var last sql.NullInt64
	err := db.conn.QueryRow(
		`SELECT MAX(rev) FROM node_changes WHERE path = ? AND rev <= ?`, path, rev,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("querying last change: %w", err)
	}
	if !last.Valid {
		return 0, ErrRevisionNotFound
	}
	return last.Int64, nil
}

// ----- Meta -----

// GetMeta returns a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrMetaNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting meta: %w", err)
	}
	return nil
}

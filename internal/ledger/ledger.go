// Package ledger provides a persistent record of provisioned rootfs
// directories. Uses pure-Go SQLite (modernc.org/sqlite) — no cgo required.
//
// The backends themselves keep no record beyond the filesystem; the ledger
// is what lets a later destroy be routed to the backend that provisioned a
// rootfs, and lets "never provisioned" be told apart from "already
// destroyed".
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Provision states.
const (
	StateProvisioned = "provisioned"
	StateFailed      = "failed"
	StateDestroyed   = "destroyed"
)

// ErrNotFound is returned when no record exists for a rootfs path.
var ErrNotFound = errors.New("no provision record")

// Record describes one provisioning of a rootfs path.
type Record struct {
	Rootfs    string    `json:"rootfs"`
	Backend   string    `json:"backend"`
	Layers    []string  `json:"layers"` // base-first
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DB wraps an SQLite database holding provision records.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	l := &DB{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS provisions (
			rootfs     TEXT PRIMARY KEY,
			backend    TEXT NOT NULL,
			layers     TEXT NOT NULL DEFAULT '[]',
			state      TEXT NOT NULL DEFAULT 'provisioned',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Save inserts or replaces the record for rec.Rootfs.
func (d *DB) Save(rec *Record) error {
	layersJSON, _ := json.Marshal(rec.Layers)
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := d.db.Exec(`
		INSERT INTO provisions (rootfs, backend, layers, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(rootfs) DO UPDATE SET
			backend = excluded.backend,
			layers = excluded.layers,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, rec.Rootfs, rec.Backend, string(layersJSON), rec.State,
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save provision record: %w", err)
	}
	return nil
}

// Get returns the record for a rootfs path, or ErrNotFound.
func (d *DB) Get(rootfs string) (*Record, error) {
	row := d.db.QueryRow(`
		SELECT rootfs, backend, layers, state, created_at, updated_at
		FROM provisions WHERE rootfs = ?
	`, rootfs)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", rootfs, ErrNotFound)
	}
	return rec, err
}

// SetState updates just the state of an existing record.
func (d *DB) SetState(rootfs, state string) error {
	res, err := d.db.Exec(`
		UPDATE provisions SET state = ?, updated_at = ? WHERE rootfs = ?
	`, state, time.Now().Format(time.RFC3339), rootfs)
	if err != nil {
		return fmt.Errorf("update provision state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", rootfs, ErrNotFound)
	}
	return nil
}

// List returns all records, newest first.
func (d *DB) List() ([]*Record, error) {
	rows, err := d.db.Query(`
		SELECT rootfs, backend, layers, state, created_at, updated_at
		FROM provisions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list provisions: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var layersJSON, createdAt, updatedAt string
	if err := s.Scan(&rec.Rootfs, &rec.Backend, &layersJSON, &rec.State, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(layersJSON), &rec.Layers); err != nil {
		return nil, fmt.Errorf("decode layers: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

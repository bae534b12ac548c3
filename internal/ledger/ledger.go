// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ledger implements the SQLite-backed record of events that have
// been backed up (or permanently ignored) and the remote object paths
// written for each (spec §3, §4.1).
package ledger

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nishisan-dev/protect-backup/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id    TEXT PRIMARY KEY,
	type  TEXT NOT NULL,
	camera_id TEXT NOT NULL,
	start REAL NOT NULL,
	end   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS backups (
	id     TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	remote TEXT NOT NULL,
	path   TEXT NOT NULL,
	PRIMARY KEY (id, remote)
);
`

// BackupLocation identifies where an event's clip was written.
type BackupLocation struct {
	Remote string
	Path   string
}

// Ledger is the durable record of backed-up and ignored events. The
// underlying *sql.DB is limited to a single connection, so every
// operation, reads included, is serialized through it.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists with foreign keys enforced.
func Open(path string) (*Ledger, error) {
	// mattn/go-sqlite3 needs the directory to exist; this mirrors the
	// teacher's config loaders, which never assume intermediate
	// directories exist either.
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := ensureDir(dir); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// SQLite through database/sql tolerates only one writer at a time;
	// a single connection avoids SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Has reports whether id has an events row (backed up or ignored).
func (l *Ledger) Has(id string) (bool, error) {
	var exists int
	err := l.db.QueryRow(`SELECT 1 FROM events WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ledger for %q: %w", id, err)
	}
	return true, nil
}

// AllIDs returns every event id currently recorded (backed up or
// ignored). Used only by the Reconciler to dedup against in-flight work.
func (l *Ledger) AllIDs() (map[string]struct{}, error) {
	rows, err := l.db.Query(`SELECT id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning ledger id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// RecordSuccess atomically inserts the event and its backup location,
// committing both or neither.
func (l *Ledger) RecordSuccess(event model.Event, remote, path string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertEvent(tx, event); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO backups (id, remote, path) VALUES (?, ?, ?)`,
		event.ID, remote, path,
	); err != nil {
		return fmt.Errorf("recording backup row for %q: %w", event.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger success for %q: %w", event.ID, err)
	}
	return nil
}

// RecordIgnored inserts the event into the events table only — the
// permanent-blacklist marker of spec §4.4/§4.6 (no backup rows exist, but
// the id must never be re-enqueued).
func (l *Ledger) RecordIgnored(event model.Event) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertEvent(tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ignored event %q: %w", event.ID, err)
	}
	return nil
}

// PurgeCandidate is one Ledger event whose retention window has elapsed,
// along with the backup locations recorded for it (empty for an event
// that was only ever recorded as ignored).
type PurgeCandidate struct {
	EventID string
	Backups []BackupLocation
}

// PurgeCandidates lists every event with End before cutoff and the
// backup locations recorded for each, without deleting anything. The
// caller (RetentionPurger) deletes each backup's remote object first and
// only then calls DeleteEvent for that event — per spec §4.7 step 2, a
// remote-delete failure must leave the Ledger row in place for the next
// interval to retry.
func (l *Ledger) PurgeCandidates(cutoff time.Time) ([]PurgeCandidate, error) {
	cutoffUnix := float64(cutoff.Unix())

	rows, err := l.db.Query(
		`SELECT events.id, backups.remote, backups.path
		 FROM events LEFT JOIN backups ON backups.id = events.id
		 WHERE events.end < ?
		 ORDER BY events.id`,
		cutoffUnix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing purge candidates: %w", err)
	}
	defer rows.Close()

	var candidates []PurgeCandidate
	var current *PurgeCandidate
	for rows.Next() {
		var id string
		var remote, path sql.NullString
		if err := rows.Scan(&id, &remote, &path); err != nil {
			return nil, fmt.Errorf("scanning purge candidate: %w", err)
		}
		if current == nil || current.EventID != id {
			candidates = append(candidates, PurgeCandidate{EventID: id})
			current = &candidates[len(candidates)-1]
		}
		if remote.Valid && path.Valid {
			current.Backups = append(current.Backups, BackupLocation{Remote: remote.String, Path: path.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// DeleteEvent removes a single events row (cascade removes its backups
// rows). Call only after every backup location for id has been
// successfully deleted from the remote.
func (l *Ledger) DeleteEvent(id string) error {
	if _, err := l.db.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting ledger event %q: %w", id, err)
	}
	return nil
}

func upsertEvent(tx *sql.Tx, event model.Event) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO events (id, type, camera_id, start, end) VALUES (?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.CameraID,
		float64(event.Start.Unix()), float64(event.End.Unix()),
	)
	if err != nil {
		return fmt.Errorf("upserting event %q: %w", event.ID, err)
	}
	return nil
}

// Package audit persists operationally-relevant lifecycle events — producer
// restarts, degraded transitions, active-source switches, fps changes — to a
// local SQLite database, and mirrors them to a size-rotated, brotli-compressed
// JSON-lines archive.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies an audit event.
type Kind string

const (
	KindSupervisorRestart   Kind = "supervisor_restart"
	KindSupervisorExhausted Kind = "supervisor_exhausted"
	KindDegradedTransition  Kind = "degraded_transition"
	KindActiveSourceChange  Kind = "active_source_change"
	KindFPSChange           Kind = "fps_change"
	KindTopologyReload      Kind = "topology_reload"
)

// Event is one recorded occurrence.
type Event struct {
	ID         int64  `json:"id,omitempty"`
	Kind       Kind   `json:"kind"`
	ProducerID string `json:"producer_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
	AtUnixMs   int64  `json:"at_unix_ms"`
}

// Log is the SQLite-backed event store.
type Log struct {
	db      *sql.DB
	archive *RotatingLog
}

// SetArchive mirrors every future Record call to r as well. Nil disables
// mirroring; the SQLite store remains the source of truth either way.
func (l *Log) SetArchive(r *RotatingLog) {
	l.archive = r
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// ensures its schema exists.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		producer_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		at_unix_ms INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts an event at time at, and mirrors it to the archive if one
// is attached via SetArchive.
func (l *Log) Record(kind Kind, producerID, detail string, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO events (kind, producer_id, detail, at_unix_ms) VALUES (?, ?, ?, ?)`,
		string(kind), producerID, detail, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", kind, err)
	}
	if l.archive != nil {
		if archErr := l.archive.Write(Event{Kind: kind, ProducerID: producerID, Detail: detail, AtUnixMs: at.UnixMilli()}); archErr != nil {
			return fmt.Errorf("audit: mirror to archive: %w", archErr)
		}
	}
	return nil
}

// Recent returns the most recent limit events, newest first.
func (l *Log) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT id, kind, producer_id, detail, at_unix_ms FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.ProducerID, &e.Detail, &e.AtUnixMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ForProducer returns every recorded event for producerID, oldest first.
func (l *Log) ForProducer(producerID string) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT id, kind, producer_id, detail, at_unix_ms FROM events WHERE producer_id = ? ORDER BY id ASC`, producerID)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.ProducerID, &e.Detail, &e.AtUnixMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

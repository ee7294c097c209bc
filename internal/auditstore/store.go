// Package auditstore persists tunnel lifecycle events and structured log
// lines to a local SQLite database, so that a tunnel's history survives
// process restarts and is queryable after the fact. It never participates
// in the concentrator's runtime state: cleanup_stale() and kernel
// interface enumeration remain the sole source of truth at startup.
package auditstore

import (
	"database/sql"
	"fmt"
	"net"

	_ "github.com/mattn/go-sqlite3"

	"github.com/miguelemosreverte/vpnconcentrator/internal/worker"
)

// MaxSizeBytes is the soft cap on the database file before Store starts
// evicting its oldest lifecycle_events rows to make room for new ones.
const MaxSizeBytes = 50 * 1024 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	tunnel_id INTEGER NOT NULL,
	peer_ip TEXT,
	server_ip TEXT,
	remote_addr TEXT,
	event TEXT NOT NULL,
	reason TEXT,
	bytes_in INTEGER NOT NULL DEFAULT 0,
	bytes_out INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	geo_country TEXT,
	geo_city TEXT,
	geo_isp TEXT
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_ts ON lifecycle_events(ts);

CREATE TABLE IF NOT EXISTS log_lines (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	line TEXT NOT NULL
);
`

// Store is a SQLite-backed append-only log of lifecycle events, safe for
// concurrent use. It implements worker.Sink.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or attaches to the SQLite database at path, enables WAL
// mode for concurrent writer/reader access, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("auditstore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditstore: create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit implements worker.Sink. It is best-effort: a write failure is
// swallowed (after logging to stderr via the standard logger, never back
// into this same store) so that a degraded audit trail never affects
// tunnel teardown.
func (s *Store) Emit(ev worker.LifecycleEvent) {
	var remote string
	if ev.RemoteAddr != nil {
		remote = ev.RemoteAddr.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO lifecycle_events
			(ts, tunnel_id, peer_ip, server_ip, remote_addr, event, reason, bytes_in, bytes_out, duration_ms, geo_country, geo_city, geo_isp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.Unix(), int64(ev.TunnelId), ipString(ev.PeerIP), ipString(ev.ServerIP), remote,
		string(ev.Event), ev.Reason, ev.BytesIn, ev.BytesOut, ev.Duration.Milliseconds(),
		ev.GeoCountry, ev.GeoCity, ev.GeoISP,
	)
	if err != nil {
		stderrLogf("[auditstore] write lifecycle event: %v", err)
		return
	}
	s.enforceSizeCap()
}

// enforceSizeCap evicts the oldest lifecycle_events rows when the database
// file exceeds MaxSizeBytes. Best-effort: any error here is logged and
// ignored, never surfaced to callers.
func (s *Store) enforceSizeCap() {
	size, err := fileSize(s.path)
	if err != nil || size <= MaxSizeBytes {
		return
	}
	const evictBatch = 1000
	if _, err := s.db.Exec(
		`DELETE FROM lifecycle_events WHERE id IN (
			SELECT id FROM lifecycle_events ORDER BY id ASC LIMIT ?
		)`, evictBatch); err != nil {
		stderrLogf("[auditstore] evict oldest events: %v", err)
		return
	}
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		stderrLogf("[auditstore] vacuum: %v", err)
	}
}

// Path returns the path this store was opened with, primarily for
// diagnostics and the control socket's status payload.
func (s *Store) Path() string { return s.path }

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

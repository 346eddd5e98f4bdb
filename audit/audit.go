// Package audit implements an optional Postgres trail of weight-version
// transitions on the master: one row per completed SetWeights/UpdWeights,
// recording who pushed it and how large the write was. Grounded on
// go/r3dr/short_db.go's database/sql + lib/pq + prepared-statement idiom,
// downgraded from that file's log.Fatalf-on-connect-failure to a returned
// error since the master must be able to run with no database configured
// at all. Timestamps come from a clock.Clock (go/clock) rather than
// time.Now() directly so Record's applied_at is deterministic in tests.
package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/muchq/tensorgraph/go/clock"
)

// Op names the kind of write an audit row records.
type Op string

const (
	OpSetWeights Op = "set_weights"
	OpUpdWeights Op = "upd_weights"
)

// Log writes weight-version transitions to Postgres.
type Log struct {
	db    *sql.DB
	clock clock.Clock
}

// Open connects to dsn and ensures the audit table exists.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: connecting to database: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS weight_version_log (
	id BIGSERIAL PRIMARY KEY,
	version TEXT NOT NULL,
	op TEXT NOT NULL,
	remote_addr TEXT NOT NULL,
	byte_length INTEGER NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating table: %w", err)
	}
	return &Log{db: db, clock: clock.NewSystemUtcClock()}, nil
}

// Record inserts one row describing a completed write.
func (l *Log) Record(version string, op Op, remoteAddr string, byteLength int) error {
	statement, err := l.db.Prepare(
		`INSERT INTO weight_version_log (version, op, remote_addr, byte_length, applied_at) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("audit: preparing insert: %w", err)
	}
	defer statement.Close()

	_, err = statement.Exec(version, string(op), remoteAddr, byteLength, l.clock.Now())
	if err != nil {
		return fmt.Errorf("audit: inserting row: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error { return l.db.Close() }

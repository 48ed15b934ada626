package sysid

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Sample is one tick of a sweep, in motor-shaft units.
type Sample struct {
	Test     string  // e.g. "quasistatic-forward"
	Time     float64 // seconds since the sweep started
	Voltage  float64 // volts commanded
	Position float64 // rotations
	Velocity float64 // rotations per second
}

// Recorder persists samples.
type Recorder interface {
	Record(s Sample) error
	Close() error
}

// Flusher is implemented by recorders that buffer samples; a routine flushes at the end of every sweep.
type Flusher interface {
	Flush() error
}

// MemoryRecorder keeps samples in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (m *MemoryRecorder) Record(s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

// Samples returns a copy of everything recorded.
func (m *MemoryRecorder) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

func (m *MemoryRecorder) Close() error { return nil }

const sampleSchema = `
	CREATE TABLE IF NOT EXISTS sysid_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run TEXT NOT NULL,
		test TEXT NOT NULL,
		t REAL NOT NULL,
		voltage REAL NOT NULL,
		position REAL NOT NULL,
		velocity REAL NOT NULL
	) STRICT;

	CREATE INDEX IF NOT EXISTS idx_sysid_samples_run ON sysid_samples(run, test, t);
`

const insertSample = `INSERT INTO sysid_samples (run, test, t, voltage, position, velocity)
	VALUES (?, ?, ?, ?, ?, ?)`

// SQLiteRecorder appends samples to a SQLite file. Every recorder instance is a separate run.
// Record only buffers; rows are written in one transaction by Flush, Samples and Close.
type SQLiteRecorder struct {
	db  *sql.DB
	run string

	mu      sync.Mutex
	pending []Sample
}

// OpenSQLite opens (or creates) path and starts a new run. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteRecorder, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(err, "creating sample directory")
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sample database")
	}
	db.SetMaxOpenConns(1) // one writer, and keeps ":memory:" on a single connection

	if _, err := db.Exec(sampleSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "creating sample schema")
	}
	return &SQLiteRecorder{db: db, run: time.Now().UTC().Format(time.RFC3339Nano)}, nil
}

// Run identifies this recorder's samples.
func (r *SQLiteRecorder) Run() string { return r.run }

func (r *SQLiteRecorder) Record(s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, s)
	return nil
}

// Flush writes buffered samples in a single transaction. On failure they stay buffered.
func (r *SQLiteRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "starting sample batch")
	}
	stmt, err := tx.Prepare(insertSample)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return errors.Wrap(err, "preparing sample insert")
	}
	for _, s := range r.pending {
		if _, err := stmt.Exec(r.run, s.Test, s.Time, s.Voltage, s.Position, s.Velocity); err != nil {
			tx.Rollback() //nolint:errcheck
			return errors.Wrap(err, "inserting sample")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing %d samples", len(r.pending))
	}
	r.pending = r.pending[:0]
	return nil
}

// Samples flushes, then returns this run's samples in recording order.
func (r *SQLiteRecorder) Samples() ([]Sample, error) {
	if err := r.Flush(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(`SELECT test, t, voltage, position, velocity FROM sysid_samples
		WHERE run = ? ORDER BY id`, r.run)
	if err != nil {
		return nil, errors.Wrap(err, "querying samples")
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Test, &s.Time, &s.Voltage, &s.Position, &s.Velocity); err != nil {
			return nil, errors.Wrap(err, "scanning sample")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterating samples")
}

// Close flushes what is buffered and closes the database.
func (r *SQLiteRecorder) Close() error {
	err := r.Flush()
	return multierr.Append(err, errors.Wrap(r.db.Close(), "closing sample database"))
}

// Package store persists runs, their event logs and snapshots in SQLite.
//
// The engine never touches the store mid-tick: the CLI writes each
// tick's events after Advance returns, and reads them back for replay.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/rtgs-sim/rtgs-sim/sim"
	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewRunID returns a lexicographically sortable run identifier.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Run is one stored simulation run.
type Run struct {
	ID           string `db:"id"`
	ConfigDigest string `db:"config_digest"`
	ConfigJSON   string `db:"config_json"`
	Seed         int64  `db:"seed"`
	TotalTicks   int64  `db:"total_ticks"`
	TicksRun     int64  `db:"ticks_run"`
	CreatedAt    string `db:"created_at"` // RFC 3339, UTC
}

// NewRun describes a run about to start.
func NewRun(id string, cfg *sim.Config) (*Run, error) {
	digest, err := cfg.Digest()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return &Run{
		ID:           id,
		ConfigDigest: digest,
		ConfigJSON:   string(data),
		Seed:         cfg.Seed,
		TotalTicks:   cfg.TotalTicks(),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Config decodes the configuration the run was started with.
func (r *Run) Config() (*sim.Config, error) {
	var cfg sim.Config
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("decoding config of run %s: %w", r.ID, err)
	}
	return &cfg, nil
}

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config_digest TEXT NOT NULL,
		config_json TEXT NOT NULL,
		seed INTEGER NOT NULL,
		total_ticks INTEGER NOT NULL,
		ticks_run INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun records a new run.
func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	_, err := db.conn.NamedExecContext(ctx, `INSERT INTO runs
		(id, config_digest, config_json, seed, total_ticks, ticks_run, created_at)
		VALUES (:id, :config_digest, :config_json, :seed, :total_ticks, :ticks_run, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := db.conn.GetContext(ctx, &r, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns every run, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := db.conn.SelectContext(ctx, &runs, "SELECT * FROM runs ORDER BY id DESC"); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// UpdateRunTicks records how many ticks of a run have completed.
func (db *DB) UpdateRunTicks(ctx context.Context, id string, ticks int64) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE runs SET ticks_run = ? WHERE id = ?", ticks, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveEvents appends events to a run's log in one transaction.
func (db *DB) SaveEvents(ctx context.Context, runID string, events []eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO events (run_id, seq, tick, kind, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, ev.Seq, ev.Tick, string(ev.Kind), string(payload)); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}

	return tx.Commit()
}

// TruncateEvents removes a run's events from tick onward, so a run
// resumed from an earlier snapshot can record them again.
func (db *DB) TruncateEvents(ctx context.Context, runID string, tick int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM events WHERE run_id = ? AND tick >= ?", runID, tick)
	if err != nil {
		return fmt.Errorf("truncate events of %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logrus.Debugf("dropped %d events of run %s from tick %d", n, runID, tick)
	}
	return nil
}

// LoadEvents returns a run's events in sequence order.
func (db *DB) LoadEvents(ctx context.Context, runID string) ([]eventlog.Event, error) {
	var payloads []string
	if err := db.conn.SelectContext(ctx, &payloads,
		"SELECT payload FROM events WHERE run_id = ? ORDER BY seq", runID); err != nil {
		return nil, fmt.Errorf("load events of %s: %w", runID, err)
	}
	events := make([]eventlog.Event, len(payloads))
	for i, p := range payloads {
		if err := json.Unmarshal([]byte(p), &events[i]); err != nil {
			return nil, fmt.Errorf("decode event %d of %s: %w", i, runID, err)
		}
	}
	logrus.Debugf("loaded %d events of run %s", len(events), runID)
	return events, nil
}

// SaveSnapshot stores a snapshot, replacing any taken at the same tick.
func (db *DB) SaveSnapshot(ctx context.Context, runID string, snap *sim.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (run_id, tick, payload) VALUES (?, ?, ?)",
		runID, snap.Tick, data)
	if err != nil {
		return fmt.Errorf("save snapshot of %s at tick %d: %w", runID, snap.Tick, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of a run.
func (db *DB) LatestSnapshot(ctx context.Context, runID string) (*sim.Snapshot, error) {
	var data []byte
	err := db.conn.GetContext(ctx, &data,
		"SELECT payload FROM snapshots WHERE run_id = ? ORDER BY tick DESC LIMIT 1", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot of %s: %w", runID, err)
	}
	return sim.UnmarshalSnapshot(data)
}

// Package persistence provides SQLite-based storage of runs and their snapshots.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/yardsale/internal/engine"
)

// ErrNoSnapshot is returned when a run has never been saved.
var ErrNoSnapshot = errors.New("no snapshot")

const metaLastRun = "last_run"

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID           string        `json:"id" db:"id"`
	CreatedAt    time.Time     `json:"created_at" db:"-"`
	Params       engine.Params `json:"params" db:"-"`
	Iterations   int           `json:"iterations" db:"iterations"`
	RunningTotal float64       `json:"running_total" db:"running_total"`

	CreatedUnix int64  `json:"-" db:"created_at"`
	ParamsJSON  string `json:"-" db:"params_json"`
}

type snapshotRow struct {
	RunID        string  `db:"run_id"`
	ParamsJSON   string  `db:"params_json"`
	Iterations   int     `db:"iterations"`
	Tracked      int     `db:"tracked"`
	RunningTotal float64 `db:"running_total"`
	WealthJSON   string  `db:"wealth_json"`
	StartJSON    string  `db:"start_json"`
	PermJSON     string  `db:"perm_json"`
	TraceXJSON   string  `db:"trace_x_json"`
	TraceYJSON   string  `db:"trace_y_json"`
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
		created_at INTEGER NOT NULL,
		params_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT PRIMARY KEY REFERENCES runs(id),
		params_json TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		tracked INTEGER NOT NULL,
		running_total REAL NOT NULL,
		wealth_json TEXT NOT NULL,
		start_json TEXT NOT NULL DEFAULT 'null',
		perm_json TEXT NOT NULL,
		trace_x_json TEXT NOT NULL,
		trace_y_json TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun records a run's identity and starting parameters. Saving an
// existing run is a no-op.
func (db *DB) SaveRun(id uuid.UUID, p engine.Params) error {
	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT OR IGNORE INTO runs (id, created_at, params_json) VALUES (?, ?, ?)",
		id.String(), time.Now().Unix(), string(paramsJSON),
	)
	return err
}

// SaveSnapshot replaces the stored state of a run and marks it as the last run.
func (db *DB) SaveSnapshot(id uuid.UUID, snap engine.Snapshot) error {
	var encoded [6]string
	for i, v := range []any{snap.Params, snap.Wealth, snap.Start, snap.Perm, snap.TraceX, snap.TraceY} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", id, err)
		}
		encoded[i] = string(b)
	}
	paramsJSON, wealthJSON, startJSON := encoded[0], encoded[1], encoded[2]
	permJSON, traceXJSON, traceYJSON := encoded[3], encoded[4], encoded[5]

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO runs (id, created_at, params_json) VALUES (?, ?, ?)",
		id.String(), time.Now().Unix(), paramsJSON,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO snapshots
		(run_id, params_json, iterations, tracked, running_total,
		 wealth_json, start_json, perm_json, trace_x_json, trace_y_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), paramsJSON, snap.Iterations, snap.Tracked, snap.RunningTotal,
		wealthJSON, startJSON, permJSON, traceXJSON, traceYJSON,
		time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", id, err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		metaLastRun, id.String(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// LatestSnapshot loads the saved state of a run.
func (db *DB) LatestSnapshot(id uuid.UUID) (engine.Snapshot, error) {
	var row snapshotRow
	err := db.conn.Get(&row, `SELECT run_id, params_json, iterations, tracked, running_total,
		wealth_json, start_json, perm_json, trace_x_json, trace_y_json
		FROM snapshots WHERE run_id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Snapshot{}, fmt.Errorf("run %s: %w", id, ErrNoSnapshot)
	}
	if err != nil {
		return engine.Snapshot{}, err
	}

	snap := engine.Snapshot{
		Tracked:      row.Tracked,
		Iterations:   row.Iterations,
		RunningTotal: row.RunningTotal,
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{row.ParamsJSON, &snap.Params},
		{row.WealthJSON, &snap.Wealth},
		{row.StartJSON, &snap.Start},
		{row.PermJSON, &snap.Perm},
		{row.TraceXJSON, &snap.TraceX},
		{row.TraceYJSON, &snap.TraceY},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return engine.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
		}
	}
	return snap, nil
}

// LastRunID returns the most recently saved run.
func (db *DB) LastRunID() (uuid.UUID, error) {
	value, err := db.GetMeta(metaLastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNoSnapshot
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(value)
}

// ListRuns returns all runs, newest first, with their latest progress.
func (db *DB) ListRuns(limit int) ([]RunSummary, error) {
	var runs []RunSummary
	err := db.conn.Select(&runs, `SELECT r.id, r.created_at, r.params_json,
		COALESCE(s.iterations, 0) AS iterations,
		COALESCE(s.running_total, 0) AS running_total
		FROM runs r LEFT JOIN snapshots s ON s.run_id = r.id
		ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].CreatedAt = time.Unix(runs[i].CreatedUnix, 0).UTC()
		if err := json.Unmarshal([]byte(runs[i].ParamsJSON), &runs[i].Params); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", runs[i].ID, err)
		}
	}
	return runs, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// TrackRuns records the controller's current run and every run it starts
// afterwards, so runs are listed before their first snapshot.
func (db *DB) TrackRuns(ctl *engine.Controller) error {
	ctl.OnNewRun(func(id uuid.UUID, p engine.Params) {
		if err := db.SaveRun(id, p); err != nil {
			slog.Error("save run failed", "run", id, "error", err)
		}
	})
	return db.SaveRun(ctl.RunID(), ctl.Params())
}

// SaveState snapshots the controller's current run.
func (db *DB) SaveState(ctl *engine.Controller) error {
	id, snap := ctl.Snapshot()
	if err := db.SaveSnapshot(id, snap); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	slog.Debug("run state saved", "run", id, "iterations", snap.Iterations)
	return nil
}

// RestoreLast loads the most recent run into ctl. Returns ErrNoSnapshot when
// nothing has been saved yet.
func (db *DB) RestoreLast(ctl *engine.Controller) error {
	id, err := db.LastRunID()
	if err != nil {
		return err
	}
	snap, err := db.LatestSnapshot(id)
	if err != nil {
		return err
	}
	return ctl.Restore(id, snap)
}

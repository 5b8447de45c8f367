// Package history persists race runs and their per-position results
// to a SQLite database, so past probes can be compared without
// re-running them.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llamasoft/gorace/internal/migrations"
	"github.com/llamasoft/gorace/internal/stats"
	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

// Run is one recorded race invocation.
type Run struct {
	ID          int64
	StartedAt   time.Time
	CompletedAt *time.Time
	PlanFile    string
	WorkerCount int
	TailBytes   int
	ConnectMode string
	Status      string // "running", "completed", "aborted"
	Positions   int
	Successes   int
	Errors      int
	SpreadNs    int64 // widest release spread across positions
}

// ResultRow is one worker/position outcome.
type ResultRow struct {
	RunID        int64
	ThreadNum    int
	Position     int
	Method       string
	URL          string
	StatusCode   int
	ErrorKind    string
	ErrorMessage string
	RemoteAddr   string
	Headers      string // response headers, JSON-encoded
	ConnectNs    int64
	ReadyNs      int64
	ReleaseNs    int64
	FirstByteNs  int64
	ResponseSize int
}

// Manager owns the history database.
type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the history database.
func NewManager(dbPath string) (*Manager, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		return nil, err
	}

	if err := migrations.Run(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		plan_file TEXT,
		worker_count INTEGER NOT NULL,
		tail_bytes INTEGER NOT NULL,
		connect_mode TEXT NOT NULL,
		status TEXT NOT NULL,
		positions INTEGER NOT NULL DEFAULT 0,
		successes INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		spread_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		thread_num INTEGER NOT NULL,
		position INTEGER NOT NULL,
		method TEXT,
		url TEXT,
		status_code INTEGER,
		error_kind TEXT,
		error_message TEXT,
		remote_addr TEXT,
		headers TEXT,
		connect_ns INTEGER,
		ready_ns INTEGER,
		release_ns INTEGER,
		firstbyte_ns INTEGER,
		response_size INTEGER,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	`

	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record and fills in its ID.
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO runs (started_at, plan_file, worker_count, tail_bytes, connect_mode, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.StartedAt.Format(time.RFC3339Nano),
		run.PlanFile,
		run.WorkerCount,
		run.TailBytes,
		run.ConnectMode,
		run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}
	return nil
}

// FinishRun updates a run with its final statistics.
func (m *Manager) FinishRun(run *Run, results []worker.Result, summary *stats.Summary) error {
	now := time.Now()
	run.CompletedAt = &now
	run.Positions = len(summary.Positions)
	run.Successes = summary.SuccessCount
	run.Errors = summary.ErrorCount
	for _, ps := range summary.Positions {
		if ns := ps.Spread.Nanoseconds(); ns > run.SpreadNs {
			run.SpreadNs = ns
		}
	}

	_, err := m.db.Exec(`
		UPDATE runs
		SET completed_at = ?, status = ?, positions = ?, successes = ?, errors = ?, spread_ns = ?
		WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		run.Status,
		run.Positions,
		run.Successes,
		run.Errors,
		run.SpreadNs,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}

	return m.saveResults(run.ID, results)
}

// saveResults batch-inserts every worker/position outcome in one
// transaction.
func (m *Manager) saveResults(runID int64, results []worker.Result) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO results (
			run_id, thread_num, position, method, url, status_code,
			error_kind, error_message, remote_addr, headers,
			connect_ns, ready_ns, release_ns, firstbyte_ns, response_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		for _, resp := range res.Responses {
			row := rowFromResponse(runID, resp)
			_, err := stmt.Exec(
				row.RunID, row.ThreadNum, row.Position, row.Method, row.URL,
				row.StatusCode, row.ErrorKind, row.ErrorMessage, row.RemoteAddr,
				row.Headers, row.ConnectNs, row.ReadyNs, row.ReleaseNs,
				row.FirstByteNs, row.ResponseSize,
			)
			if err != nil {
				return fmt.Errorf("failed to insert result row: %w", err)
			}
		}
	}

	return tx.Commit()
}

func rowFromResponse(runID int64, resp *types.Response) ResultRow {
	row := ResultRow{
		RunID:        runID,
		ThreadNum:    resp.ThreadNum,
		Position:     resp.Position,
		Method:       resp.Method,
		URL:          resp.URL,
		StatusCode:   resp.StatusCode,
		RemoteAddr:   resp.RemoteAddr,
		ResponseSize: len(resp.Body),
	}
	if resp.Err != nil {
		row.ErrorKind = string(resp.Err.Kind)
		row.ErrorMessage = resp.Err.Error()
	}
	if headersJSON, err := json.Marshal(resp.Headers); err == nil {
		row.Headers = string(headersJSON)
	}
	tm := resp.Timing
	if !tm.Connect.IsZero() {
		row.ConnectNs = tm.Connect.UnixNano()
	}
	if !tm.Ready.IsZero() {
		row.ReadyNs = tm.Ready.UnixNano()
	}
	if !tm.Release.IsZero() {
		row.ReleaseNs = tm.Release.UnixNano()
	}
	if !tm.FirstByte.IsZero() {
		row.FirstByteNs = tm.FirstByte.UnixNano()
	}
	return row
}

// ListRuns returns the most recent runs, newest first.
func (m *Manager) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := m.db.Query(`
		SELECT id, started_at, completed_at, plan_file, worker_count,
		       tail_bytes, connect_mode, status, positions, successes, errors, spread_ns
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun fetches one run by ID.
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow(`
		SELECT id, started_at, completed_at, plan_file, worker_count,
		       tail_bytes, connect_mode, status, positions, successes, errors, spread_ns
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetResults fetches every result row of a run, ordered by position
// then worker.
func (m *Manager) GetResults(runID int64) ([]ResultRow, error) {
	rows, err := m.db.Query(`
		SELECT run_id, thread_num, position, method, url, status_code,
		       error_kind, error_message, remote_addr, headers,
		       connect_ns, ready_ns, release_ns, firstbyte_ns, response_size
		FROM results WHERE run_id = ? ORDER BY position, thread_num`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		err := rows.Scan(
			&r.RunID, &r.ThreadNum, &r.Position, &r.Method, &r.URL,
			&r.StatusCode, &r.ErrorKind, &r.ErrorMessage, &r.RemoteAddr,
			&r.Headers, &r.ConnectNs, &r.ReadyNs, &r.ReleaseNs,
			&r.FirstByteNs, &r.ResponseSize,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedAt string
	var completedAt sql.NullString

	err := row.Scan(
		&run.ID, &startedAt, &completedAt, &run.PlanFile, &run.WorkerCount,
		&run.TailBytes, &run.ConnectMode, &run.Status, &run.Positions,
		&run.Successes, &run.Errors, &run.SpreadNs,
	)
	if err != nil {
		return run, err
	}

	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = ts
	}
	if completedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			run.CompletedAt = &ts
		}
	}
	return run, nil
}

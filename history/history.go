// Package history persists training runs and their per-step metrics in
// a local SQLite database, so runs can be inspected and compared after
// the fact.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/selfdist/dino/dino"
)

// Store wraps the SQLite connection. SQLite serializes writers itself
// and WAL mode keeps readers unblocked, so no application-level locking
// is needed.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the history database at path and initializes
// the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize history database: %w", err)
	}
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

func (s *Store) init() error {
	if _, err := s.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		cross_entropy REAL NOT NULL,
		kl_divergence REAL NOT NULL,
		lr REAL NOT NULL,
		momentum REAL NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Run is one recorded training run.
type Run struct {
	ID         string
	Name       string
	Config     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Step is one recorded optimizer step.
type Step struct {
	RunID        string
	Step         int
	Epoch        int
	CrossEntropy float64
	KLDivergence float64
	LR           float64
	Momentum     float64
}

// BeginRun registers a new run and returns its id. config is stored as
// JSON alongside the run for later inspection; a nil config stores an
// empty document.
func (s *Store) BeginRun(name string, config any) (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	id := u.String()

	doc := ""
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return "", fmt.Errorf("marshal run config: %w", err)
		}
		doc = string(raw)
	}

	_, err = s.conn.Exec("INSERT INTO runs (id, name, config) VALUES (?, ?, ?)", id, name, doc)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time.
func (s *Store) FinishRun(id string) error {
	res, err := s.conn.Exec("UPDATE runs SET finished_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// Runs lists all runs, most recent first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.conn.Query("SELECT id, name, config, started_at, finished_at FROM runs ORDER BY started_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.Config, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Steps returns the recorded steps of a run in step order.
func (s *Store) Steps(runID string) ([]Step, error) {
	rows, err := s.conn.Query(`
		SELECT run_id, step, epoch, cross_entropy, kl_divergence, lr, momentum
		FROM steps WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.RunID, &st.Step, &st.Epoch, &st.CrossEntropy, &st.KLDivergence, &st.LR, &st.Momentum); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// RunRecorder feeds a fit loop's step records into the store under one
// run id. It satisfies the training loop's recorder contract.
type RunRecorder struct {
	store *Store
	runID string
}

// Recorder returns a per-run recorder for the given run.
func (s *Store) Recorder(runID string) *RunRecorder {
	return &RunRecorder{store: s, runID: runID}
}

// RecordStep inserts one step row.
func (r *RunRecorder) RecordStep(rec dino.StepRecord) error {
	_, err := r.store.conn.Exec(`
		INSERT INTO steps (run_id, step, epoch, cross_entropy, kl_divergence, lr, momentum)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID, rec.Step, rec.Epoch, rec.Stats.CrossEntropy, rec.Stats.KLDivergence, rec.LR, rec.Momentum)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

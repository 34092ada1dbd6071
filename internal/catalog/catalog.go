// Package catalog keeps a SQLite history of runs, folds and evaluations.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	trainer_rev  TEXT,
	config_json  TEXT,
	error        TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS folds (
	fold_id      TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	device       TEXT NOT NULL,
	model        TEXT NOT NULL,
	window_size  INTEGER NOT NULL,
	hparams      TEXT,
	fold_index   INTEGER NOT NULL,
	test_range   TEXT NOT NULL,
	status       TEXT NOT NULL,
	epochs       INTEGER,
	error        TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS evaluations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	fold_id      TEXT NOT NULL,
	experiment   TEXT NOT NULL,
	building     INTEGER NOT NULL,
	source       TEXT NOT NULL,
	test_range   TEXT NOT NULL,
	status       TEXT NOT NULL,
	metrics_json TEXT,
	error        TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (fold_id) REFERENCES folds(fold_id)
);
`

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store records run history in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the catalog database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().Format(time.RFC3339Nano)
}

// StartRun records a new run and returns its id.
func (s *Store) StartRun(trainerRev, configJSON string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, status, trainer_rev, config_json, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, StatusRunning, trainerRev, configJSON, s.stamp(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run; a nil runErr marks it completed.
func (s *Store) FinishRun(id string, runErr error) error {
	status, msg := outcome(runErr)
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, s.stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Fold describes one training fold of a run.
type Fold struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Device     string    `json:"device"`
	Model      string    `json:"model"`
	Window     int       `json:"window"`
	Hparams    string    `json:"hparams"`
	Index      int       `json:"fold"`
	Test       string    `json:"test_range"`
	Status     string    `json:"status"`
	Epochs     int       `json:"epochs"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (s *Store) StartFold(f Fold) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO folds (fold_id, run_id, device, model, window_size, hparams, fold_index, test_range, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, f.RunID, f.Device, f.Model, f.Window, f.Hparams, f.Index, f.Test, StatusRunning, s.stamp(),
	)
	if err != nil {
		return "", fmt.Errorf("insert fold: %w", err)
	}
	return id, nil
}

func (s *Store) FinishFold(id string, epochs int, foldErr error) error {
	status, msg := outcome(foldErr)
	_, err := s.db.Exec(
		`UPDATE folds SET status = ?, epochs = ?, error = ?, finished_at = ? WHERE fold_id = ?`,
		status, epochs, msg, s.stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("update fold: %w", err)
	}
	return nil
}

// Evaluation is one scored (or failed) test slice of a fold.
type Evaluation struct {
	FoldID     string
	Experiment string
	Building   int
	Source     string
	Test       string
	Metrics    map[string]float64
	Err        error
}

func (s *Store) RecordEvaluation(e Evaluation) error {
	status, msg := outcome(e.Err)
	finite := make(map[string]float64, len(e.Metrics))
	for k, v := range e.Metrics {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite[k] = v
		}
	}
	metrics, err := json.Marshal(finite)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO evaluations (fold_id, experiment, building, source, test_range, status, metrics_json, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FoldID, e.Experiment, e.Building, e.Source, e.Test, status, string(metrics), msg, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// Run summarizes one run for listings.
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	TrainerRev  string    `json:"trainer_rev,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Folds       int       `json:"folds"`
	FailedFolds int       `json:"failed_folds"`
	Evaluations int       `json:"evaluations"`
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT r.run_id, r.status, COALESCE(r.trainer_rev, ''), COALESCE(r.error, ''), r.started_at, COALESCE(r.finished_at, ''),
			(SELECT COUNT(*) FROM folds f WHERE f.run_id = r.run_id),
			(SELECT COUNT(*) FROM folds f WHERE f.run_id = r.run_id AND f.status = ?),
			(SELECT COUNT(*) FROM evaluations e JOIN folds f ON e.fold_id = f.fold_id WHERE f.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.TrainerRev, &r.Error, &started, &finished, &r.Folds, &r.FailedFolds, &r.Evaluations); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Folds lists the folds of a run in start order.
func (s *Store) Folds(runID string) ([]Fold, error) {
	rows, err := s.db.Query(`
		SELECT fold_id, run_id, device, model, window_size, COALESCE(hparams, ''), fold_index, test_range, status,
			COALESCE(epochs, 0), COALESCE(error, ''), started_at, COALESCE(finished_at, '')
		FROM folds WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query folds: %w", err)
	}
	defer rows.Close()

	var out []Fold
	for rows.Next() {
		var (
			f                 Fold
			started, finished string
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.Device, &f.Model, &f.Window, &f.Hparams, &f.Index, &f.Test, &f.Status,
			&f.Epochs, &f.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		f.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			f.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func outcome(err error) (status, msg string) {
	if err != nil {
		return StatusFailed, err.Error()
	}
	return StatusCompleted, ""
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("training run not found")

// StoreConfig locates the database file.
type StoreConfig struct {
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// Store persists training runs, their error curves and data quality issues.
type Store struct {
	db *sql.DB
}

// TrainingLog is one finished training run.
type TrainingLog struct {
	ID         int64     `json:"id"`
	ModelName  string    `json:"model_name"`
	Dataset    string    `json:"dataset"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	Epochs     int       `json:"epochs"`
	FinalError float64   `json:"final_error"`
	Converged  bool      `json:"converged"`
	TrainRows  int       `json:"train_rows"`
	TestRows   int       `json:"test_rows"`
	DataPoints int       `json:"data_points"`
	ModelPath  string    `json:"model_path"`
	TrainedAt  time.Time `json:"trained_at"`
}

// QualityIssue is a row rejected while cleaning a dataset.
type QualityIssue struct {
	Dataset string    `json:"dataset"`
	Rule    string    `json:"rule"`
	Row     int       `json:"row"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Open opens (creating if needed) the database and its tables.
func Open(config StoreConfig) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("database path is required")
	}
	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, err
		}
	}

	dsn := config.Path
	if config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	// one writer at a time, and keeps :memory: on a single connection
	database.SetMaxOpenConns(1)

	store := &Store{db: database}
	if err := store.createTables(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return store, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS training_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            model_name VARCHAR(50),
            dataset TEXT,
            accuracy REAL,
            precision REAL,
            recall REAL,
            epochs INTEGER,
            final_error REAL,
            converged INTEGER DEFAULT 0,
            train_rows INTEGER,
            test_rows INTEGER,
            data_points INTEGER,
            model_path TEXT,
            trained_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS training_epochs (
            run_id INTEGER NOT NULL,
            epoch INTEGER NOT NULL,
            error REAL NOT NULL,
            PRIMARY KEY (run_id, epoch)
        )`,
		`CREATE TABLE IF NOT EXISTS data_quality (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            dataset TEXT,
            rule TEXT NOT NULL,
            row_index INTEGER NOT NULL,
            message TEXT,
            created_at DATETIME
        )`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and returns its id.
func (s *Store) SaveRun(ctx context.Context, run TrainingLog) (int64, error) {
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, dataset, accuracy, precision, recall, epochs, final_error,
            converged, train_rows, test_rows, data_points, model_path, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ModelName,
		run.Dataset,
		run.Accuracy,
		run.Precision,
		run.Recall,
		run.Epochs,
		run.FinalError,
		run.Converged,
		run.TrainRows,
		run.TestRows,
		run.DataPoints,
		run.ModelPath,
		run.TrainedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// SaveEpochs stores the error of every epoch of a run; history[i] is epoch i+1.
func (s *Store) SaveEpochs(ctx context.Context, runID int64, history []float64) error {
	if len(history) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO training_epochs (run_id, epoch, error) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range history {
		if _, err := stmt.ExecContext(ctx, runID, i+1, e); err != nil {
			return fmt.Errorf("insert epoch %d failed: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// SaveIssues records rows rejected while cleaning a dataset.
func (s *Store) SaveIssues(ctx context.Context, issues []QualityIssue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, issue := range issues {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO data_quality (dataset, rule, row_index, message, created_at) VALUES (?, ?, ?, ?, ?)`,
			issue.Dataset, issue.Rule, issue.Row, issue.Message, issue.Time)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const runColumns = `id, model_name, dataset, accuracy, precision, recall, epochs, final_error,
            converged, train_rows, test_rows, data_points, model_path, trained_at`

func scanRun(scanner interface{ Scan(...any) error }) (TrainingLog, error) {
	var run TrainingLog
	var dataset, modelPath sql.NullString
	err := scanner.Scan(
		&run.ID,
		&run.ModelName,
		&dataset,
		&run.Accuracy,
		&run.Precision,
		&run.Recall,
		&run.Epochs,
		&run.FinalError,
		&run.Converged,
		&run.TrainRows,
		&run.TestRows,
		&run.DataPoints,
		&modelPath,
		&run.TrainedAt,
	)
	run.Dataset = dataset.String
	run.ModelPath = modelPath.String
	return run, err
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]TrainingLog, error) {
	query := `SELECT ` + runColumns + ` FROM training_log ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingLog, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id int64) (TrainingLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_log WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingLog{}, ErrNotFound
	}
	return run, err
}

// LatestRun returns the newest run or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context) (TrainingLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_log ORDER BY id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingLog{}, ErrNotFound
	}
	return run, err
}

// Epochs returns the error curve of a run ordered by epoch.
func (s *Store) Epochs(ctx context.Context, runID int64) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT error FROM training_epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]float64, 0)
	for rows.Next() {
		var e float64
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// Issues returns the recorded data quality issues, newest first.
func (s *Store) Issues(ctx context.Context, limit int) ([]QualityIssue, error) {
	query := `SELECT dataset, rule, row_index, message, created_at FROM data_quality ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := make([]QualityIssue, 0)
	for rows.Next() {
		var issue QualityIssue
		var dataset, message sql.NullString
		if err := rows.Scan(&dataset, &issue.Rule, &issue.Row, &message, &issue.Time); err != nil {
			return nil, err
		}
		issue.Dataset = dataset.String
		issue.Message = message.String
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses recorded by the trainer.
const (
	StatusTrained = "trained"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const schema = `
	CREATE TABLE IF NOT EXISTS training_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		model_name VARCHAR(50) NOT NULL,
		target VARCHAR(20) NOT NULL,
		diameter INTEGER NOT NULL,
		status VARCHAR(10) NOT NULL,
		reason TEXT DEFAULT '',
		r2 REAL DEFAULT 0,
		mae REAL DEFAULT 0,
		rmse REAL DEFAULT 0,
		train_rows INTEGER DEFAULT 0,
		test_rows INTEGER DEFAULT 0,
		trained_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at);
	`

var columns = []string{
	"run_id", "model_name", "target", "diameter", "status", "reason",
	"r2", "mae", "rmse", "train_rows", "test_rows", "trained_at",
}

// TrainingRun is one attempted (target, diameter) pair of a trainer run.
type TrainingRun struct {
	RunID     string    `json:"run_id"`
	ModelName string    `json:"model_name"`
	Target    string    `json:"target"`
	Diameter  int       `json:"diameter"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	R2        float64   `json:"r2"`
	MAE       float64   `json:"mae"`
	RMSE      float64   `json:"rmse"`
	TrainRows int       `json:"train_rows"`
	TestRows  int       `json:"test_rows"`
	TrainedAt time.Time `json:"trained_at"`
}

// RunLog stores trainer runs in SQLite.
type RunLog struct {
	db *sql.DB
}

// Open opens (or creates) the run log database at path.
func Open(path string) (*RunLog, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RunLog{db: database}, nil
}

func (l *RunLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record saves the runs in a single transaction.
func (l *RunLog) Record(ctx context.Context, runs ...TrainingRun) error {
	if l == nil || l.db == nil {
		return errors.New("database not initialized")
	}
	if len(runs) == 0 {
		return nil
	}

	insert := sq.Insert("training_log").Columns(columns...)
	for _, r := range runs {
		insert = insert.Values(r.RunID, r.ModelName, r.Target, r.Diameter, r.Status, r.Reason,
			r.R2, r.MAE, r.RMSE, r.TrainRows, r.TestRows, r.TrainedAt.UTC())
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert runs: %w", err)
	}
	return tx.Commit()
}

// Filter narrows a Recent query. Zero values match everything.
type Filter struct {
	RunID    string
	Status   string
	Diameter int
	Limit    uint64
}

// Recent returns runs newest first.
func (l *RunLog) Recent(ctx context.Context, f Filter) ([]TrainingRun, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("database not initialized")
	}
	query := sq.Select(columns...).From("training_log").OrderBy("trained_at DESC", "id DESC")
	if f.RunID != "" {
		query = query.Where(sq.Eq{"run_id": f.RunID})
	}
	if f.Status != "" {
		query = query.Where(sq.Eq{"status": f.Status})
	}
	if f.Diameter != 0 {
		query = query.Where(sq.Eq{"diameter": f.Diameter})
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var r TrainingRun
		var reason sql.NullString
		if err := rows.Scan(&r.RunID, &r.ModelName, &r.Target, &r.Diameter, &r.Status, &reason,
			&r.R2, &r.MAE, &r.RMSE, &r.TrainRows, &r.TestRows, &r.TrainedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Reason = reason.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

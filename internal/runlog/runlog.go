// Package runlog records reconciliation runs in the radar database so
// operators can see what ran, what it wrote and what failed. One row per
// pipeline per run, updated in place as the run finishes.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/renalreg/timeline-sync/internal/db"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound reports a run id with no row behind it.
var ErrNotFound = eris.New("runlog: run not found")

// Run is one row in timeline.runs.
type Run struct {
	ID         uuid.UUID        `json:"id"`
	Pipeline   string           `json:"pipeline"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Counts     map[string]int64 `json:"counts,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Log provides read/write access to the timeline.runs table.
type Log struct {
	pool db.Pool
}

// New creates a Log backed by the given connection pool.
func New(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of a pipeline run and returns its id.
func (l *Log) Start(ctx context.Context, pipeline string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO timeline.runs (id, pipeline, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		id, pipeline,
	)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "runlog: start run for %s", pipeline)
	}
	return id, nil
}

// Complete marks a run as successfully completed with its row counts.
func (l *Log) Complete(ctx context.Context, id uuid.UUID, counts map[string]int64) error {
	var countsJSON []byte
	if counts != nil {
		var err error
		countsJSON, err = json.Marshal(counts)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal counts")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE timeline.runs
		 SET status = 'completed', finished_at = now(), counts = $1
		 WHERE id = $2`,
		countsJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", id)
	}
	return nil
}

// Fail marks a run as failed with an error message.
func (l *Log) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE timeline.runs
		 SET status = 'failed', finished_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", id)
	}
	return nil
}

// LastSuccess returns the started_at time of the most recent completed run
// of a pipeline, or nil when the pipeline has never completed.
func (l *Log) LastSuccess(ctx context.Context, pipeline string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM timeline.runs
		 WHERE pipeline = $1 AND status = 'completed'
		 ORDER BY started_at DESC LIMIT 1`,
		pipeline,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", pipeline)
	}
	return &t, nil
}

// Get returns one run by id.
func (l *Log) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, pipeline, status, started_at, finished_at, counts, error
		 FROM timeline.runs WHERE id = $1`,
		id,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "runlog: no run %s", id)
		}
		return nil, eris.Wrapf(err, "runlog: get run %s", id)
	}
	return r, nil
}

// Recent returns the most recent runs, newest first. A non-positive limit
// defaults to 50.
func (l *Log) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, pipeline, status, started_at, finished_at, counts, error
		 FROM timeline.runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: recent runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var finishedAt *time.Time
	var errStr *string
	var countsJSON []byte
	if err := row.Scan(&r.ID, &r.Pipeline, &r.Status, &r.StartedAt,
		&finishedAt, &countsJSON, &errStr); err != nil {
		return nil, err
	}
	r.FinishedAt = finishedAt
	if errStr != nil {
		r.Error = *errStr
	}
	if countsJSON != nil {
		_ = json.Unmarshal(countsJSON, &r.Counts)
	}
	return &r, nil
}

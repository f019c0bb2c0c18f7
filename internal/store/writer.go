// Package store writes reconciled episode tables back to the radar database.
// New rows go in via COPY so the store assigns ids; update rows are upserted
// by id. Rows that keep failing after batch and single-row retries land in
// the failed-rows table instead of aborting the run.
package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/db"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/resilience"
	"github.com/renalreg/timeline-sync/internal/transplant"
)

// Target tables in the radar schema.
const (
	treatmentTable  = "dialysis"
	transplantTable = "transplants"
)

const defaultBatchSize = 1000

// Column lists start with id. Inserts drop it so the column default assigns
// one; upserts keep it as the conflict key.
var (
	treatmentColumns = []string{
		"id", "patient_id", "source_group_id", "source_type",
		"from_date", "to_date", "modality", "created_date", "modified_date",
	}
	transplantColumns = []string{
		"id", "patient_id", "source_group_id", "source_type",
		"date", "date_of_failure", "modality", "transplant_unit_id",
		"created_date", "modified_date",
	}
)

// Failure is one episode the writer gave up on after batch and single-row
// retries.
type Failure struct {
	Episode model.Episode
	Err     error
}

// Result summarizes one write pass.
type Result struct {
	Inserted int64
	Updated  int64
	Failed   []Failure
}

// Config selects the target table and tunes write behavior.
type Config struct {
	Kind      model.EpisodeKind
	BatchSize int
	Retry     resilience.RetryConfig
	RunID     uuid.UUID
	Pipeline  string
}

// Writer persists the splitter's output for one pipeline run.
type Writer struct {
	pool     db.Pool
	kind     model.EpisodeKind
	batch    int
	retry    resilience.RetryConfig
	runID    uuid.UUID
	pipeline string
	log      *zap.Logger
}

// NewWriter returns a writer over pool for one run.
func NewWriter(pool db.Pool, cfg Config, log *zap.Logger) *Writer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Writer{
		pool:     pool,
		kind:     cfg.Kind,
		batch:    batch,
		retry:    cfg.Retry,
		runID:    cfg.RunID,
		pipeline: cfg.Pipeline,
		log:      log,
	}
}

// Write persists newRows then updateRows in batches. Rows that fail after
// retries are recorded in timeline.failed_rows and returned in the result;
// only context cancellation aborts the pass.
func (w *Writer) Write(ctx context.Context, newRows, updateRows []model.Episode) (Result, error) {
	var res Result

	for _, batch := range batches(newRows, w.batch) {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "store: write canceled")
		}
		n, failed := w.applyBatch(ctx, batch, w.insertBatch)
		res.Inserted += n
		res.Failed = append(res.Failed, failed...)
	}

	// An update row without an id cannot be matched against the store.
	updates := make([]model.Episode, 0, len(updateRows))
	for _, ep := range updateRows {
		if ep.ID == nil {
			res.Failed = append(res.Failed, Failure{
				Episode: ep,
				Err:     eris.Errorf("store: update row for patient %d has no id", ep.PatientID),
			})
			continue
		}
		updates = append(updates, ep)
	}

	for _, batch := range batches(updates, w.batch) {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "store: write canceled")
		}
		n, failed := w.applyBatch(ctx, batch, w.upsertBatch)
		res.Updated += n
		res.Failed = append(res.Failed, failed...)
	}

	if len(res.Failed) > 0 {
		w.recordFailures(ctx, res.Failed)
	}

	w.log.Info("store: write complete",
		zap.String("pipeline", w.pipeline),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("updated", res.Updated),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

// applyBatch runs op over the whole batch with retry, then falls back to one
// row at a time when the batch keeps failing.
func (w *Writer) applyBatch(ctx context.Context, batch []model.Episode, op func(context.Context, []model.Episode) (int64, error)) (int64, []Failure) {
	n, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (int64, error) {
		return op(ctx, batch)
	})
	if err == nil {
		return n, nil
	}
	if len(batch) == 1 {
		return 0, []Failure{{Episode: batch[0], Err: err}}
	}

	w.log.Warn("store: batch failed, retrying rows individually",
		zap.Int("rows", len(batch)), zap.Error(err))

	var total int64
	var failed []Failure
	for _, ep := range batch {
		single := []model.Episode{ep}
		n, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (int64, error) {
			return op(ctx, single)
		})
		if err != nil {
			failed = append(failed, Failure{Episode: ep, Err: err})
			continue
		}
		total += n
	}
	return total, failed
}

func (w *Writer) insertBatch(ctx context.Context, eps []model.Episode) (int64, error) {
	table, cols := w.target()
	rows := make([][]any, len(eps))
	for i, ep := range eps {
		rows[i] = episodeRow(w.kind, ep, false)
	}
	return db.CopyFrom(ctx, w.pool, table, cols[1:], rows)
}

func (w *Writer) upsertBatch(ctx context.Context, eps []model.Episode) (int64, error) {
	table, cols := w.target()
	rows := make([][]any, len(eps))
	for i, ep := range eps {
		rows[i] = episodeRow(w.kind, ep, true)
	}
	return db.BulkUpsert(ctx, w.pool, db.UpsertConfig{
		Table:        table,
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, rows)
}

func (w *Writer) target() (string, []string) {
	if w.kind == model.KindTransplant {
		return transplantTable, transplantColumns
	}
	return treatmentTable, treatmentColumns
}

// recordFailures files each failed row under the current run so incidents
// can be replayed later. Recording failures must never fail the run, so
// insert errors only log.
func (w *Writer) recordFailures(ctx context.Context, failures []Failure) {
	for _, f := range failures {
		w.log.Error("store: row failed",
			zap.String("pipeline", w.pipeline),
			zap.Int64("patient", f.Episode.PatientID),
			zap.Error(f.Err))

		payload, err := json.Marshal(f.Episode)
		if err != nil {
			payload = nil
		}
		if _, err := w.pool.Exec(ctx, `
			INSERT INTO timeline.failed_rows (run_id, pipeline, episode_id, patient_id, payload, error)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			w.runID, w.pipeline, f.Episode.ID, f.Episode.PatientID, payload, f.Err.Error(),
		); err != nil {
			w.log.Warn("store: record failed row",
				zap.Int64("patient", f.Episode.PatientID), zap.Error(err))
		}
	}
}

// episodeRow orders values to match the kind's column list. withID false
// drops the leading id for inserts.
func episodeRow(kind model.EpisodeKind, ep model.Episode, withID bool) []any {
	row := make([]any, 0, len(transplantColumns))
	if withID {
		row = append(row, *ep.ID)
	}
	row = append(row, ep.PatientID, ep.SourceGroupID, string(ep.SourceType), ep.FromDate)
	if kind == model.KindTransplant {
		row = append(row,
			extraValue(ep, transplant.ExtraFailDate),
			ep.Modality,
			extraValue(ep, transplant.ExtraUnitID))
	} else {
		row = append(row, ep.ToDate, ep.Modality)
	}
	return append(row, ep.CreatedAt, ep.ModifiedAt)
}

// extraValue returns the ride-along attribute, or nil for SQL NULL.
func extraValue(ep model.Episode, key string) any {
	if ep.Extra == nil {
		return nil
	}
	return ep.Extra[key]
}

func batches(eps []model.Episode, size int) [][]model.Episode {
	if len(eps) == 0 {
		return nil
	}
	var out [][]model.Episode
	for start := 0; start < len(eps); start += size {
		end := start + size
		if end > len(eps) {
			end = len(eps)
		}
		out = append(out, eps[start:end])
	}
	return out
}

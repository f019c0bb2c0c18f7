// Package pipeline orchestrates a reconciliation run: extract from the
// source systems (or replay a snapshot), format, group, reduce, split and
// write, with audit checkpoints and run-log bookkeeping around the core.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/audit"
	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/reconcile"
	"github.com/renalreg/timeline-sync/internal/resilience"
	"github.com/renalreg/timeline-sync/internal/source"
	"github.com/renalreg/timeline-sync/internal/store"
	"github.com/renalreg/timeline-sync/internal/transplant"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// Pipeline names used for run-log rows and audit workbook files.
const (
	treatmentsPipeline  = "treatments"
	transplantsPipeline = "transplants"
)

// RadarSource supplies the prior canonical episodes and the lookup maps held
// in the radar database.
type RadarSource interface {
	Treatments(ctx context.Context) ([]model.Episode, error)
	Transplants(ctx context.Context) ([]model.Episode, error)
	PatientIdentifiers(ctx context.Context) ([]identity.Identifier, error)
	GroupCodes(ctx context.Context) (map[string]int64, error)
	HospitalUnits(ctx context.Context) (map[string]int64, error)
}

// UKRDCSource supplies the current UKRDC treatment extract and its code maps.
type UKRDCSource interface {
	Treatments(ctx context.Context, ukrdcIDs []string) ([]treatment.RawTreatment, error)
	PatientLinks(ctx context.Context) ([]identity.Link, error)
	ModalityCodes(ctx context.Context) (map[string]int64, error)
	SatelliteUnits(ctx context.Context) (map[string]string, error)
}

// RegistrySource supplies the current renal registry extract.
type RegistrySource interface {
	Treatments(ctx context.Context, rrNos []int64) ([]treatment.RawTreatment, error)
	Transplants(ctx context.Context, rrNos []int64) ([]transplant.RawTransplant, error)
	PatientNumbers(ctx context.Context, kind identity.IdentifierKind, values []string) (map[string]int64, error)
}

// RunLog records run lifecycle in the canonical store.
type RunLog interface {
	Start(ctx context.Context, pipeline string) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, counts map[string]int64) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
}

// EpisodeWriter persists one pipeline's split output.
type EpisodeWriter interface {
	Write(ctx context.Context, newRows, updateRows []model.Episode) (store.Result, error)
}

// WriterFactory builds the store writer for one run. Failed-row bookkeeping
// is keyed by run id, so writers are per run rather than shared.
type WriterFactory func(cfg store.Config) EpisodeWriter

// RecorderFactory builds the audit recorder for one run.
type RecorderFactory func(pipeline string, runID uuid.UUID) (audit.Recorder, error)

// Options tune a run without changing what it reconciles.
type Options struct {
	// DryRun reconciles and audits but skips store writes.
	DryRun bool
	// Patients restricts the run to the listed radar patients.
	Patients []int64
	// SnapshotPath replays a prior capture instead of extracting live.
	SnapshotPath string
}

// RunResult summarizes one pipeline's pass.
type RunResult struct {
	Pipeline string
	RunID    uuid.UUID
	Counts   map[string]int64
}

// Pipeline wires the sources, the reconciliation core and the store together
// for one or both episode kinds.
type Pipeline struct {
	radar     RadarSource
	ukrdc     UKRDCSource
	registry  RegistrySource
	runs      RunLog
	writers   WriterFactory
	recorders RecorderFactory
	profile   reconcile.Profile
	retry     resilience.RetryConfig
	opts      Options
}

// New creates a Pipeline with all dependencies.
func New(
	radar RadarSource,
	ukrdc UKRDCSource,
	registry RegistrySource,
	runs RunLog,
	writers WriterFactory,
	recorders RecorderFactory,
	profile reconcile.Profile,
	retry resilience.RetryConfig,
	opts Options,
) *Pipeline {
	return &Pipeline{
		radar:     radar,
		ukrdc:     ukrdc,
		registry:  registry,
		runs:      runs,
		writers:   writers,
		recorders: recorders,
		profile:   profile,
		retry:     retry,
		opts:      opts,
	}
}

// Run reconciles the given episode kinds over one shared extract, treatments
// before transplants when both run. Each kind gets its own run-log entry;
// the first failed kind aborts the rest. No kinds means both.
func (p *Pipeline) Run(ctx context.Context, kinds ...model.EpisodeKind) ([]RunResult, error) {
	if len(kinds) == 0 {
		kinds = []model.EpisodeKind{model.KindTreatment, model.KindTransplant}
	}

	ex, err := p.extract(ctx)
	if err != nil {
		return nil, err
	}
	ex = Restrict(ex, p.opts.Patients)
	ids := identity.NewMap(ex.Patients)

	results := make([]RunResult, 0, len(kinds))
	for _, kind := range kinds {
		res, err := p.runOne(ctx, kind, ex, ids)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// extract obtains the run's inputs, live or from a snapshot replay.
func (p *Pipeline) extract(ctx context.Context) (source.Extract, error) {
	if p.opts.SnapshotPath != "" {
		zap.L().Info("pipeline: replaying snapshot", zap.String("path", p.opts.SnapshotPath))
		return Replay(ctx, p.opts.SnapshotPath)
	}
	e := Extractor{Radar: p.radar, UKRDC: p.ukrdc, Registry: p.registry, Log: zap.L()}
	return e.Extract(ctx)
}

// runOne reconciles a single episode kind under its own run-log entry.
func (p *Pipeline) runOne(ctx context.Context, kind model.EpisodeKind, ex source.Extract, ids *identity.Map) (RunResult, error) {
	name := pipelineName(kind)
	start := time.Now()

	runID, err := p.runs.Start(ctx, name)
	if err != nil {
		return RunResult{}, err
	}
	log := zap.L().With(zap.String("pipeline", name), zap.Stringer("run_id", runID))
	log.Info("pipeline: starting run",
		zap.Int("patients", ids.Len()),
		zap.Bool("dry_run", p.opts.DryRun))

	rec, err := p.recorders(name, runID)
	if err != nil {
		p.fail(ctx, log, runID, err)
		return RunResult{}, err
	}

	var counts map[string]int64
	if kind == model.KindTransplant {
		counts, err = p.reconcileTransplants(ctx, ex, ids, rec, runID, log)
	} else {
		counts, err = p.reconcileTreatments(ctx, ex, ids, rec, runID, log)
	}
	if closeErr := rec.Close(); closeErr != nil {
		log.Warn("pipeline: close audit recorder", zap.Error(closeErr))
	}
	if err != nil {
		p.fail(ctx, log, runID, err)
		return RunResult{}, err
	}

	if err := p.runs.Complete(ctx, runID, counts); err != nil {
		return RunResult{}, err
	}
	log.Info("pipeline: run complete",
		zap.Int64("new", counts["new"]),
		zap.Int64("updates", counts["updates"]),
		zap.Duration("took", time.Since(start)))
	return RunResult{Pipeline: name, RunID: runID, Counts: counts}, nil
}

// fail marks the run failed. Bookkeeping errors only log; the run error that
// got us here is the one worth surfacing.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, runID uuid.UUID, runErr error) {
	log.Error("pipeline: run failed", zap.Error(runErr))
	if err := p.runs.Fail(ctx, runID, runErr.Error()); err != nil {
		log.Warn("pipeline: mark run failed", zap.Error(err))
	}
}

// persist fills remaining null timestamps and hands the split output to the
// store, forwarding rows the store gave up on to the audit recorder. Dry
// runs stop short of the writer.
func (p *Pipeline) persist(ctx context.Context, kind model.EpisodeKind, runID uuid.UUID, rec audit.Recorder, newRows, updates []model.Episode, counts map[string]int64, log *zap.Logger) (map[string]int64, error) {
	counts["new"] = int64(len(newRows))
	counts["updates"] = int64(len(updates))

	if p.opts.DryRun {
		log.Info("pipeline: dry run, skipping writes",
			zap.Int("new", len(newRows)), zap.Int("updates", len(updates)))
		return counts, nil
	}

	now := time.Now().UTC()
	newRows = reconcile.FillNullTimes(newRows, now)
	updates = reconcile.FillNullTimes(updates, now)

	w := p.writers(store.Config{
		Kind:      kind,
		BatchSize: p.profile.BatchSize,
		Retry:     p.retry,
		RunID:     runID,
		Pipeline:  pipelineName(kind),
	})
	res, err := w.Write(ctx, newRows, updates)
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failed {
		rec.Failure(f.Episode, f.Err)
	}
	rec.Checkpoint(audit.StageWritten, concat(newRows, updates))

	counts["inserted"] = res.Inserted
	counts["updated"] = res.Updated
	counts["failed"] = int64(len(res.Failed))
	return counts, nil
}

func pipelineName(kind model.EpisodeKind) string {
	if kind == model.KindTransplant {
		return transplantsPipeline
	}
	return treatmentsPipeline
}

// concat joins tables into a fresh slice so checkpoints never alias pipeline
// state.
func concat(tables ...[]model.Episode) []model.Episode {
	total := 0
	for _, t := range tables {
		total += len(t)
	}
	out := make([]model.Episode, 0, total)
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

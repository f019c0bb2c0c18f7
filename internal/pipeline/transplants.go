package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/audit"
	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/reconcile"
	"github.com/renalreg/timeline-sync/internal/source"
	"github.com/renalreg/timeline-sync/internal/transplant"
)

// reconcileTransplants runs the transplant pipeline over one extract. The
// registry resubmits the same transplant every quarter, so registry rows are
// deduplicated on date before formatting; formatted rows then merge with the
// prior radar table for a single patient-level group and reduce pass.
func (p *Pipeline) reconcileTransplants(ctx context.Context, ex source.Extract, ids *identity.Map, rec audit.Recorder, runID uuid.UUID, log *zap.Logger) (map[string]int64, error) {
	prof := p.profile.Transplants
	prior := ex.RadarTransplants
	rec.Checkpoint(audit.StageImported, prior)

	deduped := transplant.DedupRegistryRows(ex.RRTransplants, prof.GroupDays)
	rrRows := transplant.Formatter{
		Patients: ids,
		Units:    ex.HospitalUnits,
		Log:      log,
	}.Format(deduped)
	rec.Checkpoint(audit.StageFormatted, rrRows)
	log.Info("pipeline: transplants formatted",
		zap.Int("radar", len(prior)),
		zap.Int("rr_reported", len(ex.RRTransplants)),
		zap.Int("rr_deduped", len(deduped)),
		zap.Int("rr_formatted", len(rrRows)))

	merged, err := reconcile.Merge(prof.PriorityOrder, prior, rrRows)
	if err != nil {
		return nil, err
	}

	grouped, err := reconcile.Group(merged, reconcile.WindowPatient, prof.GroupDays)
	if err != nil {
		return nil, err
	}
	rec.Checkpoint(audit.StageGrouped, reconcile.Episodes(grouped))
	reduced, err := reconcile.Reduce(grouped, reconcile.WindowPatient)
	if err != nil {
		return nil, err
	}
	canonical := reconcile.Episodes(reduced)
	rec.Checkpoint(audit.StageReduced, canonical)
	log.Info("pipeline: transplants reduced",
		zap.Int("merged", len(merged)),
		zap.Int("canonical", len(canonical)))

	if err := reconcile.VerifyReconciled(canonical, prof.PriorityOrder); err != nil {
		return nil, err
	}
	newRows, updates, err := reconcile.Split(canonical, prior)
	if err != nil {
		return nil, err
	}
	rec.Checkpoint(audit.StageSplit, concat(newRows, updates))

	counts := map[string]int64{
		"radar":     int64(len(prior)),
		"rr":        int64(len(rrRows)),
		"canonical": int64(len(canonical)),
	}
	return p.persist(ctx, model.KindTransplant, runID, rec, newRows, updates, counts, log)
}

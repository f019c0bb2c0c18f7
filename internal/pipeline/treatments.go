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
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// reconcileTreatments runs the dialysis pipeline over one extract. Fresh
// UKRDC and registry rows are formatted onto the episode schema, merged with
// the prior radar table, grouped and reduced twice (tight pass per patient
// and modality, then a wider patient-level pass so modality flaps collapse)
// and split against the prior table before writing.
func (p *Pipeline) reconcileTreatments(ctx context.Context, ex source.Extract, ids *identity.Map, rec audit.Recorder, runID uuid.UUID, log *zap.Logger) (map[string]int64, error) {
	prof := p.profile.Treatments
	prior := ex.RadarTreatments
	rec.Checkpoint(audit.StageImported, prior)

	format := treatment.Formatter{
		Source:         model.SourceUKRDC,
		Patients:       ids,
		ModalityCodes:  ex.ModalityCodes,
		SatelliteUnits: ex.SatelliteUnits,
		GroupCodes:     ex.GroupCodes,
		Log:            log,
	}
	ukrdcRows := format.Format(ex.UKRDCTreatments)
	format.Source = model.SourceRR
	rrRows := format.Format(ex.RRTreatments)
	rec.Checkpoint(audit.StageFormatted, concat(ukrdcRows, rrRows))
	log.Info("pipeline: treatments formatted",
		zap.Int("radar", len(prior)),
		zap.Int("ukrdc", len(ukrdcRows)),
		zap.Int("rr", len(rrRows)))

	merged, err := reconcile.Merge(prof.PriorityOrder, prior, ukrdcRows, rrRows)
	if err != nil {
		return nil, err
	}

	grouped, err := reconcile.Group(merged, reconcile.WindowPatientModality, prof.GroupDays)
	if err != nil {
		return nil, err
	}
	rec.Checkpoint(audit.StageGrouped, reconcile.Episodes(grouped))
	reduced, err := reconcile.Reduce(grouped, reconcile.WindowPatientModality)
	if err != nil {
		return nil, err
	}
	rec.Checkpoint(audit.StageReduced, reconcile.Episodes(reduced))

	regrouped, err := reconcile.Group(reduced, reconcile.WindowPatient, prof.RegroupDays)
	if err != nil {
		return nil, err
	}
	rec.Checkpoint(audit.StageGrouped, reconcile.Episodes(regrouped))
	final, err := reconcile.Reduce(regrouped, reconcile.WindowPatient)
	if err != nil {
		return nil, err
	}
	canonical := reconcile.Episodes(final)
	rec.Checkpoint(audit.StageReduced, canonical)
	log.Info("pipeline: treatments reduced",
		zap.Int("merged", len(merged)),
		zap.Int("first_pass", len(reduced)),
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
		"ukrdc":     int64(len(ukrdcRows)),
		"rr":        int64(len(rrRows)),
		"canonical": int64(len(canonical)),
	}
	return p.persist(ctx, model.KindTreatment, runID, rec, newRows, updates, counts, log)
}

package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/source"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// Extractor pulls one run's inputs from the live source systems. The
// identity map is built first because the UKRDC and registry extracts are
// keyed by the ids it resolves; the remaining pulls run concurrently. Any
// failed source aborts the whole extract, since reconciling a partial set
// would mis-rank priorities.
type Extractor struct {
	Radar    RadarSource
	UKRDC    UKRDCSource
	Registry RegistrySource
	Log      *zap.Logger
}

// Extract assembles the full input set for a run.
func (e Extractor) Extract(ctx context.Context) (source.Extract, error) {
	start := time.Now()

	ids, err := identity.Build(ctx, identity.Sources{
		Radar:    e.Radar,
		UKRDC:    e.UKRDC,
		Registry: e.Registry,
	})
	if err != nil {
		return source.Extract{}, err
	}

	ex := source.Extract{
		CapturedAt: start.UTC(),
		Patients:   ids.Rows(),
	}
	ukrdcIDs := ids.UKRDCIDs()
	rrNos := ids.RRNos()

	// Each goroutine fills a distinct field; Wait orders the writes before
	// the reads below.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := e.Radar.Treatments(gCtx)
		ex.RadarTreatments = rows
		return err
	})
	g.Go(func() error {
		rows, err := e.Radar.Transplants(gCtx)
		ex.RadarTransplants = rows
		return err
	})
	g.Go(func() error {
		codes, err := e.Radar.GroupCodes(gCtx)
		ex.GroupCodes = codes
		return err
	})
	g.Go(func() error {
		units, err := e.Radar.HospitalUnits(gCtx)
		ex.HospitalUnits = units
		return err
	})
	g.Go(func() error {
		codes, err := e.UKRDC.ModalityCodes(gCtx)
		ex.ModalityCodes = codes
		return err
	})
	g.Go(func() error {
		units, err := e.UKRDC.SatelliteUnits(gCtx)
		ex.SatelliteUnits = units
		return err
	})
	g.Go(func() error {
		rows, err := e.UKRDC.Treatments(gCtx, ukrdcIDs)
		ex.UKRDCTreatments = rows
		return err
	})
	g.Go(func() error {
		rows, err := e.Registry.Treatments(gCtx, rrNos)
		ex.RRTreatments = rows
		return err
	})
	g.Go(func() error {
		rows, err := e.Registry.Transplants(gCtx, rrNos)
		ex.RRTransplants = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return source.Extract{}, eris.Wrap(err, "pipeline: extract")
	}

	e.Log.Info("pipeline: extraction complete",
		zap.Int("patients", ids.Len()),
		zap.Int("radar_treatments", len(ex.RadarTreatments)),
		zap.Int("radar_transplants", len(ex.RadarTransplants)),
		zap.Int("ukrdc_treatments", len(ex.UKRDCTreatments)),
		zap.Int("rr_treatments", len(ex.RRTreatments)),
		zap.Int("rr_transplants", len(ex.RRTransplants)),
		zap.Duration("took", time.Since(start)))
	return ex, nil
}

// Replay loads a prior capture as the run's inputs.
func Replay(ctx context.Context, path string) (source.Extract, error) {
	snap, err := source.OpenSnapshot(path)
	if err != nil {
		return source.Extract{}, err
	}
	defer snap.Close()
	return snap.Load(ctx)
}

// Restrict narrows an extract to the listed patients so an incident can be
// replayed without reprocessing the whole capture. Raw registry rows resolve
// through the identity map first, so rows for excluded patients disappear
// here rather than as unmapped-patient warnings during formatting. An empty
// patient list keeps everything.
func Restrict(ex source.Extract, patients []int64) source.Extract {
	if len(patients) == 0 {
		return ex
	}
	keep := make(map[int64]bool, len(patients))
	for _, id := range patients {
		keep[id] = true
	}
	ids := identity.NewMap(ex.Patients)

	out := ex
	out.Patients = nil
	for _, p := range ex.Patients {
		if keep[p.RadarID] {
			out.Patients = append(out.Patients, p)
		}
	}
	out.RadarTreatments = keepEpisodes(ex.RadarTreatments, keep)
	out.RadarTransplants = keepEpisodes(ex.RadarTransplants, keep)
	out.UKRDCTreatments = keepTreatments(ex.UKRDCTreatments, ids, keep)
	out.RRTreatments = keepTreatments(ex.RRTreatments, ids, keep)

	out.RRTransplants = nil
	for _, r := range ex.RRTransplants {
		if pid, ok := ids.RadarIDForRR(r.RRNo); ok && keep[pid] {
			out.RRTransplants = append(out.RRTransplants, r)
		}
	}
	return out
}

func keepEpisodes(rows []model.Episode, keep map[int64]bool) []model.Episode {
	var out []model.Episode
	for _, e := range rows {
		if keep[e.PatientID] {
			out = append(out, e)
		}
	}
	return out
}

func keepTreatments(rows []treatment.RawTreatment, ids *identity.Map, keep map[int64]bool) []treatment.RawTreatment {
	var out []treatment.RawTreatment
	for _, r := range rows {
		var pid int64
		var ok bool
		switch {
		case r.UKRDCID != nil:
			pid, ok = ids.RadarIDForUKRDC(*r.UKRDCID)
		case r.RRNo != nil:
			pid, ok = ids.RadarIDForRR(*r.RRNo)
		}
		if ok && keep[pid] {
			out = append(out, r)
		}
	}
	return out
}

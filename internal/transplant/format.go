package transplant

import (
	"time"

	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
)

// RRSourceGroupID is the radar group standing in for the registry itself on
// rows the registry reported.
const RRSourceGroupID int64 = 200

// Extra keys carried on transplant episodes.
const (
	ExtraFailDate = "date_of_failure"
	ExtraUnitID   = "transplant_unit_id"
)

// RawTransplant is a registry transplant row as extracted, before patient
// and code translation. A zero Date means the registry did not report one;
// such rows are rejected downstream by the grouper.
type RawTransplant struct {
	RRNo         int64
	DonorType    string
	Date         time.Time
	FailDate     *time.Time
	Relationship *string
	Sex          *string
	UnitCode     *string
}

// Formatter maps raw registry rows onto the canonical episode schema.
type Formatter struct {
	// Patients resolves registry numbers to radar patient ids.
	Patients *identity.Map
	// Units maps registry transplant unit codes to radar hospital group
	// ids.
	Units map[string]int64
	Log   *zap.Logger
}

// Format translates rows into episodes. Rows whose patient is not on the
// identity map and rows whose donor description resolves to no modality are
// dropped; both are logged and counted, neither aborts the run. An unknown
// unit code leaves the unit attribute unset on an otherwise kept row.
func (f Formatter) Format(rows []RawTransplant) []model.Episode {
	out := make([]model.Episode, 0, len(rows))
	unmappedPatients, unmappedModalities := 0, 0
	for _, r := range rows {
		pid, ok := f.Patients.RadarIDForRR(r.RRNo)
		if !ok {
			unmappedPatients++
			f.Log.Warn("transplant: registry patient not on identity map",
				zap.Int64("rr_no", r.RRNo))
			continue
		}
		modality := ResolveModality(r.DonorType, r.Relationship, r.Sex)
		if modality == nil {
			unmappedModalities++
			f.Log.Warn("transplant: donor description has no modality mapping",
				zap.Int64("patient_id", pid),
				zap.String("donor_type", r.DonorType),
				zap.String("relationship", deref(r.Relationship)),
				zap.String("sex", deref(r.Sex)))
			continue
		}

		e := model.Episode{
			PatientID:     pid,
			Modality:      modality,
			FromDate:      r.Date,
			SourceType:    model.SourceRR,
			SourceGroupID: model.Ptr(RRSourceGroupID),
			Extra:         map[string]any{},
		}
		if r.FailDate != nil {
			e.Extra[ExtraFailDate] = *r.FailDate
		}
		if r.UnitCode != nil {
			if unitID, ok := f.Units[*r.UnitCode]; ok {
				e.Extra[ExtraUnitID] = unitID
			} else {
				f.Log.Warn("transplant: unit code has no radar hospital group",
					zap.Int64("patient_id", pid),
					zap.String("unit_code", *r.UnitCode))
			}
		}
		out = append(out, e)
	}
	if unmappedPatients > 0 || unmappedModalities > 0 {
		f.Log.Info("transplant: dropped rows during formatting",
			zap.Int("unmapped_patients", unmappedPatients),
			zap.Int("unmapped_modalities", unmappedModalities),
			zap.Int("kept", len(out)))
	}
	return out
}

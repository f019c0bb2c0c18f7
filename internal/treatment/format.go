// Package treatment prepares fresh UKRDC and UK Renal Registry treatment
// extracts for reconciliation: native patient keys become radar patient
// ids, satellite facility codes collapse onto their main units and registry
// modality codes become radar modality codes.
package treatment

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
)

// RawTreatment is a treatment span as extracted, before patient and code
// translation. Exactly one of UKRDCID and RRNo is set, matching the system
// the row came from. A zero FromDate means the source did not report one;
// such rows are rejected downstream by the grouper.
type RawTreatment struct {
	UKRDCID      *string
	RRNo         *int64
	UnitCode     *string
	ModalityCode *string
	FromDate     time.Time
	ToDate       *time.Time
	CreatedAt    *time.Time
	ModifiedAt   *time.Time
}

// Formatter maps raw extract rows onto the canonical episode schema.
type Formatter struct {
	// Source stamps every formatted row.
	Source model.SourceType
	// Patients resolves native patient keys to radar patient ids.
	Patients *identity.Map
	// ModalityCodes maps registry treatment modality codes to radar
	// modality codes.
	ModalityCodes map[string]int64
	// SatelliteUnits maps satellite facility codes to their main unit
	// code. Codes not in the map are already main units.
	SatelliteUnits map[string]string
	// GroupCodes maps main unit codes to radar group ids.
	GroupCodes map[string]int64
	Log        *zap.Logger
}

// Format translates rows into episodes. Rows whose patient is not on the
// identity map and rows whose modality code has no radar mapping are
// dropped; both are logged and counted, neither aborts the run. A facility
// code without a radar group leaves the group unset on an otherwise kept
// row.
func (f Formatter) Format(rows []RawTreatment) []model.Episode {
	out := make([]model.Episode, 0, len(rows))
	unmappedPatients, unmappedModalities := 0, 0
	for _, r := range rows {
		pid, ok := f.resolvePatient(r)
		if !ok {
			unmappedPatients++
			f.Log.Warn("treatment: patient key not on identity map",
				zap.String("source", string(f.Source)),
				zap.String("patient_key", patientKey(r)))
			continue
		}
		modality, ok := f.resolveModality(r.ModalityCode)
		if !ok {
			unmappedModalities++
			f.Log.Warn("treatment: modality code has no radar mapping",
				zap.String("source", string(f.Source)),
				zap.Int64("patient_id", pid),
				zap.String("modality_code", strDeref(r.ModalityCode)))
			continue
		}

		e := model.Episode{
			PatientID:     pid,
			Modality:      model.Ptr(modality),
			FromDate:      r.FromDate,
			SourceType:    f.Source,
			SourceGroupID: f.resolveUnit(pid, r.UnitCode),
		}
		if r.ToDate != nil {
			e.ToDate = model.Ptr(*r.ToDate)
		}
		if r.CreatedAt != nil {
			e.CreatedAt = model.Ptr(*r.CreatedAt)
		}
		if r.ModifiedAt != nil {
			e.ModifiedAt = model.Ptr(*r.ModifiedAt)
		}
		out = append(out, e)
	}
	if unmappedPatients > 0 || unmappedModalities > 0 {
		f.Log.Info("treatment: dropped rows during formatting",
			zap.String("source", string(f.Source)),
			zap.Int("unmapped_patients", unmappedPatients),
			zap.Int("unmapped_modalities", unmappedModalities),
			zap.Int("kept", len(out)))
	}
	return out
}

func (f Formatter) resolvePatient(r RawTreatment) (int64, bool) {
	switch {
	case r.UKRDCID != nil:
		return f.Patients.RadarIDForUKRDC(*r.UKRDCID)
	case r.RRNo != nil:
		return f.Patients.RadarIDForRR(*r.RRNo)
	default:
		return 0, false
	}
}

func (f Formatter) resolveModality(code *string) (int64, bool) {
	if code == nil {
		return 0, false
	}
	m, ok := f.ModalityCodes[*code]
	return m, ok
}

// resolveUnit translates a facility code to a radar group id, collapsing
// satellite units onto their main unit first.
func (f Formatter) resolveUnit(patientID int64, code *string) *int64 {
	if code == nil {
		return nil
	}
	c := *code
	if main, ok := f.SatelliteUnits[c]; ok {
		c = main
	}
	if id, ok := f.GroupCodes[c]; ok {
		return model.Ptr(id)
	}
	f.Log.Warn("treatment: facility code has no radar group",
		zap.String("source", string(f.Source)),
		zap.Int64("patient_id", patientID),
		zap.String("unit_code", *code))
	return nil
}

func patientKey(r RawTreatment) string {
	switch {
	case r.UKRDCID != nil:
		return *r.UKRDCID
	case r.RRNo != nil:
		return strconv.FormatInt(*r.RRNo, 10)
	default:
		return ""
	}
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

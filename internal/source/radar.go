// Package source holds the per-system extractors feeding a reconciliation
// run: the radar canonical store, the UKRDC data warehouse, the UK Renal
// Registry SQL Server, sqlite snapshots of earlier runs and the quarterly
// NHSBT list file. Extractors return plain rows; translation onto the
// episode schema lives in internal/treatment and internal/transplant.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/db"
	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/transplant"
)

// Radar number groups carrying national identifiers.
const (
	numberGroupNHS int64 = 120
	numberGroupCHI int64 = 121
	numberGroupHSC int64 = 122
)

// Radar extracts the prior canonical state and the reference data owned by
// the radar store. A non-empty patients list restricts every extract to
// those patients, which keeps incident replays small.
type Radar struct {
	pool     db.Pool
	patients []int64
	log      *zap.Logger
}

// NewRadar returns a radar extractor over pool.
func NewRadar(pool db.Pool, patients []int64, log *zap.Logger) *Radar {
	return &Radar{pool: pool, patients: patients, log: log}
}

// Treatments returns the full prior treatment table. Rows keep the source
// type they were originally loaded under.
func (r *Radar) Treatments(ctx context.Context) ([]model.Episode, error) {
	query := `
		SELECT id::text, patient_id, source_group_id, source_type,
		       from_date, to_date, modality, created_date, modified_date
		FROM dialysis`
	args := []any{}
	if len(r.patients) > 0 {
		query += ` WHERE patient_id = ANY($1)`
		args = append(args, r.patients)
	}
	query += ` ORDER BY patient_id, from_date`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "source: radar treatments")
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
		var e model.Episode
		var id string
		if err := rows.Scan(&id, &e.PatientID, &e.SourceGroupID, &e.SourceType,
			&e.FromDate, &e.ToDate, &e.Modality, &e.CreatedAt, &e.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "source: scan radar treatment")
		}
		e.ID = &id
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: radar treatments")
	}
	r.log.Debug("source: radar treatments extracted", zap.Int("rows", len(out)))
	return out, nil
}

// Transplants returns the full prior transplant table. The failure date and
// the transplanting unit ride along as extra attributes so reconciled rows
// compare cleanly against these.
func (r *Radar) Transplants(ctx context.Context) ([]model.Episode, error) {
	query := `
		SELECT id::text, patient_id, source_group_id, source_type,
		       date, date_of_failure, modality, transplant_unit_id,
		       created_date, modified_date
		FROM transplants`
	args := []any{}
	if len(r.patients) > 0 {
		query += ` WHERE patient_id = ANY($1)`
		args = append(args, r.patients)
	}
	query += ` ORDER BY patient_id, date`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "source: radar transplants")
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
		var e model.Episode
		var id string
		var failDate *time.Time
		var unitID *int64
		if err := rows.Scan(&id, &e.PatientID, &e.SourceGroupID, &e.SourceType,
			&e.FromDate, &failDate, &e.Modality, &unitID,
			&e.CreatedAt, &e.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "source: scan radar transplant")
		}
		e.ID = &id
		e.Extra = map[string]any{}
		if failDate != nil {
			e.Extra[transplant.ExtraFailDate] = *failDate
		}
		if unitID != nil {
			e.Extra[transplant.ExtraUnitID] = *unitID
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: radar transplants")
	}
	r.log.Debug("source: radar transplants extracted", zap.Int("rows", len(out)))
	return out, nil
}

// PatientIdentifiers returns the registered national patient numbers, one
// row per number, joined with the patient's date of birth.
func (r *Radar) PatientIdentifiers(ctx context.Context) ([]identity.Identifier, error) {
	query := `
		SELECT n.patient_id, d.date_of_birth, n.number_group_id, n.number
		FROM patient_numbers n
		JOIN patient_demographics d ON d.patient_id = n.patient_id
		WHERE n.source_type = 'RADAR'
		  AND d.source_type = 'RADAR'
		  AND n.number_group_id IN (120, 121, 122)`
	args := []any{}
	if len(r.patients) > 0 {
		query += ` AND n.patient_id = ANY($1)`
		args = append(args, r.patients)
	}
	query += ` ORDER BY n.patient_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "source: radar patient numbers")
	}
	defer rows.Close()

	var out []identity.Identifier
	for rows.Next() {
		var id identity.Identifier
		var group int64
		if err := rows.Scan(&id.RadarID, &id.DateOfBirth, &group, &id.Value); err != nil {
			return nil, eris.Wrap(err, "source: scan radar patient number")
		}
		switch group {
		case numberGroupNHS:
			id.Kind = identity.KindNHS
		case numberGroupCHI:
			id.Kind = identity.KindCHI
		case numberGroupHSC:
			id.Kind = identity.KindHSC
		default:
			return nil, eris.Errorf("source: patient %d has unexpected number group %d", id.RadarID, group)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: radar patient numbers")
	}
	return out, nil
}

// GroupCodes maps radar group codes to group ids, lowest id first when a
// code is registered twice.
func (r *Radar) GroupCodes(ctx context.Context) (map[string]int64, error) {
	return r.groupCodes(ctx, `SELECT id, code FROM groups ORDER BY id`)
}

// HospitalUnits maps hospital group codes to group ids. Transplant unit
// translation uses these.
func (r *Radar) HospitalUnits(ctx context.Context) (map[string]int64, error) {
	return r.groupCodes(ctx, `SELECT id, code FROM groups WHERE type = 'HOSPITAL' ORDER BY id`)
}

func (r *Radar) groupCodes(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "source: radar group codes")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, eris.Wrap(err, "source: scan radar group code")
		}
		if _, ok := out[code]; !ok {
			out[code] = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: radar group codes")
	}
	return out, nil
}

package source

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/db"
	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// UKRDC extracts current treatment data and reference code tables from the
// UKRDC warehouse.
type UKRDC struct {
	pool db.Pool
	log  *zap.Logger
}

// NewUKRDC returns a ukrdc extractor over pool.
func NewUKRDC(pool db.Pool, log *zap.Logger) *UKRDC {
	return &UKRDC{pool: pool, log: log}
}

// Treatments returns the treatment spans recorded against the given ukrdc
// record ids. Dates are truncated to day granularity; the warehouse stores
// admission clock times the canonical table does not.
func (u *UKRDC) Treatments(ctx context.Context, ukrdcIDs []string) ([]treatment.RawTreatment, error) {
	if len(ukrdcIDs) == 0 {
		return nil, nil
	}
	rows, err := u.pool.Query(ctx, `
		SELECT pr.ukrdcid, t.healthcarefacilitycode, t.admitreasoncode,
		       t.fromtime::date, t.totime::date, t.creation_date, t.update_date
		FROM treatment t
		JOIN patientrecord pr ON pr.pid = t.pid
		WHERE pr.ukrdcid = ANY($1)
		ORDER BY pr.ukrdcid, t.fromtime`,
		ukrdcIDs)
	if err != nil {
		return nil, eris.Wrap(err, "source: ukrdc treatments")
	}
	defer rows.Close()

	var out []treatment.RawTreatment
	for rows.Next() {
		var r treatment.RawTreatment
		var ukrdcID string
		if err := rows.Scan(&ukrdcID, &r.UnitCode, &r.ModalityCode,
			&r.FromDate, &r.ToDate, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "source: scan ukrdc treatment")
		}
		r.UKRDCID = &ukrdcID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: ukrdc treatments")
	}
	u.log.Debug("source: ukrdc treatments extracted",
		zap.Int("rows", len(out)), zap.Int("patients", len(ukrdcIDs)))
	return out, nil
}

// PatientLinks returns the ukrdc records that name a radar patient number.
func (u *UKRDC) PatientLinks(ctx context.Context) ([]identity.Link, error) {
	rows, err := u.pool.Query(ctx, `
		SELECT pr.ukrdcid, pn.patientid::bigint
		FROM patientrecord pr
		JOIN patientnumber pn ON pn.pid = pr.pid
		WHERE pn.organization = 'RADAR'
		ORDER BY pn.patientid`)
	if err != nil {
		return nil, eris.Wrap(err, "source: ukrdc patient links")
	}
	defer rows.Close()

	var out []identity.Link
	for rows.Next() {
		var l identity.Link
		if err := rows.Scan(&l.UKRDCID, &l.RadarID); err != nil {
			return nil, eris.Wrap(err, "source: scan ukrdc patient link")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: ukrdc patient links")
	}
	return out, nil
}

// ModalityCodes maps registry treatment modality codes to radar modality
// codes. Unmapped registry codes are absent.
func (u *UKRDC) ModalityCodes(ctx context.Context) (map[string]int64, error) {
	rows, err := u.pool.Query(ctx, `
		SELECT registry_code, equiv_modality
		FROM modality_codes
		WHERE registry_code IS NOT NULL AND equiv_modality IS NOT NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "source: ukrdc modality codes")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var code string
		var modality int64
		if err := rows.Scan(&code, &modality); err != nil {
			return nil, eris.Wrap(err, "source: scan ukrdc modality code")
		}
		out[code] = modality
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: ukrdc modality codes")
	}
	return out, nil
}

// SatelliteUnits maps satellite facility codes to their main unit code,
// first mapping winning when a satellite is listed twice.
func (u *UKRDC) SatelliteUnits(ctx context.Context) (map[string]string, error) {
	rows, err := u.pool.Query(ctx, `
		SELECT satellite_code, main_unit_code
		FROM satellite_map
		ORDER BY satellite_code`)
	if err != nil {
		return nil, eris.Wrap(err, "source: ukrdc satellite map")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var satellite, main string
		if err := rows.Scan(&satellite, &main); err != nil {
			return nil, eris.Wrap(err, "source: scan ukrdc satellite unit")
		}
		if _, ok := out[satellite]; !ok {
			out[satellite] = main
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: ukrdc satellite map")
	}
	return out, nil
}

package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/transplant"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// Extract is everything one reconciliation run pulls from the source
// systems. Snapshots persist an Extract so an incident can be replayed
// offline against the exact inputs that produced it.
type Extract struct {
	CapturedAt       time.Time                  `json:"captured_at"`
	Patients         []identity.Patient         `json:"patients"`
	RadarTreatments  []model.Episode            `json:"radar_treatments"`
	RadarTransplants []model.Episode            `json:"radar_transplants"`
	GroupCodes       map[string]int64           `json:"group_codes"`
	HospitalUnits    map[string]int64           `json:"hospital_units"`
	ModalityCodes    map[string]int64           `json:"modality_codes"`
	SatelliteUnits   map[string]string          `json:"satellite_units"`
	UKRDCTreatments  []treatment.RawTreatment   `json:"ukrdc_treatments"`
	RRTreatments     []treatment.RawTreatment   `json:"rr_treatments"`
	RRTransplants    []transplant.RawTransplant `json:"rr_transplants"`
}

// SectionInfo describes one stored extract section.
type SectionInfo struct {
	Name string
	Rows int
}

// Snapshot is a sqlite file holding one Extract, one JSON payload per
// section so files stay inspectable with the sqlite3 shell.
type Snapshot struct {
	db *sql.DB
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extracts (
	name        TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	rows        INTEGER NOT NULL,
	captured_at DATETIME NOT NULL
);
`

// OpenSnapshot opens or creates the snapshot file at path and configures
// WAL mode.
func OpenSnapshot(path string) (*Snapshot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "snapshot: exec %s", pragma)
		}
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "snapshot: migrate")
	}
	return &Snapshot{db: db}, nil
}

func (s *Snapshot) Close() error {
	return s.db.Close()
}

type section struct {
	name  string
	value any
	rows  int
}

func (ex *Extract) sections() []section {
	return []section{
		{"patients", ex.Patients, len(ex.Patients)},
		{"radar_treatments", ex.RadarTreatments, len(ex.RadarTreatments)},
		{"radar_transplants", ex.RadarTransplants, len(ex.RadarTransplants)},
		{"group_codes", ex.GroupCodes, len(ex.GroupCodes)},
		{"hospital_units", ex.HospitalUnits, len(ex.HospitalUnits)},
		{"modality_codes", ex.ModalityCodes, len(ex.ModalityCodes)},
		{"satellite_units", ex.SatelliteUnits, len(ex.SatelliteUnits)},
		{"ukrdc_treatments", ex.UKRDCTreatments, len(ex.UKRDCTreatments)},
		{"rr_treatments", ex.RRTreatments, len(ex.RRTreatments)},
		{"rr_transplants", ex.RRTransplants, len(ex.RRTransplants)},
	}
}

// Save writes the extract, replacing any earlier capture in the same file.
func (s *Snapshot) Save(ctx context.Context, ex Extract) error {
	if ex.CapturedAt.IsZero() {
		ex.CapturedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "snapshot: begin tx")
	}
	defer tx.Rollback()

	for _, sec := range ex.sections() {
		payload, err := json.Marshal(sec.value)
		if err != nil {
			return eris.Wrapf(err, "snapshot: marshal section %s", sec.name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO extracts (name, payload, rows, captured_at) VALUES (?, ?, ?, ?)`,
			sec.name, string(payload), sec.rows, ex.CapturedAt,
		); err != nil {
			return eris.Wrapf(err, "snapshot: write section %s", sec.name)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('captured_at', ?)`,
		ex.CapturedAt.Format(time.RFC3339),
	); err != nil {
		return eris.Wrap(err, "snapshot: write meta")
	}

	return eris.Wrap(tx.Commit(), "snapshot: commit")
}

// Load reads the extract back. Every section must be present; a file with
// sections missing was not written by Save and replaying it would silently
// drop a source system.
func (s *Snapshot) Load(ctx context.Context) (Extract, error) {
	var ex Extract

	var captured string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshot_meta WHERE key = 'captured_at'`).Scan(&captured)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ex, eris.New("snapshot: file holds no capture")
	case err != nil:
		return ex, eris.Wrap(err, "snapshot: read meta")
	}
	if ex.CapturedAt, err = time.Parse(time.RFC3339, captured); err != nil {
		return ex, eris.Wrap(err, "snapshot: parse captured_at")
	}

	for _, sec := range []struct {
		name string
		out  any
	}{
		{"patients", &ex.Patients},
		{"radar_treatments", &ex.RadarTreatments},
		{"radar_transplants", &ex.RadarTransplants},
		{"group_codes", &ex.GroupCodes},
		{"hospital_units", &ex.HospitalUnits},
		{"modality_codes", &ex.ModalityCodes},
		{"satellite_units", &ex.SatelliteUnits},
		{"ukrdc_treatments", &ex.UKRDCTreatments},
		{"rr_treatments", &ex.RRTreatments},
		{"rr_transplants", &ex.RRTransplants},
	} {
		if err := s.loadSection(ctx, sec.name, sec.out); err != nil {
			return ex, err
		}
	}

	normalizeExtras(ex.RadarTransplants)
	return ex, nil
}

// Info lists the stored sections with their row counts.
func (s *Snapshot) Info(ctx context.Context) ([]SectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, rows FROM extracts ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: list sections")
	}
	defer rows.Close()

	var out []SectionInfo
	for rows.Next() {
		var info SectionInfo
		if err := rows.Scan(&info.Name, &info.Rows); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan section")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Snapshot) loadSection(ctx context.Context, name string, out any) error {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM extracts WHERE name = ?`, name).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return eris.Errorf("snapshot: section %s missing", name)
	case err != nil:
		return eris.Wrapf(err, "snapshot: read section %s", name)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return eris.Wrapf(err, "snapshot: decode section %s", name)
	}
	return nil
}

// normalizeExtras undoes what JSON did to the ride-along attributes: fail
// dates come back as RFC3339 strings and unit ids as float64.
func normalizeExtras(eps []model.Episode) {
	for i := range eps {
		ex := eps[i].Extra
		if ex == nil {
			continue
		}
		if v, ok := ex[transplant.ExtraFailDate].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				ex[transplant.ExtraFailDate] = t
			}
		}
		if v, ok := ex[transplant.ExtraUnitID].(float64); ok {
			ex[transplant.ExtraUnitID] = int64(v)
		}
	}
}

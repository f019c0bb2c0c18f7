package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/transplant"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

// rrChunkSize bounds the IN lists sent to the registry SQL Server.
const rrChunkSize = 1000

// RR extracts treatments, transplants and patient numbers from the UK
// Renal Registry SQL Server. Queries are keyed by registry number, issued
// in chunks and paced by a shared limiter; the server is shared
// infrastructure and a full pull is tens of queries.
type RR struct {
	db      *sql.DB
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewRR returns a registry extractor over db. A nil limiter runs unpaced.
func NewRR(sqlDB *sql.DB, limiter *rate.Limiter, log *zap.Logger) *RR {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &RR{db: sqlDB, limiter: limiter, log: log}
}

// Treatments returns the registry treatment spans for the given registry
// numbers. The registry reports no record timestamps.
func (r *RR) Treatments(ctx context.Context, rrNos []int64) ([]treatment.RawTreatment, error) {
	var out []treatment.RawTreatment
	for _, chunk := range chunked(rrNos, rrChunkSize) {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		placeholders, args := mssqlArgs(chunk)
		query := fmt.Sprintf(`
			SELECT RR_NO, TREATMENT_CENTRE, TREATMENT_MODALITY, DATE_START, DATE_END
			FROM TREATMENT
			WHERE RR_NO IN (%s)`, placeholders)

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "source: registry treatments")
		}
		chunkRows, err := scanRegistryTreatments(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunkRows...)
	}
	r.log.Debug("source: registry treatments extracted",
		zap.Int("rows", len(out)), zap.Int("patients", len(rrNos)))
	return out, nil
}

func scanRegistryTreatments(rows *sql.Rows) ([]treatment.RawTreatment, error) {
	defer rows.Close()

	var out []treatment.RawTreatment
	for rows.Next() {
		var (
			rrNo     int64
			centre   sql.NullString
			modality sql.NullString
			start    time.Time
			end      sql.NullTime
		)
		if err := rows.Scan(&rrNo, &centre, &modality, &start, &end); err != nil {
			return nil, eris.Wrap(err, "source: scan registry treatment")
		}
		t := treatment.RawTreatment{RRNo: &rrNo, FromDate: start}
		if centre.Valid {
			t.UnitCode = &centre.String
		}
		if modality.Valid {
			t.ModalityCode = &modality.String
		}
		if end.Valid {
			t.ToDate = &end.Time
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: registry treatments")
	}
	return out, nil
}

// Transplants returns the raw registry transplant rows for the given
// registry numbers, joined with the site table for the unit code. A
// transplant at a site the registry has not catalogued keeps a nil unit
// code rather than disappearing.
func (r *RR) Transplants(ctx context.Context, rrNos []int64) ([]transplant.RawTransplant, error) {
	var out []transplant.RawTransplant
	for _, chunk := range chunked(rrNos, rrChunkSize) {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		placeholders, args := mssqlArgs(chunk)
		query := fmt.Sprintf(`
			SELECT t.RR_NO, t.TRANSPLANT_TYPE, t.TRANSPLANT_DATE, t.UKT_FAIL_DATE,
			       t.TRANSPLANT_RELATIONSHIP, t.TRANSPLANT_SEX, s.RR_CODE
			FROM UKT_TRANSPLANTS t
			LEFT JOIN UKT_SITES s ON s.SITE_NAME = t.TRANSPLANT_UNIT
			WHERE t.RR_NO IN (%s)`, placeholders)

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "source: registry transplants")
		}
		chunkRows, err := scanRegistryTransplants(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunkRows...)
	}
	r.log.Debug("source: registry transplants extracted",
		zap.Int("rows", len(out)), zap.Int("patients", len(rrNos)))
	return out, nil
}

func scanRegistryTransplants(rows *sql.Rows) ([]transplant.RawTransplant, error) {
	defer rows.Close()

	var out []transplant.RawTransplant
	for rows.Next() {
		var (
			rrNo         int64
			donorType    sql.NullString
			date         sql.NullTime
			failDate     sql.NullTime
			relationship sql.NullString
			sex          sql.NullString
			unitCode     sql.NullString
		)
		if err := rows.Scan(&rrNo, &donorType, &date, &failDate,
			&relationship, &sex, &unitCode); err != nil {
			return nil, eris.Wrap(err, "source: scan registry transplant")
		}
		t := transplant.RawTransplant{RRNo: rrNo, DonorType: donorType.String}
		if date.Valid {
			t.Date = date.Time
		}
		if failDate.Valid {
			t.FailDate = &failDate.Time
		}
		if relationship.Valid {
			t.Relationship = &relationship.String
		}
		if sex.Valid {
			t.Sex = &sex.String
		}
		if unitCode.Valid {
			t.UnitCode = &unitCode.String
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: registry transplants")
	}
	return out, nil
}

// PatientNumbers resolves identifier values of one kind to registry
// numbers. Values the registry does not hold are absent from the result.
func (r *RR) PatientNumbers(ctx context.Context, kind identity.IdentifierKind, values []string) (map[string]int64, error) {
	column, err := registryColumn(kind)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64)
	for _, chunk := range chunked(values, rrChunkSize) {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		placeholders, args := mssqlArgs(chunk)
		query := fmt.Sprintf(`
			SELECT RR_NO, %s
			FROM PATIENTS
			WHERE %s IN (%s)`, column, column, placeholders)

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "source: registry numbers by %s", kind)
		}
		if err := scanRegistryNumbers(rows, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanRegistryNumbers(rows *sql.Rows, out map[string]int64) error {
	defer rows.Close()

	for rows.Next() {
		var rrNo int64
		var value string
		if err := rows.Scan(&rrNo, &value); err != nil {
			return eris.Wrap(err, "source: scan registry number")
		}
		if _, ok := out[value]; !ok {
			out[value] = rrNo
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "source: registry numbers")
	}
	return nil
}

func registryColumn(kind identity.IdentifierKind) (string, error) {
	switch kind {
	case identity.KindNHS:
		return "NEW_NHS_NO", nil
	case identity.KindCHI:
		return "CHI_NO", nil
	case identity.KindHSC:
		return "HSC_NO", nil
	default:
		return "", eris.Errorf("source: no registry column for identifier kind %d", kind)
	}
}

func (r *RR) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "source: registry rate limit")
	}
	return nil
}

// mssqlArgs renders a chunk as ordinal SQL Server placeholders plus the
// matching argument slice.
func mssqlArgs[T any](chunk []T) (string, []any) {
	placeholders := make([]string, len(chunk))
	args := make([]any, len(chunk))
	for i, v := range chunk {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

// chunked splits values into runs of at most size.
func chunked[T any](values []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[start:end])
	}
	return out
}

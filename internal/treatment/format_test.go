package treatment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
)

func ukrdcFormatter() Formatter {
	return Formatter{
		Source: model.SourceUKRDC,
		Patients: identity.NewMap([]identity.Patient{
			{RadarID: 21, UKRDCID: model.Ptr("UK100"), RRNo: model.Ptr(int64(700))},
			{RadarID: 22, UKRDCID: model.Ptr("UK200")},
		}),
		ModalityCodes:  map[string]int64{"1": 301, "2": 302},
		SatelliteUnits: map[string]string{"RFA01": "RF"},
		GroupCodes:     map[string]int64{"RF": 42, "GUY": 43},
		Log:            zap.NewNop(),
	}
}

func TestFormat_MapsUKRDCRow(t *testing.T) {
	t.Parallel()

	from := time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 8, 9, 0, 0, 0, 0, time.UTC)
	created := time.Date(2021, 8, 10, 0, 0, 0, 0, time.UTC)

	f := ukrdcFormatter()
	got := f.Format([]RawTreatment{{
		UKRDCID:      model.Ptr("UK100"),
		UnitCode:     model.Ptr("RFA01"),
		ModalityCode: model.Ptr("1"),
		FromDate:     from,
		ToDate:       &to,
		CreatedAt:    &created,
	}})
	require.Len(t, got, 1)

	e := got[0]
	assert.Nil(t, e.ID)
	assert.Equal(t, int64(21), e.PatientID)
	require.NotNil(t, e.Modality)
	assert.Equal(t, int64(301), *e.Modality)
	assert.Equal(t, from, e.FromDate)
	require.NotNil(t, e.ToDate)
	assert.Equal(t, to, *e.ToDate)
	assert.Equal(t, model.SourceUKRDC, e.SourceType)
	// Satellite RFA01 collapses onto main unit RF before the group lookup.
	require.NotNil(t, e.SourceGroupID)
	assert.Equal(t, int64(42), *e.SourceGroupID)
	require.NotNil(t, e.CreatedAt)
	assert.Equal(t, created, *e.CreatedAt)
	assert.Nil(t, e.ModifiedAt)
}

func TestFormat_MapsRegistryRowByRRNo(t *testing.T) {
	t.Parallel()

	f := ukrdcFormatter()
	f.Source = model.SourceRR

	got := f.Format([]RawTreatment{{
		RRNo:         model.Ptr(int64(700)),
		UnitCode:     model.Ptr("GUY"),
		ModalityCode: model.Ptr("2"),
		FromDate:     time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC),
	}})
	require.Len(t, got, 1)
	assert.Equal(t, int64(21), got[0].PatientID)
	assert.Equal(t, model.SourceRR, got[0].SourceType)
	require.NotNil(t, got[0].SourceGroupID)
	assert.Equal(t, int64(43), *got[0].SourceGroupID)
	assert.Nil(t, got[0].CreatedAt)
	assert.Nil(t, got[0].ModifiedAt)
}

func TestFormat_DropsUnknownPatientKey(t *testing.T) {
	t.Parallel()

	f := ukrdcFormatter()
	got := f.Format([]RawTreatment{
		{UKRDCID: model.Ptr("GHOST"), ModalityCode: model.Ptr("1"), FromDate: time.Now()},
		{ModalityCode: model.Ptr("1"), FromDate: time.Now()},
	})
	assert.Empty(t, got)
}

func TestFormat_DropsUnmappedModalityCode(t *testing.T) {
	t.Parallel()

	f := ukrdcFormatter()
	got := f.Format([]RawTreatment{
		{UKRDCID: model.Ptr("UK100"), ModalityCode: model.Ptr("999"), FromDate: time.Now()},
		{UKRDCID: model.Ptr("UK100"), FromDate: time.Now()},
		{UKRDCID: model.Ptr("UK200"), ModalityCode: model.Ptr("2"), FromDate: time.Now()},
	})
	require.Len(t, got, 1)
	assert.Equal(t, int64(22), got[0].PatientID)
}

func TestFormat_UnknownFacilityCodeLeavesGroupUnset(t *testing.T) {
	t.Parallel()

	f := ukrdcFormatter()
	got := f.Format([]RawTreatment{{
		UKRDCID:      model.Ptr("UK100"),
		UnitCode:     model.Ptr("NOPE"),
		ModalityCode: model.Ptr("1"),
		FromDate:     time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC),
	}})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].SourceGroupID)
}

package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/timeline-sync/internal/model"
)

func TestVerifyReconciled(t *testing.T) {
	t.Parallel()

	order := DefaultProfile().Treatments.PriorityOrder

	t.Run("clean rows pass", func(t *testing.T) {
		t.Parallel()

		rows := []model.Episode{
			{PatientID: 1, FromDate: day(0), SourceType: model.SourceRadar},
			{PatientID: 2, FromDate: day(0), SourceType: model.SourceRR},
		}
		assert.NoError(t, VerifyReconciled(rows, order))
	})

	t.Run("missing patient id", func(t *testing.T) {
		t.Parallel()

		rows := []model.Episode{{FromDate: day(0), SourceType: model.SourceRadar}}
		err := VerifyReconciled(rows, order)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no patient id")
	})

	t.Run("source type outside order", func(t *testing.T) {
		t.Parallel()

		rows := []model.Episode{{PatientID: 1, FromDate: day(0), SourceType: model.SourceNHSBTList}}
		err := VerifyReconciled(rows, order)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NHSBT LIST")
	})
}

func TestFillNullTimes(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.February, 2, 9, 30, 0, 0, time.UTC)
	stamp := time.Date(2021, time.July, 1, 0, 0, 0, 0, time.UTC)

	rows := []model.Episode{
		{PatientID: 1, FromDate: day(0)},
		{PatientID: 2, FromDate: day(0), CreatedAt: &stamp},
	}

	got := FillNullTimes(rows, now)
	require.Len(t, got, 2)

	assert.True(t, got[0].CreatedAt.Equal(now))
	assert.True(t, got[0].ModifiedAt.Equal(now))
	assert.True(t, got[1].CreatedAt.Equal(stamp), "concrete times are left alone")
	assert.True(t, got[1].ModifiedAt.Equal(now))

	assert.Nil(t, rows[0].CreatedAt, "input rows are not touched")
}

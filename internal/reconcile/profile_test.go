package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/timeline-sync/internal/model"
)

func TestDefaultProfile(t *testing.T) {
	t.Parallel()

	p := DefaultProfile()
	require.NoError(t, p.Validate())

	assert.Equal(t, 5, p.Treatments.GroupDays)
	assert.Equal(t, 15, p.Treatments.RegroupDays)
	assert.Equal(t, 5, p.Transplants.GroupDays)
	assert.Equal(t, 1000, p.BatchSize)

	prio, ok := p.Transplants.PriorityOrder.PriorityOf(model.SourceRR)
	require.True(t, ok)
	assert.Equal(t, 4, prio, "rr carries the highest authority")
	assert.False(t, p.Treatments.PriorityOrder.Contains(model.SourceNHSBTList))
}

func TestLoadProfile_OverridesOnTopOfDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profile.yml")
	doc := []byte("treatments:\n  group_days: 7\nbatch_size: 250\n")
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, 7, p.Treatments.GroupDays)
	assert.Equal(t, 250, p.BatchSize)
	assert.Equal(t, 15, p.Treatments.RegroupDays, "unset fields keep their defaults")
	assert.Equal(t, DefaultProfile().Transplants, p.Transplants)
}

func TestLoadProfile_RejectsBadDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate source type", "transplants:\n  priority_order: [RADAR, RADAR]\n"},
		{"zero batch size", "batch_size: 0\n"},
		{"negative threshold", "treatments:\n  group_days: -1\n"},
		{"not yaml", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "profile.yml")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))

			_, err := LoadProfile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadProfile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

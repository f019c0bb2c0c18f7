package reconcile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/renalreg/timeline-sync/internal/model"
)

// Profile carries the tunable parts of a reconciliation run: source priority
// orders, grouping day thresholds and the write batch size. Deployments
// override individual fields from a YAML file; anything the file leaves out
// keeps its default.
type Profile struct {
	Treatments  PipelineProfile `yaml:"treatments"`
	Transplants PipelineProfile `yaml:"transplants"`
	BatchSize   int             `yaml:"batch_size"`
}

// PipelineProfile tunes one reconciliation pipeline.
type PipelineProfile struct {
	// PriorityOrder lists source types lowest authority first.
	PriorityOrder PriorityOrder `yaml:"priority_order"`
	// GroupDays is the closeness threshold for the first grouping pass.
	GroupDays int `yaml:"group_days"`
	// RegroupDays is the threshold for the patient-wide second pass, on
	// pipelines that run one.
	RegroupDays int `yaml:"regroup_days"`
}

// DefaultProfile returns the stock deployment profile.
func DefaultProfile() Profile {
	return Profile{
		Treatments: PipelineProfile{
			PriorityOrder: PriorityOrder{model.SourceBatch, model.SourceUKRDC, model.SourceRadar, model.SourceRR},
			GroupDays:     5,
			RegroupDays:   15,
		},
		Transplants: PipelineProfile{
			PriorityOrder: PriorityOrder{model.SourceNHSBTList, model.SourceBatch, model.SourceUKRDC, model.SourceRadar, model.SourceRR},
			GroupDays:     5,
		},
		BatchSize: 1000,
	}
}

// LoadProfile reads a YAML profile from path on top of the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, eris.Wrap(err, "reconcile: read profile")
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, eris.Wrapf(err, "reconcile: parse profile %s", path)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate rejects profiles that would mis-rank or mis-group silently.
func (p Profile) Validate() error {
	if p.BatchSize <= 0 {
		return eris.Errorf("reconcile: batch size %d must be positive", p.BatchSize)
	}
	if err := p.Treatments.validate("treatments"); err != nil {
		return err
	}
	return p.Transplants.validate("transplants")
}

func (pp PipelineProfile) validate(name string) error {
	if len(pp.PriorityOrder) == 0 {
		return eris.Errorf("reconcile: %s profile has an empty priority order", name)
	}
	seen := make(map[model.SourceType]bool, len(pp.PriorityOrder))
	for _, st := range pp.PriorityOrder {
		if seen[st] {
			return eris.Errorf("reconcile: %s profile lists source type %q twice", name, st)
		}
		seen[st] = true
	}
	if pp.GroupDays < 0 || pp.RegroupDays < 0 {
		return eris.Errorf("reconcile: %s profile has a negative day threshold", name)
	}
	return nil
}

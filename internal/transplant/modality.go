// Package transplant prepares UK Renal Registry transplant rows for
// reconciliation: donor descriptions become radar modality codes, registry
// patient numbers become radar patient ids, and the repeated quarterly
// restatements of the same event are collapsed to one row.
package transplant

import "github.com/renalreg/timeline-sync/internal/model"

// Radar transplant modality codes.
const (
	ModalityLiveChild     int64 = 77
	ModalityLiveSibling   int64 = 21
	ModalityLiveFather    int64 = 74
	ModalityLiveMother    int64 = 75
	ModalityLiveRelated   int64 = 23
	ModalityLiveUnrelated int64 = 24
	ModalityCadaver       int64 = 20
	ModalityUnknownDonor  int64 = 99
)

// ResolveModality translates the registry's donor type, donor relationship
// and donor sex codes into a radar transplant modality. The rules are
// ordered and the first match wins; nil means the combination has no
// mapping. Relationship "2" is a parent, split into father and mother by
// the donor's sex code.
func ResolveModality(donorType string, relationship, sex *string) *int64 {
	alive := donorType == "Live"
	deceased := donorType == "DCD" || donorType == "DBD"
	rel := deref(relationship)
	switch {
	case alive && rel == "0":
		return model.Ptr(ModalityLiveChild)
	case alive && oneOf(rel, "3", "4", "5", "6", "7", "8"):
		return model.Ptr(ModalityLiveSibling)
	case alive && rel == "2" && deref(sex) == "1":
		return model.Ptr(ModalityLiveFather)
	case alive && rel == "2" && deref(sex) == "2":
		return model.Ptr(ModalityLiveMother)
	case alive && rel == "9":
		return model.Ptr(ModalityLiveRelated)
	case alive && oneOf(rel, "11", "12", "15", "16", "19", "10"):
		return model.Ptr(ModalityLiveUnrelated)
	case deceased:
		return model.Ptr(ModalityCadaver)
	case oneOf(rel, "88", "99"):
		return model.Ptr(ModalityUnknownDonor)
	default:
		return nil
	}
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

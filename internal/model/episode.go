// Package model defines the episode record shared by every pipeline stage.
package model

import "time"

// SourceType identifies the origin system that reported an episode.
type SourceType string

const (
	SourceNHSBTList SourceType = "NHSBT LIST"
	SourceBatch     SourceType = "BATCH"
	SourceUKRDC     SourceType = "UKRDC"
	SourceRadar     SourceType = "RADAR"
	SourceRR        SourceType = "RR"
)

// EpisodeKind selects which clinical table a pipeline reconciles.
type EpisodeKind string

const (
	KindTreatment  EpisodeKind = "treatment"
	KindTransplant EpisodeKind = "transplant"
)

// Episode is the unit of reconciliation: one dialysis treatment span or one
// transplant event for one patient. FromDate is never zero; ToDate nil means
// the episode is ongoing or its end is unknown. ID nil means the row is not
// yet known to the canonical store. Attributes outside the fixed schema ride
// along in Extra and are never interpreted by the reconciliation core.
type Episode struct {
	ID            *string        `json:"id"`
	PatientID     int64          `json:"patient_id"`
	Modality      *int64         `json:"modality"`
	FromDate      time.Time      `json:"from_date"`
	ToDate        *time.Time     `json:"to_date"`
	SourceType    SourceType     `json:"source_type"`
	SourceGroupID *int64         `json:"source_group_id"`
	CreatedAt     *time.Time     `json:"created_at"`
	ModifiedAt    *time.Time     `json:"modified_at"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Recency returns the later of CreatedAt and ModifiedAt, or nil when both
// are nil. It is the secondary reduction tie-break; a nil recency ranks
// below any concrete timestamp.
func (e Episode) Recency() *time.Time {
	switch {
	case e.CreatedAt == nil:
		return e.ModifiedAt
	case e.ModifiedAt == nil:
		return e.CreatedAt
	case e.ModifiedAt.After(*e.CreatedAt):
		return e.ModifiedAt
	default:
		return e.CreatedAt
	}
}

// Clone returns a deep copy. Stages that rewrite fields on derived rows
// (splitter restore, timestamp fill) work on clones so input tables stay
// untouched.
func (e Episode) Clone() Episode {
	out := e
	out.ID = clonePtr(e.ID)
	out.Modality = clonePtr(e.Modality)
	out.ToDate = clonePtr(e.ToDate)
	out.SourceGroupID = clonePtr(e.SourceGroupID)
	out.CreatedAt = clonePtr(e.CreatedAt)
	out.ModifiedAt = clonePtr(e.ModifiedAt)
	if e.Extra != nil {
		out.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Ptr returns a pointer to v. Convenience for building optional fields.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

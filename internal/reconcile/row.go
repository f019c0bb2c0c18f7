// Package reconcile implements the episode reconciliation core: temporal
// interval grouping, source-priority reduction, and new-versus-update
// splitting. Every stage is a pure in-memory transformation; callers wire
// extraction and persistence around it.
package reconcile

import (
	"github.com/renalreg/timeline-sync/internal/model"
)

// Window selects the partition key that scopes grouping and reduction.
// Episodes in different windows are never merged regardless of dates.
type Window int

const (
	// WindowPatient partitions by patient alone.
	WindowPatient Window = iota
	// WindowPatientModality partitions by patient and modality.
	WindowPatientModality
)

func (w Window) String() string {
	if w == WindowPatientModality {
		return "patient+modality"
	}
	return "patient"
}

// windowKey is the concrete partition value for one row.
type windowKey struct {
	patient  int64
	modality int64
}

// Row is an episode annotated with reconciliation bookkeeping. Priority is
// attached by Merge from the configured source order; GroupID is assigned by
// Group and is unique only within the row's window.
type Row struct {
	model.Episode
	Priority int
	GroupID  int
}

// Episodes strips the bookkeeping and returns the bare episode rows.
func Episodes(rows []Row) []model.Episode {
	out := make([]model.Episode, len(rows))
	for i, r := range rows {
		out[i] = r.Episode
	}
	return out
}

// PriorityOrder is a total order over source types, lowest authority first.
// The index of a source type is its priority; higher index wins reduction.
type PriorityOrder []model.SourceType

// PriorityOf returns the priority of st and whether st is in the order.
func (p PriorityOrder) PriorityOf(st model.SourceType) (int, bool) {
	for i, s := range p {
		if s == st {
			return i, true
		}
	}
	return 0, false
}

// Contains reports whether st is part of the order.
func (p PriorityOrder) Contains(st model.SourceType) bool {
	_, ok := p.PriorityOf(st)
	return ok
}

package reconcile

import (
	"github.com/rotisserie/eris"

	"github.com/renalreg/timeline-sync/internal/model"
)

// Merge concatenates episode tables from multiple sources into one working
// set and stamps each row with the priority of its source under order. Tables
// are appended in the order given, so ties later in the pipeline resolve
// deterministically. A row whose source type is absent from order is an
// error rather than a silently mis-ranked row.
func Merge(order PriorityOrder, tables ...[]model.Episode) ([]Row, error) {
	total := 0
	for _, t := range tables {
		total += len(t)
	}
	out := make([]Row, 0, total)
	for _, t := range tables {
		for _, e := range t {
			prio, ok := order.PriorityOf(e.SourceType)
			if !ok {
				return nil, eris.Errorf("reconcile: source type %q for patient %d is not in the priority order", e.SourceType, e.PatientID)
			}
			out = append(out, Row{Episode: e, Priority: prio})
		}
	}
	return out, nil
}

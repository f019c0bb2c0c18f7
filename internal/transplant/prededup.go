package transplant

import (
	"sort"

	"github.com/renalreg/timeline-sync/internal/reconcile"
)

// DedupRegistryRows collapses repeated submissions of the same transplant.
// The registry restates events across quarterly returns, so a patient
// accumulates near-identical rows whose dates drift by a few days. Rows are
// sorted per patient by date, chained while consecutive dates are at most
// days apart, and each chain keeps its earliest row.
func DedupRegistryRows(rows []RawTransplant, days int) []RawTransplant {
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]RawTransplant, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RRNo != sorted[j].RRNo {
			return sorted[i].RRNo < sorted[j].RRNo
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make([]RawTransplant, 0, len(sorted))
	for i, r := range sorted {
		if i > 0 && r.RRNo == sorted[i-1].RRNo &&
			reconcile.Close(r.Date, nil, reconcile.Bounds{From: &sorted[i-1].Date}, days) {
			continue
		}
		out = append(out, r)
	}
	return out
}

package reconcile

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Group partitions rows by the window key and assigns a GroupID to every row
// so that each run of chained episodes shares one id. Chaining is evaluated
// between a row and the rows immediately around it in date order, not
// transitively across the whole partition, so a long ladder of pairwise-close
// episodes collapses into a single group while two far-apart clusters do not.
//
// Group ids are sequential from zero within each window. Rows come back in
// canonical order (from date ascending, open end dates last); no other field
// is altered. A row with a zero from date, or a missing modality under the
// patient+modality window, is an error.
func Group(rows []Row, w Window, days int) ([]Row, error) {
	if days < 0 {
		return nil, eris.Errorf("reconcile: closeness threshold %d is negative", days)
	}
	for i := range rows {
		if rows[i].FromDate.IsZero() {
			return nil, eris.Errorf("reconcile: row for patient %d has no from date", rows[i].PatientID)
		}
		if w == WindowPatientModality && rows[i].Modality == nil {
			return nil, eris.Errorf("reconcile: row for patient %d has no modality under %s grouping", rows[i].PatientID, w)
		}
	}

	byWindow := make(map[windowKey][]Row)
	for _, r := range rows {
		k := windowKey{patient: r.PatientID}
		if w == WindowPatientModality {
			k.modality = *r.Modality
		}
		byWindow[k] = append(byWindow[k], r)
	}

	keys := make([]windowKey, 0, len(byWindow))
	for k := range byWindow {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].patient != keys[j].patient {
			return keys[i].patient < keys[j].patient
		}
		return keys[i].modality < keys[j].modality
	})

	out := make([]Row, 0, len(rows))
	for _, k := range keys {
		out = append(out, groupWindow(byWindow[k], days)...)
	}
	return out, nil
}

// groupWindow assigns group ids within one partition. Each row is compared
// against two reference values: the from date of its predecessor in canonical
// order, and the latest concrete end date of the rows before it in end-date
// order. When no end date precedes a row, the next row's end date stands in,
// which keeps an open-ended earliest row attached to its successor.
func groupWindow(rows []Row, days int) []Row {
	n := len(rows)
	canon := orderedIndex(n, func(i, j int) bool { return lessCanonical(rows[i], rows[j]) })

	prevFrom := make([]*time.Time, n)
	for k := 1; k < n; k++ {
		f := rows[canon[k-1]].FromDate
		prevFrom[canon[k]] = &f
	}

	byTo := orderedIndex(n, func(i, j int) bool { return lessByTo(rows[i], rows[j]) })
	refTo := make([]*time.Time, n)
	var lastTo *time.Time
	for _, ri := range byTo {
		if lastTo != nil {
			v := *lastTo
			refTo[ri] = &v
		}
		if rows[ri].ToDate != nil {
			lastTo = rows[ri].ToDate
		}
	}
	for k, ri := range byTo {
		if refTo[ri] == nil && k+1 < n {
			if next := rows[byTo[k+1]].ToDate; next != nil {
				v := *next
				refTo[ri] = &v
			}
		}
	}

	out := make([]Row, 0, n)
	gid := 0
	for k, ri := range canon {
		r := rows[ri]
		if k > 0 && !Close(r.FromDate, r.ToDate, Bounds{From: prevFrom[ri], To: refTo[ri]}, days) {
			gid++
		}
		r.GroupID = gid
		out = append(out, r)
	}
	return out
}

// orderedIndex returns 0..n-1 stably sorted by less.
func orderedIndex(n int, less func(i, j int) bool) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(idx[a], idx[b]) })
	return idx
}

// lessCanonical orders by from date ascending, then end date descending with
// open ends treated as the latest possible date.
func lessCanonical(a, b Row) bool {
	if !a.FromDate.Equal(b.FromDate) {
		return a.FromDate.Before(b.FromDate)
	}
	switch {
	case a.ToDate == nil && b.ToDate == nil:
		return false
	case a.ToDate == nil:
		return true
	case b.ToDate == nil:
		return false
	default:
		return a.ToDate.After(*b.ToDate)
	}
}

// lessByTo orders by end date ascending with open ends last.
func lessByTo(a, b Row) bool {
	switch {
	case a.ToDate == nil:
		return false
	case b.ToDate == nil:
		return true
	default:
		return a.ToDate.Before(*b.ToDate)
	}
}

package reconcile

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// clusterKey identifies one group of chained rows within a window.
type clusterKey struct {
	win windowKey
	gid int
}

// Reduce collapses every (window, group id) cluster to a single canonical
// row. Clusters come back in first-appearance order, so feeding Reduce the
// output of Group yields a deterministic table. A missing modality under the
// patient+modality window is an error.
func Reduce(rows []Row, w Window) ([]Row, error) {
	clusters := make(map[clusterKey][]Row)
	order := make([]clusterKey, 0, len(rows))
	for _, r := range rows {
		k := clusterKey{win: windowKey{patient: r.PatientID}, gid: r.GroupID}
		if w == WindowPatientModality {
			if r.Modality == nil {
				return nil, eris.Errorf("reconcile: row for patient %d has no modality under %s reduction", r.PatientID, w)
			}
			k.win.modality = *r.Modality
		}
		if _, seen := clusters[k]; !seen {
			order = append(order, k)
		}
		clusters[k] = append(clusters[k], r)
	}

	out := make([]Row, 0, len(order))
	for _, k := range order {
		out = append(out, reduceCluster(clusters[k]))
	}
	return out, nil
}

// reduceCluster picks the top-ranked row of one cluster as the canonical
// record. That row supplies every attribute; the id falls back to the first
// concrete id in rank order, and the span widens to the cluster's earliest
// start and latest concrete end. A cluster where every end date is open keeps
// an open end.
func reduceCluster(rows []Row) Row {
	ranked := make([]Row, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool { return outranks(ranked[i], ranked[j]) })

	winner := ranked[0]
	ep := winner.Episode.Clone()

	ep.ID = nil
	for _, r := range ranked {
		if r.ID != nil {
			id := *r.ID
			ep.ID = &id
			break
		}
	}

	from := winner.FromDate
	var to *time.Time
	for _, r := range ranked {
		if r.FromDate.Before(from) {
			from = r.FromDate
		}
		if r.ToDate != nil && (to == nil || r.ToDate.After(*to)) {
			v := *r.ToDate
			to = &v
		}
	}
	ep.FromDate = from
	ep.ToDate = to

	return Row{Episode: ep, Priority: winner.Priority}
}

// outranks orders rows for reduction: higher source priority first, then the
// most recently touched row, then the latest start. Rows with no recency at
// all rank below any dated row.
func outranks(a, b Row) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	ar, br := a.Recency(), b.Recency()
	switch {
	case ar == nil && br == nil:
	case ar == nil:
		return false
	case br == nil:
		return true
	case !ar.Equal(*br):
		return ar.After(*br)
	}
	return a.FromDate.After(b.FromDate)
}

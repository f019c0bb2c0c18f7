package reconcile

import (
	"time"

	"github.com/renalreg/timeline-sync/internal/model"
)

// FillNullTimes stamps missing creation and modification times with the run
// time. It runs on final output only, after the split, so restored creation
// times from prior records are never overwritten.
func FillNullTimes(rows []model.Episode, now time.Time) []model.Episode {
	out := make([]model.Episode, len(rows))
	for i, r := range rows {
		c := r.Clone()
		if c.CreatedAt == nil {
			c.CreatedAt = model.Ptr(now)
		}
		if c.ModifiedAt == nil {
			c.ModifiedAt = model.Ptr(now)
		}
		out[i] = c
	}
	return out
}

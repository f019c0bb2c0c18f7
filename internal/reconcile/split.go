package reconcile

import (
	"reflect"
	"time"

	"github.com/rotisserie/eris"

	"github.com/renalreg/timeline-sync/internal/model"
)

// Split separates reconciled rows into inserts and updates against the prior
// destination table. Rows without an id are new. A row with an id must have a
// prior record, anything else means the working set drifted from the
// destination mid-run. The creation timestamp is copied back from the prior
// record before comparison so it can never register as a change, and rows
// equal to their prior record in every attribute are dropped entirely.
func Split(canonical, prior []model.Episode) (newRows, updates []model.Episode, err error) {
	byID := make(map[string]model.Episode, len(prior))
	for _, p := range prior {
		if p.ID != nil {
			byID[*p.ID] = p
		}
	}

	for _, c := range canonical {
		if c.ID == nil {
			newRows = append(newRows, c)
			continue
		}
		p, ok := byID[*c.ID]
		if !ok {
			return nil, nil, eris.Errorf("reconcile: reconciled row %s for patient %d has no prior record", *c.ID, c.PatientID)
		}
		upd := c.Clone()
		upd.CreatedAt = nil
		if p.CreatedAt != nil {
			upd.CreatedAt = model.Ptr(*p.CreatedAt)
		}
		if sameRecord(upd, p) {
			continue
		}
		updates = append(updates, upd)
	}
	return newRows, updates, nil
}

// sameRecord compares every attribute except the id. A nil value against a
// concrete one is a difference.
func sameRecord(a, b model.Episode) bool {
	if a.PatientID != b.PatientID ||
		a.SourceType != b.SourceType ||
		!a.FromDate.Equal(b.FromDate) {
		return false
	}
	if !eqInt64Ptr(a.Modality, b.Modality) ||
		!eqInt64Ptr(a.SourceGroupID, b.SourceGroupID) {
		return false
	}
	if !eqTimePtr(a.ToDate, b.ToDate) ||
		!eqTimePtr(a.CreatedAt, b.CreatedAt) ||
		!eqTimePtr(a.ModifiedAt, b.ModifiedAt) {
		return false
	}
	return eqExtras(a.Extra, b.Extra)
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func eqExtras(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !eqExtraValue(av, bv) {
			return false
		}
	}
	return true
}

// eqExtraValue compares loosely typed attribute values. Times compare as
// instants so wall-clock representation differences between source drivers
// do not register as changes.
func eqExtraValue(av, bv any) bool {
	at, aok := av.(time.Time)
	bt, bok := bv.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return reflect.DeepEqual(av, bv)
}

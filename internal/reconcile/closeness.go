package reconcile

import "time"

// Bounds is the reference range a row is compared against during grouping.
// Either endpoint may be absent.
type Bounds struct {
	From *time.Time
	To   *time.Time
}

// Close reports whether the range [from, to] chains onto the reference
// bounds: it starts or ends inside them, or any of the four endpoint pairs
// lie within days of each other. Any comparison involving an absent endpoint
// is false, so two open-ended rows never chain through their missing ends.
func Close(from time.Time, to *time.Time, ref Bounds, days int) bool {
	if ref.From != nil && ref.To != nil {
		if !from.Before(*ref.From) && !from.After(*ref.To) {
			return true
		}
		if to != nil && !to.Before(*ref.From) && !to.After(*ref.To) {
			return true
		}
	}
	if to != nil && ref.From != nil && withinDays(*to, *ref.From, days) {
		return true
	}
	if ref.To != nil && withinDays(from, *ref.To, days) {
		return true
	}
	if ref.From != nil && withinDays(from, *ref.From, days) {
		return true
	}
	if to != nil && ref.To != nil && withinDays(*to, *ref.To, days) {
		return true
	}
	return false
}

// withinDays reports whether a and b are at most days apart in either
// direction. Dates are compared as instants, so day-granularity values must
// be normalised to a common clock time upstream.
func withinDays(a, b time.Time, days int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Duration(days)*24*time.Hour
}

// Package identity builds and queries the cross-system patient identity
// map. RADAR is the canonical system; UKRDC records point back at radar
// patients by number, while the UK Renal Registry knows patients only by
// its own rr number, reachable through NHS, CHI or HSC identifiers.
package identity

import (
	"sort"
	"time"
)

// IdentifierKind is the national numbering scheme an identifier value
// belongs to.
type IdentifierKind int

const (
	// KindNHS is an NHS number, radar number group 120.
	KindNHS IdentifierKind = iota
	// KindCHI is a Scottish CHI number, group 121.
	KindCHI
	// KindHSC is a Northern Irish HSC number, group 122.
	KindHSC
)

func (k IdentifierKind) String() string {
	switch k {
	case KindNHS:
		return "nhs"
	case KindCHI:
		return "chi"
	case KindHSC:
		return "hsc"
	default:
		return "unknown"
	}
}

// Patient is one identity-map row: a registered radar patient number joined
// to the identifiers other systems know the same patient by. A patient with
// several registered numbers appears in several rows.
type Patient struct {
	RadarID     int64
	DateOfBirth *time.Time
	NHSNo       *string
	CHINo       *string
	HSCNo       *string
	UKRDCID     *string
	RRNo        *int64
}

// Map resolves foreign identifiers to radar patient ids. When two rows
// claim the same foreign identifier the first mapping wins.
type Map struct {
	rows    []Patient
	byRR    map[int64]int64
	byUKRDC map[string]int64
}

// NewMap indexes rows for lookup.
func NewMap(rows []Patient) *Map {
	m := &Map{
		rows:    rows,
		byRR:    make(map[int64]int64),
		byUKRDC: make(map[string]int64),
	}
	for _, r := range rows {
		if r.RRNo != nil {
			if _, ok := m.byRR[*r.RRNo]; !ok {
				m.byRR[*r.RRNo] = r.RadarID
			}
		}
		if r.UKRDCID != nil {
			if _, ok := m.byUKRDC[*r.UKRDCID]; !ok {
				m.byUKRDC[*r.UKRDCID] = r.RadarID
			}
		}
	}
	return m
}

// RadarIDForRR returns the radar patient holding the given registry number.
func (m *Map) RadarIDForRR(rrNo int64) (int64, bool) {
	id, ok := m.byRR[rrNo]
	return id, ok
}

// RadarIDForUKRDC returns the radar patient behind a ukrdc record id.
func (m *Map) RadarIDForUKRDC(ukrdcID string) (int64, bool) {
	id, ok := m.byUKRDC[ukrdcID]
	return id, ok
}

// RRNos returns the distinct registry numbers in the map, ascending.
// Registry extracts are keyed on these.
func (m *Map) RRNos() []int64 {
	out := make([]int64, 0, len(m.byRR))
	for no := range m.byRR {
		out = append(out, no)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UKRDCIDs returns the distinct ukrdc record ids in the map, sorted.
func (m *Map) UKRDCIDs() []string {
	out := make([]string, 0, len(m.byUKRDC))
	for id := range m.byUKRDC {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rows returns the identity rows in build order. Snapshot capture walks
// these; everything else should go through the lookups.
func (m *Map) Rows() []Patient {
	return m.rows
}

// Len returns the number of identity rows.
func (m *Map) Len() int {
	return len(m.rows)
}

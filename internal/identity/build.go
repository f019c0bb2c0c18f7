package identity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Identifier is one registered radar patient number.
type Identifier struct {
	RadarID     int64
	DateOfBirth *time.Time
	Kind        IdentifierKind
	Value       string
}

// Link pairs a ukrdc record id with the radar patient it references.
type Link struct {
	UKRDCID string
	RadarID int64
}

// RadarPatients supplies the registered patient numbers, one Identifier per
// number.
type RadarPatients interface {
	PatientIdentifiers(ctx context.Context) ([]Identifier, error)
}

// UKRDCLinks supplies the ukrdc records that reference radar patients.
type UKRDCLinks interface {
	PatientLinks(ctx context.Context) ([]Link, error)
}

// RegistryNumbers resolves identifier values of one kind to registry rr
// numbers. Values the registry does not know are absent from the result.
type RegistryNumbers interface {
	PatientNumbers(ctx context.Context, kind IdentifierKind, values []string) (map[string]int64, error)
}

// Sources supplies the three extracts an identity map is built from.
type Sources struct {
	Radar    RadarPatients
	UKRDC    UKRDCLinks
	Registry RegistryNumbers
}

// Build assembles the identity map. Each radar identifier row is joined to
// the ukrdc records naming its patient, then annotated with the registry
// number found through the identifier, trying NHS before CHI before HSC so
// an NHS match is never displaced by a weaker one.
func Build(ctx context.Context, src Sources) (*Map, error) {
	ids, err := src.Radar.PatientIdentifiers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "identity: radar patient numbers")
	}
	links, err := src.UKRDC.PatientLinks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "identity: ukrdc patient links")
	}

	byRadar := make(map[int64][]string)
	for _, l := range links {
		byRadar[l.RadarID] = append(byRadar[l.RadarID], l.UKRDCID)
	}

	rows := make([]Patient, 0, len(ids))
	for _, id := range ids {
		base := Patient{RadarID: id.RadarID, DateOfBirth: id.DateOfBirth}
		v := id.Value
		switch id.Kind {
		case KindNHS:
			base.NHSNo = &v
		case KindCHI:
			base.CHINo = &v
		case KindHSC:
			base.HSCNo = &v
		default:
			return nil, eris.Errorf("identity: patient %d has identifier of unknown kind %d", id.RadarID, id.Kind)
		}
		ukrdcIDs := byRadar[id.RadarID]
		if len(ukrdcIDs) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, uid := range ukrdcIDs {
			r := base
			u := uid
			r.UKRDCID = &u
			rows = append(rows, r)
		}
	}

	for _, kind := range []IdentifierKind{KindNHS, KindCHI, KindHSC} {
		if err := attachRegistryNumbers(ctx, src.Registry, kind, rows); err != nil {
			return nil, err
		}
	}
	return NewMap(rows), nil
}

// attachRegistryNumbers fills RRNo on rows carrying an identifier of the
// given kind, leaving rows already resolved through an earlier kind alone.
func attachRegistryNumbers(ctx context.Context, reg RegistryNumbers, kind IdentifierKind, rows []Patient) error {
	values := collectValues(kind, rows)
	if len(values) == 0 {
		return nil
	}
	found, err := reg.PatientNumbers(ctx, kind, values)
	if err != nil {
		return eris.Wrapf(err, "identity: registry numbers by %s", kind)
	}
	for i := range rows {
		if rows[i].RRNo != nil {
			continue
		}
		v := valueOf(kind, rows[i])
		if v == nil {
			continue
		}
		if rr, ok := found[*v]; ok {
			no := rr
			rows[i].RRNo = &no
		}
	}
	return nil
}

func collectValues(kind IdentifierKind, rows []Patient) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range rows {
		if v := valueOf(kind, rows[i]); v != nil && !seen[*v] {
			seen[*v] = true
			out = append(out, *v)
		}
	}
	return out
}

func valueOf(kind IdentifierKind, p Patient) *string {
	switch kind {
	case KindNHS:
		return p.NHSNo
	case KindCHI:
		return p.CHINo
	case KindHSC:
		return p.HSCNo
	default:
		return nil
	}
}

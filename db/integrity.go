package db

import (
	"context"
	"fmt"
	"sort"
)

// Anomaly is a record whose foreign key points at a missing record.
type Anomaly struct {
	Collection string `json:"collection"`
	RecordID   int64  `json:"record_id"`
	Field      string `json:"field"`
	References string `json:"references"`
	Value      any    `json:"value"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s#%d.%s -> %s(%v) missing", a.Collection, a.RecordID, a.Field, a.References, a.Value)
}

// DanglingReferences scans every collection in schema and reports foreign
// keys whose target no longer exists. Deletes never cascade, so this is how
// orphans are found.
func (s *Store) DanglingReferences(ctx context.Context, schema map[string]Constraints) ([]Anomaly, error) {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := map[string]map[int64]struct{}{}
	idsOf := func(name string) (map[int64]struct{}, error) {
		if set, ok := ids[name]; ok {
			return set, nil
		}
		recs, err := s.GetAll(ctx, name)
		if err != nil {
			return nil, err
		}
		set := make(map[int64]struct{}, len(recs))
		for _, rec := range recs {
			set[rec.ID()] = struct{}{}
		}
		ids[name] = set
		return set, nil
	}

	var out []Anomaly
	for _, name := range names {
		fks := schema[name].ForeignKeys
		if len(fks) == 0 {
			continue
		}
		recs, err := s.GetAll(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, fk := range fks {
			targets, err := idsOf(fk.Collection)
			if err != nil {
				return nil, err
			}
			for _, rec := range recs {
				v := rec[fk.Field]
				id, ok := toID(v)
				if fk.Optional && (v == nil || (ok && id == 0)) {
					continue
				}
				if _, exists := targets[id]; ok && exists {
					continue
				}
				out = append(out, Anomaly{
					Collection: name,
					RecordID:   rec.ID(),
					Field:      fk.Field,
					References: fk.Collection,
					Value:      v,
				})
			}
		}
	}
	return out, nil
}

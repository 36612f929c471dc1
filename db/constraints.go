package db

import (
	"context"
	"errors"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

// ForeignKey declares that Field holds the id of a record in Collection.
// An Optional key may be absent or zero.
type ForeignKey struct {
	Collection string
	Field      string
	Optional   bool
}

// Constraints are checked before a record is committed.
type Constraints struct {
	ForeignKeys []ForeignKey
	// Unique lists field sets whose combined values may appear on at most
	// one record. A set is skipped for a record missing any of its fields.
	Unique [][]string
}

// AddWithValidation adds rec after checking its foreign keys and uniqueness.
// On failure nothing is written.
func (s *Store) AddWithValidation(ctx context.Context, name string, rec Record, cons Constraints) (Record, error) {
	in, err := normalizeRecord(rec)
	if err != nil {
		return nil, apperrors.InvalidInput("%v", err)
	}
	// Referenced collections are read before the target guard is taken so
	// guards are never nested.
	if err := s.checkForeignKeys(ctx, in, cons.ForeignKeys); err != nil {
		return nil, err
	}
	return s.add(ctx, name, in, func(c *Collection, r Record) error {
		return checkUnique(name, c, r, 0, cons.Unique)
	})
}

// UpdateWithValidation merges fields into the record with the given id after
// checking the foreign keys and unique sets the fields touch.
func (s *Store) UpdateWithValidation(ctx context.Context, name string, id int64, fields Record, cons Constraints) (Record, error) {
	patch, err := normalizeRecord(fields)
	if err != nil {
		return nil, apperrors.InvalidInput("%v", err)
	}
	var fks []ForeignKey
	for _, fk := range cons.ForeignKeys {
		if _, ok := patch[fk.Field]; ok {
			fks = append(fks, fk)
		}
	}
	if err := s.checkForeignKeys(ctx, patch, fks); err != nil {
		return nil, err
	}
	sets := touchedSets(cons.Unique, patch)
	return s.modify(ctx, name, id, func(c *Collection, rec Record) (Record, error) {
		next := merge(rec, patch)
		if err := checkUnique(name, c, next, id, sets); err != nil {
			return nil, err
		}
		return next, nil
	})
}

func (s *Store) checkForeignKeys(ctx context.Context, rec Record, fks []ForeignKey) error {
	for _, fk := range fks {
		v := rec[fk.Field]
		id, ok := toID(v)
		if fk.Optional && (v == nil || (ok && id == 0)) {
			continue
		}
		if !ok || id <= 0 {
			return apperrors.ForeignKeyMissing(fk.Collection, fk.Field, v)
		}
		if _, err := s.GetByID(ctx, fk.Collection, id); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.ForeignKeyMissing(fk.Collection, fk.Field, id)
			}
			return err
		}
	}
	return nil
}

func touchedSets(sets [][]string, patch Record) [][]string {
	var out [][]string
	for _, set := range sets {
		for _, f := range set {
			if _, ok := patch[f]; ok {
				out = append(out, set)
				break
			}
		}
	}
	return out
}

// checkUnique fails if any record other than excludeID shares all values of
// one of the sets with rec.
func checkUnique(name string, c *Collection, rec Record, excludeID int64, sets [][]string) error {
	for _, set := range sets {
		values := make([]any, 0, len(set))
		for _, f := range set {
			if v := rec[f]; v != nil {
				values = append(values, v)
			}
		}
		if len(values) != len(set) {
			continue
		}

		for _, other := range c.Records {
			if excludeID != 0 && other.ID() == excludeID {
				continue
			}
			match := true
			for i, f := range set {
				if !valuesEqual(other[f], values[i]) {
					match = false
					break
				}
			}
			if match {
				return apperrors.Duplicate(name, set, values)
			}
		}
	}
	return nil
}

package db

import (
	"context"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

// Table is a typed view over one collection. Inserts and patches go through
// the collection's constraints.
type Table[T any] struct {
	store *Store
	name  string
	cons  Constraints
}

// NewTable returns a typed table over the named collection of store.
func NewTable[T any](store *Store, name string, cons Constraints) *Table[T] {
	return &Table[T]{store: store, name: name, cons: cons}
}

// Name returns the collection name.
func (t *Table[T]) Name() string             { return t.name }
func (t *Table[T]) Constraints() Constraints { return t.cons }
func (t *Table[T]) Store() *Store            { return t.store }

func (t *Table[T]) decodeAll(recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := FromRecord[T](rec)
		if err != nil {
			return nil, apperrors.Persistence(t.name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// All returns every record in the collection, in id order.
func (t *Table[T]) All(ctx context.Context) ([]T, error) {
	recs, err := t.store.GetAll(ctx, t.name)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(recs)
}

// Get returns the record with the given id, or a not-found error.
func (t *Table[T]) Get(ctx context.Context, id int64) (T, error) {
	var zero T
	rec, err := t.store.GetByID(ctx, t.name, id)
	if err != nil {
		return zero, err
	}
	v, err := FromRecord[T](rec)
	if err != nil {
		return zero, apperrors.Persistence(t.name, err)
	}
	return v, nil
}

// Insert stores v with a freshly assigned id and returns the stored value.
func (t *Table[T]) Insert(ctx context.Context, v T) (T, error) {
	var zero T
	rec, err := ToRecord(v)
	if err != nil {
		return zero, apperrors.InvalidInput("%v", err)
	}
	stored, err := t.store.AddWithValidation(ctx, t.name, rec, t.cons)
	if err != nil {
		return zero, err
	}
	return FromRecord[T](stored)
}

// Patch merges fields into the record with the given id.
func (t *Table[T]) Patch(ctx context.Context, id int64, fields Record) (T, error) {
	var zero T
	stored, err := t.store.UpdateWithValidation(ctx, t.name, id, fields, t.cons)
	if err != nil {
		return zero, err
	}
	return FromRecord[T](stored)
}

// Modify applies fn to the current value of the record under the
// collection's guard and stores the result. Returning an error from fn
// leaves the record untouched. Foreign keys are not re-checked.
func (t *Table[T]) Modify(ctx context.Context, id int64, fn func(v *T) error) (T, error) {
	var out T
	_, err := t.store.modify(ctx, t.name, id, func(c *Collection, rec Record) (Record, error) {
		v, err := FromRecord[T](rec)
		if err != nil {
			return nil, apperrors.Persistence(t.name, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		next, err := ToRecord(v)
		if err != nil {
			return nil, apperrors.InvalidInput("%v", err)
		}
		next["id"] = float64(id)
		if err := checkUnique(t.name, c, next, id, t.cons.Unique); err != nil {
			return nil, err
		}
		out = v
		return next, nil
	})
	return out, err
}

// Delete removes the record with the given id and reports whether it
// existed. References to it are not checked here.
func (t *Table[T]) Delete(ctx context.Context, id int64) (bool, error) {
	return t.store.Delete(ctx, t.name, id)
}

// FindBy returns every record whose field equals value.
func (t *Table[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	recs, err := t.store.FindByAttribute(ctx, t.name, field, value)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(recs)
}

// FirstBy returns the first record whose field equals value.
func (t *Table[T]) FirstBy(ctx context.Context, field string, value any) (T, bool, error) {
	var zero T
	found, err := t.FindBy(ctx, field, value)
	if err != nil || len(found) == 0 {
		return zero, false, err
	}
	return found[0], true, nil
}

// Filter returns the values keep accepts, in creation order.
func (t *Table[T]) Filter(ctx context.Context, keep func(v T) bool) ([]T, error) {
	all, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

package db

import (
	"context"
	"sync"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"go.uber.org/zap"
)

// Store is the record store. Every collection has its own guard, held for the
// full read-modify-write of any mutation. Operations on different
// collections never block each other.
type Store struct {
	backend Backend
	log     *zap.Logger

	locksMu sync.RWMutex
	locks   map[string]*sync.Mutex
}

// NewStore returns a store over backend. A nil logger discards store logs.
func NewStore(backend Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		backend: backend,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Close closes the backend, releasing its lock if Open took one.
func (s *Store) Close() error {
	return s.backend.Close()
}

// guard returns the collection's mutex, creating it on first use. Guards
// live as long as the store.
func (s *Store) guard(name string) *sync.Mutex {
	s.locksMu.RLock()
	mu, ok := s.locks[name]
	s.locksMu.RUnlock()
	if ok {
		return mu
	}

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if mu, ok = s.locks[name]; ok {
		return mu
	}
	mu = &sync.Mutex{}
	s.locks[name] = mu
	return mu
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func (s *Store) load(ctx context.Context, name string) (Collection, error) {
	c, err := s.backend.Load(ctx, name)
	if err != nil {
		s.log.Error("failed to load collection", zap.String("collection", name), zap.Error(err))
		return Collection{}, apperrors.Persistence(name, err)
	}
	return c, nil
}

// Mutate runs fn on the collection while holding its guard and saves the
// result. If fn returns an error nothing is written.
func (s *Store) Mutate(ctx context.Context, name string, fn func(c *Collection) error) error {
	if !validName(name) {
		return apperrors.InvalidInput("invalid collection name %q", name)
	}
	mu := s.guard(name)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.load(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(&c); err != nil {
		return err
	}
	if err := s.backend.Save(ctx, name, c); err != nil {
		s.log.Error("failed to save collection", zap.String("collection", name), zap.Error(err))
		return apperrors.Persistence(name, err)
	}
	s.log.Debug("collection saved",
		zap.String("collection", name),
		zap.Int("records", len(c.Records)),
		zap.Int64("last_id", c.LastID),
	)
	return nil
}

// View runs fn on a consistent snapshot of the collection.
func (s *Store) View(ctx context.Context, name string, fn func(c Collection) error) error {
	if !validName(name) {
		return apperrors.InvalidInput("invalid collection name %q", name)
	}
	mu := s.guard(name)
	mu.Lock()
	c, err := s.load(ctx, name)
	mu.Unlock()
	if err != nil {
		return err
	}
	return fn(c)
}

// GetAll returns the records of a collection in creation order.
func (s *Store) GetAll(ctx context.Context, name string) ([]Record, error) {
	var out []Record
	err := s.View(ctx, name, func(c Collection) error {
		out = c.Records
		return nil
	})
	if out == nil {
		out = []Record{}
	}
	return out, err
}

// GetByID returns the record with the given id, or a not-found error.
func (s *Store) GetByID(ctx context.Context, name string, id int64) (Record, error) {
	var out Record
	err := s.View(ctx, name, func(c Collection) error {
		i := c.indexOf(id)
		if i < 0 {
			return apperrors.NotFound(name, id)
		}
		out = c.Records[i]
		return nil
	})
	return out, err
}

// Add assigns the next id to rec, appends it and returns the stored record.
func (s *Store) Add(ctx context.Context, name string, rec Record) (Record, error) {
	return s.add(ctx, name, rec, nil)
}

func (s *Store) add(ctx context.Context, name string, rec Record, check func(c *Collection, rec Record) error) (Record, error) {
	in, err := normalizeRecord(rec)
	if err != nil {
		return nil, apperrors.InvalidInput("%v", err)
	}
	delete(in, "id")

	var out Record
	err = s.Mutate(ctx, name, func(c *Collection) error {
		if check != nil {
			if err := check(c, in); err != nil {
				return err
			}
		}
		id := c.nextID()
		in["id"] = float64(id)
		c.LastID = id
		c.Records = append(c.Records, in)
		out = in.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update merges fields into the record with the given id. The id itself
// cannot be changed.
func (s *Store) Update(ctx context.Context, name string, id int64, fields Record) (Record, error) {
	patch, err := normalizeRecord(fields)
	if err != nil {
		return nil, apperrors.InvalidInput("%v", err)
	}
	return s.modify(ctx, name, id, func(_ *Collection, rec Record) (Record, error) {
		return merge(rec, patch), nil
	})
}

// modify replaces the record with the given id by whatever fn returns. fn
// receives a private copy of the current record.
func (s *Store) modify(ctx context.Context, name string, id int64, fn func(c *Collection, rec Record) (Record, error)) (Record, error) {
	var out Record
	err := s.Mutate(ctx, name, func(c *Collection) error {
		i := c.indexOf(id)
		if i < 0 {
			return apperrors.NotFound(name, id)
		}
		next, err := fn(c, c.Records[i].Clone())
		if err != nil {
			return err
		}
		next["id"] = float64(id)
		c.Records[i] = next
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func merge(rec, patch Record) Record {
	for k, v := range patch {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	return rec
}

// Delete removes the record with the given id. Dependents are left alone.
func (s *Store) Delete(ctx context.Context, name string, id int64) (bool, error) {
	var removed bool
	err := s.Mutate(ctx, name, func(c *Collection) error {
		i := c.indexOf(id)
		if i < 0 {
			return errNothingToWrite
		}
		c.Records = append(c.Records[:i], c.Records[i+1:]...)
		removed = true
		return nil
	})
	if err == errNothingToWrite {
		return false, nil
	}
	return removed, err
}

// FindByAttribute returns every record whose field equals value. A record
// without the field matches a nil value.
func (s *Store) FindByAttribute(ctx context.Context, name, field string, value any) ([]Record, error) {
	want, err := normalizeValue(value)
	if err != nil {
		return nil, apperrors.InvalidInput("%v", err)
	}
	out := []Record{}
	err = s.View(ctx, name, func(c Collection) error {
		for _, rec := range c.Records {
			if valuesEqual(rec[field], want) {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

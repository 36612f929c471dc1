package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
}

func TestAdd_IDsStrictlyIncreaseAndAreNeverReused(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var last int64
	for i := 0; i < 3; i++ {
		rec, err := s.Add(ctx, "users", Record{"name": fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
		assert.Greater(t, rec.ID(), last)
		last = rec.ID()
	}

	ok, err := s.Delete(ctx, "users", last)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.Add(ctx, "users", Record{"name": "after delete"})
	require.NoError(t, err)
	assert.Equal(t, last+1, rec.ID())
}

func TestAdd_IgnoresCallerID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Add(ctx, "users", Record{"id": 99, "name": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID())
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.Add(ctx, "services", Record{"service_name": "Plumbing", "price": 200})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, "services", added.ID())
	require.NoError(t, err)
	assert.Equal(t, "Plumbing", got["service_name"])
	assert.Equal(t, float64(200), got["price"])

	_, err = s.GetByID(ctx, "services", 42)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdate_MergesFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.Add(ctx, "users", Record{"name": "a", "status": "active"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "users", added.ID(), Record{"status": "banned", "id": 7})
	require.NoError(t, err)
	assert.Equal(t, "a", updated["name"])
	assert.Equal(t, "banned", updated["status"])
	assert.Equal(t, added.ID(), updated.ID())

	_, err = s.Update(ctx, "users", 100, Record{"status": "active"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDelete_Missing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.Delete(ctx, "users", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindByAttribute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, p := range []int{1, 2, 1} {
		_, err := s.Add(ctx, "services", Record{"provider_id": p})
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, "services", Record{"name": "no provider"})
	require.NoError(t, err)

	found, err := s.FindByAttribute(ctx, "services", "provider_id", int64(1))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(1), found[0].ID())
	assert.Equal(t, int64(3), found[1].ID())

	missing, err := s.FindByAttribute(ctx, "services", "provider_id", nil)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, int64(4), missing[0].ID())
}

func TestGetAll_IdempotentRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.Add(ctx, "bookings", Record{"n": i})
		require.NoError(t, err)
	}
	first, err := s.GetAll(ctx, "bookings")
	require.NoError(t, err)
	second, err := s.GetAll(ctx, "bookings")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	empty, err := s.GetAll(ctx, "never_written")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInvalidCollectionName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(context.Background(), "../etc", Record{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConcurrentAdds_AssignDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 50
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := s.Add(ctx, "notifications", Record{"i": i})
			return err
		})
	}
	require.NoError(t, g.Wait())

	all, err := s.GetAll(ctx, "notifications")
	require.NoError(t, err)
	require.Len(t, all, n)
	seen := map[int64]bool{}
	for _, rec := range all {
		assert.False(t, seen[rec.ID()], "duplicate id %d", rec.ID())
		seen[rec.ID()] = true
	}
}

func TestConcurrentUpdates_DisjointFieldsAllApply(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Add(ctx, "users", Record{"name": "a"})
	require.NoError(t, err)

	const n = 40
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := s.Update(ctx, "users", rec.ID(), Record{fmt.Sprintf("field_%d", i): i})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetByID(ctx, "users", rec.ID())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.Equal(t, float64(i), got[fmt.Sprintf("field_%d", i)])
	}
}

func TestConcurrentUpdates_SameFieldOneWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Add(ctx, "users", Record{"status": "active"})
	require.NoError(t, err)

	values := []string{"suspended", "banned"}
	var g errgroup.Group
	for _, v := range values {
		v := v
		g.Go(func() error {
			_, err := s.Update(ctx, "users", rec.ID(), Record{"status": v})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetByID(ctx, "users", rec.ID())
	require.NoError(t, err)
	assert.Contains(t, values, got["status"])
}

func TestMutate_ReadModifyWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Add(ctx, "platform_metrics", Record{"count": 0})
	require.NoError(t, err)

	const n = 100
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return s.Mutate(ctx, "platform_metrics", func(c *Collection) error {
				r := c.Records[c.indexOf(rec.ID())]
				r["count"] = r["count"].(float64) + 1
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetByID(ctx, "platform_metrics", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, float64(n), got["count"])
}

func TestFileBackend_Format(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewStore(backend, zaptest.NewLogger(t))

	a, err := s.Add(ctx, "users", Record{"name": "A", "email": "a@example.com"})
	require.NoError(t, err)
	_, err = s.Add(ctx, "users", Record{"name": "B", "email": "b@example.com"})
	require.NoError(t, err)
	_, err = s.Delete(ctx, "users", a.ID())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "users_after_delete", data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileBackend_PersistsAcrossStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	first := NewStore(backend, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		_, err := first.Add(ctx, "bookings", Record{"i": i})
		require.NoError(t, err)
	}
	_, err = first.Delete(ctx, "bookings", 3)
	require.NoError(t, err)

	backend, err = NewFileBackend(dir)
	require.NoError(t, err)
	second := NewStore(backend, zaptest.NewLogger(t))
	rec, err := second.Add(ctx, "bookings", Record{"i": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.ID())
}

func TestFileBackend_ReadsBareArray(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviews.json"),
		[]byte(`[{"id": 3, "rating": 5}, {"id": 1, "rating": 4}]`), 0o644))

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewStore(backend, zaptest.NewLogger(t))

	all, err := s.GetAll(ctx, "reviews")
	require.NoError(t, err)
	require.Len(t, all, 2)

	rec, err := s.Add(ctx, "reviews", Record{"rating": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.ID())
}

func TestFileBackend_CorruptCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(`{"records": [`), 0o644))

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewStore(backend, zaptest.NewLogger(t))

	_, err = s.GetAll(ctx, "users")
	assert.ErrorIs(t, err, apperrors.ErrPersistenceFailure)
	_, err = s.Add(ctx, "users", Record{"name": "x"})
	assert.ErrorIs(t, err, apperrors.ErrPersistenceFailure)
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	s := NewStore(backend, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })

	a, err := s.Add(ctx, "users", Record{"name": "A"})
	require.NoError(t, err)
	b, err := s.Add(ctx, "users", Record{"name": "B"})
	require.NoError(t, err)
	_, err = s.Delete(ctx, "users", b.ID())
	require.NoError(t, err)

	c, err := s.Add(ctx, "users", Record{"name": "C"})
	require.NoError(t, err)
	assert.Equal(t, b.ID()+1, c.ID())

	_, err = s.Update(ctx, "users", a.ID(), Record{"status": "active"})
	require.NoError(t, err)

	all, err := s.GetAll(ctx, "users")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "active", all[0]["status"])
	assert.Equal(t, "C", all[1]["name"])
}

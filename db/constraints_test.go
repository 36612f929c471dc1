package db

import (
	"context"
	"testing"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	userCons = Constraints{Unique: [][]string{{"email"}, {"nid_number"}}}
	bookCons = Constraints{ForeignKeys: []ForeignKey{
		{Collection: "users", Field: "user_id"},
		{Collection: "services", Field: "service_id"},
	}}
)

type testUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	NIDNumber string `json:"nid_number,omitempty"`
	Status    string `json:"status"`
}

func TestAddWithValidation_DuplicateLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddWithValidation(ctx, "users", Record{"email": "a@example.com", "nid_number": "1"}, userCons)
	require.NoError(t, err)
	before, err := s.GetAll(ctx, "users")
	require.NoError(t, err)

	_, err = s.AddWithValidation(ctx, "users", Record{"email": "a@example.com", "nid_number": "2"}, userCons)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConstraintViolation)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateValue)

	_, err = s.AddWithValidation(ctx, "users", Record{"email": "b@example.com", "nid_number": "1"}, userCons)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateValue)

	after, err := s.GetAll(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddWithValidation_MissingForeignKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user, err := s.Add(ctx, "users", Record{"email": "a@example.com"})
	require.NoError(t, err)

	_, err = s.AddWithValidation(ctx, "bookings", Record{"user_id": user.ID(), "service_id": 9}, bookCons)
	assert.ErrorIs(t, err, apperrors.ErrForeignKeyMissing)

	_, err = s.AddWithValidation(ctx, "bookings", Record{"user_id": user.ID()}, bookCons)
	assert.ErrorIs(t, err, apperrors.ErrForeignKeyMissing)

	all, err := s.GetAll(ctx, "bookings")
	require.NoError(t, err)
	assert.Empty(t, all)

	svc, err := s.Add(ctx, "services", Record{"service_name": "x"})
	require.NoError(t, err)
	_, err = s.AddWithValidation(ctx, "bookings", Record{"user_id": user.ID(), "service_id": svc.ID()}, bookCons)
	assert.NoError(t, err)
}

func TestAddWithValidation_OptionalForeignKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cons := Constraints{ForeignKeys: []ForeignKey{{Collection: "users", Field: "requested_by", Optional: true}}}

	_, err := s.AddWithValidation(ctx, "service_categories", Record{"category_name": "a"}, cons)
	assert.NoError(t, err)
	_, err = s.AddWithValidation(ctx, "service_categories", Record{"category_name": "b", "requested_by": 0}, cons)
	assert.NoError(t, err)
	_, err = s.AddWithValidation(ctx, "service_categories", Record{"category_name": "c", "requested_by": 5}, cons)
	assert.ErrorIs(t, err, apperrors.ErrForeignKeyMissing)
}

func TestUpdateWithValidation_ExcludesSelf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.AddWithValidation(ctx, "users", Record{"email": "a@example.com"}, userCons)
	require.NoError(t, err)
	_, err = s.AddWithValidation(ctx, "users", Record{"email": "b@example.com"}, userCons)
	require.NoError(t, err)

	_, err = s.UpdateWithValidation(ctx, "users", a.ID(), Record{"email": "a@example.com", "name": "A"}, userCons)
	assert.NoError(t, err)

	_, err = s.UpdateWithValidation(ctx, "users", a.ID(), Record{"email": "b@example.com"}, userCons)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateValue)

	got, err := s.GetByID(ctx, "users", a.ID())
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got["email"])
}

func TestAddWithValidation_ConcurrentDuplicatesOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 20
	var g errgroup.Group
	results := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = s.AddWithValidation(ctx, "users", Record{"email": "same@example.com"}, userCons)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrDuplicateValue)
	}
	assert.Equal(t, 1, ok)
}

func TestTable_InsertModifyFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	users := NewTable[testUser](s, "users", userCons)

	a, err := users.Insert(ctx, testUser{Email: "a@example.com", Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	b, err := users.Insert(ctx, testUser{Email: "b@example.com", Status: "active"})
	require.NoError(t, err)

	_, err = users.Modify(ctx, b.ID, func(u *testUser) error {
		u.Email = "a@example.com"
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateValue)

	_, err = users.Modify(ctx, b.ID, func(u *testUser) error {
		if u.Status != "active" {
			return apperrors.IllegalTransition("user is %s", u.Status)
		}
		u.Status = "banned"
		return nil
	})
	require.NoError(t, err)

	banned, err := users.FindBy(ctx, "status", "banned")
	require.NoError(t, err)
	require.Len(t, banned, 1)
	assert.Equal(t, "b@example.com", banned[0].Email)

	first, ok, err := users.FirstBy(ctx, "email", "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, first.ID)

	_, ok, err = users.FirstBy(ctx, "email", "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = users.Modify(ctx, 99, func(*testUser) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTable_ModifyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	type counter struct {
		ID    int64 `json:"id"`
		Count int   `json:"count"`
	}
	counters := NewTable[counter](s, "counters", Constraints{})
	c, err := counters.Insert(ctx, counter{})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			_, err := counters.Modify(ctx, c.ID, func(v *counter) error {
				v.Count++
				return nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := counters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 64, got.Count)
}

func TestDanglingReferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user, err := s.Add(ctx, "users", Record{"email": "a@example.com"})
	require.NoError(t, err)
	svc, err := s.Add(ctx, "services", Record{"service_name": "x"})
	require.NoError(t, err)
	booking, err := s.AddWithValidation(ctx, "bookings", Record{"user_id": user.ID(), "service_id": svc.ID()}, bookCons)
	require.NoError(t, err)

	schema := map[string]Constraints{"users": userCons, "bookings": bookCons}
	found, err := s.DanglingReferences(ctx, schema)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = s.Delete(ctx, "users", user.ID())
	require.NoError(t, err)

	found, err = s.DanglingReferences(ctx, schema)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, Anomaly{
		Collection: "bookings",
		RecordID:   booking.ID(),
		Field:      "user_id",
		References: "users",
		Value:      float64(user.ID()),
	}, found[0])
}

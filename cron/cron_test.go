package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/meinhoongagan/service-marketplace/config"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubReconciler struct{ calls int }

func (r *stubReconciler) Reconcile(context.Context) (lifecycle.ReconcileReport, error) {
	r.calls++
	return lifecycle.ReconcileReport{}, nil
}

func TestSendReminders(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	tables := models.NewTables(db.NewStore(db.NewMemoryBackend(), log))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	user, err := tables.Users.Insert(ctx, models.User{Name: "A", Email: "a@example.com", Role: models.RoleUser, Status: models.UserActive})
	require.NoError(t, err)
	provider, err := tables.Users.Insert(ctx, models.User{Name: "B", Email: "b@example.com", Role: models.RoleProvider, Status: models.UserActive})
	require.NoError(t, err)
	cat, err := tables.Categories.Insert(ctx, models.ServiceCategory{CategoryName: "Home", IsActive: true})
	require.NoError(t, err)
	svc, err := tables.Services.Insert(ctx, models.Service{
		ProviderID: provider.ID, CategoryID: cat.ID, ServiceName: "Cleaning", Price: 100, Status: models.ServiceActive,
	})
	require.NoError(t, err)

	book := func(status models.BookingStatus, in time.Duration) models.Booking {
		b, err := tables.Bookings.Insert(ctx, models.Booking{
			UserID: user.ID, ProviderID: provider.ID, ServiceID: svc.ID,
			BookingStatus: status, BookingDate: now, ServiceDate: now.Add(in),
		})
		require.NoError(t, err)
		return b
	}
	due := book(models.BookingAccepted, 30*time.Minute)
	book(models.BookingAccepted, 2*time.Hour)
	book(models.BookingPending, 30*time.Minute)
	book(models.BookingAccepted, -time.Minute)

	s, err := New(config.CronConfig{}, Jobs{Tables: tables, Notifier: notify.NewDispatcher(tables, log)}, log)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	n, err := s.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent, err := tables.Notifications.FindBy(ctx, "user_id", user.ID)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, due.ID, sent[0].BookingID)
	assert.Contains(t, sent[0].Message, "Cleaning")
	assert.Equal(t, fmt.Sprintf("reminder:%d", due.ID), sent[0].DedupeKey)
}

func TestNew_Schedules(t *testing.T) {
	log := zaptest.NewLogger(t)
	tables := models.NewTables(db.NewStore(db.NewMemoryBackend(), log))

	_, err := New(config.CronConfig{Reminders: "not a schedule"}, Jobs{Tables: tables}, log)
	assert.Error(t, err)

	rec := &stubReconciler{}
	s, err := New(config.CronConfig{Reconcile: "*/5 * * * *", Reminders: "* * * * *", Metrics: "0 * * * *"},
		Jobs{Tables: tables, Reconciler: rec}, log)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2, "metrics job needs a snapshotter")

	require.NoError(t, s.reconcile(context.Background()))
	assert.Equal(t, 1, rec.calls)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

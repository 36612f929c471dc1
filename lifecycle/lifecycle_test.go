package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flakyNotifier struct {
	next notify.Notifier
	fail atomic.Bool
}

func (n *flakyNotifier) Notify(ctx context.Context, msg notify.Message) (models.Notification, error) {
	if n.fail.Load() {
		return models.Notification{}, errors.New("notification backend unavailable")
	}
	return n.next.Notify(ctx, msg)
}

type fixture struct {
	m         *Manager
	tables    *models.Tables
	notifier  *flakyNotifier
	requester models.User
	provider  models.User
	admin     models.User
	service   models.Service
}

func (f *fixture) actor(u models.User) Actor { return ActorFromUser(u) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	tables := models.NewTables(db.NewStore(db.NewMemoryBackend(), log))
	n := &flakyNotifier{next: notify.NewDispatcher(tables, log)}
	m := NewManager(tables, n, log, WithOTPGenerator(func() (string, error) { return "123456", nil }))

	f := &fixture{m: m, tables: tables, notifier: n}
	var err error
	f.requester, err = tables.Users.Insert(ctx, models.User{
		Name: "A", Email: "a@example.com", NIDNumber: "1001", Role: models.RoleUser, Status: models.UserActive,
	})
	require.NoError(t, err)
	f.provider, err = tables.Users.Insert(ctx, models.User{
		Name: "B", Email: "b@example.com", NIDNumber: "1002", Role: models.RoleProvider, Status: models.UserActive,
	})
	require.NoError(t, err)
	f.admin, err = tables.Users.Insert(ctx, models.User{
		Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin, Status: models.UserActive,
	})
	require.NoError(t, err)
	cat, err := tables.Categories.Insert(ctx, models.ServiceCategory{CategoryName: "Home", IsActive: true})
	require.NoError(t, err)
	f.service, err = tables.Services.Insert(ctx, models.Service{
		CategoryID: cat.ID, ProviderID: f.provider.ID, ServiceName: "S", Price: 200, Status: models.ServiceActive,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) book(t *testing.T) BookingView {
	t.Helper()
	v, err := f.m.CreateBooking(context.Background(), f.actor(f.requester), CreateBookingInput{
		ServiceID:     f.service.ID,
		ServiceDate:   time.Now().Add(48 * time.Hour),
		PaymentMethod: "bKash",
		Location:      "Dhaka",
		ContactNumber: "01700000000",
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) notificationsFor(t *testing.T, userID int64) []models.Notification {
	t.Helper()
	out, err := f.tables.Notifications.FindBy(context.Background(), "user_id", userID)
	require.NoError(t, err)
	return out
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.actor(f.requester), f.actor(f.provider)

	v := f.book(t)
	assert.Equal(t, models.BookingPending, v.Booking.BookingStatus)
	assert.Equal(t, "123456", v.Booking.OTPCode)
	assert.Equal(t, f.provider.ID, v.Booking.ProviderID)
	require.NotNil(t, v.Payment)
	assert.Equal(t, models.PaymentPending, v.Payment.PaymentStatus)
	assert.Equal(t, 200.0, v.Payment.PaymentAmount)
	assert.Equal(t, 20.0, v.Payment.PlatformFee)
	assert.Equal(t, 220.0, v.Payment.TotalAmount)
	assert.Equal(t, "bkash", v.Payment.PaymentMethod)
	require.Len(t, f.notificationsFor(t, f.provider.ID), 1)

	id := v.Booking.ID
	accepted, err := f.m.Accept(ctx, b, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAccepted, accepted.BookingStatus)
	assert.Empty(t, accepted.OTPCode, "the provider never sees the code")

	_, err = f.m.Complete(ctx, b, id, "654321")
	assert.ErrorIs(t, err, apperrors.ErrVerificationFailure)
	still, err := f.tables.Bookings.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAccepted, still.BookingStatus)

	completed, err := f.m.Complete(ctx, b, id, "123456")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, completed.BookingStatus)

	view, err := f.m.GetBooking(ctx, a, id)
	require.NoError(t, err)
	require.NotNil(t, view.Payment)
	assert.Equal(t, models.PaymentCompleted, view.Payment.PaymentStatus)
	assert.NotEmpty(t, view.Payment.TransactionID)
	assert.NotNil(t, view.Payment.PaymentDate)

	review, err := f.m.SubmitReview(ctx, a, id, 5, "great")
	require.NoError(t, err)
	assert.Equal(t, f.provider.ID, review.ProviderID)

	_, err = f.m.SubmitReview(ctx, a, id, 4, "again")
	assert.ErrorIs(t, err, apperrors.ErrConstraintViolation)

	ops, err := f.tables.Operations.All(ctx)
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, models.OperationCompleted, op.Status, "%s", op.Kind)
	}
}

func TestCreateBooking_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := CreateBookingInput{ServiceID: f.service.ID, ServiceDate: time.Now(), PaymentMethod: "card"}

	_, err := f.m.CreateBooking(ctx, f.actor(f.provider), in)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	suspended := f.actor(f.requester)
	suspended.Status = models.UserSuspended
	_, err = f.m.CreateBooking(ctx, suspended, in)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	bad := in
	bad.PaymentMethod = "cash"
	_, err = f.m.CreateBooking(ctx, f.actor(f.requester), bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	bad = in
	bad.ServiceID = 999
	_, err = f.m.CreateBooking(ctx, f.actor(f.requester), bad)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.tables.Users.Patch(ctx, f.provider.ID, db.Record{"status": models.UserSuspended})
	require.NoError(t, err)
	_, err = f.m.CreateBooking(ctx, f.actor(f.requester), in)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.tables.Users.Patch(ctx, f.provider.ID, db.Record{"status": models.UserActive})
	require.NoError(t, err)
	_, err = f.tables.Services.Patch(ctx, f.service.ID, db.Record{"status": models.ServiceFlagged})
	require.NoError(t, err)
	_, err = f.m.CreateBooking(ctx, f.actor(f.requester), in)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	bookings, err := f.tables.Bookings.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	payments, err := f.tables.Payments.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestCreateBooking_FeeIsReadPerBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.book(t)
	assert.Equal(t, 220.0, first.Payment.TotalAmount)

	_, err := f.tables.Settings.Insert(ctx, models.PlatformSetting{
		SettingKey: models.SettingPlatformFee, SettingValue: "15",
	})
	require.NoError(t, err)

	second := f.book(t)
	assert.Equal(t, 30.0, second.Payment.PlatformFee)
	assert.Equal(t, 230.0, second.Payment.TotalAmount)

	unchanged, err := f.tables.Payments.Get(ctx, first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 220.0, unchanged.TotalAmount)
}

func TestCreateBooking_PaymentMethodsSetting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tables.Settings.Insert(ctx, models.PlatformSetting{
		SettingKey: models.SettingPaymentMethods, SettingValue: "Rocket, Mobile Banking",
	})
	require.NoError(t, err)

	in := CreateBookingInput{ServiceID: f.service.ID, ServiceDate: time.Now(), PaymentMethod: "card"}
	_, err = f.m.CreateBooking(ctx, f.actor(f.requester), in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in.PaymentMethod = "Mobile Banking"
	v, err := f.m.CreateBooking(ctx, f.actor(f.requester), in)
	require.NoError(t, err)
	assert.Equal(t, "mobile_banking", v.Payment.PaymentMethod)
}

func TestComplete_OnPendingIsIllegal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)

	_, err := f.m.Complete(ctx, f.actor(f.provider), v.Booking.ID, "123456")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	b, err := f.tables.Bookings.Get(ctx, v.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, b.BookingStatus)
}

func TestTransitions_Authority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)
	id := v.Booking.ID

	other, err := f.tables.Users.Insert(ctx, models.User{
		Name: "C", Email: "c@example.com", Role: models.RoleProvider, Status: models.UserActive,
	})
	require.NoError(t, err)

	_, err = f.m.Accept(ctx, f.actor(other), id)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.m.Accept(ctx, f.actor(f.requester), id)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.m.Cancel(ctx, f.actor(f.provider), id)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.m.AdminCancel(ctx, f.actor(f.requester), id, "")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
	_, err = f.m.ConfirmPayment(ctx, f.actor(f.provider), id)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.m.GetBooking(ctx, f.actor(other), id)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	view, err := f.m.GetBooking(ctx, f.actor(f.provider), id)
	require.NoError(t, err)
	assert.Empty(t, view.Booking.OTPCode)
}

func TestCancel_OnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := f.book(t)
	cancelled, err := f.m.Cancel(ctx, f.actor(f.requester), v.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.BookingStatus)
	assert.Len(t, f.notificationsFor(t, f.provider.ID), 2)

	v = f.book(t)
	_, err = f.m.Accept(ctx, f.actor(f.provider), v.Booking.ID)
	require.NoError(t, err)
	_, err = f.m.Cancel(ctx, f.actor(f.requester), v.Booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)

	rejected, err := f.m.Reject(ctx, f.actor(f.provider), v.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, rejected.BookingStatus)

	_, err = f.m.Accept(ctx, f.actor(f.provider), v.Booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	_, err = f.m.ConfirmPayment(ctx, f.actor(f.requester), v.Booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)

	p, err := f.m.ConfirmPayment(ctx, f.actor(f.requester), v.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.PaymentStatus)
	assert.Regexp(t, `^TXN-`, p.TransactionID)

	_, err = f.m.ConfirmPayment(ctx, f.actor(f.requester), v.Booking.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)

	assert.Len(t, f.notificationsFor(t, f.provider.ID), 2)
	assert.Len(t, f.notificationsFor(t, f.requester.ID), 1)
}

func TestAdminCancel_RefundsPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)
	_, err := f.m.ConfirmPayment(ctx, f.actor(f.requester), v.Booking.ID)
	require.NoError(t, err)
	_, err = f.m.Accept(ctx, f.actor(f.provider), v.Booking.ID)
	require.NoError(t, err)

	cancelled, err := f.m.AdminCancel(ctx, f.actor(f.admin), v.Booking.ID, "fraud report")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.BookingStatus)

	p, err := f.tables.Payments.Get(ctx, v.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.PaymentStatus)

	logs, err := f.tables.ActivityLog.FindBy(ctx, "target_id", v.Booking.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionBookingCancel, logs[0].ActionType)
	assert.Equal(t, "fraud report", logs[0].Details)

	_, err = f.m.AdminCancel(ctx, f.actor(f.admin), v.Booking.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestAdminComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)

	completed, err := f.m.AdminComplete(ctx, f.actor(f.admin), v.Booking.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, completed.BookingStatus)

	p, err := f.tables.Payments.Get(ctx, v.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.PaymentStatus)

	_, err = f.m.AdminComplete(ctx, f.actor(f.admin), v.Booking.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestSubmitReview_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)

	_, err := f.m.SubmitReview(ctx, f.actor(f.requester), v.Booking.ID, 6, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.m.SubmitReview(ctx, f.actor(f.requester), v.Booking.ID, 5, "")
	assert.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestFailedFollowUp_IsSettledOnNextAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.notifier.fail.Store(true)
	_, err := f.m.CreateBooking(ctx, f.actor(f.requester), CreateBookingInput{
		ServiceID: f.service.ID, ServiceDate: time.Now(), PaymentMethod: "nagad",
	})
	require.Error(t, err)

	bookings, err := f.tables.Bookings.All(ctx)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	id := bookings[0].ID

	ops, err := f.tables.Operations.FindBy(ctx, "booking_id", id)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationPending, ops[0].Status)
	assert.Equal(t, []string{stepBooking, stepPayment}, ops[0].Done)
	assert.NotEmpty(t, ops[0].LastError)
	assert.Empty(t, f.notificationsFor(t, f.provider.ID))

	anomalies, err := f.m.Anomalies(ctx)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyStalledOperation, anomalies[0].Kind)

	f.notifier.fail.Store(false)
	view, err := f.m.GetBooking(ctx, f.actor(f.requester), id)
	require.NoError(t, err)
	require.NotNil(t, view.Payment)

	op, err := f.tables.Operations.Get(ctx, ops[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCompleted, op.Status)
	assert.Len(t, f.notificationsFor(t, f.provider.ID), 1)

	_, err = f.m.GetBooking(ctx, f.actor(f.requester), id)
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(t, f.provider.ID), 1)
}

func TestReconcile_InterruptedOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := models.OperationPayload{
		PaymentMethod: "card", PaymentAmount: 500, FeePercentage: 10, ActorName: "A", ServiceName: "S",
	}
	applied, err := f.tables.Operations.Insert(ctx, models.Operation{
		Token: "applied", Kind: models.OpCreateBooking, Status: models.OperationPending,
		ActorID: f.requester.ID, Done: []string{}, Payload: payload,
	})
	require.NoError(t, err)
	booking, err := f.tables.Bookings.Insert(ctx, models.Booking{
		UserID: f.requester.ID, ServiceID: f.service.ID, ProviderID: f.provider.ID,
		BookingStatus: models.BookingPending, OTPCode: "111111", OperationToken: "applied",
	})
	require.NoError(t, err)

	lost, err := f.tables.Operations.Insert(ctx, models.Operation{
		Token: "lost", Kind: models.OpCreateBooking, Status: models.OperationPending,
		ActorID: f.requester.ID, Done: []string{}, Payload: payload,
	})
	require.NoError(t, err)

	report, err := f.m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Pending: 2, Completed: 1, Failed: 1}, report)

	op, err := f.tables.Operations.Get(ctx, applied.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCompleted, op.Status)
	assert.Equal(t, booking.ID, op.BookingID)

	p, ok, err := f.tables.Payments.FirstBy(ctx, "booking_id", booking.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50.0, p.PlatformFee)
	assert.Equal(t, 550.0, p.TotalAmount)

	op, err = f.tables.Operations.Get(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationFailed, op.Status)

	report, err = f.m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)
}

func TestConcurrentTransitions_OneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.book(t)
	b := f.actor(f.provider)

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		i := i
		g.Go(func() error {
			var err error
			if i%2 == 0 {
				_, err = f.m.Accept(ctx, b, v.Booking.ID)
			} else {
				_, err = f.m.Reject(ctx, b, v.Booking.ID)
			}
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, apperrors.ErrIllegalTransition) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, f.notificationsFor(t, f.requester.ID), 1)
}

func TestConcurrentBookings_OnePaymentEach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := f.m.CreateBooking(ctx, f.actor(f.requester), CreateBookingInput{
				ServiceID: f.service.ID, ServiceDate: time.Now(), PaymentMethod: "card",
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	bookings, err := f.tables.Bookings.All(ctx)
	require.NoError(t, err)
	payments, err := f.tables.Payments.All(ctx)
	require.NoError(t, err)
	assert.Len(t, bookings, 8)
	assert.Len(t, payments, 8)

	anomalies, err := f.m.Anomalies(ctx)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestAnomalies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	orphan, err := f.tables.Bookings.Insert(ctx, models.Booking{
		UserID: f.requester.ID, ServiceID: f.service.ID, ProviderID: f.provider.ID,
		BookingStatus: models.BookingPending,
	})
	require.NoError(t, err)
	_, err = f.tables.Users.Delete(ctx, f.requester.ID)
	require.NoError(t, err)

	anomalies, err := f.m.Anomalies(ctx)
	require.NoError(t, err)

	kinds := map[string]int64{}
	for _, a := range anomalies {
		kinds[a.Kind] = a.RecordID
	}
	assert.Equal(t, orphan.ID, kinds[AnomalyMissingPayment])
	assert.Equal(t, orphan.ID, kinds[AnomalyDanglingReference])
}

func TestListBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.book(t)
	second := f.book(t)

	mine, err := f.m.ListBookings(ctx, f.actor(f.requester))
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.Booking.ID, mine[0].ID)
	assert.Equal(t, "123456", mine[0].OTPCode)

	received, err := f.m.ListBookings(ctx, f.actor(f.provider))
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Empty(t, received[1].OTPCode)
	assert.Equal(t, first.Booking.ID, received[1].ID)

	all, err := f.m.ListBookings(ctx, f.actor(f.admin))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBookingLocks_AreStriped(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.m.bookingMutex(7), f.m.bookingMutex(7))
	assert.Same(t, f.m.bookingMutex(7), f.m.bookingMutex(7+lockStripes))
	assert.NotSame(t, f.m.bookingMutex(7), f.m.bookingMutex(8))

	// A held stripe blocks every booking mapped to it.
	unlock := f.m.lockBooking(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.m.lockBooking(1 + lockStripes)()
	}()
	select {
	case <-done:
		t.Fatal("stripe was not held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
}

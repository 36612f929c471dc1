// Package lifecycle runs the booking and payment state machine. Every
// operation that touches more than one record is written to the operation
// log first and is finished later if the process stops half way.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/meinhoongagan/service-marketplace/utils"
	"go.uber.org/zap"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID     int64
	Role   models.Role
	Status models.UserStatus
}

func (a Actor) Active() bool { return a.Status == models.UserActive }

func ActorFromUser(u models.User) Actor {
	return Actor{ID: u.ID, Role: u.Role, Status: u.Status}
}

type Manager struct {
	tables   *models.Tables
	notifier notify.Notifier
	log      *zap.Logger

	now   func() time.Time
	otp   func() (string, error)
	token func() string
	txnID func() string

	// locks is striped by booking id; lockStripes bounds the memory used
	// no matter how many bookings exist.
	locks [lockStripes]sync.Mutex

	// inflight holds tokens of operations this process is executing right
	// now; settlement leaves them alone.
	inflight sync.Map
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithOTPGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.otp = gen }
}

func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) { m.token = gen }
}

func NewManager(tables *models.Tables, notifier notify.Notifier, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		tables:   tables,
		notifier: notifier,
		log:      log.Named("lifecycle"),
		now:      time.Now,
		otp:      utils.GenerateOTP,
		token:    utils.GenerateToken,
		txnID:    utils.GenerateTransactionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

const lockStripes = 256

// bookingMutex returns the stripe guarding booking id. Callers never hold
// two booking locks at once, so bookings sharing a stripe cannot deadlock.
func (m *Manager) bookingMutex(id int64) *sync.Mutex {
	return &m.locks[uint64(id)%lockStripes]
}

// lockBooking serializes transitions and settlement of one booking.
func (m *Manager) lockBooking(id int64) func() {
	mu := m.bookingMutex(id)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) setting(ctx context.Context, key string) (string, bool, error) {
	s, ok, err := m.tables.Settings.FirstBy(ctx, "setting_key", key)
	if err != nil || !ok {
		return "", false, err
	}
	return s.SettingValue, true, nil
}

// FeePercentage reads the current platform fee. It is looked up on every
// booking so a changed rate only affects later bookings.
func (m *Manager) FeePercentage(ctx context.Context) (float64, error) {
	v, ok, err := m.setting(ctx, models.SettingPlatformFee)
	if err != nil {
		return 0, err
	}
	if !ok {
		return models.DefaultPlatformFee, nil
	}
	pct, err := models.ParseFeePercentage(v)
	if err != nil {
		m.log.Warn("invalid platform fee setting, using default",
			zap.String("value", v), zap.Float64("default", models.DefaultPlatformFee))
		return models.DefaultPlatformFee, nil
	}
	return pct, nil
}

// PaymentMethods lists the accepted payment methods in stored form.
func (m *Manager) PaymentMethods(ctx context.Context) ([]string, error) {
	v, ok, err := m.setting(ctx, models.SettingPaymentMethods)
	if err != nil {
		return nil, err
	}
	methods := models.ParsePaymentMethods(v)
	if !ok || len(methods) == 0 {
		methods = models.ParsePaymentMethods(models.DefaultPaymentMethods)
	}
	return methods, nil
}

func (m *Manager) userName(ctx context.Context, id int64) string {
	u, err := m.tables.Users.Get(ctx, id)
	if err != nil || u.Name == "" {
		return "a user"
	}
	return u.Name
}

func (m *Manager) serviceName(ctx context.Context, id int64) string {
	s, err := m.tables.Services.Get(ctx, id)
	if err != nil || s.ServiceName == "" {
		return "this service"
	}
	return s.ServiceName
}

func denied(format string, args ...any) error {
	return apperrors.IllegalTransition(format, args...)
}

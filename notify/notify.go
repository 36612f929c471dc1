package notify

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDeliveryTimeout bounds one sink delivery.
	DefaultDeliveryTimeout = 10 * time.Second
	// maxPendingDeliveries bounds deliveries running at once. Notifications
	// past it stay in the store only.
	maxPendingDeliveries = 64
)

// Message is an in-app notification to one user.
type Message struct {
	UserID    int64
	BookingID int64
	Text      string
	// DedupeKey, when set, makes Notify idempotent: a second call with the
	// same key returns the stored notification and delivers nothing.
	DedupeKey string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) (models.Notification, error)
}

// Sink delivers a stored notification outside the store. Delivery is best
// effort; failures are logged and never fail the notification.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification, to models.User) error
}

// Dispatcher records notifications in the store, then fans them out to its
// sinks in the background. Clients poll the store (or the Redis feed) for
// them.
type Dispatcher struct {
	tables  *models.Tables
	sinks   []Sink
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
	pending *errgroup.Group
}

func NewDispatcher(tables *models.Tables, log *zap.Logger, sinks ...Sink) *Dispatcher {
	pending := &errgroup.Group{}
	pending.SetLimit(maxPendingDeliveries)
	return &Dispatcher{
		tables:  tables,
		sinks:   sinks,
		log:     log.Named("notify"),
		now:     time.Now,
		timeout: DefaultDeliveryTimeout,
		pending: pending,
	}
}

// SetDeliveryTimeout changes how long one sink may take per notification.
func (d *Dispatcher) SetDeliveryTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Wait blocks until every delivery started so far has finished.
func (d *Dispatcher) Wait() {
	_ = d.pending.Wait()
}

// Notify stores msg for its recipient and hands it to the sinks. A message
// whose DedupeKey was already used returns the stored notification.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) (models.Notification, error) {
	n, err := d.tables.Notifications.Insert(ctx, models.Notification{
		UserID:           msg.UserID,
		NotificationType: models.NotificationInApp,
		Message:          msg.Text,
		BookingID:        msg.BookingID,
		SentAt:           d.now().UTC(),
		DedupeKey:        msg.DedupeKey,
	})
	if errors.Is(err, apperrors.ErrDuplicateValue) && msg.DedupeKey != "" {
		existing, ok, ferr := d.tables.Notifications.FirstBy(ctx, "dedupe_key", msg.DedupeKey)
		if ferr != nil {
			return models.Notification{}, ferr
		}
		if ok {
			d.log.Debug("notification already sent", zap.String("dedupe_key", msg.DedupeKey))
			return existing, nil
		}
	}
	if err != nil {
		return models.Notification{}, err
	}

	d.fanOut(ctx, n)
	return n, nil
}

// fanOut hands n to the sinks without waiting for them, so a slow sink never
// holds up the caller.
func (d *Dispatcher) fanOut(ctx context.Context, n models.Notification) {
	if len(d.sinks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	started := d.pending.TryGo(func() error {
		d.deliver(ctx, n)
		return nil
	})
	if !started {
		d.log.Warn("delivery backlog full, notification kept in store only",
			zap.Int64("notification_id", n.ID), zap.Int64("user_id", n.UserID))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) {
	user, err := d.tables.Users.Get(ctx, n.UserID)
	if err != nil {
		d.log.Warn("notification recipient not loaded", zap.Int64("user_id", n.UserID), zap.Error(err))
	}
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Deliver(sctx, n, user)
		cancel()
		if err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("sink", s.Name()),
				zap.Int64("notification_id", n.ID),
				zap.Int64("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}
}

// NotifyAdmins sends text to every admin. keyPrefix, if set, dedupes per
// admin.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, text, keyPrefix string) error {
	admins, err := d.tables.Users.FindBy(ctx, "role", models.RoleAdmin)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range admins {
		msg := Message{UserID: a.ID, Text: text}
		if keyPrefix != "" {
			msg.DedupeKey = keyPrefix + ":admin:" + itoa(a.ID)
		}
		if _, err := d.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListForUser returns a user's notifications, newest first.
func (d *Dispatcher) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]models.Notification, error) {
	out, err := d.tables.Notifications.Filter(ctx, func(n models.Notification) bool {
		return n.UserID == userID && (!unreadOnly || !n.IsRead)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// MarkRead marks one of the user's notifications read. Other users'
// notifications are reported as not found.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, id int64) (models.Notification, error) {
	return d.tables.Notifications.Modify(ctx, id, func(n *models.Notification) error {
		if n.UserID != userID {
			return apperrors.NotFound(models.NotificationsCollection, id)
		}
		n.IsRead = true
		return nil
	})
}

// MarkAllRead marks every unread notification of the user read in one write
// and returns how many changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	var changed int
	err := d.tables.Store.Mutate(ctx, models.NotificationsCollection, func(c *db.Collection) error {
		for _, rec := range c.Records {
			if rec.Int("user_id") == userID && rec["is_read"] != true {
				rec["is_read"] = true
				changed++
			}
		}
		return nil
	})
	return changed, err
}

// Package marketplace holds the account, catalog, moderation, chat, support
// and analytics operations around the booking lifecycle.
package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Notifier is the part of notify.Dispatcher these operations use.
type Notifier interface {
	notify.Notifier
	NotifyAdmins(ctx context.Context, text, keyPrefix string) error
}

type base struct {
	tables   *models.Tables
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	hashCost int
}

// notify sends msg after the change it reports has been written. A failure
// is logged and does not undo the change.
func (b *base) notify(ctx context.Context, msg notify.Message) {
	if _, err := b.notifier.Notify(ctx, msg); err != nil {
		b.log.Warn("notification not recorded", zap.Int64("user_id", msg.UserID), zap.Error(err))
	}
}

func (b *base) notifyAdmins(ctx context.Context, text string) {
	if err := b.notifier.NotifyAdmins(ctx, text, ""); err != nil {
		b.log.Warn("admin notification not recorded", zap.Error(err))
	}
}

// audit appends an entry to the activity log. admin is 0 for entries made
// on behalf of a non-admin.
func (b *base) audit(ctx context.Context, admin int64, action, targetType string, targetID int64, details string) {
	_, err := b.tables.ActivityLog.Insert(ctx, models.ActivityLog{
		AdminID:    admin,
		ActionType: action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		Timestamp:  b.now().UTC(),
	})
	if err != nil {
		b.log.Warn("activity log entry not written",
			zap.String("action", action), zap.Int64("target_id", targetID), zap.Error(err))
	}
}

// displayName is the name notifications use for user id. A lookup failure
// is logged and the id stands in for the name.
func (b *base) displayName(ctx context.Context, id int64) string {
	u, err := b.tables.Users.Get(ctx, id)
	if err != nil {
		b.log.Warn("user lookup for notification failed", zap.Int64("user_id", id), zap.Error(err))
		return fmt.Sprintf("user #%d", id)
	}
	return u.Name
}

func denied(format string, args ...any) error {
	return apperrors.IllegalTransition(format, args...)
}

func requireAdmin(actor lifecycle.Actor) error {
	if actor.Role != models.RoleAdmin || !actor.Active() {
		return denied("admin access required")
	}
	return nil
}

func requireActiveProvider(actor lifecycle.Actor) error {
	if actor.Role != models.RoleProvider {
		return denied("only service providers can do this")
	}
	if !actor.Active() {
		return denied("your account is not active, please contact support")
	}
	return nil
}

// Services bundles every marketplace operation over one set of tables.
type Services struct {
	Accounts   *Accounts
	Catalog    *Catalog
	Moderation *Moderation
	Chat       *Chat
	Support    *Support
	Analytics  *Analytics
}

type Option func(*base)

func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithHashCost sets the bcrypt cost of new password hashes.
func WithHashCost(cost int) Option {
	return func(b *base) { b.hashCost = cost }
}

func New(tables *models.Tables, notifier Notifier, log *zap.Logger, opts ...Option) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	b := &base{tables: tables, notifier: notifier, log: log.Named("marketplace"), now: time.Now, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(b)
	}
	return &Services{
		Accounts:   &Accounts{base: b},
		Catalog:    &Catalog{base: b},
		Moderation: &Moderation{base: b},
		Chat:       &Chat{base: b},
		Support:    &Support{base: b},
		Analytics:  &Analytics{base: b},
	}
}

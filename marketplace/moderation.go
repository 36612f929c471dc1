package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
)

// Investigation states of a flagged user.
const (
	InvestigationOpen    = "investigating"
	InvestigationCleared = "cleared"
)

// Moderation covers the admin's user, review and setting management.
type Moderation struct {
	*base
}

// Users lists users, optionally of one role, newest first.
func (m *Moderation) Users(ctx context.Context, admin lifecycle.Actor, role models.Role) ([]models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	out, err := m.tables.Users.Filter(ctx, func(u models.User) bool {
		return role == "" || u.Role == role
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = out[i].Sanitized()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// nonAdmin loads a user an admin may act on. Admin accounts cannot be
// suspended, banned or deleted.
func (m *Moderation) nonAdmin(ctx context.Context, id int64, verb string) (models.User, error) {
	u, err := m.tables.Users.Get(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if u.Role == models.RoleAdmin {
		return models.User{}, denied("cannot %s admin users", verb)
	}
	return u, nil
}

var statusMessages = map[models.UserStatus]string{
	models.UserActive:    "Your account has been activated. You can now use all platform features.",
	models.UserSuspended: "Your account has been suspended. Please contact support for more information.",
	models.UserBanned:    "Your account has been banned from this platform.",
}

// SetUserStatus suspends, bans or reactivates a user.
func (m *Moderation) SetUserStatus(ctx context.Context, admin lifecycle.Actor, id int64, status models.UserStatus) (models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return models.User{}, err
	}
	if !status.Valid() {
		return models.User{}, apperrors.InvalidInput("unknown user status %q", status)
	}
	if status != models.UserActive {
		if _, err := m.nonAdmin(ctx, id, "restrict"); err != nil {
			return models.User{}, err
		}
	}
	u, err := m.tables.Users.Patch(ctx, id, db.Record{"status": status, "updated_at": m.now().UTC()})
	if err != nil {
		return models.User{}, err
	}
	m.audit(ctx, admin.ID, models.ActionUserStatus, "user", id, fmt.Sprintf("%s is now %s", u.Name, status))
	m.notify(ctx, notify.Message{UserID: id, Text: statusMessages[status]})
	return u.Sanitized(), nil
}

// VerifyUser marks the user's email and NID verified.
func (m *Moderation) VerifyUser(ctx context.Context, admin lifecycle.Actor, id int64) (models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return models.User{}, err
	}
	u, err := m.tables.Users.Patch(ctx, id, db.Record{
		"email_verified": true,
		"nid_verified":   true,
		"updated_at":     m.now().UTC(),
	})
	if err != nil {
		return models.User{}, err
	}
	m.audit(ctx, admin.ID, models.ActionUserVerify, "user", id, u.Name)
	m.notify(ctx, notify.Message{UserID: id, Text: "Congratulations! Your account has been verified."})
	return u.Sanitized(), nil
}

func (m *Moderation) FlagUser(ctx context.Context, admin lifecycle.Actor, id int64, reason string) (models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return models.User{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.User{}, apperrors.InvalidInput("a reason is required")
	}
	u, err := m.tables.Users.Modify(ctx, id, func(u *models.User) error {
		u.IsFlagged = true
		u.FlaggedReason = reason
		u.InvestigationStatus = InvestigationOpen
		u.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	m.audit(ctx, admin.ID, models.ActionUserFlag, "user", id, reason)
	m.notify(ctx, notify.Message{
		UserID: id,
		Text:   "Your account has been flagged for review. Our team will investigate and contact you if needed.",
	})
	return u.Sanitized(), nil
}

func (m *Moderation) UnflagUser(ctx context.Context, admin lifecycle.Actor, id int64) (models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return models.User{}, err
	}
	u, err := m.tables.Users.Modify(ctx, id, func(u *models.User) error {
		u.IsFlagged = false
		u.FlaggedReason = ""
		u.InvestigationStatus = InvestigationCleared
		u.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	m.audit(ctx, admin.ID, models.ActionUserFlag, "user", id, "flag removed")
	return u.Sanitized(), nil
}

// DeleteUser removes a user no other record points at. Notifications
// addressed to the user go with the account; any other reference declared in
// models.Schema refuses the delete.
func (m *Moderation) DeleteUser(ctx context.Context, admin lifecycle.Actor, id int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	u, err := m.nonAdmin(ctx, id, "delete")
	if err != nil {
		return err
	}
	for _, ref := range models.ReferencesTo(models.UsersCollection) {
		if ref.Collection == models.NotificationsCollection {
			continue
		}
		recs, err := m.tables.Store.FindByAttribute(ctx, ref.Collection, ref.Field, id)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			return apperrors.StillReferenced(models.UsersCollection, id, ref.Collection, len(recs))
		}
	}
	err = m.tables.Store.Mutate(ctx, models.NotificationsCollection, func(col *db.Collection) error {
		kept := col.Records[:0]
		for _, rec := range col.Records {
			if rec.Int("user_id") != id {
				kept = append(kept, rec)
			}
		}
		col.Records = kept
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := m.tables.Users.Delete(ctx, id); err != nil {
		return err
	}
	m.audit(ctx, admin.ID, models.ActionUserDelete, "user", id, u.Name)
	return nil
}

// UserDetail is the admin's view of one account.
type UserDetail struct {
	User     models.User       `json:"user"`
	Bookings []models.Booking  `json:"bookings"`
	Reviews  []models.Review   `json:"reviews"`
	Services []models.Service  `json:"services,omitempty"`
	Provider *ProviderOverview `json:"provider_stats,omitempty"`
}

// User returns an account with the bookings and reviews it made. Providers
// also get their services and statistics.
func (m *Moderation) User(ctx context.Context, admin lifecycle.Actor, id int64) (UserDetail, error) {
	if err := requireAdmin(admin); err != nil {
		return UserDetail{}, err
	}
	u, err := m.tables.Users.Get(ctx, id)
	if err != nil {
		return UserDetail{}, err
	}
	s, err := m.load(ctx)
	if err != nil {
		return UserDetail{}, err
	}
	d := UserDetail{User: u.Sanitized(), Bookings: []models.Booking{}, Reviews: []models.Review{}}
	for _, b := range s.bookings {
		if b.UserID == id {
			d.Bookings = append(d.Bookings, b)
		}
	}
	for _, r := range s.reviews {
		if r.UserID == id {
			d.Reviews = append(d.Reviews, r)
		}
	}
	if u.Role == models.RoleProvider {
		for _, svc := range s.services {
			if svc.ProviderID == id {
				d.Services = append(d.Services, svc)
			}
		}
		stats := providerOverview(s, id, m.now().UTC())
		d.Provider = &stats
	}
	return d, nil
}

// UserEdit holds the account fields an admin may overwrite. Nil fields are
// left alone.
type UserEdit struct {
	Name          *string
	Email         *string
	ContactNumber *string
	NIDNumber     *string
	Role          *models.Role
	Status        *models.UserStatus
	EmailVerified *bool
	NIDVerified   *bool
}

func (e UserEdit) fields() (db.Record, error) {
	out, err := ProfileUpdate{Name: e.Name, Email: e.Email, ContactNumber: e.ContactNumber}.fields()
	if err != nil {
		return nil, err
	}
	if e.NIDNumber != nil {
		out["nid_number"] = strings.TrimSpace(*e.NIDNumber)
	}
	if e.Role != nil {
		if *e.Role != models.RoleUser && *e.Role != models.RoleProvider {
			return nil, apperrors.InvalidInput("role must be %q or %q", models.RoleUser, models.RoleProvider)
		}
		out["role"] = *e.Role
	}
	if e.Status != nil {
		if !e.Status.Valid() {
			return nil, apperrors.InvalidInput("unknown user status %q", *e.Status)
		}
		out["status"] = *e.Status
	}
	if e.EmailVerified != nil {
		out["email_verified"] = *e.EmailVerified
	}
	if e.NIDVerified != nil {
		out["nid_verified"] = *e.NIDVerified
	}
	return out, nil
}

// EditUser overwrites account fields of a non-admin user. A changed email or
// NID number must still be unique.
func (m *Moderation) EditUser(ctx context.Context, admin lifecycle.Actor, id int64, edit UserEdit) (models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return models.User{}, err
	}
	fields, err := edit.fields()
	if err != nil {
		return models.User{}, err
	}
	if _, err := m.nonAdmin(ctx, id, "edit"); err != nil {
		return models.User{}, err
	}
	fields["updated_at"] = m.now().UTC()
	u, err := m.tables.Users.Patch(ctx, id, fields)
	if err != nil {
		return models.User{}, err
	}
	changed := make([]string, 0, len(fields))
	for k := range fields {
		if k != "updated_at" {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	m.audit(ctx, admin.ID, models.ActionUserEdit, "user", id, u.Name+": "+strings.Join(changed, ", "))
	return u.Sanitized(), nil
}

// ResetPassword sets a new password on a non-admin account.
func (m *Moderation) ResetPassword(ctx context.Context, admin lifecycle.Actor, id int64, password string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	hash, err := m.hash(password)
	if err != nil {
		return err
	}
	if _, err := m.nonAdmin(ctx, id, "reset the password of"); err != nil {
		return err
	}
	u, err := m.tables.Users.Modify(ctx, id, func(u *models.User) error {
		u.PasswordHash = hash
		u.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	m.audit(ctx, admin.ID, models.ActionPasswordReset, "user", id, u.Name)
	m.notify(ctx, notify.Message{UserID: id, Text: "Your password has been reset by an administrator."})
	return nil
}

// Reviews lists reviews newest first, only flagged ones when flaggedOnly.
func (m *Moderation) Reviews(ctx context.Context, admin lifecycle.Actor, flaggedOnly bool) ([]models.Review, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	out, err := m.tables.Reviews.Filter(ctx, func(r models.Review) bool { return !flaggedOnly || r.IsFlagged })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Moderation) moderateReview(ctx context.Context, admin lifecycle.Actor, id int64, details string, fn func(r *models.Review)) (models.Review, error) {
	if err := requireAdmin(admin); err != nil {
		return models.Review{}, err
	}
	r, err := m.tables.Reviews.Modify(ctx, id, func(r *models.Review) error {
		fn(r)
		return nil
	})
	if err != nil {
		return models.Review{}, err
	}
	m.audit(ctx, admin.ID, models.ActionReviewModerate, "review", id, details)
	return r, nil
}

func (m *Moderation) FlagReview(ctx context.Context, admin lifecycle.Actor, id int64, reason string) (models.Review, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Review{}, apperrors.InvalidInput("a reason is required")
	}
	return m.moderateReview(ctx, admin, id, "flagged: "+reason, func(r *models.Review) {
		r.IsFlagged = true
		r.FlaggedReason = reason
	})
}

func (m *Moderation) UnflagReview(ctx context.Context, admin lifecycle.Actor, id int64) (models.Review, error) {
	return m.moderateReview(ctx, admin, id, "flag removed", func(r *models.Review) {
		r.IsFlagged = false
		r.FlaggedReason = ""
	})
}

func (m *Moderation) RespondToReview(ctx context.Context, admin lifecycle.Actor, id int64, response string) (models.Review, error) {
	response = strings.TrimSpace(response)
	return m.moderateReview(ctx, admin, id, "responded", func(r *models.Review) {
		r.AdminResponse = response
	})
}

func (m *Moderation) DeleteReview(ctx context.Context, admin lifecycle.Actor, id int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	removed, err := m.tables.Reviews.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return apperrors.NotFound(models.ReviewsCollection, id)
	}
	m.audit(ctx, admin.ID, models.ActionReviewModerate, "review", id, "deleted")
	return nil
}

// Settings returns every platform setting, defaults included for keys that
// were never written.
func (m *Moderation) Settings(ctx context.Context, admin lifecycle.Actor) ([]models.PlatformSetting, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	out, err := m.tables.Settings.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, s := range out {
		seen[s.SettingKey] = true
	}
	if !seen[models.SettingPlatformFee] {
		out = append(out, models.PlatformSetting{
			SettingKey:   models.SettingPlatformFee,
			SettingValue: fmt.Sprint(models.DefaultPlatformFee),
		})
	}
	if !seen[models.SettingPaymentMethods] {
		out = append(out, models.PlatformSetting{
			SettingKey:   models.SettingPaymentMethods,
			SettingValue: models.DefaultPaymentMethods,
		})
	}
	return out, nil
}

func validateSetting(key, value string) (string, error) {
	switch key {
	case models.SettingPlatformFee:
		pct, err := models.ParseFeePercentage(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(pct), nil
	case models.SettingPaymentMethods:
		methods := models.ParsePaymentMethods(value)
		if len(methods) == 0 {
			return "", apperrors.InvalidInput("at least one payment method is required")
		}
		return strings.Join(methods, ","), nil
	}
	if strings.TrimSpace(value) == "" {
		return "", apperrors.InvalidInput("setting value is required")
	}
	return strings.TrimSpace(value), nil
}

// UpdateSetting writes a setting, creating it if needed. The new value only
// affects bookings made afterwards.
func (m *Moderation) UpdateSetting(ctx context.Context, admin lifecycle.Actor, key, value string) (models.PlatformSetting, error) {
	if err := requireAdmin(admin); err != nil {
		return models.PlatformSetting{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return models.PlatformSetting{}, apperrors.InvalidInput("setting key is required")
	}
	value, err := validateSetting(key, value)
	if err != nil {
		return models.PlatformSetting{}, err
	}

	now := m.now().UTC()
	existing, ok, err := m.tables.Settings.FirstBy(ctx, "setting_key", key)
	if err != nil {
		return models.PlatformSetting{}, err
	}
	var s models.PlatformSetting
	if ok {
		s, err = m.tables.Settings.Modify(ctx, existing.ID, func(s *models.PlatformSetting) error {
			s.SettingValue = value
			s.UpdatedAt = now
			s.UpdatedBy = admin.ID
			return nil
		})
	} else {
		s, err = m.tables.Settings.Insert(ctx, models.PlatformSetting{
			SettingKey:   key,
			SettingValue: value,
			UpdatedAt:    now,
			UpdatedBy:    admin.ID,
		})
	}
	if err != nil {
		return models.PlatformSetting{}, err
	}
	m.audit(ctx, admin.ID, models.ActionSettingUpdate, "setting", s.ID, key+"="+value)
	return s, nil
}

// ActivityLog returns one page of the activity log, newest first, and the
// total number of entries.
func (m *Moderation) ActivityLog(ctx context.Context, admin lifecycle.Actor, page, perPage int) ([]models.ActivityLog, int, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	logs, err := m.tables.ActivityLog.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].ID > logs[j].ID })
	start := (page - 1) * perPage
	if start >= len(logs) {
		return []models.ActivityLog{}, len(logs), nil
	}
	end := min(start+perPage, len(logs))
	return logs[start:end], len(logs), nil
}

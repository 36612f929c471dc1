package marketplace

import (
	"context"
	"strings"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Accounts registers and authenticates users and maintains their profiles.
type Accounts struct {
	*base
}

type RegisterInput struct {
	Name          string
	Email         string
	ContactNumber string
	NIDNumber     string
	Password      string
	Role          models.Role
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (b *base) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperrors.InvalidInput("password must be at least %d characters", minPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.hashCost)
	if err != nil {
		return "", apperrors.InvalidInput("password cannot be hashed: %v", err)
	}
	return string(h), nil
}

// Register creates an active user or service provider. Email and NID number
// must be unused.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	if in.Role != models.RoleUser && in.Role != models.RoleProvider {
		return models.User{}, apperrors.InvalidInput("role must be %q or %q", models.RoleUser, models.RoleProvider)
	}
	email := normalizeEmail(in.Email)
	if email == "" || strings.TrimSpace(in.Name) == "" {
		return models.User{}, apperrors.InvalidInput("name and email are required")
	}
	hash, err := a.hash(in.Password)
	if err != nil {
		return models.User{}, err
	}
	now := a.now().UTC()
	u, err := a.tables.Users.Insert(ctx, models.User{
		Name:          strings.TrimSpace(in.Name),
		Email:         email,
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		NIDNumber:     strings.TrimSpace(in.NIDNumber),
		PasswordHash:  hash,
		Role:          in.Role,
		Status:        models.UserActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return models.User{}, err
	}
	return u.Sanitized(), nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords fail the same way.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	u, ok, err := a.tables.Users.FirstBy(ctx, "email", normalizeEmail(email))
	if err != nil {
		return models.User{}, err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return models.User{}, apperrors.VerificationFailure("invalid credentials")
	}
	if u.Status == models.UserBanned {
		return models.User{}, denied("your account has been banned from this platform")
	}
	return u.Sanitized(), nil
}

func (a *Accounts) Profile(ctx context.Context, id int64) (models.User, error) {
	u, err := a.tables.Users.Get(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	return u.Sanitized(), nil
}

// PublicProfile is a profile as another account sees it.
type PublicProfile struct {
	User      models.User       `json:"user"`
	Provider  *ProviderOverview `json:"provider_stats,omitempty"`
	Requester *UserOverview     `json:"user_stats,omitempty"`
}

// publicView keeps what any signed in user may see of a provider.
func publicView(u models.User) models.User {
	return models.User{
		ID:                u.ID,
		Name:              u.Name,
		Role:              u.Role,
		Status:            u.Status,
		EmailVerified:     u.EmailVerified,
		NIDVerified:       u.NIDVerified,
		ProfilePictureURL: u.ProfilePictureURL,
		Profession:        u.Profession,
		CreatedAt:         u.CreatedAt,
	}
}

// PublicProfile returns user id's profile with statistics for its role.
// Active providers are visible to everyone without contact details; other
// accounts only to themselves and admins.
func (a *Accounts) PublicProfile(ctx context.Context, viewer lifecycle.Actor, id int64) (PublicProfile, error) {
	u, err := a.tables.Users.Get(ctx, id)
	if err != nil {
		return PublicProfile{}, err
	}
	full := viewer.ID == id || viewer.Role == models.RoleAdmin
	if !full && (u.Role != models.RoleProvider || !u.Active()) {
		return PublicProfile{}, denied("you do not have permission to view this profile")
	}
	s, err := a.load(ctx)
	if err != nil {
		return PublicProfile{}, err
	}
	now := a.now().UTC()
	p := PublicProfile{User: publicView(u)}
	if full {
		p.User = u.Sanitized()
	}
	switch u.Role {
	case models.RoleProvider:
		stats := providerOverview(s, id, now)
		p.Provider = &stats
	case models.RoleUser:
		stats := userOverview(s, id, now)
		p.Requester = &stats
	}
	return p, nil
}

// ProfileUpdate holds the fields a user may change on their own profile.
// Nil fields are left alone.
type ProfileUpdate struct {
	Name          *string
	Email         *string
	ContactNumber *string
	Address       *string
	Profession    *string
}

func (p ProfileUpdate) fields() (db.Record, error) {
	out := db.Record{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, apperrors.InvalidInput("name cannot be empty")
		}
		out["name"] = name
	}
	if p.Email != nil {
		email := normalizeEmail(*p.Email)
		if email == "" {
			return nil, apperrors.InvalidInput("email cannot be empty")
		}
		out["email"] = email
	}
	if p.ContactNumber != nil {
		out["contact_number"] = strings.TrimSpace(*p.ContactNumber)
	}
	if p.Address != nil {
		out["address"] = strings.TrimSpace(*p.Address)
	}
	if p.Profession != nil {
		out["profession"] = strings.TrimSpace(*p.Profession)
	}
	return out, nil
}

// UpdateProfile applies upd. A changed email must still be unique.
func (a *Accounts) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (models.User, error) {
	fields, err := upd.fields()
	if err != nil {
		return models.User{}, err
	}
	fields["updated_at"] = a.now().UTC()
	u, err := a.tables.Users.Patch(ctx, id, fields)
	if err != nil {
		return models.User{}, err
	}
	return u.Sanitized(), nil
}

var errWrongPassword = apperrors.VerificationFailure("incorrect current password")

// ChangePassword replaces the password after checking the current one.
func (a *Accounts) ChangePassword(ctx context.Context, id int64, current, next string) error {
	hash, err := a.hash(next)
	if err != nil {
		return err
	}
	_, err = a.tables.Users.Modify(ctx, id, func(u *models.User) error {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
			return errWrongPassword
		}
		u.PasswordHash = hash
		u.UpdatedAt = a.now().UTC()
		return nil
	})
	return err
}

// SetProfilePicture stores the URL of an uploaded picture.
func (a *Accounts) SetProfilePicture(ctx context.Context, id int64, url string) (models.User, error) {
	if strings.TrimSpace(url) == "" {
		return models.User{}, apperrors.InvalidInput("picture url is required")
	}
	u, err := a.tables.Users.Patch(ctx, id, db.Record{
		"profile_picture_url": url,
		"updated_at":          a.now().UTC(),
	})
	if err != nil {
		return models.User{}, err
	}
	return u.Sanitized(), nil
}

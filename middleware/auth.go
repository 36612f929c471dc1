package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/utils"
	"go.uber.org/zap"
)

// Token kinds carried in the "typ" claim.
const (
	AccessToken  = "access"
	RefreshToken = "refresh"
)

const (
	localToken = "user"
	localActor = "actor"
)

// UserLoader looks up the account behind a token.
type UserLoader interface {
	Get(ctx context.Context, id int64) (models.User, error)
}

// Auth issues and checks the HS256 tokens of the API.
type Auth struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      UserLoader
	log        *zap.Logger
	now        func() time.Time
}

func NewAuth(secret string, accessTTL, refreshTTL time.Duration, users UserLoader, log *zap.Logger) *Auth {
	return &Auth{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		users:      users,
		log:        log.Named("auth"),
		now:        time.Now,
	}
}

func (a *Auth) sign(u models.User, kind string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":  u.ID,
		"typ": kind,
		"exp": a.now().Add(ttl).Unix(),
		"iat": a.now().Unix(),
	}
	if kind == AccessToken {
		claims["email"] = u.Email
		claims["role"] = string(u.Role)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Issue returns an access token and a refresh token for u.
func (a *Auth) Issue(u models.User) (access, refresh string, err error) {
	if access, err = a.sign(u, AccessToken, a.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = a.sign(u, RefreshToken, a.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Refresh checks a refresh token and returns a new access token for the
// account it names, provided the account may still sign in.
func (a *Auth) Refresh(ctx context.Context, refresh string) (string, models.User, error) {
	token, err := jwt.Parse(refresh, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", models.User{}, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["typ"] != RefreshToken {
		return "", models.User{}, errInvalidToken
	}
	u, err := a.account(ctx, claims)
	if err != nil {
		return "", models.User{}, err
	}
	access, err := a.sign(u, AccessToken, a.accessTTL)
	return access, u, err
}

var errInvalidToken = errors.New("invalid or expired token")

// account loads the user a token names. Deleted and banned accounts are
// refused even while their tokens are unexpired.
func (a *Auth) account(ctx context.Context, claims jwt.MapClaims) (models.User, error) {
	id, err := extractUserID(claims)
	if err != nil {
		return models.User{}, errInvalidToken
	}
	u, err := a.users.Get(ctx, id)
	if err != nil {
		return models.User{}, errInvalidToken
	}
	if u.Status == models.UserBanned {
		return models.User{}, errInvalidToken
	}
	return u, nil
}

// Protected accepts requests with a valid access token and stores the
// caller's Actor in the request locals.
func (a *Auth) Protected() fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:   a.secret,
		ContextKey:   localToken,
		ErrorHandler: a.jwtError,
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals(localToken).(*jwt.Token)
			if !ok {
				return a.jwtError(c, errInvalidToken)
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || claims["typ"] != AccessToken {
				return a.jwtError(c, errInvalidToken)
			}
			u, err := a.account(c.UserContext(), claims)
			if err != nil {
				return a.jwtError(c, err)
			}
			c.Locals(localActor, lifecycle.ActorFromUser(u))
			return c.Next()
		},
	})
}

// ActorFrom returns the caller stored by Protected.
func ActorFrom(c *fiber.Ctx) lifecycle.Actor {
	actor, _ := c.Locals(localActor).(lifecycle.Actor)
	return actor
}

// extractUserID accepts the numeric forms an id claim can take after JSON
// decoding.
func extractUserID(claims jwt.MapClaims) (int64, error) {
	switch v := claims["id"].(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, errors.New("no id in claims")
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}

func (a *Auth) jwtError(c *fiber.Ctx, err error) error {
	a.log.Debug("request rejected", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusUnauthorized).JSON(utils.ErrorResponse{
		Message: "Invalid or expired token",
		Error:   "Unauthorized",
	})
}

package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/meinhoongagan/service-marketplace/utils"
	"go.uber.org/zap"
)

// PictureUploader stores an uploaded profile picture and returns its URL.
type PictureUploader interface {
	UploadToCloudinary(ctx context.Context, file any, publicID string) (string, error)
}

// NotificationFeed serves the most recent notifications of a user from a
// cache.
type NotificationFeed interface {
	Recent(ctx context.Context, userID int64, limit int64) ([]models.Notification, error)
}

type Deps struct {
	Bookings      *lifecycle.Manager
	Market        *marketplace.Services
	Notifications *notify.Dispatcher
	Auth          *middleware.Auth
	// Feed and Uploader are optional.
	Feed     NotificationFeed
	Uploader PictureUploader
	Log      *zap.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
	validate *validator.Validate
}

func New(deps Deps) *Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	deps.Log = deps.Log.Named("http")
	return &Handler{Deps: deps, validate: validator.New()}
}

// fail writes err as an ErrorResponse with the status its kind maps to.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		msg = "something went wrong, please try again"
	}
	return c.Status(status).JSON(utils.ErrorResponse{
		Message: msg,
		Error:   http.StatusText(status),
	})
}

// bind parses the JSON body into dst and validates its tags.
func (h *Handler) bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.InvalidInput("cannot parse request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			return apperrors.InvalidInput("invalid fields: %s", strings.Join(fields, ", "))
		}
		return apperrors.InvalidInput("%v", err)
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidInput("%s must be a positive integer", name)
	}
	return id, nil
}

func actor(c *fiber.Ctx) lifecycle.Actor {
	return middleware.ActorFrom(c)
}

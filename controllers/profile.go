package controllers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"go.uber.org/zap"
)

type profileRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=255"`
	Email         *string `json:"email" validate:"omitempty,email"`
	ContactNumber *string `json:"contact_number" validate:"omitempty,max=20"`
	Address       *string `json:"address" validate:"omitempty,max=500"`
	Profession    *string `json:"profession" validate:"omitempty,max=100"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

func (h *Handler) GetProfile(c *fiber.Ctx) error {
	return h.Me(c)
}

// ViewProfile shows another account's profile and statistics.
func (h *Handler) ViewProfile() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Accounts.PublicProfile(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	u, err := h.Market.Accounts.UpdateProfile(c.UserContext(), actor(c).ID, marketplace.ProfileUpdate{
		Name:          req.Name,
		Email:         req.Email,
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
		Profession:    req.Profession,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(u)
}

func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.Market.Accounts.ChangePassword(c.UserContext(), actor(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Password changed successfully"})
}

// UploadProfilePicture takes a multipart "picture" image and stores it with
// the uploader.
func (h *Handler) UploadProfilePicture(c *fiber.Ctx) error {
	if h.Uploader == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Picture uploads are not configured"})
	}
	fh, err := c.FormFile("picture")
	if err != nil {
		return h.fail(c, apperrors.InvalidInput("a picture file is required"))
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		return h.fail(c, apperrors.InvalidInput("picture must be an image"))
	}
	f, err := fh.Open()
	if err != nil {
		return h.fail(c, err)
	}
	defer f.Close()

	id := actor(c).ID
	url, err := h.Uploader.UploadToCloudinary(c.UserContext(), f, fmt.Sprintf("profile_%d", id))
	if err != nil {
		h.Log.Error("picture upload failed", zap.Int64("user_id", id), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to upload picture"})
	}
	u, err := h.Market.Accounts.SetProfilePicture(c.UserContext(), id, url)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(u)
}

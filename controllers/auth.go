package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/models"
	"go.uber.org/zap"
)

type registerRequest struct {
	Name          string `json:"name" validate:"required,min=2,max=255"`
	Email         string `json:"email" validate:"required,email"`
	ContactNumber string `json:"contact_number" validate:"required,max=20"`
	NIDNumber     string `json:"nid_number" validate:"omitempty,max=50"`
	Password      string `json:"password" validate:"required,min=6"`
	Role          string `json:"role" validate:"omitempty,oneof=user service_provider"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	User         models.User `json:"user"`
}

// Register creates an account and signs it in.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleUser
	}
	u, err := h.Market.Accounts.Register(c.UserContext(), marketplace.RegisterInput{
		Name:          req.Name,
		Email:         req.Email,
		ContactNumber: req.ContactNumber,
		NIDNumber:     req.NIDNumber,
		Password:      req.Password,
		Role:          role,
	})
	if err != nil {
		return h.fail(c, err)
	}
	access, refresh, err := h.Auth.Issue(u)
	if err != nil {
		return h.fail(c, err)
	}
	h.Log.Info("account registered", zap.Int64("user_id", u.ID), zap.String("role", string(u.Role)))
	return c.Status(fiber.StatusCreated).JSON(tokenResponse{AccessToken: access, RefreshToken: refresh, User: u})
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	u, err := h.Market.Accounts.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindVerificationFailure:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
		case apperrors.KindIllegalTransition:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		}
		return h.fail(c, err)
	}
	access, refresh, err := h.Auth.Issue(u)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(tokenResponse{AccessToken: access, RefreshToken: refresh, User: u})
}

// RefreshToken issues a new access token from a refresh token.
func (h *Handler) RefreshToken(c *fiber.Ctx) error {
	var req refreshRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	access, u, err := h.Auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(tokenResponse{AccessToken: access, User: u.Sanitized()})
}

// Me returns the caller's account.
func (h *Handler) Me(c *fiber.Ctx) error {
	u, err := h.Market.Accounts.Profile(c.UserContext(), actor(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(u)
}

// Logout is stateless: the client drops its tokens.
func (h *Handler) Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Successfully logged out"})
}

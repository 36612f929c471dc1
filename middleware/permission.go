package middleware

import (
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/utils"
)

// RequireRole lets through callers with one of roles. It must run after
// Protected.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFrom(c)
		if !slices.Contains(roles, actor.Role) {
			return c.Status(fiber.StatusForbidden).JSON(utils.ErrorResponse{
				Message: "You don't have the required role to perform this action",
				Error:   "Forbidden",
			})
		}
		return c.Next()
	}
}

// RequireActive refuses suspended accounts.
func RequireActive() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ActorFrom(c).Active() {
			return c.Status(fiber.StatusForbidden).JSON(utils.ErrorResponse{
				Message: "Your account is not active. Please contact support.",
				Error:   "Forbidden",
			})
		}
		return c.Next()
	}
}

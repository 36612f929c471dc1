package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
)

// Setup mounts every route group on app.
func Setup(app *fiber.App, h *controllers.Handler) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Service marketplace API")
	})
	app.Get("/dashboard", h.Auth.Protected(), h.Dashboard)
	SetupAuthRoutes(app, h)
	SetupProfileRoutes(app, h)
	SetupServiceRoutes(app, h)
	SetupBookingRoutes(app, h)
	SetupMessagingRoutes(app, h)
	SetupAdminRoutes(app, h)
}

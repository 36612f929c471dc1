package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
)

// SetupAuthRoutes configures all authentication related routes
func SetupAuthRoutes(app *fiber.App, h *controllers.Handler) {
	auth := app.Group("/auth")

	// Public routes
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.RefreshToken)

	// Protected routes
	auth.Get("/me", h.Auth.Protected(), h.Me)
	auth.Post("/logout", h.Auth.Protected(), h.Logout)
}

func SetupProfileRoutes(app *fiber.App, h *controllers.Handler) {
	profile := app.Group("/profile", h.Auth.Protected())
	profile.Get("/", h.GetProfile)
	profile.Put("/", h.UpdateProfile)
	profile.Put("/password", h.ChangePassword)
	profile.Patch("/picture", h.UploadProfilePicture)
	profile.Get("/:id", h.ViewProfile())
}

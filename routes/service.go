package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/models"
)

func SetupServiceRoutes(app *fiber.App, h *controllers.Handler) {
	provider := []fiber.Handler{h.Auth.Protected(), middleware.RequireRole(models.RoleProvider)}

	service := app.Group("/services")
	service.Get("/", h.GetAllServices)
	service.Get("/mine", append(provider, h.MyServices)...)
	service.Get("/:id", h.GetService)
	service.Post("/", append(provider, middleware.RequireActive(), h.CreateService)...)
	service.Put("/:id", append(provider, middleware.RequireActive(), h.UpdateService)...)
	service.Delete("/:id", append(provider, h.DeleteService)...)

	categories := app.Group("/categories")
	categories.Get("/", h.GetCategories)
	categories.Post("/request", append(provider, middleware.RequireActive(), h.RequestCategory)...)
}

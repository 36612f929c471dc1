package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/models"
)

func SetupAdminRoutes(app *fiber.App, h *controllers.Handler) {
	admin := app.Group("/admin", h.Auth.Protected(), middleware.RequireRole(models.RoleAdmin))

	admin.Get("/users", h.AdminUsers)
	admin.Get("/users/:id", h.AdminUser())
	admin.Put("/users/:id", h.AdminEditUser())
	admin.Put("/users/:id/password", h.ResetUserPassword())
	admin.Put("/users/:id/status", h.SetUserStatus())
	admin.Post("/users/:id/verify", h.VerifyUser())
	admin.Post("/users/:id/flag", h.FlagUser())
	admin.Post("/users/:id/unflag", h.UnflagUser())
	admin.Delete("/users/:id", h.DeleteUser())

	admin.Get("/services", h.AdminServices)
	admin.Post("/services/:id/approve", h.ApproveService())
	admin.Post("/services/:id/flag", h.FlagService())
	admin.Put("/services/:id", h.AdminEditService())
	admin.Delete("/services/:id", h.AdminDeleteService())

	admin.Get("/categories", h.AdminCategories)
	admin.Post("/categories", h.AddCategory)
	admin.Put("/categories/:id", h.EditCategory())
	admin.Delete("/categories/:id", h.DeleteCategory())
	admin.Post("/categories/:id/approve", h.ApproveCategory())
	admin.Post("/categories/:id/reject", h.RejectCategory())

	admin.Post("/bookings/:id/cancel", h.AdminCancelBooking())
	admin.Post("/bookings/:id/complete", h.AdminCompleteBooking())

	admin.Get("/reviews", h.AdminReviews)
	admin.Post("/reviews/:id/flag", h.FlagReview())
	admin.Post("/reviews/:id/unflag", h.UnflagReview())
	admin.Post("/reviews/:id/respond", h.RespondToReview())
	admin.Delete("/reviews/:id", h.DeleteReview())

	admin.Get("/settings", h.Settings)
	admin.Put("/settings/:key", h.UpdateSetting)

	admin.Put("/support/:id/status", h.UpdateTicketStatus)

	admin.Get("/analytics", h.AdminAnalytics)
	admin.Get("/fraud-signals", h.FraudSignals)
	admin.Get("/activity-log", h.ActivityLog)
	admin.Get("/anomalies", h.Anomalies)
	admin.Post("/operations/reconcile", h.Reconcile)
}

package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/models"
)

func SetupBookingRoutes(app *fiber.App, h *controllers.Handler) {
	bookings := app.Group("/bookings", h.Auth.Protected())
	bookings.Get("/", h.ListBookings)
	bookings.Get("/payment-methods", h.PaymentMethods)
	bookings.Post("/", middleware.RequireRole(models.RoleUser), h.CreateBooking)
	bookings.Get("/:id", h.GetBooking)

	bookings.Post("/:id/accept", middleware.RequireRole(models.RoleProvider), h.AcceptBooking())
	bookings.Post("/:id/reject", middleware.RequireRole(models.RoleProvider), h.RejectBooking())
	bookings.Post("/:id/complete", middleware.RequireRole(models.RoleProvider), h.CompleteBooking())
	bookings.Post("/:id/cancel", middleware.RequireRole(models.RoleUser), h.CancelBooking())
	bookings.Post("/:id/confirm-payment", middleware.RequireRole(models.RoleUser), h.ConfirmPayment())
	bookings.Post("/:id/review", middleware.RequireRole(models.RoleUser), h.ReviewBooking)
}

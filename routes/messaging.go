package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
)

func SetupMessagingRoutes(app *fiber.App, h *controllers.Handler) {
	chat := app.Group("/chat", h.Auth.Protected())
	chat.Get("/conversations", h.Conversations)
	chat.Get("/:booking_id", h.ChatMessages)
	chat.Post("/:booking_id", h.SendMessage)
	chat.Post("/:booking_id/read", h.MarkChatRead)
	chat.Delete("/messages/:id", h.DeleteMessage)

	notifications := app.Group("/notifications", h.Auth.Protected())
	notifications.Get("/", h.ListNotifications)
	notifications.Get("/recent", h.RecentNotifications)
	notifications.Post("/read", h.MarkAllNotificationsRead)
	notifications.Post("/:id/read", h.MarkNotificationRead)

	support := app.Group("/support", h.Auth.Protected())
	support.Get("/", h.Tickets)
	support.Post("/", h.OpenTicket)
}

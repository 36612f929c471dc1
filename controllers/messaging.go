package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/models"
	"go.uber.org/zap"
)

type messageRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type ticketRequest struct {
	Issue string `json:"issue" validate:"required,max=5000"`
}

type ticketStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

func (h *Handler) Conversations(c *fiber.Ctx) error {
	convs, err := h.Market.Chat.Conversations(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(convs)
}

func (h *Handler) ChatMessages(c *fiber.Ctx) error {
	id, err := paramID(c, "booking_id")
	if err != nil {
		return h.fail(c, err)
	}
	msgs, err := h.Market.Chat.Messages(c.UserContext(), actor(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(msgs)
}

func (h *Handler) SendMessage(c *fiber.Ctx) error {
	id, err := paramID(c, "booking_id")
	if err != nil {
		return h.fail(c, err)
	}
	var req messageRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	msg, err := h.Market.Chat.Send(c.UserContext(), actor(c), id, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (h *Handler) MarkChatRead(c *fiber.Ctx) error {
	id, err := paramID(c, "booking_id")
	if err != nil {
		return h.fail(c, err)
	}
	n, err := h.Market.Chat.MarkRead(c.UserContext(), actor(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"marked_read": n})
}

func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	msg, err := h.Market.Chat.Delete(c.UserContext(), actor(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(msg)
}

// ListNotifications lists the caller's notifications; ?unread=true keeps the
// unread ones only.
func (h *Handler) ListNotifications(c *fiber.Ctx) error {
	list, err := h.Notifications.ListForUser(c.UserContext(), actor(c).ID, c.QueryBool("unread"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

// RecentNotifications serves the newest notifications from the feed cache
// and falls back to the store when there is no cache or it fails.
func (h *Handler) RecentNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	id := actor(c).ID
	if h.Feed != nil {
		list, err := h.Feed.Recent(c.UserContext(), id, int64(limit))
		if err == nil {
			return c.JSON(list)
		}
		h.Log.Warn("notification feed unavailable", zap.Int64("user_id", id), zap.Error(err))
	}
	list, err := h.Notifications.ListForUser(c.UserContext(), id, false)
	if err != nil {
		return h.fail(c, err)
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return c.JSON(list)
}

func (h *Handler) MarkNotificationRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	n, err := h.Notifications.MarkRead(c.UserContext(), actor(c).ID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(n)
}

func (h *Handler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := h.Notifications.MarkAllRead(c.UserContext(), actor(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"marked_read": n})
}

func (h *Handler) OpenTicket(c *fiber.Ctx) error {
	var req ticketRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	t, err := h.Market.Support.Open(c.UserContext(), actor(c), req.Issue)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (h *Handler) Tickets(c *fiber.Ctx) error {
	list, err := h.Market.Support.List(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

func (h *Handler) UpdateTicketStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req ticketStatusRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	t, err := h.Market.Support.UpdateStatus(c.UserContext(), actor(c), id, models.TicketStatus(req.Status))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(t)
}

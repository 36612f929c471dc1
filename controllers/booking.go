package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
)

type bookingRequest struct {
	ServiceID     int64     `json:"service_id" validate:"required,gt=0"`
	ServiceDate   time.Time `json:"service_date"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
	Location      string    `json:"location" validate:"required,max=255"`
	ContactNumber string    `json:"contact_number" validate:"required,max=20"`
}

type completeRequest struct {
	OTP string `json:"otp" validate:"required,len=6,numeric"`
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) CreateBooking(c *fiber.Ctx) error {
	var req bookingRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	v, err := h.Bookings.CreateBooking(c.UserContext(), actor(c), lifecycle.CreateBookingInput{
		ServiceID:     req.ServiceID,
		ServiceDate:   req.ServiceDate,
		PaymentMethod: req.PaymentMethod,
		Location:      req.Location,
		ContactNumber: req.ContactNumber,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(v)
}

func (h *Handler) ListBookings(c *fiber.Ctx) error {
	bookings, err := h.Bookings.ListBookings(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(bookings)
}

func (h *Handler) GetBooking(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	v, err := h.Bookings.GetBooking(c.UserContext(), actor(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(v)
}

// PaymentMethods lists the methods a booking may be paid with.
func (h *Handler) PaymentMethods(c *fiber.Ctx) error {
	methods, err := h.Bookings.PaymentMethods(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"payment_methods": methods})
}

// byID runs fn on the record named by the :id parameter and writes its
// result.
func (h *Handler) byID(fn func(c *fiber.Ctx, id int64) (any, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return h.fail(c, err)
		}
		out, err := fn(c, id)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(out)
	}
}

func (h *Handler) AcceptBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Bookings.Accept(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) RejectBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Bookings.Reject(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) CancelBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Bookings.Cancel(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) ConfirmPayment() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Bookings.ConfirmPayment(c.UserContext(), actor(c), id)
	})
}

// CompleteBooking checks the requester's OTP and completes the booking.
func (h *Handler) CompleteBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req completeRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Bookings.Complete(c.UserContext(), actor(c), id, req.OTP)
	})
}

func (h *Handler) ReviewBooking(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reviewRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	r, err := h.Bookings.SubmitReview(c.UserContext(), actor(c), id, req.Rating, req.Comment)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

// reason reads an optional {"reason": ...} body.
func (h *Handler) reason(c *fiber.Ctx) (reasonRequest, error) {
	var req reasonRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	err := h.bind(c, &req)
	return req, err
}

func (h *Handler) AdminCancelBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		req, err := h.reason(c)
		if err != nil {
			return nil, err
		}
		return h.Bookings.AdminCancel(c.UserContext(), actor(c), id, req.Reason)
	})
}

func (h *Handler) AdminCompleteBooking() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		req, err := h.reason(c)
		if err != nil {
			return nil, err
		}
		return h.Bookings.AdminComplete(c.UserContext(), actor(c), id, req.Reason)
	})
}

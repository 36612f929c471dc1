package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/models"
	"go.uber.org/zap"
)

type userStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended banned"`
}

// adminUserRequest leaves absent fields unchanged.
type adminUserRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=255"`
	Email         *string `json:"email" validate:"omitempty,email"`
	ContactNumber *string `json:"contact_number" validate:"omitempty,max=20"`
	NIDNumber     *string `json:"nid_number" validate:"omitempty,max=50"`
	Role          *string `json:"role" validate:"omitempty,oneof=user service_provider"`
	Status        *string `json:"status" validate:"omitempty,oneof=active suspended banned"`
	EmailVerified *bool   `json:"email_verified"`
	NIDVerified   *bool   `json:"nid_verified"`
}

func (r adminUserRequest) edit() marketplace.UserEdit {
	e := marketplace.UserEdit{
		Name:          r.Name,
		Email:         r.Email,
		ContactNumber: r.ContactNumber,
		NIDNumber:     r.NIDNumber,
		EmailVerified: r.EmailVerified,
		NIDVerified:   r.NIDVerified,
	}
	if r.Role != nil {
		role := models.Role(*r.Role)
		e.Role = &role
	}
	if r.Status != nil {
		status := models.UserStatus(*r.Status)
		e.Status = &status
	}
	return e
}

type passwordResetRequest struct {
	NewPassword     string `json:"new_password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type adminServiceRequest struct {
	ServiceName string  `json:"service_name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=5000"`
	Price       float64 `json:"price" validate:"gte=0"`
	Location    string  `json:"location" validate:"required,max=255"`
	Status      string  `json:"status" validate:"required,oneof=pending_approval active flagged inactive"`
}

type adminCategoryRequest struct {
	CategoryName string `json:"category_name" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=1000"`
	IsActive     bool   `json:"is_active"`
	DisplayOrder int    `json:"display_order"`
}

func (r adminCategoryRequest) input() marketplace.CategoryInput {
	return marketplace.CategoryInput{
		CategoryName: r.CategoryName,
		Description:  r.Description,
		IsActive:     r.IsActive,
		DisplayOrder: r.DisplayOrder,
	}
}

type responseRequest struct {
	Response string `json:"response" validate:"required,max=2000"`
}

type settingRequest struct {
	Value string `json:"value" validate:"required"`
}

func (h *Handler) AdminUsers(c *fiber.Ctx) error {
	users, err := h.Market.Moderation.Users(c.UserContext(), actor(c), models.Role(c.Query("role")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(users)
}

func (h *Handler) AdminUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Moderation.User(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) AdminEditUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req adminUserRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Market.Moderation.EditUser(c.UserContext(), actor(c), id, req.edit())
	})
}

func (h *Handler) ResetUserPassword() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req passwordResetRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		if err := h.Market.Moderation.ResetPassword(c.UserContext(), actor(c), id, req.NewPassword); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "Password reset successfully"}, nil
	})
}

func (h *Handler) SetUserStatus() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req userStatusRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Market.Moderation.SetUserStatus(c.UserContext(), actor(c), id, models.UserStatus(req.Status))
	})
}

func (h *Handler) VerifyUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Moderation.VerifyUser(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) FlagUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		req, err := h.reason(c)
		if err != nil {
			return nil, err
		}
		return h.Market.Moderation.FlagUser(c.UserContext(), actor(c), id, req.Reason)
	})
}

func (h *Handler) UnflagUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Moderation.UnflagUser(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) DeleteUser() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		if err := h.Market.Moderation.DeleteUser(c.UserContext(), actor(c), id); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "User deleted successfully"}, nil
	})
}

// AdminServices lists every service; ?status narrows it to one status.
func (h *Handler) AdminServices(c *fiber.Ctx) error {
	services, err := h.Market.Catalog.AdminServices(c.UserContext(), actor(c), models.ServiceStatus(c.Query("status")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(services)
}

func (h *Handler) ApproveService() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Catalog.ApproveService(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) FlagService() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		req, err := h.reason(c)
		if err != nil {
			return nil, err
		}
		return h.Market.Catalog.FlagService(c.UserContext(), actor(c), id, req.Reason)
	})
}

func (h *Handler) AdminEditService() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req adminServiceRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Market.Catalog.AdminEditService(c.UserContext(), actor(c), id, marketplace.AdminServiceEdit{
			ServiceName: req.ServiceName,
			Description: req.Description,
			Price:       req.Price,
			Location:    req.Location,
			Status:      models.ServiceStatus(req.Status),
		})
	})
}

func (h *Handler) AdminDeleteService() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		if err := h.Market.Catalog.AdminDeleteService(c.UserContext(), actor(c), id); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "Service deleted successfully"}, nil
	})
}

// AdminCategories lists every category, pending requests included.
func (h *Handler) AdminCategories(c *fiber.Ctx) error {
	cats, err := h.Market.Catalog.Categories(c.UserContext(), true)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cats)
}

func (h *Handler) AddCategory(c *fiber.Ctx) error {
	var req adminCategoryRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	cat, err := h.Market.Catalog.AddCategory(c.UserContext(), actor(c), req.input())
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cat)
}

func (h *Handler) EditCategory() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req adminCategoryRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Market.Catalog.EditCategory(c.UserContext(), actor(c), id, req.input())
	})
}

func (h *Handler) DeleteCategory() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		if err := h.Market.Catalog.DeleteCategory(c.UserContext(), actor(c), id); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "Category deleted successfully"}, nil
	})
}

func (h *Handler) ApproveCategory() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Catalog.ApproveCategory(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) RejectCategory() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		if err := h.Market.Catalog.RejectCategory(c.UserContext(), actor(c), id); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "Category request rejected"}, nil
	})
}

// AdminReviews lists reviews; ?flagged=true keeps the flagged ones only.
func (h *Handler) AdminReviews(c *fiber.Ctx) error {
	reviews, err := h.Market.Moderation.Reviews(c.UserContext(), actor(c), c.QueryBool("flagged"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(reviews)
}

func (h *Handler) FlagReview() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		req, err := h.reason(c)
		if err != nil {
			return nil, err
		}
		return h.Market.Moderation.FlagReview(c.UserContext(), actor(c), id, req.Reason)
	})
}

func (h *Handler) UnflagReview() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		return h.Market.Moderation.UnflagReview(c.UserContext(), actor(c), id)
	})
}

func (h *Handler) RespondToReview() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		var req responseRequest
		if err := h.bind(c, &req); err != nil {
			return nil, err
		}
		return h.Market.Moderation.RespondToReview(c.UserContext(), actor(c), id, req.Response)
	})
}

func (h *Handler) DeleteReview() fiber.Handler {
	return h.byID(func(c *fiber.Ctx, id int64) (any, error) {
		if err := h.Market.Moderation.DeleteReview(c.UserContext(), actor(c), id); err != nil {
			return nil, err
		}
		return fiber.Map{"message": "Review deleted successfully"}, nil
	})
}

func (h *Handler) Settings(c *fiber.Ctx) error {
	settings, err := h.Market.Moderation.Settings(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(settings)
}

func (h *Handler) UpdateSetting(c *fiber.Ctx) error {
	var req settingRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	s, err := h.Market.Moderation.UpdateSetting(c.UserContext(), actor(c), c.Params("key"), req.Value)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(s)
}

// Dashboard serves the overview that fits the caller's role.
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	out, err := h.Market.Analytics.Dashboard(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *Handler) AdminAnalytics(c *fiber.Ctx) error {
	report, err := h.Market.Analytics.AdminReport(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(report)
}

func (h *Handler) FraudSignals(c *fiber.Ctx) error {
	signals, err := h.Market.Analytics.FraudSignals(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(signals)
}

// ActivityLog pages through the admin activity log with ?page and
// ?per_page.
func (h *Handler) ActivityLog(c *fiber.Ctx) error {
	entries, total, err := h.Market.Moderation.ActivityLog(c.UserContext(), actor(c), c.QueryInt("page", 1), c.QueryInt("per_page", 50))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "total": total})
}

// Anomalies reports records that break the booking and payment invariants.
func (h *Handler) Anomalies(c *fiber.Ctx) error {
	found, err := h.Bookings.Anomalies(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(found)
}

// Reconcile finishes interrupted booking operations on demand.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	report, err := h.Bookings.Reconcile(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	h.Log.Info("reconciled on request",
		zap.Int64("admin_id", actor(c).ID),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed))
	return c.JSON(report)
}

package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/marketplace"
)

type serviceRequest struct {
	CategoryID  int64   `json:"category_id" validate:"required,gt=0"`
	ServiceName string  `json:"service_name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=5000"`
	Price       float64 `json:"price" validate:"gte=0"`
	Location    string  `json:"location" validate:"required,max=255"`
}

func (r serviceRequest) input() marketplace.ServiceInput {
	return marketplace.ServiceInput{
		CategoryID:  r.CategoryID,
		ServiceName: r.ServiceName,
		Description: r.Description,
		Price:       r.Price,
		Location:    r.Location,
	}
}

type categoryRequest struct {
	CategoryName string `json:"category_name" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=1000"`
}

func queryFloat(c *fiber.Ctx, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.InvalidInput("%s must be a number", key)
	}
	return &v, nil
}

// GetAllServices browses the catalog. Supported query parameters are q,
// category, location, min_price, max_price and sort.
func (h *Handler) GetAllServices(c *fiber.Ctx) error {
	f := marketplace.BrowseFilter{
		Query:      c.Query("q"),
		CategoryID: int64(c.QueryInt("category")),
		Location:   c.Query("location"),
		Sort:       c.Query("sort", marketplace.SortPopular),
	}
	var err error
	if f.MinPrice, err = queryFloat(c, "min_price"); err != nil {
		return h.fail(c, err)
	}
	if f.MaxPrice, err = queryFloat(c, "max_price"); err != nil {
		return h.fail(c, err)
	}
	listings, err := h.Market.Catalog.Browse(c.UserContext(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(listings)
}

func (h *Handler) GetService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	l, err := h.Market.Catalog.GetService(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(l)
}

// MyServices lists the calling provider's services in every status.
func (h *Handler) MyServices(c *fiber.Ctx) error {
	services, err := h.Market.Catalog.ProviderServices(c.UserContext(), actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(services)
}

func (h *Handler) CreateService(c *fiber.Ctx) error {
	var req serviceRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	s, err := h.Market.Catalog.AddService(c.UserContext(), actor(c), req.input())
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s)
}

func (h *Handler) UpdateService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req serviceRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	s, err := h.Market.Catalog.EditService(c.UserContext(), actor(c), id, req.input())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(s)
}

func (h *Handler) DeleteService(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.Market.Catalog.DeleteService(c.UserContext(), actor(c), id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Service deleted successfully"})
}

// GetCategories lists the active categories.
func (h *Handler) GetCategories(c *fiber.Ctx) error {
	cats, err := h.Market.Catalog.Categories(c.UserContext(), false)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cats)
}

// RequestCategory lets a provider propose a new category for approval.
func (h *Handler) RequestCategory(c *fiber.Ctx) error {
	var req categoryRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	cat, err := h.Market.Catalog.RequestCategory(c.UserContext(), actor(c), req.CategoryName, req.Description)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cat)
}

package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"golang.org/x/sync/errgroup"
)

const requestedCategoryOrder = 999

// Catalog manages services and their categories.
type Catalog struct {
	*base
}

type ServiceInput struct {
	CategoryID  int64
	ServiceName string
	Description string
	Price       float64
	Location    string
}

func (in ServiceInput) validate() error {
	if strings.TrimSpace(in.ServiceName) == "" {
		return apperrors.InvalidInput("service name is required")
	}
	if in.Price < 0 {
		return apperrors.InvalidInput("price cannot be negative")
	}
	return nil
}

func (c *Catalog) activeCategory(ctx context.Context, id int64) error {
	cat, err := c.tables.Categories.Get(ctx, id)
	if err != nil {
		return err
	}
	if !cat.IsActive {
		return apperrors.InvalidInput("category %q is not available", cat.CategoryName)
	}
	return nil
}

// AddService submits a provider's new service for approval.
func (c *Catalog) AddService(ctx context.Context, actor lifecycle.Actor, in ServiceInput) (models.Service, error) {
	if err := requireActiveProvider(actor); err != nil {
		return models.Service{}, err
	}
	if err := in.validate(); err != nil {
		return models.Service{}, err
	}
	if err := c.activeCategory(ctx, in.CategoryID); err != nil {
		return models.Service{}, err
	}
	now := c.now().UTC()
	s, err := c.tables.Services.Insert(ctx, models.Service{
		CategoryID:  in.CategoryID,
		ProviderID:  actor.ID,
		ServiceName: strings.TrimSpace(in.ServiceName),
		Description: in.Description,
		Price:       models.Round2(in.Price),
		Location:    in.Location,
		Status:      models.ServicePendingApproval,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return models.Service{}, err
	}
	c.notifyAdmins(ctx, fmt.Sprintf("New service %q submitted by %s for approval.", s.ServiceName, c.displayName(ctx, actor.ID)))
	return s, nil
}

func (c *Catalog) ownService(ctx context.Context, actor lifecycle.Actor, id int64) (models.Service, error) {
	if err := requireActiveProvider(actor); err != nil {
		return models.Service{}, err
	}
	s, err := c.tables.Services.Get(ctx, id)
	if err != nil {
		return models.Service{}, err
	}
	if s.ProviderID != actor.ID {
		return models.Service{}, denied("you can only manage your own services")
	}
	return s, nil
}

// EditService changes the details of one of the provider's services. The
// approval status is kept.
func (c *Catalog) EditService(ctx context.Context, actor lifecycle.Actor, id int64, in ServiceInput) (models.Service, error) {
	if _, err := c.ownService(ctx, actor, id); err != nil {
		return models.Service{}, err
	}
	if err := in.validate(); err != nil {
		return models.Service{}, err
	}
	if err := c.activeCategory(ctx, in.CategoryID); err != nil {
		return models.Service{}, err
	}
	return c.tables.Services.Modify(ctx, id, func(s *models.Service) error {
		s.CategoryID = in.CategoryID
		s.ServiceName = strings.TrimSpace(in.ServiceName)
		s.Description = in.Description
		s.Price = models.Round2(in.Price)
		s.Location = in.Location
		s.UpdatedAt = c.now().UTC()
		return nil
	})
}

// deleteService removes a service nobody has booked.
func (c *Catalog) deleteService(ctx context.Context, id int64) error {
	bookings, err := c.tables.Bookings.FindBy(ctx, "service_id", id)
	if err != nil {
		return err
	}
	if len(bookings) > 0 {
		return apperrors.StillReferenced(models.ServicesCollection, id, models.BookingsCollection, len(bookings))
	}
	_, err = c.tables.Services.Delete(ctx, id)
	return err
}

func (c *Catalog) DeleteService(ctx context.Context, actor lifecycle.Actor, id int64) error {
	if _, err := c.ownService(ctx, actor, id); err != nil {
		return err
	}
	return c.deleteService(ctx, id)
}

// ProviderServices lists every service of the actor, whatever its status.
func (c *Catalog) ProviderServices(ctx context.Context, actor lifecycle.Actor) ([]models.Service, error) {
	if actor.Role != models.RoleProvider {
		return nil, denied("only service providers have services")
	}
	return c.tables.Services.FindBy(ctx, "provider_id", actor.ID)
}

func (c *Catalog) ApproveService(ctx context.Context, admin lifecycle.Actor, id int64) (models.Service, error) {
	if err := requireAdmin(admin); err != nil {
		return models.Service{}, err
	}
	s, err := c.tables.Services.Modify(ctx, id, func(s *models.Service) error {
		s.Status = models.ServiceActive
		s.FlaggedReason = ""
		s.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return models.Service{}, err
	}
	c.audit(ctx, admin.ID, models.ActionServiceApprove, "service", id, s.ServiceName)
	return s, nil
}

// FlagService takes a service off the catalog and tells its provider why.
func (c *Catalog) FlagService(ctx context.Context, admin lifecycle.Actor, id int64, reason string) (models.Service, error) {
	if err := requireAdmin(admin); err != nil {
		return models.Service{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Service{}, apperrors.InvalidInput("a reason is required")
	}
	s, err := c.tables.Services.Modify(ctx, id, func(s *models.Service) error {
		s.Status = models.ServiceFlagged
		s.FlaggedReason = reason
		s.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return models.Service{}, err
	}
	c.audit(ctx, admin.ID, models.ActionServiceFlag, "service", id, reason)
	c.notify(ctx, notify.Message{
		UserID: s.ProviderID,
		Text:   fmt.Sprintf("Your service %q has been flagged for review. Reason: %s", s.ServiceName, reason),
	})
	return s, nil
}

// AdminServiceEdit is an admin's change to any service, status included.
type AdminServiceEdit struct {
	ServiceName string
	Description string
	Price       float64
	Location    string
	Status      models.ServiceStatus
}

func (c *Catalog) AdminEditService(ctx context.Context, admin lifecycle.Actor, id int64, in AdminServiceEdit) (models.Service, error) {
	if err := requireAdmin(admin); err != nil {
		return models.Service{}, err
	}
	if err := (ServiceInput{ServiceName: in.ServiceName, Price: in.Price}).validate(); err != nil {
		return models.Service{}, err
	}
	if !in.Status.Valid() {
		return models.Service{}, apperrors.InvalidInput("unknown service status %q", in.Status)
	}
	s, err := c.tables.Services.Modify(ctx, id, func(s *models.Service) error {
		s.ServiceName = strings.TrimSpace(in.ServiceName)
		s.Description = in.Description
		s.Price = models.Round2(in.Price)
		s.Location = in.Location
		s.Status = in.Status
		s.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return models.Service{}, err
	}
	c.audit(ctx, admin.ID, models.ActionServiceEdit, "service", id, s.ServiceName)
	return s, nil
}

func (c *Catalog) AdminDeleteService(ctx context.Context, admin lifecycle.Actor, id int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	s, err := c.tables.Services.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.deleteService(ctx, id); err != nil {
		return err
	}
	c.audit(ctx, admin.ID, models.ActionServiceDelete, "service", id, s.ServiceName)
	return nil
}

// AdminServices lists every service, newest first, optionally only those
// in one status.
func (c *Catalog) AdminServices(ctx context.Context, admin lifecycle.Actor, status models.ServiceStatus) ([]models.Service, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	out, err := c.tables.Services.Filter(ctx, func(s models.Service) bool {
		return status == "" || s.Status == status
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Categories returns categories by display order. Inactive ones, pending
// requests included, are only listed when all is set.
func (c *Catalog) Categories(ctx context.Context, all bool) ([]models.ServiceCategory, error) {
	out, err := c.tables.Categories.Filter(ctx, func(cat models.ServiceCategory) bool {
		return all || cat.IsActive
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return out, nil
}

type CategoryInput struct {
	CategoryName string
	Description  string
	IsActive     bool
	DisplayOrder int
}

func (in CategoryInput) normalize() (CategoryInput, error) {
	in.CategoryName = strings.TrimSpace(in.CategoryName)
	if in.CategoryName == "" {
		return in, apperrors.InvalidInput("category name is required")
	}
	if in.DisplayOrder <= 0 {
		in.DisplayOrder = requestedCategoryOrder
	}
	return in, nil
}

func (c *Catalog) AddCategory(ctx context.Context, admin lifecycle.Actor, in CategoryInput) (models.ServiceCategory, error) {
	if err := requireAdmin(admin); err != nil {
		return models.ServiceCategory{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return models.ServiceCategory{}, err
	}
	cat, err := c.tables.Categories.Insert(ctx, models.ServiceCategory{
		CategoryName: in.CategoryName,
		Description:  in.Description,
		IsActive:     in.IsActive,
		DisplayOrder: in.DisplayOrder,
		CreatedAt:    c.now().UTC(),
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	c.audit(ctx, admin.ID, models.ActionCategoryChange, "category", cat.ID, "added "+cat.CategoryName)
	return cat, nil
}

func (c *Catalog) EditCategory(ctx context.Context, admin lifecycle.Actor, id int64, in CategoryInput) (models.ServiceCategory, error) {
	if err := requireAdmin(admin); err != nil {
		return models.ServiceCategory{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return models.ServiceCategory{}, err
	}
	cat, err := c.tables.Categories.Modify(ctx, id, func(cat *models.ServiceCategory) error {
		cat.CategoryName = in.CategoryName
		cat.Description = in.Description
		cat.IsActive = in.IsActive
		cat.DisplayOrder = in.DisplayOrder
		return nil
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	c.audit(ctx, admin.ID, models.ActionCategoryChange, "category", id, "edited "+cat.CategoryName)
	return cat, nil
}

func (c *Catalog) deleteCategory(ctx context.Context, id int64) error {
	services, err := c.tables.Services.FindBy(ctx, "category_id", id)
	if err != nil {
		return err
	}
	if len(services) > 0 {
		return apperrors.StillReferenced(models.CategoriesCollection, id, models.ServicesCollection, len(services))
	}
	_, err = c.tables.Categories.Delete(ctx, id)
	return err
}

// DeleteCategory removes a category that no service uses.
func (c *Catalog) DeleteCategory(ctx context.Context, admin lifecycle.Actor, id int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	cat, err := c.tables.Categories.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.deleteCategory(ctx, id); err != nil {
		return err
	}
	c.audit(ctx, admin.ID, models.ActionCategoryChange, "category", id, "deleted "+cat.CategoryName)
	return nil
}

// RequestCategory records a provider's request for a new category. It stays
// inactive until an admin approves it.
func (c *Catalog) RequestCategory(ctx context.Context, actor lifecycle.Actor, name, description string) (models.ServiceCategory, error) {
	if err := requireActiveProvider(actor); err != nil {
		return models.ServiceCategory{}, err
	}
	in, err := CategoryInput{CategoryName: name, Description: description}.normalize()
	if err != nil {
		return models.ServiceCategory{}, err
	}
	cat, err := c.tables.Categories.Insert(ctx, models.ServiceCategory{
		CategoryName: in.CategoryName,
		Description:  in.Description,
		DisplayOrder: in.DisplayOrder,
		Status:       models.CategoryPendingApproval,
		RequestedBy:  actor.ID,
		CreatedAt:    c.now().UTC(),
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	text := fmt.Sprintf("New category %q requested by %s", cat.CategoryName, c.displayName(ctx, actor.ID))
	c.audit(ctx, 0, models.ActionCategoryRequest, "category", cat.ID, text)
	c.notifyAdmins(ctx, text)
	return cat, nil
}

func (c *Catalog) pendingRequest(ctx context.Context, id int64) (models.ServiceCategory, error) {
	cat, err := c.tables.Categories.Get(ctx, id)
	if err != nil {
		return models.ServiceCategory{}, err
	}
	if cat.Status != models.CategoryPendingApproval {
		return models.ServiceCategory{}, denied("category %q is not awaiting approval", cat.CategoryName)
	}
	return cat, nil
}

func (c *Catalog) ApproveCategory(ctx context.Context, admin lifecycle.Actor, id int64) (models.ServiceCategory, error) {
	if err := requireAdmin(admin); err != nil {
		return models.ServiceCategory{}, err
	}
	if _, err := c.pendingRequest(ctx, id); err != nil {
		return models.ServiceCategory{}, err
	}
	cat, err := c.tables.Categories.Modify(ctx, id, func(cat *models.ServiceCategory) error {
		if cat.Status != models.CategoryPendingApproval {
			return denied("category %q is not awaiting approval", cat.CategoryName)
		}
		cat.IsActive = true
		cat.Status = models.CategoryApproved
		return nil
	})
	if err != nil {
		return models.ServiceCategory{}, err
	}
	c.audit(ctx, admin.ID, models.ActionCategoryDecision, "category", id, "approved "+cat.CategoryName)
	if cat.RequestedBy != 0 {
		c.notify(ctx, notify.Message{
			UserID: cat.RequestedBy,
			Text:   fmt.Sprintf("Your custom category request %q has been approved!", cat.CategoryName),
		})
	}
	return cat, nil
}

// RejectCategory deletes a pending request and tells the requester.
func (c *Catalog) RejectCategory(ctx context.Context, admin lifecycle.Actor, id int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	cat, err := c.pendingRequest(ctx, id)
	if err != nil {
		return err
	}
	if err := c.deleteCategory(ctx, id); err != nil {
		return err
	}
	c.audit(ctx, admin.ID, models.ActionCategoryDecision, "category", id, "rejected "+cat.CategoryName)
	if cat.RequestedBy != 0 {
		c.notify(ctx, notify.Message{
			UserID: cat.RequestedBy,
			Text: fmt.Sprintf("Your custom category request %q has been rejected. Please contact support for more information.",
				cat.CategoryName),
		})
	}
	return nil
}

// Browse sort orders.
const (
	SortPopular   = "popular"
	SortPriceLow  = "price_low"
	SortPriceHigh = "price_high"
	SortNewest    = "newest"
)

type BrowseFilter struct {
	Query      string
	CategoryID int64
	Location   string
	MinPrice   *float64
	MaxPrice   *float64
	Sort       string
	// ViewerID also lists the viewer's own services that are not active.
	ViewerID int64
}

type Listing struct {
	models.Service
	CategoryName string  `json:"category_name"`
	ProviderName string  `json:"provider_name"`
	AvgRating    float64 `json:"avg_rating"`
	ReviewCount  int     `json:"review_count"`
}

func (f BrowseFilter) matches(s models.Service) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(s.ServiceName), q) &&
			!strings.Contains(strings.ToLower(s.Description), q) &&
			!strings.Contains(strings.ToLower(s.Location), q) {
			return false
		}
	}
	if f.CategoryID != 0 && s.CategoryID != f.CategoryID {
		return false
	}
	if l := strings.ToLower(strings.TrimSpace(f.Location)); l != "" && !strings.Contains(strings.ToLower(s.Location), l) {
		return false
	}
	if f.MinPrice != nil && s.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && s.Price > *f.MaxPrice {
		return false
	}
	return true
}

// Browse lists the active services of active providers that match f.
func (c *Catalog) Browse(ctx context.Context, f BrowseFilter) ([]Listing, error) {
	var (
		services   []models.Service
		users      []models.User
		categories []models.ServiceCategory
		bookings   []models.Booking
		reviews    []models.Review
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { services, err = c.tables.Services.All(gctx); return err })
	g.Go(func() (err error) { users, err = c.tables.Users.All(gctx); return err })
	g.Go(func() (err error) { categories, err = c.tables.Categories.All(gctx); return err })
	g.Go(func() (err error) { bookings, err = c.tables.Bookings.All(gctx); return err })
	g.Go(func() (err error) { reviews, err = c.tables.Reviews.All(gctx); return err })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	providers := make(map[int64]models.User, len(users))
	for _, u := range users {
		providers[u.ID] = u
	}
	categoryNames := make(map[int64]string, len(categories))
	for _, cat := range categories {
		categoryNames[cat.ID] = cat.CategoryName
	}
	serviceOf := make(map[int64]int64, len(bookings))
	for _, b := range bookings {
		serviceOf[b.ID] = b.ServiceID
	}
	ratingSum := map[int64]int{}
	ratingCount := map[int64]int{}
	for _, r := range reviews {
		if sid, ok := serviceOf[r.BookingID]; ok {
			ratingSum[sid] += r.Rating
			ratingCount[sid]++
		}
	}

	out := []Listing{}
	for _, s := range services {
		own := f.ViewerID != 0 && s.ProviderID == f.ViewerID
		if s.Status != models.ServiceActive && !own {
			continue
		}
		p, ok := providers[s.ProviderID]
		if !ok || !p.Active() || !f.matches(s) {
			continue
		}
		l := Listing{
			Service:      s,
			CategoryName: categoryNames[s.CategoryID],
			ProviderName: p.Name,
			ReviewCount:  ratingCount[s.ID],
		}
		if l.ReviewCount > 0 {
			l.AvgRating = models.Round2(float64(ratingSum[s.ID]) / float64(l.ReviewCount))
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case SortPriceLow:
			return a.Price < b.Price
		case SortPriceHigh:
			return a.Price > b.Price
		case SortNewest:
			return a.ID > b.ID
		default:
			if a.ReviewCount != b.ReviewCount {
				return a.ReviewCount > b.ReviewCount
			}
			return a.AvgRating > b.AvgRating
		}
	})
	return out, nil
}

// GetService returns a service with its category and provider names.
func (c *Catalog) GetService(ctx context.Context, id int64) (Listing, error) {
	s, err := c.tables.Services.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	l := Listing{Service: s}
	if cat, err := c.tables.Categories.Get(ctx, s.CategoryID); err == nil {
		l.CategoryName = cat.CategoryName
	}
	if p, err := c.tables.Users.Get(ctx, s.ProviderID); err == nil {
		l.ProviderName = p.Name
	}
	return l, nil
}

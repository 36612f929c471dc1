package marketplace

import (
	"context"
	"sort"
	"time"

	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
)

// Recommendation bounds on the user dashboard.
const (
	recommendedMinRating = 4.5
	recommendedCount     = 4
)

// ProviderOverview is a provider's own dashboard.
type ProviderOverview struct {
	TotalServices    int       `json:"total_services"`
	ActiveServices   int       `json:"active_services"`
	TotalBookings    int       `json:"total_bookings"`
	PendingBookings  int       `json:"pending_bookings"`
	AverageRating    float64   `json:"average_rating"`
	ReviewCount      int       `json:"review_count"`
	TotalEarnings    float64   `json:"total_earnings"`
	ResponseRate     float64   `json:"response_rate"`
	CompletionRate   float64   `json:"completion_rate"`
	SatisfactionRate float64   `json:"satisfaction_rate"`
	LastUpdated      time.Time `json:"last_updated"`
}

// UserOverview is a requester's own dashboard.
type UserOverview struct {
	TotalBookings     int       `json:"total_bookings"`
	PendingBookings   int       `json:"pending_bookings"`
	CompletedBookings int       `json:"completed_bookings"`
	CancelledBookings int       `json:"cancelled_bookings"`
	TotalSpent        float64   `json:"total_spent"`
	Recommended       []Listing `json:"recommended_services,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// providerOverview counts everything in s that belongs to provider id.
func providerOverview(s snapshot, id int64, now time.Time) ProviderOverview {
	o := ProviderOverview{LastUpdated: now}
	prices := map[int64]float64{}
	for _, svc := range s.services {
		prices[svc.ID] = svc.Price
		if svc.ProviderID != id {
			continue
		}
		o.TotalServices++
		if svc.Status == models.ServiceActive {
			o.ActiveServices++
		}
	}

	var responded, completed int
	for _, b := range s.bookings {
		if b.ProviderID != id {
			continue
		}
		o.TotalBookings++
		switch b.BookingStatus {
		case models.BookingPending:
			o.PendingBookings++
		case models.BookingCompleted:
			completed++
			o.TotalEarnings += prices[b.ServiceID]
		}
		if b.BookingStatus != models.BookingPending {
			responded++
		}
	}
	o.TotalEarnings = models.Round2(o.TotalEarnings)
	o.ResponseRate = percent(responded, o.TotalBookings)
	o.CompletionRate = percent(completed, o.TotalBookings)

	var sum, satisfied int
	for _, r := range s.reviews {
		if r.ProviderID != id {
			continue
		}
		o.ReviewCount++
		sum += r.Rating
		if r.Rating >= 4 {
			satisfied++
		}
	}
	if o.ReviewCount > 0 {
		o.AverageRating = models.Round2(float64(sum) / float64(o.ReviewCount))
	}
	o.SatisfactionRate = percent(satisfied, o.ReviewCount)
	return o
}

// ProviderOverview returns the calling provider's statistics.
func (a *Analytics) ProviderOverview(ctx context.Context, provider lifecycle.Actor) (ProviderOverview, error) {
	if provider.Role != models.RoleProvider {
		return ProviderOverview{}, denied("only service providers have a provider dashboard")
	}
	s, err := a.load(ctx)
	if err != nil {
		return ProviderOverview{}, err
	}
	return providerOverview(s, provider.ID, a.now().UTC()), nil
}

// userOverview counts the bookings user id made and what they paid.
func userOverview(s snapshot, id int64, now time.Time) UserOverview {
	o := UserOverview{LastUpdated: now}
	mine := map[int64]bool{}
	for _, b := range s.bookings {
		if b.UserID != id {
			continue
		}
		mine[b.ID] = true
		o.TotalBookings++
		switch b.BookingStatus {
		case models.BookingPending:
			o.PendingBookings++
		case models.BookingCompleted:
			o.CompletedBookings++
		case models.BookingCancelled:
			o.CancelledBookings++
		}
	}
	for _, p := range s.payments {
		if mine[p.BookingID] && p.PaymentStatus == models.PaymentCompleted {
			o.TotalSpent += p.TotalAmount
		}
	}
	o.TotalSpent = models.Round2(o.TotalSpent)
	return o
}

// UserOverview returns the calling user's booking counts and spending, with
// up to four highly rated services to try next.
func (a *Analytics) UserOverview(ctx context.Context, user lifecycle.Actor) (UserOverview, error) {
	if user.Role != models.RoleUser {
		return UserOverview{}, denied("only users have a user dashboard")
	}
	s, err := a.load(ctx)
	if err != nil {
		return UserOverview{}, err
	}
	o := userOverview(s, user.ID, a.now().UTC())
	o.Recommended = recommended(s)
	return o, nil
}

// recommended lists active services of active providers rated above
// recommendedMinRating, best first.
func recommended(s snapshot) []Listing {
	users := map[int64]models.User{}
	for _, u := range s.users {
		users[u.ID] = u
	}
	categories := map[int64]string{}
	for _, c := range s.categories {
		categories[c.ID] = c.CategoryName
	}
	serviceOf := map[int64]int64{}
	for _, b := range s.bookings {
		serviceOf[b.ID] = b.ServiceID
	}
	sum := map[int64]int{}
	count := map[int64]int{}
	for _, r := range s.reviews {
		id := serviceOf[r.BookingID]
		sum[id] += r.Rating
		count[id]++
	}

	out := []Listing{}
	for _, svc := range s.services {
		provider, ok := users[svc.ProviderID]
		if svc.Status != models.ServiceActive || !ok || !provider.Active() || count[svc.ID] == 0 {
			continue
		}
		avg := float64(sum[svc.ID]) / float64(count[svc.ID])
		if avg <= recommendedMinRating {
			continue
		}
		out = append(out, Listing{
			Service:      svc,
			CategoryName: categories[svc.CategoryID],
			ProviderName: provider.Name,
			AvgRating:    models.Round2(avg),
			ReviewCount:  count[svc.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AvgRating != out[j].AvgRating {
			return out[i].AvgRating > out[j].AvgRating
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > recommendedCount {
		out = out[:recommendedCount]
	}
	return out
}

// Dashboard returns the overview that fits the actor's role: the platform
// report for admins, ProviderOverview for providers and UserOverview for
// users.
func (a *Analytics) Dashboard(ctx context.Context, actor lifecycle.Actor) (any, error) {
	switch actor.Role {
	case models.RoleAdmin:
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
		return a.Compute(ctx)
	case models.RoleProvider:
		return a.ProviderOverview(ctx, actor)
	default:
		return a.UserOverview(ctx, actor)
	}
}

package marketplace

import (
	"context"
	"sort"
	"strconv"

	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const topProviderCount = 10

// Analytics computes platform statistics.
type Analytics struct {
	*base
}

type UserStats struct {
	Users     int `json:"total_users"`
	Providers int `json:"total_providers"`
	Verified  int `json:"verified_users"`
	Active    int `json:"active_users"`
	Suspended int `json:"suspended_users"`
	Banned    int `json:"banned_users"`
}

type BookingStats struct {
	Total            int                          `json:"total_bookings"`
	ByStatus         map[models.BookingStatus]int `json:"by_status"`
	CancellationRate float64                      `json:"cancellation_rate"`
	CompletionRate   float64                      `json:"completion_rate"`
	AcceptanceRate   float64                      `json:"acceptance_rate"`
}

type RevenueStats struct {
	TotalRevenue     float64 `json:"total_revenue"`
	PlatformFees     float64 `json:"platform_fees"`
	PendingPayments  float64 `json:"pending_payments"`
	RefundedPayments float64 `json:"refunded_payments"`
	AvgBookingValue  float64 `json:"avg_booking_value"`
}

type ProviderEarnings struct {
	ProviderID  int64   `json:"provider_id"`
	Name        string  `json:"name"`
	Earnings    float64 `json:"earnings"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

type Report struct {
	Users             UserStats                    `json:"user_stats"`
	Bookings          BookingStats                 `json:"booking_stats"`
	Revenue           RevenueStats                 `json:"revenue_stats"`
	Services          map[models.ServiceStatus]int `json:"service_stats"`
	ServicePopularity map[string]int               `json:"service_popularity"`
	PaymentMethods    map[string]int               `json:"payment_method_dist"`
	TopProviders      []ProviderEarnings           `json:"top_providers"`
}

type snapshot struct {
	users      []models.User
	services   []models.Service
	categories []models.ServiceCategory
	bookings   []models.Booking
	payments   []models.Payment
	reviews    []models.Review
}

func (b *base) load(ctx context.Context) (snapshot, error) {
	var s snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { s.users, err = b.tables.Users.All(gctx); return err })
	g.Go(func() (err error) { s.services, err = b.tables.Services.All(gctx); return err })
	g.Go(func() (err error) { s.categories, err = b.tables.Categories.All(gctx); return err })
	g.Go(func() (err error) { s.bookings, err = b.tables.Bookings.All(gctx); return err })
	g.Go(func() (err error) { s.payments, err = b.tables.Payments.All(gctx); return err })
	g.Go(func() (err error) { s.reviews, err = b.tables.Reviews.All(gctx); return err })
	return s, g.Wait()
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return models.Round2(float64(n) * 100 / float64(total))
}

// Compute builds a report from the current collections.
func (a *Analytics) Compute(ctx context.Context) (Report, error) {
	s, err := a.load(ctx)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		Bookings:          BookingStats{ByStatus: map[models.BookingStatus]int{}},
		Services:          map[models.ServiceStatus]int{},
		ServicePopularity: map[string]int{},
		PaymentMethods:    map[string]int{},
		TopProviders:      []ProviderEarnings{},
	}

	names := map[int64]string{}
	for _, u := range s.users {
		names[u.ID] = u.Name
		switch u.Role {
		case models.RoleUser:
			r.Users.Users++
		case models.RoleProvider:
			r.Users.Providers++
		}
		if u.EmailVerified {
			r.Users.Verified++
		}
		switch u.Status {
		case models.UserActive:
			r.Users.Active++
		case models.UserSuspended:
			r.Users.Suspended++
		case models.UserBanned:
			r.Users.Banned++
		}
	}

	r.Bookings.Total = len(s.bookings)
	for _, b := range s.bookings {
		r.Bookings.ByStatus[b.BookingStatus]++
	}
	r.Bookings.CancellationRate = percent(r.Bookings.ByStatus[models.BookingCancelled], r.Bookings.Total)
	r.Bookings.CompletionRate = percent(r.Bookings.ByStatus[models.BookingCompleted], r.Bookings.Total)
	r.Bookings.AcceptanceRate = percent(r.Bookings.ByStatus[models.BookingAccepted], r.Bookings.Total)

	var completedPayments int
	var completedAmount float64
	for _, p := range s.payments {
		switch p.PaymentStatus {
		case models.PaymentCompleted:
			completedPayments++
			completedAmount += p.PaymentAmount
			r.Revenue.TotalRevenue += p.TotalAmount
			r.Revenue.PlatformFees += p.PlatformFee
			r.PaymentMethods[p.PaymentMethod]++
		case models.PaymentPending:
			r.Revenue.PendingPayments += p.TotalAmount
		case models.PaymentRefunded:
			r.Revenue.RefundedPayments += p.TotalAmount
		}
	}
	r.Revenue.TotalRevenue = models.Round2(r.Revenue.TotalRevenue)
	r.Revenue.PlatformFees = models.Round2(r.Revenue.PlatformFees)
	r.Revenue.PendingPayments = models.Round2(r.Revenue.PendingPayments)
	r.Revenue.RefundedPayments = models.Round2(r.Revenue.RefundedPayments)
	if completedPayments > 0 {
		r.Revenue.AvgBookingValue = models.Round2(completedAmount / float64(completedPayments))
	}

	services := map[int64]models.Service{}
	for _, svc := range s.services {
		services[svc.ID] = svc
		r.Services[svc.Status]++
	}
	bookingsPerCategory := map[int64]int{}
	earnings := map[int64]float64{}
	for _, b := range s.bookings {
		svc, ok := services[b.ServiceID]
		if !ok {
			continue
		}
		bookingsPerCategory[svc.CategoryID]++
		if b.BookingStatus == models.BookingCompleted {
			earnings[b.ProviderID] += svc.Price
		}
	}
	for _, cat := range s.categories {
		if cat.IsActive {
			r.ServicePopularity[cat.CategoryName] = bookingsPerCategory[cat.ID]
		}
	}

	ratingSum := map[int64]int{}
	ratingCount := map[int64]int{}
	for _, rv := range s.reviews {
		ratingSum[rv.ProviderID] += rv.Rating
		ratingCount[rv.ProviderID]++
	}
	for id, e := range earnings {
		pe := ProviderEarnings{ProviderID: id, Name: names[id], Earnings: models.Round2(e), ReviewCount: ratingCount[id]}
		if pe.ReviewCount > 0 {
			pe.Rating = models.Round2(float64(ratingSum[id]) / float64(pe.ReviewCount))
		}
		r.TopProviders = append(r.TopProviders, pe)
	}
	sort.Slice(r.TopProviders, func(i, j int) bool {
		if r.TopProviders[i].Earnings != r.TopProviders[j].Earnings {
			return r.TopProviders[i].Earnings > r.TopProviders[j].Earnings
		}
		return r.TopProviders[i].ProviderID < r.TopProviders[j].ProviderID
	})
	if len(r.TopProviders) > topProviderCount {
		r.TopProviders = r.TopProviders[:topProviderCount]
	}
	return r, nil
}

// Snapshot computes a report and records its headline numbers in
// Platform_Metrics.
func (a *Analytics) Snapshot(ctx context.Context) (Report, models.PlatformMetric, error) {
	r, err := a.Compute(ctx)
	if err != nil {
		return Report{}, models.PlatformMetric{}, err
	}
	m, err := a.tables.Metrics.Insert(ctx, models.PlatformMetric{
		TotalUsers:        r.Users.Users,
		TotalProviders:    r.Users.Providers,
		TotalBookings:     r.Bookings.Total,
		CompletedBookings: r.Bookings.ByStatus[models.BookingCompleted],
		TotalRevenue:      r.Revenue.TotalRevenue,
		PlatformFees:      r.Revenue.PlatformFees,
		ServicePopularity: r.ServicePopularity,
		PaymentMethods:    r.PaymentMethods,
		RecordedAt:        a.now().UTC(),
	})
	if err != nil {
		return Report{}, models.PlatformMetric{}, err
	}
	a.log.Debug("metrics recorded", zap.Int64("id", m.ID), zap.Int("bookings", m.TotalBookings))
	return r, m, nil
}

// AdminReport is the admin's analytics view. Each view is also recorded.
func (a *Analytics) AdminReport(ctx context.Context, admin lifecycle.Actor) (Report, error) {
	if err := requireAdmin(admin); err != nil {
		return Report{}, err
	}
	r, _, err := a.Snapshot(ctx)
	return r, err
}

// Fraud signal thresholds.
const (
	lowRatingThreshold     = 2.5
	minReviewsForLowRating = 3
	repeatCancellations    = 3
	repeatFailedPayments   = 3
)

type FraudSignal struct {
	Kind   string `json:"kind"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// FraudSignals flags low rated providers, users who cancel or fail to pay
// repeatedly, and accounts sharing a contact number.
func (a *Analytics) FraudSignals(ctx context.Context, admin lifecycle.Actor) ([]FraudSignal, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	s, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	names := map[int64]string{}
	for _, u := range s.users {
		names[u.ID] = u.Name
	}
	out := []FraudSignal{}
	add := func(kind string, id int64, detail string) {
		out = append(out, FraudSignal{Kind: kind, UserID: id, Name: names[id], Detail: detail})
	}

	ratingSum := map[int64]int{}
	ratingCount := map[int64]int{}
	for _, rv := range s.reviews {
		ratingSum[rv.ProviderID] += rv.Rating
		ratingCount[rv.ProviderID]++
	}
	for id, n := range ratingCount {
		avg := float64(ratingSum[id]) / float64(n)
		if n >= minReviewsForLowRating && avg < lowRatingThreshold {
			add("low_rating", id, strconv.FormatFloat(avg, 'f', 2, 64)+" average over "+strconv.Itoa(n)+" reviews")
		}
	}

	requester := map[int64]int64{}
	cancellations := map[int64]int{}
	for _, b := range s.bookings {
		requester[b.ID] = b.UserID
		if b.BookingStatus == models.BookingCancelled {
			cancellations[b.UserID]++
		}
	}
	for id, n := range cancellations {
		if n >= repeatCancellations {
			add("repeat_cancellations", id, strconv.Itoa(n)+" cancelled bookings")
		}
	}

	failed := map[int64]int{}
	for _, p := range s.payments {
		if p.PaymentStatus == models.PaymentFailed {
			failed[requester[p.BookingID]]++
		}
	}
	for id, n := range failed {
		if id != 0 && n >= repeatFailedPayments {
			add("failed_payments", id, strconv.Itoa(n)+" failed payments")
		}
	}

	byPhone := map[string][]int64{}
	for _, u := range s.users {
		if u.ContactNumber != "" {
			byPhone[u.ContactNumber] = append(byPhone[u.ContactNumber], u.ID)
		}
	}
	for phone, ids := range byPhone {
		if len(ids) > 1 {
			for _, id := range ids {
				add("shared_contact_number", id, phone)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

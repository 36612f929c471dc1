package lifecycle

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/models"
)

type CreateBookingInput struct {
	ServiceID     int64
	ServiceDate   time.Time
	PaymentMethod string
	Location      string
	ContactNumber string
}

// BookingView is a booking with its payment and review, as the viewer may
// see them.
type BookingView struct {
	Booking models.Booking  `json:"booking"`
	Payment *models.Payment `json:"payment,omitempty"`
	Review  *models.Review  `json:"review,omitempty"`
}

// CreateBooking books a service for the actor: the booking, its pending
// payment and the provider's notification.
func (m *Manager) CreateBooking(ctx context.Context, actor Actor, in CreateBookingInput) (BookingView, error) {
	if actor.Role != models.RoleUser {
		return BookingView{}, denied("only users can book services")
	}
	if !actor.Active() {
		return BookingView{}, denied("your account is not active")
	}
	if in.ServiceDate.IsZero() {
		return BookingView{}, apperrors.InvalidInput("service date is required")
	}
	method := models.NormalizePaymentMethod(in.PaymentMethod)
	if method == "" {
		return BookingView{}, apperrors.InvalidInput("please select a payment method")
	}
	methods, err := m.PaymentMethods(ctx)
	if err != nil {
		return BookingView{}, err
	}
	if !slices.Contains(methods, method) {
		return BookingView{}, apperrors.InvalidInput("payment method %q is not accepted (accepted: %s)", method, strings.Join(methods, ", "))
	}

	requester, err := m.tables.Users.Get(ctx, actor.ID)
	if err != nil {
		return BookingView{}, err
	}
	service, err := m.tables.Services.Get(ctx, in.ServiceID)
	if err != nil {
		return BookingView{}, err
	}
	if service.Status != models.ServiceActive {
		return BookingView{}, denied("this service is not available at the moment")
	}
	provider, err := m.tables.Users.Get(ctx, service.ProviderID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return BookingView{}, err
	}
	if err != nil || provider.Role != models.RoleProvider || !provider.Active() {
		return BookingView{}, denied("this service provider is not available at the moment")
	}

	pct, err := m.FeePercentage(ctx)
	if err != nil {
		return BookingView{}, err
	}
	otp, err := m.otp()
	if err != nil {
		return BookingView{}, err
	}

	op, err := m.begin(ctx, models.OpCreateBooking, actor, 0, models.OperationPayload{
		PaymentMethod: method,
		PaymentAmount: service.Price,
		FeePercentage: pct,
		ActorName:     requester.Name,
		ServiceName:   service.ServiceName,
	})
	if err != nil {
		return BookingView{}, err
	}

	var booking models.Booking
	err = m.execute(ctx, &op, func(ctx context.Context) (int64, error) {
		now := m.now().UTC()
		b, err := m.tables.Bookings.Insert(ctx, models.Booking{
			UserID:         actor.ID,
			ServiceID:      service.ID,
			ProviderID:     service.ProviderID,
			BookingStatus:  models.BookingPending,
			BookingDate:    now,
			ServiceDate:    in.ServiceDate.UTC(),
			OTPCode:        otp,
			Location:       in.Location,
			ContactNumber:  in.ContactNumber,
			OperationToken: op.Token,
			UpdatedAt:      now,
		})
		booking = b
		return b.ID, err
	})
	if err != nil {
		return BookingView{}, err
	}
	return m.view(ctx, booking, actor)
}

type guard func(b models.Booking) (models.BookingStatus, error)

// transition runs a booking status change as an operation of kind. check is
// evaluated once up front and again under the collection guard.
func (m *Manager) transition(ctx context.Context, actor Actor, id int64, kind models.OperationKind, reason string, check guard) (models.Booking, error) {
	unlock := m.lockBooking(id)
	defer unlock()
	m.settleBookingLocked(ctx, id)

	b, err := m.tables.Bookings.Get(ctx, id)
	if err != nil {
		return models.Booking{}, err
	}
	if _, err := check(b); err != nil {
		return models.Booking{}, err
	}

	op, err := m.begin(ctx, kind, actor, id, models.OperationPayload{
		ActorName:   m.userName(ctx, actor.ID),
		ServiceName: m.serviceName(ctx, b.ServiceID),
		Reason:      reason,
	})
	if err != nil {
		return models.Booking{}, err
	}

	var updated models.Booking
	err = m.execute(ctx, &op, func(ctx context.Context) (int64, error) {
		updated, err = m.tables.Bookings.Modify(ctx, id, func(b *models.Booking) error {
			next, err := check(*b)
			if err != nil {
				return err
			}
			b.BookingStatus = next
			b.OperationToken = op.Token
			b.UpdatedAt = m.now().UTC()
			return nil
		})
		return 0, err
	})
	if err != nil {
		return models.Booking{}, err
	}
	return updated.VisibleTo(actor.ID, actor.Role), nil
}

func ownedByProvider(actor Actor, b models.Booking) error {
	if actor.Role != models.RoleProvider || b.ProviderID != actor.ID {
		return denied("only the booking's provider can do this")
	}
	return nil
}

func ownedByRequester(actor Actor, b models.Booking) error {
	if b.UserID != actor.ID {
		return denied("only the requester of the booking can do this")
	}
	return nil
}

func requireAdmin(actor Actor) error {
	if actor.Role != models.RoleAdmin {
		return denied("admin access required")
	}
	return nil
}

func (m *Manager) Accept(ctx context.Context, actor Actor, id int64) (models.Booking, error) {
	return m.transition(ctx, actor, id, models.OpAcceptBooking, "", func(b models.Booking) (models.BookingStatus, error) {
		if err := ownedByProvider(actor, b); err != nil {
			return b.BookingStatus, err
		}
		return b.BookingStatus.Next(models.TransitionAccept)
	})
}

func (m *Manager) Reject(ctx context.Context, actor Actor, id int64) (models.Booking, error) {
	return m.transition(ctx, actor, id, models.OpRejectBooking, "", func(b models.Booking) (models.BookingStatus, error) {
		if err := ownedByProvider(actor, b); err != nil {
			return b.BookingStatus, err
		}
		return b.BookingStatus.Next(models.TransitionReject)
	})
}

// Cancel is the requester withdrawing a booking that is still pending.
func (m *Manager) Cancel(ctx context.Context, actor Actor, id int64) (models.Booking, error) {
	return m.transition(ctx, actor, id, models.OpCancelBooking, "", func(b models.Booking) (models.BookingStatus, error) {
		if err := ownedByRequester(actor, b); err != nil {
			return b.BookingStatus, err
		}
		if !actor.Active() {
			return b.BookingStatus, denied("your account is not active")
		}
		return b.BookingStatus.Next(models.TransitionCancel)
	})
}

// Complete finishes an accepted booking. otp must equal the code the
// requester received at booking time.
func (m *Manager) Complete(ctx context.Context, actor Actor, id int64, otp string) (models.Booking, error) {
	return m.transition(ctx, actor, id, models.OpCompleteBooking, "", func(b models.Booking) (models.BookingStatus, error) {
		if err := ownedByProvider(actor, b); err != nil {
			return b.BookingStatus, err
		}
		next, err := b.BookingStatus.Next(models.TransitionComplete)
		if err != nil {
			return b.BookingStatus, err
		}
		if b.OTPCode == "" || subtle.ConstantTimeCompare([]byte(otp), []byte(b.OTPCode)) != 1 {
			return b.BookingStatus, apperrors.VerificationFailure("OTP mismatch")
		}
		return next, nil
	})
}

// AdminCancel cancels any booking that has not finished and refunds its
// payment.
func (m *Manager) AdminCancel(ctx context.Context, actor Actor, id int64, reason string) (models.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Booking{}, err
	}
	return m.transition(ctx, actor, id, models.OpAdminCancelBooking, reason, func(b models.Booking) (models.BookingStatus, error) {
		return b.BookingStatus.Next(models.TransitionAdminCancel)
	})
}

// AdminComplete marks a booking completed without an OTP. The payment is
// left as it is.
func (m *Manager) AdminComplete(ctx context.Context, actor Actor, id int64, reason string) (models.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Booking{}, err
	}
	return m.transition(ctx, actor, id, models.OpAdminCompleteBooking, reason, func(b models.Booking) (models.BookingStatus, error) {
		return b.BookingStatus.Next(models.TransitionAdminComplete)
	})
}

// ConfirmPayment is the requester paying the pending payment of a booking.
func (m *Manager) ConfirmPayment(ctx context.Context, actor Actor, bookingID int64) (models.Payment, error) {
	unlock := m.lockBooking(bookingID)
	defer unlock()
	m.settleBookingLocked(ctx, bookingID)

	b, err := m.tables.Bookings.Get(ctx, bookingID)
	if err != nil {
		return models.Payment{}, err
	}
	if err := ownedByRequester(actor, b); err != nil {
		return models.Payment{}, err
	}
	if b.BookingStatus == models.BookingRejected || b.BookingStatus == models.BookingCancelled {
		return models.Payment{}, denied("booking is %s, its payment cannot be confirmed", b.BookingStatus)
	}
	p, ok, err := m.tables.Payments.FirstBy(ctx, "booking_id", bookingID)
	if err != nil {
		return models.Payment{}, err
	}
	if !ok {
		return models.Payment{}, &apperrors.Error{
			Kind:       apperrors.KindNotFound,
			Collection: models.PaymentsCollection,
			Message:    "payment information not found",
		}
	}
	if _, err := p.PaymentStatus.Confirm(); err != nil {
		return models.Payment{}, err
	}

	op, err := m.begin(ctx, models.OpConfirmPayment, actor, bookingID, models.OperationPayload{
		ActorName:   m.userName(ctx, actor.ID),
		ServiceName: m.serviceName(ctx, b.ServiceID),
	})
	if err != nil {
		return models.Payment{}, err
	}

	var updated models.Payment
	err = m.execute(ctx, &op, func(ctx context.Context) (int64, error) {
		updated, err = m.tables.Payments.Modify(ctx, p.ID, func(p *models.Payment) error {
			next, err := p.PaymentStatus.Confirm()
			if err != nil {
				return err
			}
			p.PaymentStatus = next
			m.stampPayment(p, op.Token)
			return nil
		})
		return 0, err
	})
	if err != nil {
		return models.Payment{}, err
	}
	return updated, nil
}

// SubmitReview records the requester's review of a completed booking. A
// booking takes one review only.
func (m *Manager) SubmitReview(ctx context.Context, actor Actor, bookingID int64, rating int, comment string) (models.Review, error) {
	if actor.Role != models.RoleUser {
		return models.Review{}, denied("only users can leave reviews")
	}
	if !actor.Active() {
		return models.Review{}, denied("your account is not active")
	}
	if err := models.ValidateRating(rating); err != nil {
		return models.Review{}, err
	}

	unlock := m.lockBooking(bookingID)
	defer unlock()
	m.settleBookingLocked(ctx, bookingID)

	b, err := m.tables.Bookings.Get(ctx, bookingID)
	if err != nil {
		return models.Review{}, err
	}
	if err := ownedByRequester(actor, b); err != nil {
		return models.Review{}, err
	}
	if b.BookingStatus != models.BookingCompleted {
		return models.Review{}, denied("you can only review completed bookings")
	}
	return m.tables.Reviews.Insert(ctx, models.Review{
		BookingID:  b.ID,
		UserID:     actor.ID,
		ProviderID: b.ProviderID,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  m.now().UTC(),
	})
}

func canView(actor Actor, b models.Booking) bool {
	return actor.Role == models.RoleAdmin || b.UserID == actor.ID || b.ProviderID == actor.ID
}

// GetBooking settles the booking's unfinished operations and returns it.
// Bookings the actor is not part of are reported as not found.
func (m *Manager) GetBooking(ctx context.Context, actor Actor, id int64) (BookingView, error) {
	unlock := m.lockBooking(id)
	m.settleBookingLocked(ctx, id)
	b, err := m.tables.Bookings.Get(ctx, id)
	unlock()
	if err != nil {
		return BookingView{}, err
	}
	if !canView(actor, b) {
		return BookingView{}, apperrors.NotFound(models.BookingsCollection, id)
	}
	return m.view(ctx, b, actor)
}

func (m *Manager) view(ctx context.Context, b models.Booking, actor Actor) (BookingView, error) {
	v := BookingView{Booking: b.VisibleTo(actor.ID, actor.Role)}
	p, ok, err := m.tables.Payments.FirstBy(ctx, "booking_id", b.ID)
	if err != nil {
		return BookingView{}, err
	}
	if ok {
		v.Payment = &p
	}
	r, ok, err := m.tables.Reviews.FirstBy(ctx, "booking_id", b.ID)
	if err != nil {
		return BookingView{}, err
	}
	if ok {
		v.Review = &r
	}
	return v, nil
}

// ListBookings returns the actor's bookings, newest first: made by a user,
// received by a provider, or all of them for an admin.
func (m *Manager) ListBookings(ctx context.Context, actor Actor) ([]models.Booking, error) {
	var (
		out []models.Booking
		err error
	)
	switch actor.Role {
	case models.RoleAdmin:
		out, err = m.tables.Bookings.All(ctx)
	case models.RoleProvider:
		out, err = m.tables.Bookings.FindBy(ctx, "provider_id", actor.ID)
	default:
		out, err = m.tables.Bookings.FindBy(ctx, "user_id", actor.ID)
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = out[i].VisibleTo(actor.ID, actor.Role)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

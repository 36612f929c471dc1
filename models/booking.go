package models

import (
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingAccepted, BookingRejected, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return s == BookingRejected || s == BookingCancelled || s == BookingCompleted
}

// Transition names an edge of the booking state machine.
type Transition string

const (
	TransitionAccept        Transition = "accept"
	TransitionReject        Transition = "reject"
	TransitionCancel        Transition = "cancel"
	TransitionComplete      Transition = "complete"
	TransitionAdminCancel   Transition = "admin_cancel"
	TransitionAdminComplete Transition = "admin_complete"
)

// Next returns the status reached from s through t, or an IllegalTransition
// error when the edge does not exist.
func (s BookingStatus) Next(t Transition) (BookingStatus, error) {
	switch t {
	case TransitionAccept:
		if s == BookingPending {
			return BookingAccepted, nil
		}
	case TransitionReject:
		if s == BookingPending {
			return BookingRejected, nil
		}
	case TransitionCancel:
		if s == BookingPending {
			return BookingCancelled, nil
		}
	case TransitionComplete:
		if s == BookingAccepted {
			return BookingCompleted, nil
		}
	case TransitionAdminCancel:
		if !s.Terminal() {
			return BookingCancelled, nil
		}
	case TransitionAdminComplete:
		if s != BookingCompleted {
			return BookingCompleted, nil
		}
	default:
		return s, apperrors.IllegalTransition("unknown transition %q", t)
	}
	return s, apperrors.IllegalTransition("booking is %s and cannot %s", s, t)
}

type Booking struct {
	ID             int64         `json:"id"`
	UserID         int64         `json:"user_id"`
	ServiceID      int64         `json:"service_id"`
	ProviderID     int64         `json:"provider_id"`
	BookingStatus  BookingStatus `json:"booking_status"`
	BookingDate    time.Time     `json:"booking_date"`
	ServiceDate    time.Time     `json:"service_date"`
	OTPCode        string        `json:"otp_code,omitempty"`
	Location       string        `json:"location,omitempty"`
	ContactNumber  string        `json:"contact_number,omitempty"`
	OperationToken string        `json:"operation_token,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// WithoutOTP hides the completion code; only the requester may see it.
func (b Booking) WithoutOTP() Booking {
	b.OTPCode = ""
	return b
}

// VisibleTo returns the booking as the given user may see it.
func (b Booking) VisibleTo(userID int64, role Role) Booking {
	if role == RoleAdmin || userID == b.UserID {
		return b
	}
	return b.WithoutOTP()
}

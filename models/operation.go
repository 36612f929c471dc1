package models

import (
	"slices"
	"time"
)

// OperationKind names a multi-record lifecycle operation.
type OperationKind string

const (
	OpCreateBooking        OperationKind = "create_booking"
	OpAcceptBooking        OperationKind = "accept_booking"
	OpRejectBooking        OperationKind = "reject_booking"
	OpCancelBooking        OperationKind = "cancel_booking"
	OpConfirmPayment       OperationKind = "confirm_payment"
	OpCompleteBooking      OperationKind = "complete_booking"
	OpAdminCancelBooking   OperationKind = "admin_cancel_booking"
	OpAdminCompleteBooking OperationKind = "admin_complete_booking"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OpCreateBooking, OpAcceptBooking, OpRejectBooking, OpCancelBooking,
		OpConfirmPayment, OpCompleteBooking, OpAdminCancelBooking, OpAdminCompleteBooking:
		return true
	}
	return false
}

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// OperationPayload is what later steps need that cannot be re-read from
// the records the operation touches.
type OperationPayload struct {
	PaymentMethod string  `json:"payment_method,omitempty"`
	PaymentAmount float64 `json:"payment_amount,omitempty"`
	FeePercentage float64 `json:"fee_percentage,omitempty"`
	ActorName     string  `json:"actor_name,omitempty"`
	ServiceName   string  `json:"service_name,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Operation is a write-ahead log entry. It is written before the first step
// runs and records every step that has been applied.
type Operation struct {
	ID        int64            `json:"id"`
	Token     string           `json:"token"`
	Kind      OperationKind    `json:"kind"`
	Status    OperationStatus  `json:"status"`
	BookingID int64            `json:"booking_id,omitempty"`
	ActorID   int64            `json:"actor_id"`
	Done      []string         `json:"done"`
	Payload   OperationPayload `json:"payload"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (o Operation) HasDone(step string) bool {
	return slices.Contains(o.Done, step)
}

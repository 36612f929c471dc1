package models

import (
	"math"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Confirm is the requester paying for a pending payment.
func (s PaymentStatus) Confirm() (PaymentStatus, error) {
	if s != PaymentPending {
		return s, apperrors.IllegalTransition("payment is %s, only pending payments can be confirmed", s)
	}
	return PaymentCompleted, nil
}

// Settle marks the payment completed when the service was delivered.
// Completed payments stay as they are.
func (s PaymentStatus) Settle() (PaymentStatus, error) {
	switch s {
	case PaymentPending, PaymentFailed, PaymentCompleted:
		return PaymentCompleted, nil
	}
	return s, apperrors.IllegalTransition("payment is %s and cannot be settled", s)
}

// Refund returns the money of a cancelled booking. Refunding twice is a
// no-op.
func (s PaymentStatus) Refund() (PaymentStatus, error) {
	if !s.Valid() {
		return s, apperrors.IllegalTransition("payment is %q and cannot be refunded", s)
	}
	return PaymentRefunded, nil
}

type Payment struct {
	ID            int64         `json:"id"`
	BookingID     int64         `json:"booking_id"`
	PaymentMethod string        `json:"payment_method"`
	PaymentAmount float64       `json:"payment_amount"`
	PlatformFee   float64       `json:"platform_fee"`
	TotalAmount   float64       `json:"total_amount"`
	TransactionID string        `json:"transaction_id,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentDate   *time.Time    `json:"payment_date,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	// OperationToken is the operation that last changed the payment.
	OperationToken string `json:"operation_token,omitempty"`
}

// PlatformFee is price*pct/100 rounded to two decimals.
func PlatformFee(price, pct float64) float64 {
	return Round2(price * pct / 100)
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewPayment prices a booking: total = price + fee.
func NewPayment(bookingID int64, method string, price, pct float64) Payment {
	fee := PlatformFee(price, pct)
	return Payment{
		BookingID:     bookingID,
		PaymentMethod: method,
		PaymentAmount: Round2(price),
		PlatformFee:   fee,
		TotalAmount:   Round2(price + fee),
		PaymentStatus: PaymentPending,
	}
}

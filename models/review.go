package models

import (
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID            int64     `json:"id"`
	BookingID     int64     `json:"booking_id"`
	UserID        int64     `json:"user_id"`
	ProviderID    int64     `json:"provider_id"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment,omitempty"`
	IsFlagged     bool      `json:"is_flagged"`
	FlaggedReason string    `json:"flagged_reason,omitempty"`
	AdminResponse string    `json:"admin_response,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidateRating rejects ratings outside 1..5.
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return apperrors.InvalidInput("rating must be between %d and %d, got %d", MinRating, MaxRating, rating)
	}
	return nil
}

package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/meinhoongagan/service-marketplace/apperrors"
)

// Setting keys read by the booking lifecycle.
const (
	SettingPlatformFee    = "platform_fee_percentage"
	SettingPaymentMethods = "payment_methods"

	DefaultPlatformFee    = 10.0
	DefaultPaymentMethods = "bkash,nagad,card"
)

type PlatformSetting struct {
	ID           int64     `json:"id"`
	SettingKey   string    `json:"setting_key"`
	SettingValue string    `json:"setting_value"`
	Description  string    `json:"description,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	UpdatedBy    int64     `json:"updated_by,omitempty"`
}

// ParseFeePercentage accepts a percentage between 0 and 100.
func ParseFeePercentage(v string) (float64, error) {
	pct, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, apperrors.InvalidInput("platform fee %q is not a number", v)
	}
	if pct < 0 || pct > 100 {
		return 0, apperrors.InvalidInput("platform fee must be between 0 and 100, got %v", pct)
	}
	return pct, nil
}

// NormalizePaymentMethod turns a display name like "Mobile Banking" into
// the stored form "mobile_banking".
func NormalizePaymentMethod(m string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m)), " ", "_")
}

// ParsePaymentMethods splits a comma separated setting value.
func ParsePaymentMethods(v string) []string {
	var out []string
	for _, m := range strings.Split(v, ",") {
		if m = NormalizePaymentMethod(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

type PlatformMetric struct {
	ID                int64          `json:"id"`
	TotalUsers        int            `json:"total_users"`
	TotalProviders    int            `json:"total_providers"`
	TotalBookings     int            `json:"total_bookings"`
	CompletedBookings int            `json:"completed_bookings"`
	TotalRevenue      float64        `json:"total_revenue"`
	PlatformFees      float64        `json:"platform_fees"`
	ServicePopularity map[string]int `json:"service_popularity"`
	PaymentMethods    map[string]int `json:"payment_method_dist,omitempty"`
	RecordedAt        time.Time      `json:"recorded_at"`
}

// Activity log action types.
const (
	ActionUserStatus       = "user_status_change"
	ActionUserVerify       = "user_verification"
	ActionUserFlag         = "user_flag"
	ActionUserDelete       = "user_delete"
	ActionUserEdit         = "user_edit"
	ActionPasswordReset    = "user_password_reset"
	ActionServiceApprove   = "service_approve"
	ActionServiceFlag      = "service_flag"
	ActionServiceEdit      = "service_edit"
	ActionServiceDelete    = "service_delete"
	ActionCategoryRequest  = "category_request"
	ActionCategoryDecision = "category_decision"
	ActionCategoryChange   = "category_change"
	ActionReviewModerate   = "review_moderation"
	ActionBookingCancel    = "booking_cancel"
	ActionBookingComplete  = "booking_complete"
	ActionSettingUpdate    = "setting_update"
	ActionTicketUpdate     = "ticket_update"
)

type ActivityLog struct {
	ID         int64     `json:"id"`
	AdminID    int64     `json:"admin_id,omitempty"`
	ActionType string    `json:"action_type"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	// OperationToken is set on entries written by a lifecycle operation and
	// is unique among them.
	OperationToken string `json:"operation_token,omitempty"`
}

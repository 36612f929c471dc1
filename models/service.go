package models

import (
	"time"
)

type ServiceStatus string

const (
	ServicePendingApproval ServiceStatus = "pending_approval"
	ServiceActive          ServiceStatus = "active"
	ServiceFlagged         ServiceStatus = "flagged"
	ServiceInactive        ServiceStatus = "inactive"
)

func (s ServiceStatus) Valid() bool {
	switch s {
	case ServicePendingApproval, ServiceActive, ServiceFlagged, ServiceInactive:
		return true
	}
	return false
}

type Service struct {
	ID            int64         `json:"id"`
	CategoryID    int64         `json:"category_id"`
	ProviderID    int64         `json:"provider_id"`
	ServiceName   string        `json:"service_name"`
	Description   string        `json:"description,omitempty"`
	Price         float64       `json:"price"`
	Location      string        `json:"location,omitempty"`
	Status        ServiceStatus `json:"status"`
	FlaggedReason string        `json:"flagged_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// CategoryStatus is empty for categories created directly by an admin.
type CategoryStatus string

const (
	CategoryPendingApproval CategoryStatus = "pending_approval"
	CategoryApproved        CategoryStatus = "approved"
)

func (s CategoryStatus) Valid() bool {
	switch s {
	case "", CategoryPendingApproval, CategoryApproved:
		return true
	}
	return false
}

type ServiceCategory struct {
	ID           int64          `json:"id"`
	CategoryName string         `json:"category_name"`
	Description  string         `json:"description,omitempty"`
	IsActive     bool           `json:"is_active"`
	DisplayOrder int            `json:"display_order"`
	Status       CategoryStatus `json:"status,omitempty"`
	RequestedBy  int64          `json:"requested_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

package models

import (
	"time"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "service_provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserBanned    UserStatus = "banned"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserActive, UserSuspended, UserBanned:
		return true
	}
	return false
}

type User struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	ContactNumber       string     `json:"contact_number"`
	NIDNumber           string     `json:"nid_number,omitempty"`
	PasswordHash        string     `json:"password_hash,omitempty"`
	Role                Role       `json:"role"`
	Status              UserStatus `json:"status"`
	EmailVerified       bool       `json:"email_verified"`
	NIDVerified         bool       `json:"nid_verified"`
	IsFlagged           bool       `json:"is_flagged"`
	FlaggedReason       string     `json:"flagged_reason,omitempty"`
	InvestigationStatus string     `json:"investigation_status,omitempty"`
	ProfilePictureURL   string     `json:"profile_picture_url,omitempty"`
	Address             string     `json:"address,omitempty"`
	Profession          string     `json:"profession,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (u User) Active() bool { return u.Status == UserActive }

// Sanitized returns a copy safe to send to clients.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

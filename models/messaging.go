package models

import (
	"time"
)

type ChatMessage struct {
	ID             int64     `json:"id"`
	BookingID      int64     `json:"booking_id"`
	SenderID       int64     `json:"sender_id"`
	ReceiverID     int64     `json:"receiver_id"`
	MessageContent string    `json:"message_content"`
	SentAt         time.Time `json:"sent_at"`
	IsRead         bool      `json:"is_read"`
	IsDeleted      bool      `json:"is_deleted"`
}

const NotificationInApp = "in_app"

type Notification struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Message          string    `json:"message"`
	BookingID        int64     `json:"booking_id,omitempty"`
	SentAt           time.Time `json:"sent_at"`
	IsRead           bool      `json:"is_read"`
	// DedupeKey makes a notification idempotent; at most one record exists
	// per key.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

type SupportTicket struct {
	ID               int64        `json:"id"`
	UserID           int64        `json:"user_id"`
	IssueDescription string       `json:"issue_description"`
	Status           TicketStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

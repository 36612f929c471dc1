package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
)

const deletedMessage = "[Message deleted]"

// Chat is the message thread between the two parties of a booking.
type Chat struct {
	*base
}

// participant loads the booking and returns the other party's id.
func (c *Chat) participant(ctx context.Context, actor lifecycle.Actor, bookingID int64) (models.Booking, int64, error) {
	b, err := c.tables.Bookings.Get(ctx, bookingID)
	if err != nil {
		return models.Booking{}, 0, err
	}
	switch actor.ID {
	case b.UserID:
		return b, b.ProviderID, nil
	case b.ProviderID:
		return b, b.UserID, nil
	}
	return models.Booking{}, 0, denied("only the parties of booking #%d can use its chat", bookingID)
}

func (c *Chat) Send(ctx context.Context, actor lifecycle.Actor, bookingID int64, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, apperrors.InvalidInput("message cannot be empty")
	}
	b, receiver, err := c.participant(ctx, actor, bookingID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg, err := c.tables.ChatMessages.Insert(ctx, models.ChatMessage{
		BookingID:      b.ID,
		SenderID:       actor.ID,
		ReceiverID:     receiver,
		MessageContent: content,
		SentAt:         c.now().UTC(),
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	c.notify(ctx, notify.Message{
		UserID:    receiver,
		BookingID: b.ID,
		Text:      fmt.Sprintf("New message from %s about booking #%d", c.displayName(ctx, actor.ID), b.ID),
	})
	return msg, nil
}

// Messages returns the booking's thread in the order it was written.
func (c *Chat) Messages(ctx context.Context, actor lifecycle.Actor, bookingID int64) ([]models.ChatMessage, error) {
	if _, _, err := c.participant(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	out, err := c.tables.ChatMessages.FindBy(ctx, "booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkRead marks every message the actor received on the booking read.
func (c *Chat) MarkRead(ctx context.Context, actor lifecycle.Actor, bookingID int64) (int, error) {
	if _, _, err := c.participant(ctx, actor, bookingID); err != nil {
		return 0, err
	}
	var changed int
	err := c.tables.Store.Mutate(ctx, models.ChatMessagesCollection, func(col *db.Collection) error {
		for _, rec := range col.Records {
			if rec.Int("booking_id") == bookingID && rec.Int("receiver_id") == actor.ID && rec["is_read"] != true {
				rec["is_read"] = true
				changed++
			}
		}
		return nil
	})
	return changed, err
}

// Delete blanks one of the actor's own messages. The record stays in the
// thread.
func (c *Chat) Delete(ctx context.Context, actor lifecycle.Actor, messageID int64) (models.ChatMessage, error) {
	return c.tables.ChatMessages.Modify(ctx, messageID, func(m *models.ChatMessage) error {
		if m.SenderID != actor.ID {
			return denied("you can only delete your own messages")
		}
		m.MessageContent = deletedMessage
		m.IsDeleted = true
		return nil
	})
}

// Conversation summarises one booking's thread for a participant.
type Conversation struct {
	Booking     models.Booking      `json:"booking"`
	OtherUser   models.User         `json:"other_user"`
	ServiceName string              `json:"service_name"`
	LastMessage *models.ChatMessage `json:"last_message,omitempty"`
	UnreadCount int                 `json:"unread_count"`
}

// Conversations lists every booking the actor is a party of with its latest
// message and unread count. Threads with the newest message come first and
// bookings without messages come last.
func (c *Chat) Conversations(ctx context.Context, actor lifecycle.Actor) ([]Conversation, error) {
	bookings, err := c.tables.Bookings.Filter(ctx, func(b models.Booking) bool {
		return b.UserID == actor.ID || b.ProviderID == actor.ID
	})
	if err != nil {
		return nil, err
	}
	messages, err := c.tables.ChatMessages.All(ctx)
	if err != nil {
		return nil, err
	}
	users, err := c.tables.Users.All(ctx)
	if err != nil {
		return nil, err
	}
	services, err := c.tables.Services.All(ctx)
	if err != nil {
		return nil, err
	}
	userByID := make(map[int64]models.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}
	serviceName := make(map[int64]string, len(services))
	for _, s := range services {
		serviceName[s.ID] = s.ServiceName
	}
	last := map[int64]models.ChatMessage{}
	unread := map[int64]int{}
	for _, m := range messages {
		if cur, ok := last[m.BookingID]; !ok || m.ID > cur.ID {
			last[m.BookingID] = m
		}
		if m.ReceiverID == actor.ID && !m.IsRead {
			unread[m.BookingID]++
		}
	}

	out := make([]Conversation, 0, len(bookings))
	for _, b := range bookings {
		other := b.ProviderID
		if actor.ID == b.ProviderID {
			other = b.UserID
		}
		conv := Conversation{
			Booking:     b.VisibleTo(actor.ID, actor.Role),
			OtherUser:   userByID[other].Sanitized(),
			ServiceName: serviceName[b.ServiceID],
			UnreadCount: unread[b.ID],
		}
		if m, ok := last[b.ID]; ok {
			conv.LastMessage = &m
		}
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li != nil && lj != nil:
			return li.ID > lj.ID
		case li != nil || lj != nil:
			return li != nil
		}
		return out[i].Booking.ID > out[j].Booking.ID
	})
	return out, nil
}

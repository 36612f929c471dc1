package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
)

// Support handles user support tickets.
type Support struct {
	*base
}

// Open files a ticket and tells every admin about it.
func (s *Support) Open(ctx context.Context, actor lifecycle.Actor, issue string) (models.SupportTicket, error) {
	issue = strings.TrimSpace(issue)
	if issue == "" {
		return models.SupportTicket{}, apperrors.InvalidInput("please describe the issue")
	}
	now := s.now().UTC()
	t, err := s.tables.SupportTickets.Insert(ctx, models.SupportTicket{
		UserID:           actor.ID,
		IssueDescription: issue,
		Status:           models.TicketOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return models.SupportTicket{}, err
	}
	s.notifyAdmins(ctx, fmt.Sprintf("New support ticket #%d submitted by %s", t.ID, s.displayName(ctx, actor.ID)))
	return t, nil
}

// List returns the actor's tickets, or every ticket for an admin, newest
// first.
func (s *Support) List(ctx context.Context, actor lifecycle.Actor) ([]models.SupportTicket, error) {
	out, err := s.tables.SupportTickets.Filter(ctx, func(t models.SupportTicket) bool {
		return actor.Role == models.RoleAdmin || t.UserID == actor.ID
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Support) UpdateStatus(ctx context.Context, admin lifecycle.Actor, id int64, status models.TicketStatus) (models.SupportTicket, error) {
	if err := requireAdmin(admin); err != nil {
		return models.SupportTicket{}, err
	}
	if !status.Valid() {
		return models.SupportTicket{}, apperrors.InvalidInput("invalid ticket status %q", status)
	}
	t, err := s.tables.SupportTickets.Modify(ctx, id, func(t *models.SupportTicket) error {
		t.Status = status
		t.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return models.SupportTicket{}, err
	}
	s.audit(ctx, admin.ID, models.ActionTicketUpdate, "support_ticket", id, string(status))
	s.notify(ctx, notify.Message{
		UserID: t.UserID,
		Text:   fmt.Sprintf("Your support ticket status has been updated to: %s", status),
	})
	return t, nil
}

package engine

import (
	"context"
	"database/sql"
	"time"

	"flowboard/internal/domain"
	"flowboard/internal/engine/auth"
	"flowboard/internal/richtext"
)

// outbox collects notifications written inside a transaction so they can be pushed
// once the transaction has committed.
type outbox struct {
	notes []domain.Notification
	seen  map[string]bool
}

// notify persists a notification for userID unless the user is the actor or was already
// notified by this change.
func (e Engine) notify(ctx context.Context, tx *sql.Tx, box *outbox, actorID, userID, issueID string, typ domain.NotificationType, title, body string) error {
	if userID == "" || userID == actorID {
		return nil
	}
	if box.seen == nil {
		box.seen = map[string]bool{}
	}
	if box.seen[userID] {
		return nil
	}
	n := domain.Notification{
		ID:        newID(),
		UserID:    userID,
		IssueID:   optionalString(issueID),
		Type:      typ,
		Title:     title,
		Body:      optionalString(body),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertNotification(ctx, tx, n); err != nil {
		return err
	}
	box.seen[userID] = true
	box.notes = append(box.notes, n)
	return nil
}

// preview strips markup and cuts text to limit runes with a trailing ellipsis.
func preview(s string, limit int) string {
	s = richtext.Plain(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func (e Engine) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return e.Repo.ListNotifications(ctx, e.DB, userID, unreadOnly, limit)
}

func (e Engine) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.Repo.CountUnread(ctx, e.DB, userID)
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (e Engine) MarkNotificationRead(ctx context.Context, id, userID string) (domain.Notification, error) {
	n, err := e.Repo.GetNotification(ctx, e.DB, id)
	if err != nil {
		return n, err
	}
	if n.UserID != userID {
		return domain.Notification{}, auth.ForbiddenError{Msg: "you can only mark your own notifications as read"}
	}
	if err := e.Repo.MarkNotificationRead(ctx, e.DB, id); err != nil {
		return n, err
	}
	n.Read = true
	return n, nil
}

func (e Engine) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	return e.Repo.MarkAllRead(ctx, e.DB, userID)
}

// PurgeReadNotifications removes read notifications older than the retention window.
func (e Engine) PurgeReadNotifications(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := domain.FormatTime(e.now().Add(-retention))
	return e.Repo.PurgeReadNotifications(ctx, e.DB, cutoff)
}

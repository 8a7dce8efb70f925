package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

const notificationColumns = `id,user_id,issue_id,type,title,body,read,created_at`

func scanNotification(row interface{ Scan(...any) error }) (domain.Notification, error) {
	var n domain.Notification
	var issue, body sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &issue, &n.Type, &n.Title, &body, &n.Read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.IssueID = stringPtr(issue)
	n.Body = stringPtr(body)
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, q Querier, n domain.Notification) error {
	_, err := r.exec(ctx, q, `INSERT INTO notifications(id,user_id,issue_id,type,title,body,read,created_at) VALUES (?,?,?,?,?,?,FALSE,?)`,
		n.ID, n.UserID, nullableStringPtr(n.IssueID), n.Type, n.Title, nullableStringPtr(n.Body), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, q Querier, id string) (domain.Notification, error) {
	return scanNotification(r.queryRow(ctx, q, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

// ListNotifications returns the user's notifications, newest first.
func (r Repo) ListNotifications(ctx context.Context, q Querier, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND read=FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.query(ctx, q, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnread(ctx context.Context, q Querier, userID string) (int, error) {
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM notifications WHERE user_id=? AND read=FALSE`, userID).Scan(&n)
	return n, err
}

func (r Repo) MarkNotificationRead(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `UPDATE notifications SET read=TRUE WHERE id=?`, id)
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (r Repo) MarkAllRead(ctx context.Context, q Querier, userID string) (int, error) {
	res, err := r.exec(ctx, q, `UPDATE notifications SET read=TRUE WHERE user_id=? AND read=FALSE`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeReadNotifications deletes read notifications created before cutoff.
func (r Repo) PurgeReadNotifications(ctx context.Context, q Querier, cutoff string) (int, error) {
	res, err := r.exec(ctx, q, `DELETE FROM notifications WHERE read=TRUE AND created_at<?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

const commentSelect = `SELECT c.id,c.issue_id,u.id,u.name,u.email,u.avatar_url,c.content,c.created_at,c.updated_at
FROM comments c JOIN users u ON u.id=c.author_id`

func scanComment(row interface{ Scan(...any) error }) (domain.Comment, error) {
	var c domain.Comment
	var avatar sql.NullString
	err := row.Scan(&c.ID, &c.IssueID, &c.Author.ID, &c.Author.Name, &c.Author.Email, &avatar, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Author.AvatarURL = stringPtr(avatar)
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, q Querier, c domain.Comment) error {
	_, err := r.exec(ctx, q, `INSERT INTO comments(id,issue_id,author_id,content,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.IssueID, c.Author.ID, c.Content, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, q Querier, id string) (domain.Comment, error) {
	return scanComment(r.queryRow(ctx, q, commentSelect+` WHERE c.id=?`, id))
}

func (r Repo) ListComments(ctx context.Context, q Querier, issueID string) ([]domain.Comment, error) {
	rows, err := r.query(ctx, q, commentSelect+` WHERE c.issue_id=? ORDER BY c.created_at ASC, c.id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateComment(ctx context.Context, q Querier, id, content, now string) error {
	return r.execOne(ctx, q, `UPDATE comments SET content=?, updated_at=? WHERE id=?`, content, now, id)
}

func (r Repo) DeleteComment(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM comments WHERE id=?`, id)
}

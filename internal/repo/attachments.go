package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

const attachmentSelect = `SELECT a.id,a.issue_id,u.id,u.name,u.email,u.avatar_url,a.filename,a.filepath,a.size,a.mime_type,a.created_at
FROM attachments a JOIN users u ON u.id=a.uploader_id`

func scanAttachment(row interface{ Scan(...any) error }) (domain.Attachment, error) {
	var a domain.Attachment
	var avatar sql.NullString
	err := row.Scan(&a.ID, &a.IssueID, &a.Uploader.ID, &a.Uploader.Name, &a.Uploader.Email, &avatar,
		&a.Filename, &a.Path, &a.Size, &a.MimeType, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Uploader.AvatarURL = stringPtr(avatar)
	return a, err
}

func (r Repo) InsertAttachment(ctx context.Context, q Querier, a domain.Attachment) error {
	_, err := r.exec(ctx, q, `INSERT INTO attachments(id,issue_id,uploader_id,filename,filepath,size,mime_type,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.IssueID, a.Uploader.ID, a.Filename, a.Path, a.Size, a.MimeType, a.CreatedAt)
	return err
}

func (r Repo) GetAttachment(ctx context.Context, q Querier, id string) (domain.Attachment, error) {
	return scanAttachment(r.queryRow(ctx, q, attachmentSelect+` WHERE a.id=?`, id))
}

func (r Repo) ListAttachments(ctx context.Context, q Querier, issueID string) ([]domain.Attachment, error) {
	rows, err := r.query(ctx, q, attachmentSelect+` WHERE a.issue_id=? ORDER BY a.created_at DESC, a.id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAttachment(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM attachments WHERE id=?`, id)
}

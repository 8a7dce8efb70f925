package engine

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	"flowboard/internal/domain"
	"flowboard/internal/engine/auth"
	"flowboard/internal/events"
	"flowboard/internal/repo"
)

// Upload is a file received for an issue. Size is the declared length in bytes.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// safeFilename keeps the base name and replaces anything outside [A-Za-z0-9._-].
func safeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > 200 {
		out = out[len(out)-200:]
	}
	return out
}

func (e Engine) MaxUploadBytes() int64 {
	if e.Config != nil && e.Config.Uploads.MaxBytes > 0 {
		return e.Config.Uploads.MaxBytes
	}
	return 10 << 20
}

func (e Engine) checkUpload(up Upload) (string, error) {
	if strings.TrimSpace(up.Filename) == "" {
		return "", invalidField("file", "filename is required")
	}
	mt, _, err := mime.ParseMediaType(up.MimeType)
	if err != nil {
		return "", invalidField("file", "invalid content type %q", up.MimeType)
	}
	if e.Config != nil && !e.Config.Uploads.AllowsMime(mt) {
		return "", invalidField("file", "file type %s is not allowed", mt)
	}
	if up.Size > e.MaxUploadBytes() {
		return "", TooLargeError{Limit: e.MaxUploadBytes()}
	}
	return mt, nil
}

// limitedReader fails once more than limit bytes have been read, so a body longer than
// its declared size cannot slip past the upload limit.
type limitedReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.limit {
		return n, TooLargeError{Limit: l.limit}
	}
	return n, err
}

// UploadAttachment stores the bytes first and then records the row; a failed insert
// removes the stored object again.
func (e Engine) UploadAttachment(ctx context.Context, projectID, issueID string, up Upload, actorID string) (domain.Attachment, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.Attachment{}, err
	}
	if e.Store == nil {
		return domain.Attachment{}, fmt.Errorf("attachment storage is not configured")
	}
	mt, err := e.checkUpload(up)
	if err != nil {
		return domain.Attachment{}, err
	}
	is, err := e.projectIssue(ctx, e.DB, projectID, issueID)
	if err != nil {
		return domain.Attachment{}, err
	}
	uploader, err := e.Repo.UserBrief(ctx, e.DB, actorID)
	if err != nil {
		return domain.Attachment{}, err
	}
	name := safeFilename(up.Filename)
	key := fmt.Sprintf("%s/%s_%s", is.ID, uuid.NewString()[:8], name)
	body := &limitedReader{r: up.Body, limit: e.MaxUploadBytes()}
	if err := e.Store.Put(ctx, key, body, up.Size, mt); err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:        newID(),
		IssueID:   is.ID,
		Uploader:  uploader,
		Filename:  name,
		Path:      key,
		Size:      body.n,
		MimeType:  mt,
		CreatedAt: e.nowString(),
	}
	if err := e.recordAttachment(ctx, projectID, a, actorID); err != nil {
		if derr := e.Store.Delete(ctx, key); derr != nil {
			e.Log.Warn().Err(derr).Str("key", key).Msg("remove orphaned upload")
		}
		return domain.Attachment{}, err
	}
	return a, nil
}

func (e Engine) recordAttachment(ctx context.Context, projectID string, a domain.Attachment, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.AttachmentAdded, projectID, "issue", a.IssueID, actorID, events.EventPayload{
		"attachment_id": a.ID,
		"filename":      a.Filename,
		"size":          a.Size,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListAttachments(ctx context.Context, projectID, issueID, actorID string) ([]domain.Attachment, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListAttachments(ctx, e.DB, issueID)
}

func (e Engine) projectAttachment(ctx context.Context, projectID, issueID, attachmentID, actorID string) (domain.Attachment, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Attachment{}, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return domain.Attachment{}, err
	}
	a, err := e.Repo.GetAttachment(ctx, e.DB, attachmentID)
	if err != nil {
		return a, err
	}
	if a.IssueID != issueID {
		return domain.Attachment{}, repo.ErrNotFound
	}
	return a, nil
}

// OpenAttachment returns the metadata and a reader over the stored bytes. The caller closes it.
func (e Engine) OpenAttachment(ctx context.Context, projectID, issueID, attachmentID, actorID string) (domain.Attachment, io.ReadCloser, error) {
	a, err := e.projectAttachment(ctx, projectID, issueID, attachmentID, actorID)
	if err != nil {
		return a, nil, err
	}
	rc, err := e.Store.Open(ctx, a.Path)
	if err != nil {
		return a, nil, err
	}
	return a, rc, nil
}

// DeleteAttachment removes the row and then the stored object. Only the uploader may delete.
func (e Engine) DeleteAttachment(ctx context.Context, projectID, issueID, attachmentID, actorID string) error {
	a, err := e.projectAttachment(ctx, projectID, issueID, attachmentID, actorID)
	if err != nil {
		return err
	}
	if a.Uploader.ID != actorID {
		return auth.ForbiddenError{Msg: "only the uploader can delete this attachment"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAttachment(ctx, tx, a.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.AttachmentDeleted, projectID, "issue", issueID, actorID, events.EventPayload{"attachment_id": a.ID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, a.Path); err != nil {
		e.Log.Warn().Err(err).Str("key", a.Path).Msg("remove attachment object")
	}
	return nil
}

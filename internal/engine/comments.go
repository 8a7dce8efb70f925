package engine

import (
	"context"
	"fmt"
	"strings"

	"flowboard/internal/domain"
	"flowboard/internal/engine/auth"
	"flowboard/internal/events"
	"flowboard/internal/repo"
	"flowboard/internal/richtext"
)

func (e Engine) ListComments(ctx context.Context, projectID, issueID, actorID string) ([]domain.Comment, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, e.DB, issueID)
}

func sanitizeComment(content string) (string, error) {
	clean := richtext.Sanitize(content)
	if strings.TrimSpace(richtext.Plain(clean)) == "" {
		return "", invalidField("content", "must not be empty")
	}
	return clean, nil
}

// CreateComment stores a comment and notifies the issue's assignee and reporter.
func (e Engine) CreateComment(ctx context.Context, projectID, issueID, content, actorID string) (domain.Comment, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleViewer); err != nil {
		return domain.Comment{}, err
	}
	clean, err := sanitizeComment(content)
	if err != nil {
		return domain.Comment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	is, err := e.projectIssue(ctx, tx, projectID, issueID)
	if err != nil {
		return domain.Comment{}, err
	}
	author, err := e.Repo.UserBrief(ctx, tx, actorID)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.nowString()
	c := domain.Comment{
		ID:        newID(),
		IssueID:   is.ID,
		Author:    author,
		Content:   clean,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	var box outbox
	title := fmt.Sprintf("New comment on %s", is.Key)
	body := fmt.Sprintf("%s: %s", author.Name, preview(clean, 100))
	for _, uid := range []string{derefString(is.AssigneeID), is.ReporterID} {
		if err := e.notify(ctx, tx, &box, actorID, uid, is.ID, domain.NotifyCommented, title, body); err != nil {
			return domain.Comment{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.CommentCreated, projectID, "issue", is.ID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.push(ctx, box.notes)
	return c, nil
}

// editableComment loads a comment of the project's issue that the actor may change:
// its author or a global admin.
func (e Engine) editableComment(ctx context.Context, projectID, issueID, commentID, actorID string) (domain.Comment, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Comment{}, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return domain.Comment{}, err
	}
	c, err := e.Repo.GetComment(ctx, e.DB, commentID)
	if err != nil {
		return c, err
	}
	if c.IssueID != issueID {
		return domain.Comment{}, fmt.Errorf("comment %s: %w", commentID, repo.ErrNotFound)
	}
	if c.Author.ID == actorID {
		return c, nil
	}
	actor, err := e.Repo.GetUser(ctx, e.DB, actorID)
	if err != nil {
		return c, err
	}
	if actor.Role != domain.RoleAdmin {
		return c, auth.ForbiddenError{Msg: "only the author can change this comment"}
	}
	return c, nil
}

func (e Engine) UpdateComment(ctx context.Context, projectID, issueID, commentID, content, actorID string) (domain.Comment, error) {
	c, err := e.editableComment(ctx, projectID, issueID, commentID, actorID)
	if err != nil {
		return c, err
	}
	clean, err := sanitizeComment(content)
	if err != nil {
		return c, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	now := e.nowString()
	if err := e.Repo.UpdateComment(ctx, tx, c.ID, clean, now); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, events.CommentUpdated, projectID, "issue", issueID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	c.Content = clean
	c.UpdatedAt = now
	return c, nil
}

func (e Engine) DeleteComment(ctx context.Context, projectID, issueID, commentID, actorID string) error {
	c, err := e.editableComment(ctx, projectID, issueID, commentID, actorID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteComment(ctx, tx, c.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.CommentDeleted, projectID, "issue", issueID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

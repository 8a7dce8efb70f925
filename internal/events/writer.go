package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flowboard/internal/db"
	"flowboard/internal/domain"
)

// Event types appended by the engine.
const (
	ProjectCreated      = "project.created"
	ProjectUpdated      = "project.updated"
	ProjectDeleted      = "project.deleted"
	MemberAdded         = "member.added"
	MemberUpdated       = "member.updated"
	MemberRemoved       = "member.removed"
	StatusCreated       = "status.created"
	StatusUpdated       = "status.updated"
	StatusDeleted       = "status.deleted"
	LabelCreated        = "label.created"
	LabelUpdated        = "label.updated"
	LabelDeleted        = "label.deleted"
	IssueCreated        = "issue.created"
	IssueUpdated        = "issue.updated"
	IssueDeleted        = "issue.deleted"
	RelationCreated     = "relation.created"
	RelationDeleted     = "relation.deleted"
	SprintCreated       = "sprint.created"
	SprintUpdated       = "sprint.updated"
	SprintStarted       = "sprint.started"
	SprintCompleted     = "sprint.completed"
	SprintDeleted       = "sprint.deleted"
	SprintIssuesAdded   = "sprint.issues_added"
	SprintIssueRemoved  = "sprint.issue_removed"
	CommentCreated      = "comment.created"
	CommentUpdated      = "comment.updated"
	CommentDeleted      = "comment.deleted"
	AttachmentAdded     = "attachment.added"
	AttachmentDeleted   = "attachment.deleted"
	UserRegistered      = "user.registered"
	UserPasswordChanged = "user.password_changed"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event on the caller's transaction so it commits or rolls back with the change.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.FormatTime(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

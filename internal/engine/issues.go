package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowboard/internal/domain"
	"flowboard/internal/events"
	"flowboard/internal/repo"
	"flowboard/internal/richtext"
)

type IssueCreateInput struct {
	ProjectID   string
	Type        domain.IssueType
	Title       string
	Description string
	StatusID    string
	Priority    domain.Priority
	AssigneeID  string
	SprintID    string
	ParentID    string
	StoryPoints *int
	DueDate     string
	LabelIDs    []string
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > 500 {
		return "", invalidField("title", "must be between 1 and 500 characters")
	}
	return title, nil
}

func validatePoints(p *int) error {
	if p != nil && (*p < 0 || *p > 100) {
		return invalidField("story_points", "must be between 0 and 100")
	}
	return nil
}

// checkParent enforces the issue type hierarchy: epics have no parent, stories, tasks
// and bugs sit under epics, subtasks under stories or tasks.
func (e Engine) checkParent(ctx context.Context, q repo.Querier, projectID, selfID string, t domain.IssueType, parentID string) error {
	if parentID == "" {
		return nil
	}
	if t == domain.IssueEpic {
		return invalidState("epics cannot have a parent issue")
	}
	if parentID == selfID {
		return invalidState("an issue cannot be its own parent")
	}
	parent, err := e.Repo.GetIssue(ctx, q, parentID)
	if err != nil {
		return err
	}
	if parent.ProjectID != projectID {
		return repo.ErrNotFound
	}
	if !t.CanHaveParent(parent.Type) {
		allowed := make([]string, 0, len(t.AllowedParents()))
		for _, a := range t.AllowedParents() {
			allowed = append(allowed, string(a))
		}
		return invalidState("%s parent must be one of: %s", t, strings.Join(allowed, ", "))
	}
	return nil
}

// checkSprint ensures the sprint belongs to the project and still accepts issues.
func (e Engine) checkSprint(ctx context.Context, q repo.Querier, projectID, sprintID string) error {
	if sprintID == "" {
		return nil
	}
	sp, err := e.Repo.GetSprint(ctx, q, sprintID)
	if err != nil {
		return err
	}
	if sp.ProjectID != projectID {
		return repo.ErrNotFound
	}
	if sp.Status.Terminal() {
		return invalidState("completed sprints cannot receive issues")
	}
	return nil
}

func (e Engine) checkAssignee(ctx context.Context, q repo.Querier, projectID, userID string) error {
	if userID == "" {
		return nil
	}
	if _, err := e.Repo.MemberRole(ctx, q, projectID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalidField("assignee_id", "assignee must be a project member")
		}
		return err
	}
	return nil
}

// projectLabelIDs keeps the ids that name labels of the project.
func (e Engine) projectLabelIDs(ctx context.Context, q repo.Querier, projectID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	labels, err := e.Repo.ListLabels(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l.ID] = true
	}
	var res []string
	seen := map[string]bool{}
	for _, id := range ids {
		if known[id] && !seen[id] {
			res = append(res, id)
			seen[id] = true
		}
	}
	return res, nil
}

// CreateIssue validates the request and inserts the issue with a freshly allocated key.
// The counter bump shares the insert transaction, so a failed insert leaves no gap.
func (e Engine) CreateIssue(ctx context.Context, in IssueCreateInput, actorID string) (domain.Issue, error) {
	if _, err := e.Auth.Require(ctx, e.DB, in.ProjectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.Issue{}, err
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return domain.Issue{}, err
	}
	if in.Type == "" {
		in.Type = domain.IssueTask
	}
	if !in.Type.Valid() {
		return domain.Issue{}, invalidField("type", "unknown issue type %q", in.Type)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if !in.Priority.Valid() {
		return domain.Issue{}, invalidField("priority", "unknown priority %q", in.Priority)
	}
	if err := validatePoints(in.StoryPoints); err != nil {
		return domain.Issue{}, err
	}
	if in.DueDate != "" && !domain.ValidDate(in.DueDate) {
		return domain.Issue{}, invalidField("due_date", "must be YYYY-MM-DD")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	if err := e.checkParent(ctx, tx, in.ProjectID, "", in.Type, in.ParentID); err != nil {
		return domain.Issue{}, err
	}
	var status domain.WorkflowStatus
	if in.StatusID != "" {
		status, err = e.Repo.GetStatus(ctx, tx, in.StatusID)
		if err != nil {
			return domain.Issue{}, err
		}
		if status.ProjectID != in.ProjectID {
			return domain.Issue{}, fmt.Errorf("status %s: %w", in.StatusID, repo.ErrNotFound)
		}
	} else {
		status, err = e.Repo.DefaultStatus(ctx, tx, in.ProjectID)
		if err != nil {
			return domain.Issue{}, fmt.Errorf("project has no workflow status: %w", err)
		}
	}
	if err := e.checkSprint(ctx, tx, in.ProjectID, in.SprintID); err != nil {
		return domain.Issue{}, err
	}
	if err := e.checkAssignee(ctx, tx, in.ProjectID, in.AssigneeID); err != nil {
		return domain.Issue{}, err
	}
	labelIDs, err := e.projectLabelIDs(ctx, tx, in.ProjectID, in.LabelIDs)
	if err != nil {
		return domain.Issue{}, err
	}

	now := e.nowString()
	key, err := e.Repo.AllocateIssueKey(ctx, tx, in.ProjectID, now)
	if err != nil {
		return domain.Issue{}, err
	}
	is := domain.Issue{
		ID:          newID(),
		ProjectID:   in.ProjectID,
		Key:         key,
		Type:        in.Type,
		Title:       title,
		Description: richtext.Sanitize(in.Description),
		Status:      status,
		Priority:    in.Priority,
		AssigneeID:  optionalString(in.AssigneeID),
		ReporterID:  actorID,
		SprintID:    optionalString(in.SprintID),
		ParentID:    optionalString(in.ParentID),
		StoryPoints: in.StoryPoints,
		DueDate:     optionalString(in.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertIssue(ctx, tx, is); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Repo.SetIssueLabels(ctx, tx, is.ID, labelIDs); err != nil {
		return domain.Issue{}, err
	}
	var box outbox
	if err := e.notify(ctx, tx, &box, actorID, in.AssigneeID, is.ID, domain.NotifyAssigned,
		fmt.Sprintf("You were assigned to %s", is.Key), is.Title); err != nil {
		return domain.Issue{}, err
	}
	if err := e.events().Append(ctx, tx, events.IssueCreated, is.ProjectID, "issue", is.ID, actorID, events.EventPayload{
		"key":   is.Key,
		"title": is.Title,
		"type":  is.Type,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.Metrics.IssueCreated()
	e.push(ctx, box.notes)
	return e.loadIssue(ctx, is.ID)
}

func (e Engine) loadIssue(ctx context.Context, id string) (domain.Issue, error) {
	is, err := e.Repo.GetIssue(ctx, e.DB, id)
	if err != nil {
		return is, err
	}
	list := []domain.Issue{is}
	if err := e.Repo.AttachLabels(ctx, e.DB, list); err != nil {
		return is, err
	}
	return list[0], nil
}

// projectIssue loads an issue and hides issues of other projects behind NotFound.
func (e Engine) projectIssue(ctx context.Context, q repo.Querier, projectID, issueID string) (domain.Issue, error) {
	is, err := e.Repo.GetIssue(ctx, q, issueID)
	if err != nil {
		return is, err
	}
	if is.ProjectID != projectID {
		return domain.Issue{}, repo.ErrNotFound
	}
	return is, nil
}

func (e Engine) ListIssues(ctx context.Context, projectID string, f repo.IssueFilter, actorID string) ([]domain.Issue, int, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, 0, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 200 {
		f.Size = 50
	}
	return e.Repo.ListIssues(ctx, e.DB, projectID, f)
}

func (e Engine) GetIssue(ctx context.Context, projectID, issueID, actorID string) (domain.Issue, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return domain.Issue{}, err
	}
	return e.loadIssue(ctx, issueID)
}

func (e Engine) GetIssueByKey(ctx context.Context, projectID, key, actorID string) (domain.Issue, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Issue{}, err
	}
	is, err := e.Repo.GetIssueByKey(ctx, e.DB, projectID, key)
	if err != nil {
		return is, err
	}
	return e.loadIssue(ctx, is.ID)
}

func (e Engine) ListChildren(ctx context.Context, projectID, issueID, actorID string) ([]domain.Issue, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListChildren(ctx, e.DB, issueID)
}

// IssueHistory returns the activity events recorded for the issue, newest first.
func (e Engine) IssueHistory(ctx context.Context, projectID, issueID, actorID string, limit int) ([]domain.Event, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListEvents(ctx, e.DB, repo.EventQuery{ProjectID: projectID, EntityKind: "issue", EntityID: issueID, Limit: limit})
}

// IssueUpdate patches an issue. Nil fields are left alone; an empty string clears
// AssigneeID, SprintID, ParentID and DueDate.
type IssueUpdate struct {
	Type        *domain.IssueType
	Title       *string
	Description *string
	StatusID    *string
	Priority    *domain.Priority
	AssigneeID  *string
	SprintID    *string
	ParentID    *string
	StoryPoints *int
	DueDate     *string
	Position    *int
	LabelIDs    *[]string
}

func (e Engine) UpdateIssue(ctx context.Context, projectID, issueID string, u IssueUpdate, actorID string) (domain.Issue, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.Issue{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	is, err := e.projectIssue(ctx, tx, projectID, issueID)
	if err != nil {
		return is, err
	}
	before := is
	changed := []string{}

	if u.Title != nil {
		title, err := validateTitle(*u.Title)
		if err != nil {
			return is, err
		}
		is.Title = title
		changed = append(changed, "title")
	}
	if u.Description != nil {
		is.Description = richtext.Sanitize(*u.Description)
		changed = append(changed, "description")
	}
	if u.Priority != nil {
		if !u.Priority.Valid() {
			return is, invalidField("priority", "unknown priority %q", *u.Priority)
		}
		is.Priority = *u.Priority
		changed = append(changed, "priority")
	}
	if u.Type != nil {
		if !u.Type.Valid() {
			return is, invalidField("type", "unknown issue type %q", *u.Type)
		}
		is.Type = *u.Type
		changed = append(changed, "type")
	}
	if u.ParentID != nil {
		is.ParentID = optionalString(*u.ParentID)
		changed = append(changed, "parent_id")
	}
	if u.Type != nil || u.ParentID != nil {
		if err := e.checkParent(ctx, tx, projectID, is.ID, is.Type, derefString(is.ParentID)); err != nil {
			return is, err
		}
	}
	if u.StatusID != nil && *u.StatusID != is.Status.ID {
		status, err := e.Repo.GetStatus(ctx, tx, *u.StatusID)
		if err != nil {
			return is, err
		}
		if status.ProjectID != projectID {
			return is, fmt.Errorf("status %s: %w", *u.StatusID, repo.ErrNotFound)
		}
		is.Status = status
		changed = append(changed, "status")
	}
	if u.AssigneeID != nil {
		if err := e.checkAssignee(ctx, tx, projectID, *u.AssigneeID); err != nil {
			return is, err
		}
		is.AssigneeID = optionalString(*u.AssigneeID)
		changed = append(changed, "assignee_id")
	}
	if u.SprintID != nil {
		if err := e.checkSprint(ctx, tx, projectID, *u.SprintID); err != nil {
			return is, err
		}
		is.SprintID = optionalString(*u.SprintID)
		changed = append(changed, "sprint_id")
	}
	if u.StoryPoints != nil {
		if err := validatePoints(u.StoryPoints); err != nil {
			return is, err
		}
		is.StoryPoints = u.StoryPoints
		changed = append(changed, "story_points")
	}
	if u.DueDate != nil {
		if *u.DueDate != "" && !domain.ValidDate(*u.DueDate) {
			return is, invalidField("due_date", "must be YYYY-MM-DD")
		}
		is.DueDate = optionalString(*u.DueDate)
		changed = append(changed, "due_date")
	}
	if u.Position != nil {
		is.Position = *u.Position
		changed = append(changed, "position")
	}
	is.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateIssue(ctx, tx, is); err != nil {
		return is, err
	}
	if u.LabelIDs != nil {
		ids, err := e.projectLabelIDs(ctx, tx, projectID, *u.LabelIDs)
		if err != nil {
			return is, err
		}
		if err := e.Repo.SetIssueLabels(ctx, tx, is.ID, ids); err != nil {
			return is, err
		}
		changed = append(changed, "labels")
	}

	var box outbox
	if !sameStringPtr(before.AssigneeID, is.AssigneeID) && is.AssigneeID != nil {
		if err := e.notify(ctx, tx, &box, actorID, *is.AssigneeID, is.ID, domain.NotifyAssigned,
			fmt.Sprintf("You were assigned to %s", is.Key), is.Title); err != nil {
			return is, err
		}
	}
	if before.Status.ID != is.Status.ID {
		title := fmt.Sprintf("%s moved to %s", is.Key, is.Status.Name)
		body := fmt.Sprintf("%s: %s -> %s", is.Title, before.Status.Name, is.Status.Name)
		for _, uid := range []string{is.ReporterID, derefString(is.AssigneeID)} {
			if err := e.notify(ctx, tx, &box, actorID, uid, is.ID, domain.NotifyStatusChanged, title, body); err != nil {
				return is, err
			}
		}
	}
	payload := events.EventPayload{"fields": changed}
	if before.Status.ID != is.Status.ID {
		payload["from_status"] = before.Status.Name
		payload["to_status"] = is.Status.Name
	}
	if err := e.events().Append(ctx, tx, events.IssueUpdated, projectID, "issue", is.ID, actorID, payload); err != nil {
		return is, err
	}
	if err := tx.Commit(); err != nil {
		return is, err
	}
	e.push(ctx, box.notes)
	return e.loadIssue(ctx, is.ID)
}

// DeleteIssue removes the issue and, through the parent foreign key, its children.
func (e Engine) DeleteIssue(ctx context.Context, projectID, issueID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	is, err := e.projectIssue(ctx, tx, projectID, issueID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteIssue(ctx, tx, is.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.IssueDeleted, projectID, "issue", is.ID, actorID, events.EventPayload{"key": is.Key}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateRelation(ctx context.Context, projectID, sourceID, targetID string, t domain.RelationType, actorID string) (domain.IssueRelation, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.IssueRelation{}, err
	}
	if !t.Valid() {
		return domain.IssueRelation{}, invalidField("type", "must be blocks, is_blocked_by or relates_to")
	}
	if sourceID == targetID {
		return domain.IssueRelation{}, invalidField("target_issue_id", "an issue cannot relate to itself")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.IssueRelation{}, err
	}
	defer tx.Rollback()
	if _, err := e.projectIssue(ctx, tx, projectID, sourceID); err != nil {
		return domain.IssueRelation{}, err
	}
	if _, err := e.projectIssue(ctx, tx, projectID, targetID); err != nil {
		return domain.IssueRelation{}, err
	}
	rel := domain.IssueRelation{
		ID:            newID(),
		SourceIssueID: sourceID,
		TargetIssueID: targetID,
		Type:          t,
		CreatedAt:     e.nowString(),
	}
	if err := e.Repo.InsertRelation(ctx, tx, rel); err != nil {
		return rel, conflictOn(err, "relation already exists")
	}
	if err := e.events().Append(ctx, tx, events.RelationCreated, projectID, "issue", sourceID, actorID, events.EventPayload{
		"relation_id": rel.ID,
		"type":        rel.Type,
		"target":      targetID,
	}); err != nil {
		return rel, err
	}
	return rel, conflictOn(tx.Commit(), "relation already exists")
}

func (e Engine) ListRelations(ctx context.Context, projectID, issueID, actorID string) ([]domain.IssueRelation, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if _, err := e.projectIssue(ctx, e.DB, projectID, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListRelations(ctx, e.DB, issueID)
}

func (e Engine) DeleteRelation(ctx context.Context, projectID, relationID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rel, err := e.Repo.GetRelation(ctx, tx, relationID)
	if err != nil {
		return err
	}
	if _, err := e.projectIssue(ctx, tx, projectID, rel.SourceIssueID); err != nil {
		return err
	}
	if err := e.Repo.DeleteRelation(ctx, tx, rel.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.RelationDeleted, projectID, "issue", rel.SourceIssueID, actorID, events.EventPayload{"relation_id": rel.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

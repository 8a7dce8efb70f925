package repo

import (
	"context"
	"database/sql"
	"strings"

	"flowboard/internal/domain"
)

const issueColumns = `i.id,i.project_id,i.key,i.type,i.title,COALESCE(i.description,''),
s.id,s.project_id,s.name,s.category,s.position,
i.priority,i.assignee_id,i.reporter_id,i.sprint_id,i.parent_id,i.story_points,i.due_date,i.position,i.created_at,i.updated_at`

const issueFrom = ` FROM issues i JOIN workflow_statuses s ON s.id=i.status_id`

func scanIssue(row interface{ Scan(...any) error }) (domain.Issue, error) {
	var (
		is                            domain.Issue
		assignee, sprint, parent, due sql.NullString
		points                        sql.NullInt64
	)
	err := row.Scan(&is.ID, &is.ProjectID, &is.Key, &is.Type, &is.Title, &is.Description,
		&is.Status.ID, &is.Status.ProjectID, &is.Status.Name, &is.Status.Category, &is.Status.Position,
		&is.Priority, &assignee, &is.ReporterID, &sprint, &parent, &points, &due, &is.Position, &is.CreatedAt, &is.UpdatedAt)
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	if err != nil {
		return is, err
	}
	is.AssigneeID = stringPtr(assignee)
	is.SprintID = stringPtr(sprint)
	is.ParentID = stringPtr(parent)
	is.DueDate = stringPtr(due)
	is.StoryPoints = intPtr(points)
	is.Labels = []domain.Label{}
	return is, nil
}

func (r Repo) InsertIssue(ctx context.Context, q Querier, is domain.Issue) error {
	_, err := r.exec(ctx, q, `INSERT INTO issues(id,project_id,key,type,title,description,status_id,priority,assignee_id,reporter_id,sprint_id,parent_id,story_points,due_date,position,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		is.ID, is.ProjectID, is.Key, is.Type, is.Title, nullable(is.Description), is.Status.ID, is.Priority,
		nullableStringPtr(is.AssigneeID), is.ReporterID, nullableStringPtr(is.SprintID), nullableStringPtr(is.ParentID),
		nullableIntPtr(is.StoryPoints), nullableStringPtr(is.DueDate), is.Position, is.CreatedAt, is.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, q Querier, id string) (domain.Issue, error) {
	return scanIssue(r.queryRow(ctx, q, `SELECT `+issueColumns+issueFrom+` WHERE i.id=?`, id))
}

func (r Repo) GetIssueByKey(ctx context.Context, q Querier, projectID, key string) (domain.Issue, error) {
	return scanIssue(r.queryRow(ctx, q, `SELECT `+issueColumns+issueFrom+` WHERE i.project_id=? AND i.key=?`, projectID, strings.ToUpper(key)))
}

// IssueFilter narrows issue listings. Empty fields are ignored.
type IssueFilter struct {
	Type       string
	StatusID   string
	Priority   string
	AssigneeID string
	SprintID   string
	ParentID   string
	LabelID    string
	Search     string
	Backlog    bool
	Page       int
	Size       int
}

func (f IssueFilter) where(projectID string) (string, []any) {
	clauses := []string{"i.project_id=?"}
	args := []any{projectID}
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.Type != "" {
		add("i.type=?", f.Type)
	}
	if f.StatusID != "" {
		add("i.status_id=?", f.StatusID)
	}
	if f.Priority != "" {
		add("i.priority=?", f.Priority)
	}
	if f.AssigneeID != "" {
		add("i.assignee_id=?", f.AssigneeID)
	}
	if f.SprintID != "" {
		add("i.sprint_id=?", f.SprintID)
	}
	if f.Backlog {
		clauses = append(clauses, "i.sprint_id IS NULL")
	}
	if f.ParentID != "" {
		add("i.parent_id=?", f.ParentID)
	}
	if f.LabelID != "" {
		add("EXISTS (SELECT 1 FROM issue_labels il WHERE il.issue_id=i.id AND il.label_id=?)", f.LabelID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		clauses = append(clauses, "(LOWER(i.title) LIKE ? OR LOWER(i.key) LIKE ?)")
		args = append(args, like, like)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListIssues returns a page of project issues ordered by position then newest first, plus the total.
func (r Repo) ListIssues(ctx context.Context, q Querier, projectID string, f IssueFilter) ([]domain.Issue, int, error) {
	where, args := f.where(projectID)
	var total int
	if err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM issues i`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + issueColumns + issueFrom + where + ` ORDER BY i.position ASC, i.created_at DESC, i.id ASC`
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Size, (page-1)*f.Size)
	}
	issues, err := r.collectIssues(ctx, q, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}

func (r Repo) ListChildren(ctx context.Context, q Querier, parentID string) ([]domain.Issue, error) {
	return r.collectIssues(ctx, q, `SELECT `+issueColumns+issueFrom+` WHERE i.parent_id=? ORDER BY i.position ASC, i.created_at ASC`, parentID)
}

// collectIssues drains the rows before loading labels so a single-connection pool never
// has two statements open.
func (r Repo) collectIssues(ctx context.Context, q Querier, query string, args ...any) ([]domain.Issue, error) {
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, is)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.AttachLabels(ctx, q, res); err != nil {
		return nil, err
	}
	return res, nil
}

// AttachLabels fills Labels on every issue in place.
func (r Repo) AttachLabels(ctx context.Context, q Querier, issues []domain.Issue) error {
	ids := make([]string, len(issues))
	for i := range issues {
		ids[i] = issues[i].ID
	}
	labels, err := r.LabelsForIssues(ctx, q, ids)
	if err != nil {
		return err
	}
	for i := range issues {
		if ls, ok := labels[issues[i].ID]; ok {
			issues[i].Labels = ls
		}
	}
	return nil
}

func (r Repo) UpdateIssue(ctx context.Context, q Querier, is domain.Issue) error {
	return r.execOne(ctx, q, `UPDATE issues SET type=?, title=?, description=?, status_id=?, priority=?, assignee_id=?, sprint_id=?, parent_id=?, story_points=?, due_date=?, position=?, updated_at=? WHERE id=?`,
		is.Type, is.Title, nullable(is.Description), is.Status.ID, is.Priority, nullableStringPtr(is.AssigneeID),
		nullableStringPtr(is.SprintID), nullableStringPtr(is.ParentID), nullableIntPtr(is.StoryPoints),
		nullableStringPtr(is.DueDate), is.Position, is.UpdatedAt, is.ID)
}

func (r Repo) DeleteIssue(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM issues WHERE id=?`, id)
}

func (r Repo) InsertRelation(ctx context.Context, q Querier, rel domain.IssueRelation) error {
	_, err := r.exec(ctx, q, `INSERT INTO issue_relations(id,source_issue_id,target_issue_id,type,created_at) VALUES (?,?,?,?,?)`,
		rel.ID, rel.SourceIssueID, rel.TargetIssueID, rel.Type, rel.CreatedAt)
	return err
}

func (r Repo) GetRelation(ctx context.Context, q Querier, id string) (domain.IssueRelation, error) {
	var rel domain.IssueRelation
	err := r.queryRow(ctx, q, `SELECT id,source_issue_id,target_issue_id,type,created_at FROM issue_relations WHERE id=?`, id).
		Scan(&rel.ID, &rel.SourceIssueID, &rel.TargetIssueID, &rel.Type, &rel.CreatedAt)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	return rel, err
}

// ListRelations returns relations where the issue is either side.
func (r Repo) ListRelations(ctx context.Context, q Querier, issueID string) ([]domain.IssueRelation, error) {
	rows, err := r.query(ctx, q, `SELECT id,source_issue_id,target_issue_id,type,created_at FROM issue_relations
WHERE source_issue_id=? OR target_issue_id=? ORDER BY created_at ASC, id ASC`, issueID, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IssueRelation
	for rows.Next() {
		var rel domain.IssueRelation
		if err := rows.Scan(&rel.ID, &rel.SourceIssueID, &rel.TargetIssueID, &rel.Type, &rel.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRelation(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM issue_relations WHERE id=?`, id)
}

package repo

import (
	"context"
	"database/sql"
	"errors"

	"flowboard/internal/domain"
)

// ErrStaleStatus is returned when a conditional sprint status update matched no row.
var ErrStaleStatus = errors.New("sprint status changed concurrently")

const sprintColumns = `sp.id,sp.project_id,sp.name,COALESCE(sp.goal,''),sp.start_date,sp.end_date,sp.status,
(SELECT COUNT(*) FROM issues i WHERE i.sprint_id=sp.id),sp.created_at,sp.updated_at`

func scanSprint(row interface{ Scan(...any) error }) (domain.Sprint, error) {
	var sp domain.Sprint
	var start, end sql.NullString
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Goal, &start, &end, &sp.Status, &sp.IssueCount, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return sp, ErrNotFound
	}
	if err != nil {
		return sp, err
	}
	sp.StartDate = stringPtr(start)
	sp.EndDate = stringPtr(end)
	return sp, nil
}

func (r Repo) InsertSprint(ctx context.Context, q Querier, sp domain.Sprint) error {
	_, err := r.exec(ctx, q, `INSERT INTO sprints(id,project_id,name,goal,start_date,end_date,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		sp.ID, sp.ProjectID, sp.Name, nullable(sp.Goal), nullableStringPtr(sp.StartDate), nullableStringPtr(sp.EndDate),
		sp.Status, sp.CreatedAt, sp.UpdatedAt)
	return err
}

func (r Repo) GetSprint(ctx context.Context, q Querier, id string) (domain.Sprint, error) {
	return scanSprint(r.queryRow(ctx, q, `SELECT `+sprintColumns+` FROM sprints sp WHERE sp.id=?`, id))
}

// ListSprints returns the project's sprints, newest first, optionally filtered by status.
func (r Repo) ListSprints(ctx context.Context, q Querier, projectID string, status domain.SprintStatus) ([]domain.Sprint, error) {
	query := `SELECT ` + sprintColumns + ` FROM sprints sp WHERE sp.project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND sp.status=?`
		args = append(args, status)
	}
	rows, err := r.query(ctx, q, query+` ORDER BY sp.created_at DESC, sp.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}

// ActiveSprintID returns the id of the project's active sprint, or ErrNotFound.
func (r Repo) ActiveSprintID(ctx context.Context, q Querier, projectID string) (string, error) {
	var id string
	err := r.queryRow(ctx, q, `SELECT id FROM sprints WHERE project_id=? AND status='active' LIMIT 1`, projectID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func (r Repo) UpdateSprint(ctx context.Context, q Querier, sp domain.Sprint) error {
	return r.execOne(ctx, q, `UPDATE sprints SET name=?, goal=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		sp.Name, nullable(sp.Goal), nullableStringPtr(sp.StartDate), nullableStringPtr(sp.EndDate), sp.UpdatedAt, sp.ID)
}

// SetSprintStatus moves the sprint from one status to another. ErrStaleStatus means the
// sprint was no longer in the expected status.
func (r Repo) SetSprintStatus(ctx context.Context, q Querier, id string, from, to domain.SprintStatus, now string) error {
	err := r.execOne(ctx, q, `UPDATE sprints SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, id, from)
	if errors.Is(err, ErrNotFound) {
		return ErrStaleStatus
	}
	return err
}

// DeleteSprint removes a sprint still in planning.
func (r Repo) DeleteSprint(ctx context.Context, q Querier, id string) error {
	err := r.execOne(ctx, q, `DELETE FROM sprints WHERE id=? AND status='planning'`, id)
	if errors.Is(err, ErrNotFound) {
		return ErrStaleStatus
	}
	return err
}

// ReturnUnfinishedToBacklog detaches every issue of the sprint whose status is not in a
// done category and reports how many were moved.
func (r Repo) ReturnUnfinishedToBacklog(ctx context.Context, q Querier, sprintID, now string) (int, error) {
	res, err := r.exec(ctx, q, `UPDATE issues SET sprint_id=NULL, updated_at=?
WHERE sprint_id=? AND status_id IN (SELECT id FROM workflow_statuses WHERE category<>'done')`, now, sprintID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AddIssuesToSprint attaches the given issues of the project to the sprint. Ids from
// other projects are ignored.
func (r Repo) AddIssuesToSprint(ctx context.Context, q Querier, projectID, sprintID string, issueIDs []string, now string) (int, error) {
	if len(issueIDs) == 0 {
		return 0, nil
	}
	marks, args := placeholders(issueIDs)
	res, err := r.exec(ctx, q, `UPDATE issues SET sprint_id=?, updated_at=? WHERE project_id=? AND id IN (`+marks+`)`,
		append([]any{sprintID, now, projectID}, args...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r Repo) RemoveIssueFromSprint(ctx context.Context, q Querier, sprintID, issueID, now string) error {
	return r.execOne(ctx, q, `UPDATE issues SET sprint_id=NULL, updated_at=? WHERE id=? AND sprint_id=?`, now, issueID, sprintID)
}

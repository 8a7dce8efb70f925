package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

func (r Repo) InsertStatus(ctx context.Context, q Querier, s domain.WorkflowStatus) error {
	_, err := r.exec(ctx, q, `INSERT INTO workflow_statuses(id,project_id,name,category,position) VALUES (?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Category, s.Position)
	return err
}

func (r Repo) GetStatus(ctx context.Context, q Querier, id string) (domain.WorkflowStatus, error) {
	var s domain.WorkflowStatus
	err := r.queryRow(ctx, q, `SELECT id,project_id,name,category,position FROM workflow_statuses WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Category, &s.Position)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStatuses(ctx context.Context, q Querier, projectID string) ([]domain.WorkflowStatus, error) {
	rows, err := r.query(ctx, q, `SELECT id,project_id,name,category,position FROM workflow_statuses WHERE project_id=? ORDER BY position ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowStatus
	for rows.Next() {
		var s domain.WorkflowStatus
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Category, &s.Position); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DefaultStatus returns the first status of the todo category, falling back to the lowest position.
func (r Repo) DefaultStatus(ctx context.Context, q Querier, projectID string) (domain.WorkflowStatus, error) {
	var s domain.WorkflowStatus
	err := r.queryRow(ctx, q, `SELECT id,project_id,name,category,position FROM workflow_statuses WHERE project_id=?
ORDER BY CASE WHEN category='todo' THEN 0 ELSE 1 END, position ASC LIMIT 1`, projectID).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Category, &s.Position)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpdateStatus(ctx context.Context, q Querier, s domain.WorkflowStatus) error {
	return r.execOne(ctx, q, `UPDATE workflow_statuses SET name=?, category=?, position=? WHERE id=?`, s.Name, s.Category, s.Position, s.ID)
}

func (r Repo) DeleteStatus(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM workflow_statuses WHERE id=?`, id)
}

func (r Repo) CountIssuesWithStatus(ctx context.Context, q Querier, statusID string) (int, error) {
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM issues WHERE status_id=?`, statusID).Scan(&n)
	return n, err
}

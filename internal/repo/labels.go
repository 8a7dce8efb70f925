package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

func (r Repo) InsertLabel(ctx context.Context, q Querier, l domain.Label) error {
	_, err := r.exec(ctx, q, `INSERT INTO labels(id,project_id,name,color) VALUES (?,?,?,?)`, l.ID, l.ProjectID, l.Name, l.Color)
	return err
}

func (r Repo) GetLabel(ctx context.Context, q Querier, id string) (domain.Label, error) {
	var l domain.Label
	err := r.queryRow(ctx, q, `SELECT id,project_id,name,color FROM labels WHERE id=?`, id).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) ListLabels(ctx context.Context, q Querier, projectID string) ([]domain.Label, error) {
	rows, err := r.query(ctx, q, `SELECT id,project_id,name,color FROM labels WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) UpdateLabel(ctx context.Context, q Querier, l domain.Label) error {
	return r.execOne(ctx, q, `UPDATE labels SET name=?, color=? WHERE id=?`, l.Name, l.Color, l.ID)
}

func (r Repo) DeleteLabel(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM labels WHERE id=?`, id)
}

// CountProjectLabels counts how many of ids belong to the project.
func (r Repo) CountProjectLabels(ctx context.Context, q Querier, projectID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := placeholders(ids)
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM labels WHERE project_id=? AND id IN (`+marks+`)`, append([]any{projectID}, args...)...).Scan(&n)
	return n, err
}

// SetIssueLabels replaces the issue's label set.
func (r Repo) SetIssueLabels(ctx context.Context, q Querier, issueID string, labelIDs []string) error {
	if _, err := r.exec(ctx, q, `DELETE FROM issue_labels WHERE issue_id=?`, issueID); err != nil {
		return err
	}
	for _, id := range labelIDs {
		if _, err := r.exec(ctx, q, `INSERT INTO issue_labels(issue_id,label_id) VALUES (?,?)`, issueID, id); err != nil {
			return err
		}
	}
	return nil
}

// LabelsForIssues returns labels keyed by issue id.
func (r Repo) LabelsForIssues(ctx context.Context, q Querier, issueIDs []string) (map[string][]domain.Label, error) {
	res := map[string][]domain.Label{}
	if len(issueIDs) == 0 {
		return res, nil
	}
	marks, args := placeholders(issueIDs)
	rows, err := r.query(ctx, q, `SELECT il.issue_id,l.id,l.project_id,l.name,l.color FROM issue_labels il
JOIN labels l ON l.id=il.label_id WHERE il.issue_id IN (`+marks+`) ORDER BY l.name ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var issueID string
		var l domain.Label
		if err := rows.Scan(&issueID, &l.ID, &l.ProjectID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		res[issueID] = append(res[issueID], l)
	}
	return res, rows.Err()
}

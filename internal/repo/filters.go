package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"flowboard/internal/domain"
)

func (r Repo) InsertSavedFilter(ctx context.Context, q Querier, f domain.SavedFilter) error {
	raw, err := json.Marshal(f.Filters)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO saved_filters(id,user_id,project_id,name,filters_json,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.UserID, f.ProjectID, f.Name, string(raw), f.CreatedAt)
	return err
}

func scanSavedFilter(row interface{ Scan(...any) error }) (domain.SavedFilter, error) {
	var f domain.SavedFilter
	var raw string
	if err := row.Scan(&f.ID, &f.UserID, &f.ProjectID, &f.Name, &raw, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return f, ErrNotFound
		}
		return f, err
	}
	f.Filters = map[string]any{}
	if err := json.Unmarshal([]byte(raw), &f.Filters); err != nil {
		return f, err
	}
	return f, nil
}

func (r Repo) GetSavedFilter(ctx context.Context, q Querier, id string) (domain.SavedFilter, error) {
	return scanSavedFilter(r.queryRow(ctx, q, `SELECT id,user_id,project_id,name,filters_json,created_at FROM saved_filters WHERE id=?`, id))
}

func (r Repo) ListSavedFilters(ctx context.Context, q Querier, userID, projectID string) ([]domain.SavedFilter, error) {
	rows, err := r.query(ctx, q, `SELECT id,user_id,project_id,name,filters_json,created_at FROM saved_filters
WHERE user_id=? AND project_id=? ORDER BY created_at ASC, id ASC`, userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SavedFilter
	for rows.Next() {
		f, err := scanSavedFilter(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSavedFilter(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM saved_filters WHERE id=?`, id)
}

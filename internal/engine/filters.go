package engine

import (
	"context"
	"strings"

	"flowboard/internal/domain"
	"flowboard/internal/engine/auth"
	"flowboard/internal/repo"
)

func (e Engine) ListSavedFilters(ctx context.Context, projectID, actorID string) ([]domain.SavedFilter, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListSavedFilters(ctx, e.DB, actorID, projectID)
}

func (e Engine) CreateSavedFilter(ctx context.Context, projectID, name string, filters map[string]any, actorID string) (domain.SavedFilter, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.SavedFilter{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return domain.SavedFilter{}, invalidField("name", "must be between 1 and 255 characters")
	}
	if filters == nil {
		filters = map[string]any{}
	}
	f := domain.SavedFilter{
		ID:        newID(),
		UserID:    actorID,
		ProjectID: projectID,
		Name:      name,
		Filters:   filters,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertSavedFilter(ctx, e.DB, f); err != nil {
		return domain.SavedFilter{}, err
	}
	return f, nil
}

// DeleteSavedFilter removes one of the caller's filters.
func (e Engine) DeleteSavedFilter(ctx context.Context, projectID, filterID, actorID string) error {
	f, err := e.Repo.GetSavedFilter(ctx, e.DB, filterID)
	if err != nil {
		return err
	}
	if f.ProjectID != projectID {
		return repo.ErrNotFound
	}
	if f.UserID != actorID {
		return auth.ForbiddenError{Msg: "you can only delete your own filters"}
	}
	return e.Repo.DeleteSavedFilter(ctx, e.DB, f.ID)
}

// ProjectActivity pages through the project's events, newest first. Pass the smallest id
// of the previous page as cursor to continue.
func (e Engine) ProjectActivity(ctx context.Context, projectID string, cursor int64, limit int, actorID string) ([]domain.Event, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return e.Repo.ListEvents(ctx, e.DB, repo.EventQuery{ProjectID: projectID, Cursor: cursor, Limit: limit})
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
	"flowboard/internal/repo"
)

type IssuePath struct {
	ProjectID string `path:"project_id"`
	IssueID   string `path:"issue_id"`
}

// IssueQuery holds the list and search filters.
type IssueQuery struct {
	Type       string `query:"type"`
	StatusID   string `query:"status_id"`
	Priority   string `query:"priority"`
	AssigneeID string `query:"assignee_id"`
	SprintID   string `query:"sprint_id"`
	ParentID   string `query:"parent_id"`
	LabelID    string `query:"label_id"`
	Backlog    bool   `query:"backlog" doc:"Only issues without a sprint"`
	Page       int    `query:"page" minimum:"1" default:"1"`
	Size       int    `query:"size" minimum:"1" maximum:"200" default:"50"`
}

func (q IssueQuery) filter(search string) repo.IssueFilter {
	return repo.IssueFilter{
		Type:       q.Type,
		StatusID:   q.StatusID,
		Priority:   q.Priority,
		AssigneeID: q.AssigneeID,
		SprintID:   q.SprintID,
		ParentID:   q.ParentID,
		LabelID:    q.LabelID,
		Search:     search,
		Backlog:    q.Backlog,
		Page:       q.Page,
		Size:       q.Size,
	}
}

var issueErrors = []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}

func (s *Server) listIssues(ctx context.Context, projectID string, f repo.IssueFilter) (*out[IssuePage], error) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	items, total, err := s.engine.ListIssues(ctx, projectID, f, userID)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(IssuePage{Items: nonNilSlice(items), Total: total, Page: f.Page, Size: f.Size}), nil
}

func (s *Server) registerIssues(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues",
		Summary:     "List issues",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		IssueQuery
		Search string `query:"search"`
	}) (*out[IssuePage], error) {
		return s.listIssues(ctx, input.ProjectID, input.filter(input.Search))
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/search",
		Summary:     "Search issues by title or key",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		IssueQuery
		Q string `query:"q" required:"true" minLength:"1"`
	}) (*out[IssuePage], error) {
		return s.listIssues(ctx, input.ProjectID, input.filter(input.Q))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues",
		Summary:       "Create issue",
		Description:   "Allocates the next issue key of the project.",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusCreated,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateIssueRequest
	}) (*out[domain.Issue], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		iss, err := s.engine.CreateIssue(ctx, engine.IssueCreateInput{
			ProjectID:   input.ProjectID,
			Type:        b.Type,
			Title:       b.Title,
			Description: b.Description,
			StatusID:    b.StatusID,
			Priority:    b.Priority,
			AssigneeID:  b.AssigneeID,
			SprintID:    b.SprintID,
			ParentID:    b.ParentID,
			StoryPoints: b.StoryPoints,
			DueDate:     b.DueDate,
			LabelIDs:    b.LabelIDs,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(iss), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue-by-key",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/by-key/{key}",
		Summary:     "Get issue by key",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Key string `path:"key" example:"FB-42"`
	}) (*out[domain.Issue], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		iss, err := s.engine.GetIssueByKey(ctx, input.ProjectID, input.Key, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(iss), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}",
		Summary:     "Get issue",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*out[domain.Issue], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		iss, err := s.engine.GetIssue(ctx, input.ProjectID, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(iss), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/issues/{issue_id}",
		Summary:     "Update issue",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		IssuePath
		Body UpdateIssueRequest
	}) (*out[domain.Issue], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		iss, err := s.engine.UpdateIssue(ctx, input.ProjectID, input.IssueID, engine.IssueUpdate{
			Type:        b.Type,
			Title:       b.Title,
			Description: b.Description,
			StatusID:    b.StatusID,
			Priority:    b.Priority,
			AssigneeID:  b.AssigneeID,
			SprintID:    b.SprintID,
			ParentID:    b.ParentID,
			StoryPoints: b.StoryPoints,
			DueDate:     b.DueDate,
			Position:    b.Position,
			LabelIDs:    b.LabelIDs,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(iss), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-issue",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/issues/{issue_id}",
		Summary:       "Delete issue and its children",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteIssue(ctx, input.ProjectID, input.IssueID, userID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-children",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}/children",
		Summary:     "List child issues",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*out[[]domain.Issue], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		children, err := s.engine.ListChildren(ctx, input.ProjectID, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(children)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}/history",
		Summary:     "Issue activity history",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		IssuePath
		Limit int `query:"limit" minimum:"1" maximum:"200" default:"50"`
	}) (*out[[]domain.Event], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evts, err := s.engine.IssueHistory(ctx, input.ProjectID, input.IssueID, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(evts)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-relations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}/relations",
		Summary:     "List issue relations",
		Tags:        []string{"issues"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*out[[]domain.IssueRelation], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rels, err := s.engine.ListRelations(ctx, input.ProjectID, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(rels)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue-relation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues/{issue_id}/relations",
		Summary:       "Relate two issues",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusCreated,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		IssuePath
		Body CreateRelationRequest
	}) (*out[domain.IssueRelation], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rel, err := s.engine.CreateRelation(ctx, input.ProjectID, input.IssueID, input.Body.TargetIssueID, input.Body.Type, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rel), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-issue-relation",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/relations/{relation_id}",
		Summary:       "Delete an issue relation",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		RelationID string `path:"relation_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteRelation(ctx, input.ProjectID, input.RelationID, userID))
	})
}

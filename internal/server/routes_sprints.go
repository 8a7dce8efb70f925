package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
)

type SprintPath struct {
	ProjectID string `path:"project_id"`
	SprintID  string `path:"sprint_id"`
}

func (s *Server) registerSprints(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints",
		Summary:     "List sprints",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Status string `query:"status" doc:"planning, active or completed"`
	}) (*out[[]domain.Sprint], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var status domain.SprintStatus
		if input.Status != "" {
			st, err := domain.ParseSprintStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "", err.Error(), map[string]any{"field": "status"})
			}
			status = st
		}
		sprints, err := s.engine.ListSprints(ctx, input.ProjectID, status, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(sprints)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/sprints",
		Summary:       "Create a sprint in planning",
		Tags:          []string{"sprints"},
		DefaultStatus: http.StatusCreated,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateSprintRequest
	}) (*out[domain.Sprint], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := s.engine.CreateSprint(ctx, input.ProjectID, engine.SprintInput{
			Name:      input.Body.Name,
			Goal:      input.Body.Goal,
			StartDate: input.Body.StartDate,
			EndDate:   input.Body.EndDate,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints/{sprint_id}",
		Summary:     "Get sprint",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *SprintPath) (*out[domain.Sprint], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := s.engine.GetSprint(ctx, input.ProjectID, input.SprintID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sprint",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/sprints/{sprint_id}",
		Summary:     "Update a planning sprint",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		SprintPath
		Body UpdateSprintRequest
	}) (*out[domain.Sprint], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := s.engine.UpdateSprint(ctx, input.ProjectID, input.SprintID, engine.SprintUpdate{
			Name:      input.Body.Name,
			Goal:      input.Body.Goal,
			StartDate: input.Body.StartDate,
			EndDate:   input.Body.EndDate,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-sprint",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/sprints/{sprint_id}",
		Summary:       "Delete a planning sprint",
		Tags:          []string{"sprints"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *SprintPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteSprint(ctx, input.ProjectID, input.SprintID, userID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-sprint",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/start",
		Summary:     "Start a planning sprint",
		Description: "Fails with 422 when the sprint is not in planning or the project already has an active sprint.",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *SprintPath) (*out[domain.Sprint], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := s.engine.StartSprint(ctx, input.ProjectID, input.SprintID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-sprint",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/complete",
		Summary:     "Complete the active sprint",
		Description: "Unfinished issues go back to the backlog.",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *SprintPath) (*out[CompleteSprintResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, returned, err := s.engine.CompleteSprint(ctx, input.ProjectID, input.SprintID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CompleteSprintResponse{Sprint: sp, ReturnedToBacklog: returned}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-sprint-issues",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/issues",
		Summary:     "Move issues into a sprint",
		Tags:        []string{"sprints"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		SprintPath
		Body SprintIssuesRequest
	}) (*out[CountResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.AddIssuesToSprint(ctx, input.ProjectID, input.SprintID, input.Body.IssueIDs, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-sprint-issue",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/sprints/{sprint_id}/issues/{issue_id}",
		Summary:       "Move an issue back to the backlog",
		Tags:          []string{"sprints"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		SprintPath
		IssueID string `path:"issue_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.RemoveIssueFromSprint(ctx, input.ProjectID, input.SprintID, input.IssueID, userID))
	})
}

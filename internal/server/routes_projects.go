package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
	"flowboard/internal/repo"
)

type ProjectPath struct {
	ProjectID string `path:"project_id"`
}

type MemberPath struct {
	ProjectID string `path:"project_id"`
	UserID    string `path:"user_id"`
}

type StatusPath struct {
	ProjectID string `path:"project_id"`
	StatusID  string `path:"status_id"`
}

type LabelPath struct {
	ProjectID string `path:"project_id"`
	LabelID   string `path:"label_id"`
}

var projectErrors = []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

func (s *Server) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects the caller belongs to",
		Tags:        []string{"projects"},
	}, func(ctx context.Context, input *struct {
		Page int `query:"page" minimum:"1" default:"1"`
		Size int `query:"size" minimum:"1" maximum:"100" default:"20"`
	}) (*out[ProjectPage], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, total, err := s.engine.ListProjects(ctx, userID, input.Page, input.Size)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ProjectPage{Items: nonNilSlice(items), Total: total, Page: input.Page, Size: input.Size}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		Tags:          []string{"projects"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*out[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.CreateProject(ctx, engine.ProjectCreateInput{
			Name:        input.Body.Name,
			Key:         input.Body.Key,
			Description: input.Body.Description,
			Methodology: input.Body.Methodology,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Tags:        []string{"projects"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*out[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.GetProject(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Tags:        []string{"projects"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body UpdateProjectRequest
	}) (*out[domain.Project], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.UpdateProject(ctx, input.ProjectID, repo.ProjectUpdate{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Methodology: input.Body.Methodology,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		Tags:          []string{"projects"},
		DefaultStatus: http.StatusNoContent,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteProject(ctx, input.ProjectID, userID))
	})

	s.registerMembers(api)
	s.registerWorkflow(api)
	s.registerLabels(api)
	s.registerFilters(api)
}

func (s *Server) registerMembers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Tags:        []string{"members"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*out[[]domain.Member], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := s.engine.ListMembers(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(members)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add a member by email",
		Tags:          []string{"members"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body AddMemberRequest
	}) (*out[domain.Member], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := input.Body.Role
		if role == "" {
			role = domain.RoleDeveloper
		}
		m, err := s.engine.AddMember(ctx, input.ProjectID, input.Body.Email, role, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-member",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Change a member's role",
		Tags:        []string{"members"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		MemberPath
		Body UpdateMemberRequest
	}) (*out[domain.Member], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := s.engine.UpdateMemberRole(ctx, input.ProjectID, input.UserID, input.Body.Role, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/members/{user_id}",
		Summary:       "Remove a member",
		Tags:          []string{"members"},
		DefaultStatus: http.StatusNoContent,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *MemberPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.RemoveMember(ctx, input.ProjectID, input.UserID, userID))
	})
}

func (s *Server) registerWorkflow(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/statuses",
		Summary:     "List workflow statuses",
		Tags:        []string{"workflow"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*out[[]domain.WorkflowStatus], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		statuses, err := s.engine.ListStatuses(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(statuses)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-status",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/statuses",
		Summary:       "Add a workflow status",
		Tags:          []string{"workflow"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateStatusRequest
	}) (*out[domain.WorkflowStatus], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st := domain.WorkflowStatus{
			ProjectID: input.ProjectID,
			Name:      input.Body.Name,
			Category:  input.Body.Category,
		}
		if input.Body.Position != nil {
			st.Position = *input.Body.Position
		} else {
			existing, err := s.engine.ListStatuses(ctx, input.ProjectID, userID)
			if err != nil {
				return nil, handleError(err)
			}
			st.Position = len(existing)
		}
		created, err := s.engine.CreateStatus(ctx, st, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(created), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/statuses/{status_id}",
		Summary:     "Update a workflow status",
		Tags:        []string{"workflow"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		StatusPath
		Body UpdateStatusRequest
	}) (*out[domain.WorkflowStatus], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := s.engine.UpdateStatus(ctx, input.ProjectID, input.StatusID, engine.StatusUpdate{
			Name:     input.Body.Name,
			Category: input.Body.Category,
			Position: input.Body.Position,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-status",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/statuses/{status_id}",
		Summary:       "Delete an unused workflow status",
		Tags:          []string{"workflow"},
		DefaultStatus: http.StatusNoContent,
		Errors:        append(projectErrors, http.StatusUnprocessableEntity),
	}, func(ctx context.Context, input *StatusPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteStatus(ctx, input.ProjectID, input.StatusID, userID))
	})
}

func (s *Server) registerLabels(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-labels",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/labels",
		Summary:     "List labels",
		Tags:        []string{"labels"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*out[[]domain.Label], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		labels, err := s.engine.ListLabels(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(labels)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-label",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/labels",
		Summary:       "Create label",
		Tags:          []string{"labels"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateLabelRequest
	}) (*out[domain.Label], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := s.engine.CreateLabel(ctx, domain.Label{
			ProjectID: input.ProjectID,
			Name:      input.Body.Name,
			Color:     input.Body.Color,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-label",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/labels/{label_id}",
		Summary:     "Update label",
		Tags:        []string{"labels"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		LabelPath
		Body UpdateLabelRequest
	}) (*out[domain.Label], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := s.engine.UpdateLabel(ctx, input.ProjectID, input.LabelID, engine.LabelUpdate{
			Name:  input.Body.Name,
			Color: input.Body.Color,
		}, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-label",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/labels/{label_id}",
		Summary:       "Delete label",
		Tags:          []string{"labels"},
		DefaultStatus: http.StatusNoContent,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *LabelPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteLabel(ctx, input.ProjectID, input.LabelID, userID))
	})
}

func (s *Server) registerFilters(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-saved-filters",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/filters",
		Summary:     "List the caller's saved filters",
		Tags:        []string{"filters"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *ProjectPath) (*out[[]domain.SavedFilter], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters, err := s.engine.ListSavedFilters(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(filters)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-saved-filter",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/filters",
		Summary:       "Save a filter",
		Tags:          []string{"filters"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body SavedFilterRequest
	}) (*out[domain.SavedFilter], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := s.engine.CreateSavedFilter(ctx, input.ProjectID, input.Body.Name, input.Body.Filters, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-saved-filter",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/filters/{filter_id}",
		Summary:       "Delete a saved filter",
		Tags:          []string{"filters"},
		DefaultStatus: http.StatusNoContent,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		FilterID  string `path:"filter_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteSavedFilter(ctx, input.ProjectID, input.FilterID, userID))
	})
}

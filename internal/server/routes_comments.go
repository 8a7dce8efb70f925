package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"flowboard/internal/domain"
)

type CommentPath struct {
	ProjectID string `path:"project_id"`
	IssueID   string `path:"issue_id"`
	CommentID string `path:"comment_id"`
}

func (s *Server) registerComments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/issues/{issue_id}/comments",
		Summary:     "List comments",
		Tags:        []string{"comments"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *IssuePath) (*out[[]domain.Comment], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := s.engine.ListComments(ctx, input.ProjectID, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(comments)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/issues/{issue_id}/comments",
		Summary:       "Comment on an issue",
		Description:   "Content is sanitised HTML. The assignee and reporter are notified.",
		Tags:          []string{"comments"},
		DefaultStatus: http.StatusCreated,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *struct {
		IssuePath
		Body CommentRequest
	}) (*out[domain.Comment], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := s.engine.CreateComment(ctx, input.ProjectID, input.IssueID, input.Body.Content, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/issues/{issue_id}/comments/{comment_id}",
		Summary:     "Edit a comment",
		Tags:        []string{"comments"},
		Errors:      issueErrors,
	}, func(ctx context.Context, input *struct {
		CommentPath
		Body CommentRequest
	}) (*out[domain.Comment], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := s.engine.UpdateComment(ctx, input.ProjectID, input.IssueID, input.CommentID, input.Body.Content, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/issues/{issue_id}/comments/{comment_id}",
		Summary:       "Delete a comment",
		Tags:          []string{"comments"},
		DefaultStatus: http.StatusNoContent,
		Errors:        issueErrors,
	}, func(ctx context.Context, input *CommentPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return nil, handleError(s.engine.DeleteComment(ctx, input.ProjectID, input.IssueID, input.CommentID, userID))
	})
}

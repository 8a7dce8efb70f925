package auth

import (
	"context"
	"errors"
	"fmt"

	"flowboard/internal/domain"
	"flowboard/internal/repo"
)

// ForbiddenError indicates the caller lacks the project role an operation needs.
// Required is empty when the caller is not a project member at all.
type ForbiddenError struct {
	Required domain.Role
	Msg      string
}

func (e ForbiddenError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Required == "" {
		return "you are not a member of this project"
	}
	return fmt.Sprintf("this action requires at least '%s' role", e.Required)
}

// Service resolves project roles from membership rows.
type Service struct {
	Repo repo.Repo
}

// ProjectRole returns the user's role in the project. A missing project is
// repo.ErrNotFound; a non-member gets ForbiddenError.
func (s Service) ProjectRole(ctx context.Context, q repo.Querier, projectID, userID string) (domain.Role, error) {
	if _, err := s.Repo.GetProject(ctx, q, projectID); err != nil {
		return "", err
	}
	role, err := s.Repo.MemberRole(ctx, q, projectID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ForbiddenError{}
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// Require checks the user holds at least min in the project and returns the actual role.
func (s Service) Require(ctx context.Context, q repo.Querier, projectID, userID string, min domain.Role) (domain.Role, error) {
	role, err := s.ProjectRole(ctx, q, projectID, userID)
	if err != nil {
		return "", err
	}
	if !role.AtLeast(min) {
		return role, ForbiddenError{Required: min}
	}
	return role, nil
}

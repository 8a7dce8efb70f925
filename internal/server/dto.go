package server

import (
	"flowboard/internal/domain"
)

// out wraps a response body for huma.
type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] {
	return &out[T]{Body: v}
}

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name" minLength:"2" maxLength:"255"`
	Password string `json:"password" minLength:"8" maxLength:"128"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type UpdateMeRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name" minLength:"1" maxLength:"100"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1" maxLength:"255"`
	Key         string `json:"key,omitempty" maxLength:"10"`
	Description string `json:"description,omitempty"`
	Methodology string `json:"methodology,omitempty" enum:"kanban,scrum"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Methodology *string `json:"methodology,omitempty" enum:"kanban,scrum"`
}

type AddMemberRequest struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role,omitempty" enum:"admin,project_manager,developer,viewer"`
}

type UpdateMemberRequest struct {
	Role domain.Role `json:"role" enum:"admin,project_manager,developer,viewer"`
}

type CreateStatusRequest struct {
	Name     string                `json:"name" minLength:"1" maxLength:"100"`
	Category domain.StatusCategory `json:"category" enum:"todo,in_progress,done"`
	Position *int                  `json:"position,omitempty"`
}

type UpdateStatusRequest struct {
	Name     *string                `json:"name,omitempty"`
	Category *domain.StatusCategory `json:"category,omitempty" enum:"todo,in_progress,done"`
	Position *int                   `json:"position,omitempty"`
}

type CreateLabelRequest struct {
	Name  string `json:"name" minLength:"1" maxLength:"100"`
	Color string `json:"color,omitempty"`
}

type UpdateLabelRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

type CreateIssueRequest struct {
	Type        domain.IssueType `json:"type,omitempty" enum:"epic,story,task,bug,subtask"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	StatusID    string           `json:"status_id,omitempty"`
	Priority    domain.Priority  `json:"priority,omitempty" enum:"critical,high,medium,low"`
	AssigneeID  string           `json:"assignee_id,omitempty"`
	SprintID    string           `json:"sprint_id,omitempty"`
	ParentID    string           `json:"parent_id,omitempty"`
	StoryPoints *int             `json:"story_points,omitempty"`
	DueDate     string           `json:"due_date,omitempty" format:"date"`
	LabelIDs    []string         `json:"label_ids,omitempty"`
}

// UpdateIssueRequest patches an issue. An empty string clears assignee_id, sprint_id,
// parent_id and due_date.
type UpdateIssueRequest struct {
	Type        *domain.IssueType `json:"type,omitempty" enum:"epic,story,task,bug,subtask"`
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	StatusID    *string           `json:"status_id,omitempty"`
	Priority    *domain.Priority  `json:"priority,omitempty" enum:"critical,high,medium,low"`
	AssigneeID  *string           `json:"assignee_id,omitempty"`
	SprintID    *string           `json:"sprint_id,omitempty"`
	ParentID    *string           `json:"parent_id,omitempty"`
	StoryPoints *int              `json:"story_points,omitempty"`
	DueDate     *string           `json:"due_date,omitempty"`
	Position    *int              `json:"position,omitempty"`
	LabelIDs    *[]string         `json:"label_ids,omitempty"`
}

type CreateRelationRequest struct {
	TargetIssueID string              `json:"target_issue_id"`
	Type          domain.RelationType `json:"type" enum:"blocks,is_blocked_by,relates_to"`
}

type CreateSprintRequest struct {
	Name      string `json:"name" minLength:"1" maxLength:"255"`
	Goal      string `json:"goal,omitempty"`
	StartDate string `json:"start_date,omitempty" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
}

type UpdateSprintRequest struct {
	Name      *string `json:"name,omitempty"`
	Goal      *string `json:"goal,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
}

type SprintIssuesRequest struct {
	IssueIDs []string `json:"issue_ids" minItems:"1"`
}

type CommentRequest struct {
	Content string `json:"content" minLength:"1"`
}

type SavedFilterRequest struct {
	Name    string         `json:"name" minLength:"1" maxLength:"255"`
	Filters map[string]any `json:"filters,omitempty"`
}

// Response payloads

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type" example:"bearer"`
	ExpiresIn    int    `json:"expires_in" doc:"Access token lifetime in seconds"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ForgotPasswordResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}

type APIKeyCreatedResponse struct {
	domain.APIKey
	Key string `json:"key" doc:"Plain key, shown only once"`
}

type ProjectPage struct {
	Items []domain.Project `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Size  int              `json:"size"`
}

type IssuePage struct {
	Items []domain.Issue `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

type CompleteSprintResponse struct {
	Sprint            domain.Sprint `json:"sprint"`
	ReturnedToBacklog int           `json:"returned_to_backlog"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ActivityPage struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

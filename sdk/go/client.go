package flowboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal FlowBoard HTTP API client. BaseURL includes the API base path,
// e.g. http://localhost:8080/api/v1.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	Description  string `json:"description,omitempty"`
	Methodology  string `json:"methodology"`
	OwnerID      string `json:"owner_id"`
	IssueCounter int    `json:"issue_counter"`
}

type Status struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Key        string  `json:"key"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Status     Status  `json:"status"`
	Priority   string  `json:"priority"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	SprintID   *string `json:"sprint_id,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
}

// IssueInput is the body of a create issue request. Empty fields take server defaults.
type IssueInput struct {
	Type       string `json:"type,omitempty"`
	Title      string `json:"title"`
	Priority   string `json:"priority,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
	SprintID   string `json:"sprint_id,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
}

type Sprint struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Goal       string `json:"goal,omitempty"`
	Status     string `json:"status"`
	IssueCount int    `json:"issue_count"`
}

type Notification struct {
	ID        string  `json:"id"`
	IssueID   *string `json:"issue_id,omitempty"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Body      *string `json:"body,omitempty"`
	Read      bool    `json:"read"`
	CreatedAt string  `json:"created_at"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for tokens and keeps the access token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	var resp Tokens
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.AccessToken
	}
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, name, key, methodology string) (Project, error) {
	body := map[string]any{"name": name}
	if key != "" {
		body["key"] = key
	}
	if methodology != "" {
		body["methodology"] = methodology
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) CreateIssue(ctx context.Context, projectID string, in IssueInput) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "issues"), in, &resp)
	return resp, err
}

// IssueByKey looks an issue up by its human key, e.g. FB-12.
func (c *Client) IssueByKey(ctx context.Context, projectID, key string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "issues/by-key/"+url.PathEscape(key)), nil, &resp)
	return resp, err
}

func (c *Client) CreateSprint(ctx context.Context, projectID, name, goal string) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "sprints"), map[string]any{
		"name": name,
		"goal": goal,
	}, &resp)
	return resp, err
}

func (c *Client) StartSprint(ctx context.Context, projectID, sprintID string) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "sprints/"+url.PathEscape(sprintID)+"/start"), nil, &resp)
	return resp, err
}

// CompleteSprint closes the sprint and reports how many issues went back to the backlog.
func (c *Client) CompleteSprint(ctx context.Context, projectID, sprintID string) (Sprint, int, error) {
	var resp struct {
		Sprint            Sprint `json:"sprint"`
		ReturnedToBacklog int    `json:"returned_to_backlog"`
	}
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "sprints/"+url.PathEscape(sprintID)+"/complete"), nil, &resp)
	return resp.Sprint, resp.ReturnedToBacklog, err
}

func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread_only=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(projectID, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"flowboard/internal/app"
	"flowboard/internal/config"
)

const testPassword = "Secret123"

type testServer struct {
	URL    string
	app    *app.App
	client *http.Client
}

func newTestServer(t *testing.T, tweak ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	cfg.Uploads.Dir = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	for _, fn := range tweak {
		fn(cfg)
	}
	a, err := app.Open(context.Background(), cfg, zerolog.Nop(), app.Options{Migrate: true, Storage: true})
	require.NoError(t, err)
	handler, err := New(Config{
		Engine:   a.Engine,
		Hub:      a.Hub,
		Metrics:  a.Metrics,
		Log:      zerolog.Nop(),
		BasePath: "/api/v1",
		Auth: AuthConfig{
			JWTSecret:        cfg.Auth.JWTSecret,
			ExposeResetToken: true,
		},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		a.Close()
	})
	return &testServer{
		URL:    "http://" + ln.Addr().String() + "/api/v1",
		app:    a,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// doJSON sends body as JSON with an optional bearer token, decodes the response into
// out when given and returns the status code.
func (s *testServer) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return res.StatusCode
}

type userInfo struct {
	ID    string
	Token string
}

func (s *testServer) signUp(t *testing.T, email, name string) userInfo {
	t.Helper()
	var u struct {
		ID string `json:"id"`
	}
	status := s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "name": name, "password": testPassword,
	}, &u)
	require.Equal(t, http.StatusCreated, status)
	var tok TokenResponse
	status = s.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": testPassword}, &tok)
	require.Equal(t, http.StatusOK, status)
	return userInfo{ID: u.ID, Token: tok.AccessToken}
}

type projectInfo struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

func (s *testServer) createProject(t *testing.T, token, name, key string) projectInfo {
	t.Helper()
	var p projectInfo
	status := s.doJSON(t, http.MethodPost, "/projects", token, map[string]string{"name": name, "key": key, "methodology": "scrum"}, &p)
	require.Equal(t, http.StatusCreated, status)
	return p
}

type issueInfo struct {
	ID       string  `json:"id"`
	Key      string  `json:"key"`
	SprintID *string `json:"sprint_id"`
}

func (s *testServer) createIssue(t *testing.T, token, projectID string, body map[string]any) issueInfo {
	t.Helper()
	var iss issueInfo
	status := s.doJSON(t, http.MethodPost, "/projects/"+projectID+"/issues", token, body, &iss)
	require.Equal(t, http.StatusCreated, status)
	return iss
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body healthBody
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Database)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	var missing errorEnvelope
	require.Equal(t, http.StatusUnauthorized, s.doJSON(t, http.MethodGet, "/auth/me", "", nil, &missing))
	assert.Equal(t, "unauthorized", missing.Error.Code)

	alice := s.signUp(t, "alice@example.com", "Alice")

	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/auth/me", alice.Token, nil, &me))
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Equal(t, "admin", me.Role, "first account becomes admin")

	bob := s.signUp(t, "bob@example.com", "Bob")
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/auth/me", bob.Token, nil, &me))
	assert.Equal(t, "developer", me.Role)

	var dup errorEnvelope
	require.Equal(t, http.StatusConflict, s.doJSON(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "name": "Alice Again", "password": testPassword,
	}, &dup))

	require.Equal(t, http.StatusUnauthorized, s.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Wrong1234",
	}, nil))

	var tok TokenResponse
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	}, &tok))
	assert.Equal(t, "bearer", tok.TokenType)

	// a refresh token is not accepted as an access token
	require.Equal(t, http.StatusUnauthorized, s.doJSON(t, http.MethodGet, "/auth/me", tok.RefreshToken, nil, nil))

	var rotated TokenResponse
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tok.RefreshToken}, &rotated))
	require.NotEmpty(t, rotated.AccessToken)
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/auth/me", rotated.AccessToken, nil, nil))
	require.Equal(t, http.StatusUnauthorized, s.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tok.AccessToken}, nil))
}

func TestPasswordResetAndAPIKey(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")

	var forgot ForgotPasswordResponse
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "alice@example.com"}, &forgot))
	require.NotEmpty(t, forgot.ResetToken)
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"token": forgot.ResetToken, "new_password": "Changed123",
	}, nil))
	require.Equal(t, http.StatusBadRequest, s.doJSON(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"token": forgot.ResetToken, "new_password": "Changed456",
	}, nil), "reset tokens are single use")
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "Changed123",
	}, nil))

	var key APIKeyCreatedResponse
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/auth/api-keys", alice.Token, map[string]string{"name": "ci"}, &key))
	require.True(t, strings.HasPrefix(key.Key, "fb_"))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", key.Key)
	res, err := s.client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Equal(t, http.StatusNoContent, s.doJSON(t, http.MethodDelete, "/auth/api-keys/"+key.ID, alice.Token, nil, nil))
	req, err = http.NewRequest(http.MethodGet, s.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", key.Key)
	res, err = s.client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestIssueKeysAreSequential(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")
	p := s.createProject(t, alice.Token, "FlowBoard", "fb")
	require.Equal(t, "FB", p.Key)

	for i := 1; i <= 3; i++ {
		iss := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": fmt.Sprintf("Issue %d", i), "type": "task"})
		assert.Equal(t, fmt.Sprintf("FB-%d", i), iss.Key)
	}

	var byKey issueInfo
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/issues/by-key/FB-2", alice.Token, nil, &byKey))
	assert.Equal(t, "FB-2", byKey.Key)

	var page IssuePage
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/issues?size=2", alice.Token, nil, &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)

	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/search?q=issue%203", alice.Token, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "FB-3", page.Items[0].Key)

	epic := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "Epic", "type": "epic"})
	assert.Equal(t, "FB-4", epic.Key)
	var bad errorEnvelope
	require.Equal(t, http.StatusUnprocessableEntity, s.doJSON(t, http.MethodPost, "/projects/"+p.ID+"/issues", alice.Token,
		map[string]any{"title": "Misplaced", "type": "subtask", "parent_id": epic.ID}, &bad))
	assert.Equal(t, "subtask parent must be one of: story, task", bad.Error.Message)

	// a rejected create does not consume a key
	next := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "Story", "type": "story", "parent_id": epic.ID})
	assert.Equal(t, "FB-5", next.Key)
}

func TestSprintLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")
	p := s.createProject(t, alice.Token, "Sprints", "SP")
	base := "/projects/" + p.ID + "/sprints"

	var first, second struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, base, alice.Token, map[string]string{"name": "Sprint 1"}, &first))
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, base, alice.Token, map[string]string{"name": "Sprint 2"}, &second))
	assert.Equal(t, "planning", first.Status)

	open := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "Open work", "sprint_id": first.ID})
	require.NotNil(t, open.SprintID)

	var started struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, base+"/"+first.ID+"/start", alice.Token, nil, &started))
	assert.Equal(t, "active", started.Status)

	var conflict errorEnvelope
	require.Equal(t, http.StatusUnprocessableEntity, s.doJSON(t, http.MethodPost, base+"/"+second.ID+"/start", alice.Token, nil, &conflict))
	assert.Equal(t, "invalid_state", conflict.Error.Code)
	assert.Equal(t, "project already has an active sprint", conflict.Error.Message)

	var notActive errorEnvelope
	require.Equal(t, http.StatusUnprocessableEntity, s.doJSON(t, http.MethodPost, base+"/"+second.ID+"/complete", alice.Token, nil, &notActive))
	assert.Equal(t, "only active sprints can be completed", notActive.Error.Message)

	var done CompleteSprintResponse
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, base+"/"+first.ID+"/complete", alice.Token, nil, &done))
	assert.Equal(t, "completed", string(done.Sprint.Status))
	assert.Equal(t, 1, done.ReturnedToBacklog)

	var back issueInfo
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/issues/"+open.ID, alice.Token, nil, &back))
	assert.Nil(t, back.SprintID)

	var restart errorEnvelope
	require.Equal(t, http.StatusUnprocessableEntity, s.doJSON(t, http.MethodPost, base+"/"+first.ID+"/start", alice.Token, nil, &restart))
	assert.Equal(t, "only planning sprints can be started", restart.Error.Message)

	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, base+"/"+second.ID+"/start", alice.Token, nil, nil))
}

func TestPermissionsAndNotFound(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")
	bob := s.signUp(t, "bob@example.com", "Bob")
	p := s.createProject(t, alice.Token, "Secret", "SEC")

	var outsider errorEnvelope
	require.Equal(t, http.StatusForbidden, s.doJSON(t, http.MethodGet, "/projects/"+p.ID, bob.Token, nil, &outsider))
	assert.Equal(t, "forbidden", outsider.Error.Code)

	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/projects/"+p.ID+"/members", alice.Token,
		map[string]string{"email": "bob@example.com", "role": "viewer"}, nil))

	var denied errorEnvelope
	require.Equal(t, http.StatusForbidden, s.doJSON(t, http.MethodPost, "/projects/"+p.ID+"/issues", bob.Token,
		map[string]any{"title": "Not allowed"}, &denied))
	assert.Equal(t, "developer", denied.Error.Details["required_role"])

	// viewers may still comment
	iss := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "Discuss"})
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/projects/"+p.ID+"/issues/"+iss.ID+"/comments", bob.Token,
		map[string]string{"content": "<p>looks good</p><script>alert(1)</script>"}, nil))

	var missing errorEnvelope
	require.Equal(t, http.StatusNotFound, s.doJSON(t, http.MethodGet, "/projects/does-not-exist", alice.Token, nil, &missing))
	assert.Equal(t, "not_found", missing.Error.Code)
	require.Equal(t, http.StatusNotFound, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/issues/does-not-exist", alice.Token, nil, nil))
}

func TestNotificationsOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")
	bob := s.signUp(t, "bob@example.com", "Bob")
	p := s.createProject(t, alice.Token, "Live", "LIVE")
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/projects/"+p.ID+"/members", alice.Token,
		map[string]string{"email": "bob@example.com", "role": "developer"}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/notifications"
	_, res, err := websocket.Dial(ctx, wsURL+"?token=bogus", nil)
	require.Error(t, err)
	if res != nil {
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+bob.Token, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return s.app.Hub.Connections(bob.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))

	iss := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "For Bob", "assignee_id": bob.ID})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Type    string `json:"type"`
			Title   string `json:"title"`
			IssueID string `json:"issue_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "assigned", msg.Data.Type)
	assert.Equal(t, iss.ID, msg.Data.IssueID)
	assert.Contains(t, msg.Data.Title, iss.Key)

	var count CountResponse
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/notifications/unread-count", bob.Token, nil, &count))
	assert.Equal(t, 1, count.Count)
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodPost, "/notifications/read-all", bob.Token, nil, &count))
	assert.Equal(t, 1, count.Count)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.app.Hub.Connections(bob.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *testServer) upload(t *testing.T, token, path, filename, contentType string, content []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, raw
}

func TestAttachmentUploadAndLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Uploads.MaxBytes = 1024 })
	alice := s.signUp(t, "alice@example.com", "Alice")
	p := s.createProject(t, alice.Token, "Files", "FILE")
	iss := s.createIssue(t, alice.Token, p.ID, map[string]any{"title": "Has files"})
	path := "/projects/" + p.ID + "/issues/" + iss.ID + "/attachments"

	status, raw := s.upload(t, alice.Token, path, "notes.txt", "text/plain", []byte("hello attachments"))
	require.Equal(t, http.StatusCreated, status, string(raw))
	var a struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.Equal(t, "notes.txt", a.Filename)
	assert.EqualValues(t, 17, a.Size)

	req, err := http.NewRequest(http.MethodGet, s.URL+path+"/"+a.ID+"/download", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	res, err := s.client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello attachments", string(body))

	status, raw = s.upload(t, alice.Token, path, "big.txt", "text/plain", bytes.Repeat([]byte("x"), 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, status, string(raw))

	status, _ = s.upload(t, alice.Token, path, "tool.exe", "application/x-msdownload", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, status)

	var list []struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, path, alice.Token, nil, &list))
	require.Len(t, list, 1)
	require.Equal(t, http.StatusNoContent, s.doJSON(t, http.MethodDelete, path+"/"+a.ID, alice.Token, nil, nil))
}

func TestActivityFeedPaging(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@example.com", "Alice")
	p := s.createProject(t, alice.Token, "Feed", "FEED")
	for i := 0; i < 3; i++ {
		s.createIssue(t, alice.Token, p.ID, map[string]any{"title": fmt.Sprintf("Feed %d", i)})
	}

	var page ActivityPage
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/activity?limit=2", alice.Token, nil, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "issue.created", page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	var next ActivityPage
	require.Equal(t, http.StatusOK, s.doJSON(t, http.MethodGet, "/projects/"+p.ID+"/activity?limit=2&cursor="+page.NextCursor, alice.Token, nil, &next))
	require.NotEmpty(t, next.Items)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)
}

package flowboardsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"flowboard/internal/app"
	"flowboard/internal/config"
	"flowboard/internal/engine"
	"flowboard/internal/server"
)

func newAPI(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	cfg.Uploads.Dir = t.TempDir()
	cfg.Auth.JWTSecret = "sdk-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	a, err := app.Open(context.Background(), cfg, zerolog.Nop(), app.Options{Migrate: true, Storage: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	handler, err := server.New(server.Config{
		Engine:   a.Engine,
		Hub:      a.Hub,
		Metrics:  a.Metrics,
		Log:      zerolog.Nop(),
		BasePath: "/api/v1",
		Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, a
}

func TestClientSprintFlow(t *testing.T) {
	srv, a := newAPI(t)
	ctx := context.Background()
	_, err := a.Engine.Register(ctx, engine.RegisterInput{Email: "pm@example.com", Name: "Pat", Password: "Secret123"})
	require.NoError(t, err)
	dev, err := a.Engine.Register(ctx, engine.RegisterInput{Email: "dev@example.com", Name: "Dana", Password: "Secret123"})
	require.NoError(t, err)

	c := New(srv.URL + "/api/v1/")
	_, err = c.Login(ctx, "pm@example.com", "wrong-password")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	tokens, err := c.Login(ctx, "pm@example.com", "Secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, tokens.AccessToken, c.BearerToken)

	p, err := c.CreateProject(ctx, "Client Work", "CW", "scrum")
	require.NoError(t, err)
	assert.Equal(t, "CW", p.Key)
	_, err = a.Engine.AddMember(ctx, p.ID, "dev@example.com", "developer", p.OwnerID)
	require.NoError(t, err)

	sp, err := c.CreateSprint(ctx, p.ID, "Sprint 1", "ship the client")
	require.NoError(t, err)
	assert.Equal(t, "planning", sp.Status)

	is, err := c.CreateIssue(ctx, p.ID, IssueInput{Title: "Write SDK", SprintID: sp.ID, AssigneeID: dev.ID})
	require.NoError(t, err)
	assert.Equal(t, "CW-1", is.Key)
	byKey, err := c.IssueByKey(ctx, p.ID, "CW-1")
	require.NoError(t, err)
	assert.Equal(t, is.ID, byKey.ID)

	started, err := c.StartSprint(ctx, p.ID, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", started.Status)
	_, err = c.StartSprint(ctx, p.ID, sp.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)

	done, returned, err := c.CompleteSprint(ctx, p.ID, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, 1, returned)

	devClient := New(srv.URL + "/api/v1")
	_, err = devClient.Login(ctx, "dev@example.com", "Secret123")
	require.NoError(t, err)
	notes, err := devClient.Notifications(ctx, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "assigned", notes[0].Type)
	require.NotNil(t, notes[0].IssueID)
	assert.Equal(t, is.ID, *notes[0].IssueID)
}

func TestClientWithoutCredentials(t *testing.T) {
	srv, _ := newAPI(t)
	_, err := New(srv.URL+"/api/v1").Notifications(context.Background(), false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "status=401")
}

package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"flowboard/internal/config"
	"flowboard/internal/db"
	"flowboard/internal/engine"
	"flowboard/internal/migrate"
)

type delivery struct {
	Header http.Header
	Event  webhookEvent
}

type hookSink struct {
	mu    sync.Mutex
	got   []delivery
	fail  atomic.Bool
	calls atomic.Int32
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if s.fail.Load() {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
		return
	}
	var evt webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.got = append(s.got, delivery{Header: r.Header.Clone(), Event: evt})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *hookSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.got {
		out = append(out, d.Event.Type)
	}
	return out
}

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	return engine.New(conn, dialect, cfg)
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	assert.True(t, all.match("issue.created"))
	assert.True(t, newEventFilter([]string{" ", "*"}).match("sprint.started"))

	f := newEventFilter([]string{"sprint.*", "issue.created"})
	assert.True(t, f.match("sprint.completed"))
	assert.True(t, f.match("issue.created"))
	assert.False(t, f.match("issue.updated"))
	assert.False(t, f.match("sprint"))
}

func TestDispatcherDeliversNewEvents(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	u, err := e.Register(ctx, engine.RegisterInput{Email: "alice@example.com", Name: "Alice", Password: "Secret123"})
	require.NoError(t, err)
	_, err = e.CreateProject(ctx, engine.ProjectCreateInput{Name: "Before hooks", Key: "OLD"}, u.ID)
	require.NoError(t, err)

	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()
	d := NewDispatcher(e.Repo, e.DB, []config.WebhookConfig{
		{URL: srv.URL, Events: []string{"project.*", "issue.created"}, Secret: "shh"},
	}, zerolog.Nop(), nil)

	// the cursor starts at the newest event
	d.Dispatch(ctx)
	assert.Empty(t, sink.types())

	p, err := e.CreateProject(ctx, engine.ProjectCreateInput{Name: "Hooked", Key: "HK"}, u.ID)
	require.NoError(t, err)
	_, err = e.CreateIssue(ctx, engine.IssueCreateInput{ProjectID: p.ID, Title: "first"}, u.ID)
	require.NoError(t, err)
	_, err = e.CreateSprint(ctx, p.ID, engine.SprintInput{Name: "Sprint 1"}, u.ID)
	require.NoError(t, err)

	d.Dispatch(ctx)
	assert.Equal(t, []string{"project.created", "issue.created"}, sink.types())

	first := sink.got[0]
	assert.Equal(t, "application/json", first.Header.Get("Content-Type"))
	assert.Equal(t, "project.created", first.Header.Get("X-Flowboard-Event"))
	assert.Equal(t, p.ID, first.Header.Get("X-Flowboard-Project"))
	assert.Equal(t, "shh", first.Header.Get("X-Flowboard-Secret"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(first.Event.Payload, &payload))
	assert.Equal(t, "HK", payload["key"])

	d.Dispatch(ctx)
	assert.Len(t, sink.types(), 2, "delivered events are not sent twice")
}

func TestDispatcherRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()
	d := NewDispatcher(e.Repo, e.DB, []config.WebhookConfig{{URL: srv.URL}}, zerolog.Nop(), nil)
	d.Dispatch(ctx)

	u, err := e.Register(ctx, engine.RegisterInput{Email: "bob@example.com", Name: "Bob", Password: "Secret123"})
	require.NoError(t, err)
	_, err = e.CreateProject(ctx, engine.ProjectCreateInput{Name: "Retry"}, u.ID)
	require.NoError(t, err)

	sink.fail.Store(true)
	d.Dispatch(ctx)
	assert.Empty(t, sink.types())
	failedCalls := sink.calls.Load()
	assert.Positive(t, failedCalls)

	sink.fail.Store(false)
	d.Dispatch(ctx)
	assert.Contains(t, sink.types(), "project.created")
}

func TestDisabledWebhookIsSkipped(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()
	off := false
	d := NewDispatcher(e.Repo, e.DB, []config.WebhookConfig{{URL: srv.URL, Enabled: &off}}, zerolog.Nop(), nil)
	d.Dispatch(ctx)
	_, err := e.Register(ctx, engine.RegisterInput{Email: "eve@example.com", Name: "Eve", Password: "Secret123"})
	require.NoError(t, err)
	d.Dispatch(ctx)
	assert.Zero(t, sink.calls.Load())
}

func TestSetupRegistersJobs(t *testing.T) {
	e := newEngine(t)
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}}
	s, err := Setup(context.Background(), e, cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"webhooks", "notification-retention"}, s.Jobs())

	cfg.Jobs.RetentionSchedule = "not a schedule"
	_, err = Setup(context.Background(), e, cfg, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, zerolog.Nop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, s.Add("off", "", func(context.Context) {}))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	cancel()
	require.NoError(t, <-done)
}

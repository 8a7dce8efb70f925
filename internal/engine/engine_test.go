package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"flowboard/internal/config"
	"flowboard/internal/db"
	"flowboard/internal/domain"
	"flowboard/internal/engine"
	"flowboard/internal/engine/auth"
	"flowboard/internal/migrate"
	"flowboard/internal/repo"
)

// recorder captures notifications handed to the live fan-out.
type recorder struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (r *recorder) Push(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) to(userID string) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.notes = nil
	r.mu.Unlock()
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Pushed  *recorder
	Alice   domain.User
	Bob     domain.User
	Carol   domain.User
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	eng := engine.New(conn, dialect, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	rec := &recorder{}
	eng.Notifier = rec
	ctx := context.Background()

	register := func(email, name string) domain.User {
		u, err := eng.Register(ctx, engine.RegisterInput{Email: email, Name: name, Password: "Secret123"})
		require.NoError(t, err)
		return u
	}
	env := testEnv{Engine: eng, Ctx: ctx, Pushed: rec}
	env.Alice = register("alice@example.com", "Alice")
	env.Bob = register("bob@example.com", "Bob")
	env.Carol = register("carol@example.com", "Carol")

	p, err := eng.CreateProject(ctx, engine.ProjectCreateInput{Name: "FlowBoard", Key: "FB", Methodology: "scrum"}, env.Alice.ID)
	require.NoError(t, err)
	env.Project = p
	_, err = eng.AddMember(ctx, p.ID, "bob@example.com", domain.RoleDeveloper, env.Alice.ID)
	require.NoError(t, err)
	_, err = eng.AddMember(ctx, p.ID, "carol@example.com", domain.RoleViewer, env.Alice.ID)
	require.NoError(t, err)
	return env
}

func (env testEnv) issue(t *testing.T, title string, mod ...func(*engine.IssueCreateInput)) domain.Issue {
	t.Helper()
	in := engine.IssueCreateInput{ProjectID: env.Project.ID, Title: title}
	for _, fn := range mod {
		fn(&in)
	}
	is, err := env.Engine.CreateIssue(env.Ctx, in, env.Alice.ID)
	require.NoError(t, err)
	return is
}

func (env testEnv) statusByCategory(t *testing.T, c domain.StatusCategory) domain.WorkflowStatus {
	t.Helper()
	statuses, err := env.Engine.ListStatuses(env.Ctx, env.Project.ID, env.Alice.ID)
	require.NoError(t, err)
	for _, s := range statuses {
		if s.Category == c {
			return s
		}
	}
	t.Fatalf("no %s status", c)
	return domain.WorkflowStatus{}
}

func TestGenerateProjectKey(t *testing.T) {
	cases := map[string]string{
		"FlowBoard":             "FLO",
		"Mobile App":            "MA",
		"the quick brown fox x": "TQBF",
		"!!!":                   "PROJ",
		"":                      "PROJ",
		"ab":                    "AB",
	}
	for name, want := range cases {
		assert.Equal(t, want, engine.GenerateProjectKey(name), name)
	}
}

func TestDefaultWorkflowSeeded(t *testing.T) {
	env := newTestEnv(t)
	statuses, err := env.Engine.ListStatuses(env.Ctx, env.Project.ID, env.Alice.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	names := []string{}
	for _, s := range statuses {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"To Do", "In Progress", "In Review", "Done"}, names)

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateInput{Name: "Other", Key: "fb"}, env.Bob.ID)
	var ce engine.ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestIssueKeysUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	const n = 20
	keys := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			is, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateInput{
				ProjectID: env.Project.ID,
				Title:     fmt.Sprintf("parallel %d", i),
			}, env.Bob.ID)
			if err != nil {
				return err
			}
			keys[i] = is.Key
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	for _, k := range keys {
		require.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("FB-%d", i)], "missing FB-%d", i)
	}
	counter, err := env.Engine.Repo.IssueCounter(env.Ctx, env.Engine.DB, env.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, n, counter)
}

func TestIssueKeyRollbackLeavesNoGap(t *testing.T) {
	env := newTestEnv(t)
	first := env.issue(t, "first")
	assert.Equal(t, "FB-1", first.Key)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	key, err := env.Engine.Repo.AllocateIssueKey(env.Ctx, tx, env.Project.ID, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "FB-2", key)
	require.NoError(t, tx.Rollback())

	second := env.issue(t, "second")
	assert.Equal(t, "FB-2", second.Key)

	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateInput{
		ProjectID: env.Project.ID,
		Title:     "subtask",
		Type:      domain.IssueSubtask,
		ParentID:  first.ID,
	}, env.Alice.ID)
	require.NoError(t, err, "task is a valid subtask parent")
	epic := env.issue(t, "epic", func(in *engine.IssueCreateInput) { in.Type = domain.IssueEpic })
	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateInput{
		ProjectID: env.Project.ID,
		Title:     "bad parent",
		Type:      domain.IssueSubtask,
		ParentID:  epic.ID,
	}, env.Alice.ID)
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
	// the rejected create never reached the allocator
	next := env.issue(t, "after failure")
	assert.Equal(t, "FB-5", next.Key)

	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateInput{ProjectID: "missing", Title: "x"}, env.Alice.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestIssueHierarchyOnUpdate(t *testing.T) {
	env := newTestEnv(t)
	epic := env.issue(t, "epic", func(in *engine.IssueCreateInput) { in.Type = domain.IssueEpic })
	story := env.issue(t, "story", func(in *engine.IssueCreateInput) {
		in.Type = domain.IssueStory
		in.ParentID = epic.ID
	})

	children, err := env.Engine.ListChildren(env.Ctx, env.Project.ID, epic.ID, env.Alice.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, story.ID, children[0].ID)

	epicType := domain.IssueEpic
	_, err = env.Engine.UpdateIssue(env.Ctx, env.Project.ID, story.ID, engine.IssueUpdate{Type: &epicType}, env.Alice.ID)
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "epics cannot have a parent issue", ise.Msg)

	self := story.ID
	_, err = env.Engine.UpdateIssue(env.Ctx, env.Project.ID, story.ID, engine.IssueUpdate{ParentID: &self}, env.Alice.ID)
	require.ErrorAs(t, err, &ise)

	require.NoError(t, env.Engine.DeleteIssue(env.Ctx, env.Project.ID, epic.ID, env.Alice.ID))
	_, err = env.Engine.GetIssue(env.Ctx, env.Project.ID, story.ID, env.Alice.ID)
	require.ErrorIs(t, err, repo.ErrNotFound, "children are removed with their parent")
}

func TestSprintLifecycle(t *testing.T) {
	env := newTestEnv(t)
	pid, alice := env.Project.ID, env.Alice.ID
	s1, err := env.Engine.CreateSprint(env.Ctx, pid, engine.SprintInput{Name: "Sprint 1"}, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SprintPlanning, s1.Status)
	s2, err := env.Engine.CreateSprint(env.Ctx, pid, engine.SprintInput{Name: "Sprint 2"}, alice)
	require.NoError(t, err)

	done := env.statusByCategory(t, domain.CategoryDone)
	open := env.issue(t, "open", func(in *engine.IssueCreateInput) { in.SprintID = s1.ID })
	finished := env.issue(t, "finished", func(in *engine.IssueCreateInput) {
		in.SprintID = s1.ID
		in.StatusID = done.ID
	})

	_, _, err = env.Engine.CompleteSprint(env.Ctx, pid, s1.ID, alice)
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "only active sprints can be completed", ise.Msg)

	started, err := env.Engine.StartSprint(env.Ctx, pid, s1.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SprintActive, started.Status)

	_, err = env.Engine.StartSprint(env.Ctx, pid, s2.ID, alice)
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "project already has an active sprint", ise.Msg)

	name := "renamed"
	_, err = env.Engine.UpdateSprint(env.Ctx, pid, s1.ID, engine.SprintUpdate{Name: &name}, alice)
	require.ErrorAs(t, err, &ise)

	completed, returned, err := env.Engine.CompleteSprint(env.Ctx, pid, s1.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SprintCompleted, completed.Status)
	assert.Equal(t, 1, returned)

	got, err := env.Engine.GetIssue(env.Ctx, pid, open.ID, alice)
	require.NoError(t, err)
	assert.Nil(t, got.SprintID, "unfinished work returns to the backlog")
	got, err = env.Engine.GetIssue(env.Ctx, pid, finished.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, got.SprintID)
	assert.Equal(t, s1.ID, *got.SprintID)

	_, err = env.Engine.StartSprint(env.Ctx, pid, s1.ID, alice)
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "only planning sprints can be started", ise.Msg)

	_, err = env.Engine.AddIssuesToSprint(env.Ctx, pid, s1.ID, []string{open.ID}, alice)
	require.ErrorAs(t, err, &ise)
	require.ErrorAs(t, env.Engine.DeleteSprint(env.Ctx, pid, s1.ID, alice), &ise)

	n, err := env.Engine.AddIssuesToSprint(env.Ctx, pid, s2.ID, []string{open.ID}, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = env.Engine.StartSprint(env.Ctx, pid, s2.ID, alice)
	require.NoError(t, err)

	_, err = env.Engine.StartSprint(env.Ctx, pid, s2.ID, env.Bob.ID)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe, "developers cannot start sprints")
	assert.Equal(t, domain.RoleProjectManager, fe.Required)
}

func TestOnlyOneSprintStartsConcurrently(t *testing.T) {
	env := newTestEnv(t)
	const n = 5
	ids := make([]string, n)
	for i := range ids {
		sp, err := env.Engine.CreateSprint(env.Ctx, env.Project.ID, engine.SprintInput{Name: fmt.Sprintf("S%d", i)}, env.Alice.ID)
		require.NoError(t, err)
		ids[i] = sp.ID
	}
	var (
		mu      sync.Mutex
		started int
		refused int
	)
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := env.Engine.StartSprint(env.Ctx, env.Project.ID, id, env.Alice.ID)
			mu.Lock()
			defer mu.Unlock()
			var ise engine.InvalidStateError
			switch {
			case err == nil:
				started++
			case errors.As(err, &ise):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, started)
	assert.Equal(t, n-1, refused)

	active, err := env.Engine.ListSprints(env.Ctx, env.Project.ID, domain.SprintActive, env.Alice.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateInput{ProjectID: env.Project.ID, Title: "nope"}, env.Carol.ID)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.RoleDeveloper, fe.Required)

	outsider, err := env.Engine.Register(env.Ctx, engine.RegisterInput{Email: "dave@example.com", Name: "Dave", Password: "Secret123"})
	require.NoError(t, err)
	_, err = env.Engine.GetProject(env.Ctx, env.Project.ID, outsider.ID)
	require.ErrorAs(t, err, &fe)
	assert.Empty(t, fe.Required)

	_, err = env.Engine.GetProject(env.Ctx, "missing", env.Alice.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)

	is := env.issue(t, "to delete")
	require.ErrorAs(t, env.Engine.DeleteIssue(env.Ctx, env.Project.ID, is.ID, env.Bob.ID), &fe)
	assert.Equal(t, domain.RoleProjectManager, fe.Required)

	require.ErrorAs(t, env.Engine.RemoveMember(env.Ctx, env.Project.ID, env.Alice.ID, env.Alice.ID), new(engine.InvalidStateError),
		"the owner cannot be removed")
}

func TestAssignmentAndStatusNotifications(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID

	mine := env.issue(t, "self assigned", func(in *engine.IssueCreateInput) { in.AssigneeID = env.Alice.ID })
	require.Empty(t, env.Pushed.to(env.Alice.ID), "actors are never notified of their own changes")

	is := env.issue(t, "for bob", func(in *engine.IssueCreateInput) { in.AssigneeID = env.Bob.ID })
	pushed := env.Pushed.to(env.Bob.ID)
	require.Len(t, pushed, 1)
	assert.Equal(t, domain.NotifyAssigned, pushed[0].Type)
	assert.Equal(t, "You were assigned to "+is.Key, pushed[0].Title)

	stored, err := env.Engine.ListNotifications(env.Ctx, env.Bob.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, pushed[0].ID, stored[0].ID)

	env.Pushed.reset()
	progress := env.statusByCategory(t, domain.CategoryInProgress)
	_, err = env.Engine.UpdateIssue(env.Ctx, pid, is.ID, engine.IssueUpdate{StatusID: &progress.ID}, env.Bob.ID)
	require.NoError(t, err)
	require.Len(t, env.Pushed.to(env.Alice.ID), 1, "reporter hears about the move")
	assert.Empty(t, env.Pushed.to(env.Bob.ID))
	assert.Equal(t, domain.NotifyStatusChanged, env.Pushed.to(env.Alice.ID)[0].Type)

	env.Pushed.reset()
	_, err = env.Engine.UpdateIssue(env.Ctx, pid, mine.ID, engine.IssueUpdate{StatusID: &progress.ID}, env.Alice.ID)
	require.NoError(t, err)
	assert.Empty(t, env.Pushed.notes)

	n, err := env.Engine.MarkNotificationRead(env.Ctx, stored[0].ID, env.Alice.ID)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	n, err = env.Engine.MarkNotificationRead(env.Ctx, stored[0].ID, env.Bob.ID)
	require.NoError(t, err)
	assert.True(t, n.Read)
	count, err := env.Engine.UnreadCount(env.Ctx, env.Bob.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCommentNotificationsAndEditing(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID
	is := env.issue(t, "discuss", func(in *engine.IssueCreateInput) { in.AssigneeID = env.Bob.ID })
	env.Pushed.reset()

	c, err := env.Engine.CreateComment(env.Ctx, pid, is.ID, "<b>LGTM</b><script>alert(1)</script>", env.Carol.ID)
	require.NoError(t, err)
	assert.NotContains(t, c.Content, "script")
	assert.Len(t, env.Pushed.to(env.Alice.ID), 1)
	bobNotes := env.Pushed.to(env.Bob.ID)
	require.Len(t, bobNotes, 1)
	assert.Equal(t, "New comment on "+is.Key, bobNotes[0].Title)
	require.NotNil(t, bobNotes[0].Body)
	assert.Equal(t, "Carol: LGTM", *bobNotes[0].Body)

	env.Pushed.reset()
	_, err = env.Engine.CreateComment(env.Ctx, pid, is.ID, "on it", env.Bob.ID)
	require.NoError(t, err)
	assert.Empty(t, env.Pushed.to(env.Bob.ID))
	assert.Len(t, env.Pushed.to(env.Alice.ID), 1)

	_, err = env.Engine.CreateComment(env.Ctx, pid, is.ID, "<p> </p>", env.Bob.ID)
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = env.Engine.UpdateComment(env.Ctx, pid, is.ID, c.ID, "hijack", env.Bob.ID)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	updated, err := env.Engine.UpdateComment(env.Ctx, pid, is.ID, c.ID, "edited", env.Carol.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
	// global admins may moderate
	require.NoError(t, env.Engine.DeleteComment(env.Ctx, pid, is.ID, c.ID, env.Alice.ID))

	comments, err := env.Engine.ListComments(env.Ctx, pid, is.ID, env.Carol.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}

func TestRelationsAndLabels(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID
	a := env.issue(t, "a")
	b := env.issue(t, "b")

	rel, err := env.Engine.CreateRelation(env.Ctx, pid, a.ID, b.ID, domain.RelationBlocks, env.Bob.ID)
	require.NoError(t, err)
	_, err = env.Engine.CreateRelation(env.Ctx, pid, a.ID, b.ID, domain.RelationBlocks, env.Bob.ID)
	var ce engine.ConflictError
	require.ErrorAs(t, err, &ce)
	_, err = env.Engine.CreateRelation(env.Ctx, pid, a.ID, a.ID, domain.RelationRelatesTo, env.Bob.ID)
	require.Error(t, err)
	rels, err := env.Engine.ListRelations(env.Ctx, pid, b.ID, env.Bob.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
	require.NoError(t, env.Engine.DeleteRelation(env.Ctx, pid, rel.ID, env.Bob.ID))

	bug, err := env.Engine.CreateLabel(env.Ctx, domain.Label{ProjectID: pid, Name: "bug", Color: "#ff0000"}, env.Bob.ID)
	require.NoError(t, err)
	_, err = env.Engine.CreateLabel(env.Ctx, domain.Label{ProjectID: pid, Name: "bug"}, env.Bob.ID)
	require.ErrorAs(t, err, &ce)

	labels := []string{bug.ID, "not-a-label"}
	updated, err := env.Engine.UpdateIssue(env.Ctx, pid, a.ID, engine.IssueUpdate{LabelIDs: &labels}, env.Bob.ID)
	require.NoError(t, err)
	require.Len(t, updated.Labels, 1)
	assert.Equal(t, "bug", updated.Labels[0].Name)

	items, total, err := env.Engine.ListIssues(env.Ctx, pid, repo.IssueFilter{LabelID: bug.ID}, env.Carol.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	history, err := env.Engine.IssueHistory(env.Ctx, pid, a.ID, env.Carol.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "issue.updated", history[0].Type)
}

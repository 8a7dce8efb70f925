package engine

import (
	"context"
	"regexp"
	"strings"

	"flowboard/internal/domain"
	"flowboard/internal/events"
	"flowboard/internal/repo"
)

var (
	keyStrip   = regexp.MustCompile(`[^A-Z0-9]`)
	colorHex   = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	defaultCol = "#6B7280"
)

var defaultStatuses = []struct {
	Name     string
	Category domain.StatusCategory
}{
	{"To Do", domain.CategoryTodo},
	{"In Progress", domain.CategoryInProgress},
	{"In Review", domain.CategoryInProgress},
	{"Done", domain.CategoryDone},
}

// GenerateProjectKey derives a key from the project name: the first three characters
// of a single word or the initials of up to four words.
func GenerateProjectKey(name string) string {
	words := strings.Fields(name)
	var key string
	switch {
	case len(words) == 0:
	case len(words) == 1:
		r := []rune(words[0])
		if len(r) > 3 {
			r = r[:3]
		}
		key = string(r)
	default:
		if len(words) > 4 {
			words = words[:4]
		}
		for _, w := range words {
			key += string([]rune(w)[0])
		}
	}
	if key = normalizeKey(key); key == "" {
		return "PROJ"
	}
	return key
}

func normalizeKey(key string) string {
	key = keyStrip.ReplaceAllString(strings.ToUpper(key), "")
	if len(key) > 10 {
		key = key[:10]
	}
	return key
}

type ProjectCreateInput struct {
	Name        string
	Key         string
	Description string
	Methodology string
}

// CreateProject makes the actor the owner and admin member and seeds the default workflow.
func (e Engine) CreateProject(ctx context.Context, in ProjectCreateInput, actorID string) (domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 255 {
		return domain.Project{}, invalidField("name", "must be between 1 and 255 characters")
	}
	key := GenerateProjectKey(name)
	if strings.TrimSpace(in.Key) != "" {
		key = normalizeKey(in.Key)
		if key == "" {
			return domain.Project{}, invalidField("key", "must contain letters or digits")
		}
	}
	methodology := in.Methodology
	if methodology == "" {
		methodology = "kanban"
	}
	if methodology != "kanban" && methodology != "scrum" {
		return domain.Project{}, invalidField("methodology", "must be kanban or scrum")
	}
	now := e.nowString()
	p := domain.Project{
		ID:          newID(),
		Name:        name,
		Key:         key,
		Description: strings.TrimSpace(in.Description),
		Methodology: methodology,
		OwnerID:     actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, conflictOn(err, "project key already in use")
	}
	if err := e.Repo.AddMember(ctx, tx, p.ID, actorID, domain.RoleAdmin, now); err != nil {
		return domain.Project{}, err
	}
	for i, s := range defaultStatuses {
		if err := e.Repo.InsertStatus(ctx, tx, domain.WorkflowStatus{
			ID:        newID(),
			ProjectID: p.ID,
			Name:      s.Name,
			Category:  s.Category,
			Position:  i,
		}); err != nil {
			return domain.Project{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"key": p.Key, "name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, conflictOn(err, "project key already in use")
	}
	p.MemberCount = 1
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, actorID string, page, size int) ([]domain.Project, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return e.Repo.ListProjectsForUser(ctx, e.DB, actorID, page, size)
}

func (e Engine) GetProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, e.DB, projectID)
}

func (e Engine) UpdateProject(ctx context.Context, projectID string, u repo.ProjectUpdate, actorID string) (domain.Project, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.Project{}, err
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return domain.Project{}, invalidField("name", "must not be empty")
	}
	if u.Methodology != nil && *u.Methodology != "kanban" && *u.Methodology != "scrum" {
		return domain.Project{}, invalidField("methodology", "must be kanban or scrum")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, projectID, u, e.nowString()); err != nil {
		return domain.Project{}, err
	}
	if err := e.events().Append(ctx, tx, events.ProjectUpdated, projectID, "project", projectID, actorID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, e.DB, projectID)
}

// DeleteProject is reserved to project admins.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleAdmin); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ProjectDeleted, projectID, "project", projectID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListMembers(ctx context.Context, projectID, actorID string) ([]domain.Member, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListMembers(ctx, e.DB, projectID)
}

func (e Engine) findMember(ctx context.Context, q repo.Querier, projectID, userID string) (domain.Member, error) {
	members, err := e.Repo.ListMembers(ctx, q, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	for _, m := range members {
		if m.User.ID == userID {
			return m, nil
		}
	}
	return domain.Member{}, repo.ErrNotFound
}

// AddMember adds a registered user, looked up by email, to the project.
func (e Engine) AddMember(ctx context.Context, projectID, email string, role domain.Role, actorID string) (domain.Member, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.Member{}, err
	}
	if role == "" {
		role = domain.RoleDeveloper
	}
	if !role.Valid() {
		return domain.Member{}, invalidField("role", "unknown role %q", role)
	}
	u, err := e.Repo.GetUserByEmail(ctx, e.DB, email)
	if err != nil {
		return domain.Member{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AddMember(ctx, tx, projectID, u.ID, role, e.nowString()); err != nil {
		return domain.Member{}, conflictOn(err, "user is already a member")
	}
	if err := e.events().Append(ctx, tx, events.MemberAdded, projectID, "member", u.ID, actorID, events.EventPayload{"role": role}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, conflictOn(err, "user is already a member")
	}
	return e.findMember(ctx, e.DB, projectID, u.ID)
}

func (e Engine) UpdateMemberRole(ctx context.Context, projectID, userID string, role domain.Role, actorID string) (domain.Member, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleAdmin); err != nil {
		return domain.Member{}, err
	}
	if !role.Valid() {
		return domain.Member{}, invalidField("role", "unknown role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMemberRole(ctx, tx, projectID, userID, role); err != nil {
		return domain.Member{}, err
	}
	if err := e.events().Append(ctx, tx, events.MemberUpdated, projectID, "member", userID, actorID, events.EventPayload{"role": role}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return e.findMember(ctx, e.DB, projectID, userID)
}

// RemoveMember drops a member. The project owner cannot be removed.
func (e Engine) RemoveMember(ctx context.Context, projectID, userID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleAdmin); err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, e.DB, projectID)
	if err != nil {
		return err
	}
	if p.OwnerID == userID {
		return invalidState("the project owner cannot be removed")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveMember(ctx, tx, projectID, userID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.MemberRemoved, projectID, "member", userID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListStatuses(ctx context.Context, projectID, actorID string) ([]domain.WorkflowStatus, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListStatuses(ctx, e.DB, projectID)
}

func (e Engine) CreateStatus(ctx context.Context, s domain.WorkflowStatus, actorID string) (domain.WorkflowStatus, error) {
	if _, err := e.Auth.Require(ctx, e.DB, s.ProjectID, actorID, domain.RoleProjectManager); err != nil {
		return s, err
	}
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return s, invalidField("name", "is required")
	}
	if !s.Category.Valid() {
		return s, invalidField("category", "must be todo, in_progress or done")
	}
	s.ID = newID()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStatus(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.StatusCreated, s.ProjectID, "status", s.ID, actorID, events.EventPayload{"name": s.Name, "category": s.Category}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

type StatusUpdate struct {
	Name     *string
	Category *domain.StatusCategory
	Position *int
}

func (e Engine) UpdateStatus(ctx context.Context, projectID, statusID string, u StatusUpdate, actorID string) (domain.WorkflowStatus, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.WorkflowStatus{}, err
	}
	s, err := e.Repo.GetStatus(ctx, e.DB, statusID)
	if err != nil {
		return s, err
	}
	if s.ProjectID != projectID {
		return domain.WorkflowStatus{}, repo.ErrNotFound
	}
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return s, invalidField("name", "must not be empty")
		}
		s.Name = strings.TrimSpace(*u.Name)
	}
	if u.Category != nil {
		if !u.Category.Valid() {
			return s, invalidField("category", "must be todo, in_progress or done")
		}
		s.Category = *u.Category
	}
	if u.Position != nil {
		s.Position = *u.Position
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStatus(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.StatusUpdated, projectID, "status", s.ID, actorID, events.EventPayload{"name": s.Name, "category": s.Category}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// DeleteStatus removes a workflow status that no issue uses. The last status of a
// project cannot be removed.
func (e Engine) DeleteStatus(ctx context.Context, projectID, statusID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStatus(ctx, tx, statusID)
	if err != nil {
		return err
	}
	if s.ProjectID != projectID {
		return repo.ErrNotFound
	}
	n, err := e.Repo.CountIssuesWithStatus(ctx, tx, statusID)
	if err != nil {
		return err
	}
	if n > 0 {
		return invalidState("status %q is used by %d issues", s.Name, n)
	}
	all, err := e.Repo.ListStatuses(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if len(all) <= 1 {
		return invalidState("a project needs at least one status")
	}
	if err := e.Repo.DeleteStatus(ctx, tx, statusID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.StatusDeleted, projectID, "status", s.ID, actorID, events.EventPayload{"name": s.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListLabels(ctx context.Context, projectID, actorID string) ([]domain.Label, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListLabels(ctx, e.DB, projectID)
}

func normalizeColor(c string) (string, error) {
	if c == "" {
		return defaultCol, nil
	}
	if !colorHex.MatchString(c) {
		return "", invalidField("color", "must be a #RRGGBB hex color")
	}
	return strings.ToUpper(c), nil
}

func (e Engine) CreateLabel(ctx context.Context, l domain.Label, actorID string) (domain.Label, error) {
	if _, err := e.Auth.Require(ctx, e.DB, l.ProjectID, actorID, domain.RoleDeveloper); err != nil {
		return l, err
	}
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" || len(l.Name) > 100 {
		return l, invalidField("name", "must be between 1 and 100 characters")
	}
	color, err := normalizeColor(l.Color)
	if err != nil {
		return l, err
	}
	l.Color = color
	l.ID = newID()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLabel(ctx, tx, l); err != nil {
		return l, conflictOn(err, "label name already exists in this project")
	}
	if err := e.events().Append(ctx, tx, events.LabelCreated, l.ProjectID, "label", l.ID, actorID, events.EventPayload{"name": l.Name}); err != nil {
		return l, err
	}
	return l, conflictOn(tx.Commit(), "label name already exists in this project")
}

type LabelUpdate struct {
	Name  *string
	Color *string
}

func (e Engine) projectLabel(ctx context.Context, projectID, labelID string) (domain.Label, error) {
	l, err := e.Repo.GetLabel(ctx, e.DB, labelID)
	if err != nil {
		return l, err
	}
	if l.ProjectID != projectID {
		return domain.Label{}, repo.ErrNotFound
	}
	return l, nil
}

func (e Engine) UpdateLabel(ctx context.Context, projectID, labelID string, u LabelUpdate, actorID string) (domain.Label, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.Label{}, err
	}
	l, err := e.projectLabel(ctx, projectID, labelID)
	if err != nil {
		return l, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" || len(name) > 100 {
			return l, invalidField("name", "must be between 1 and 100 characters")
		}
		l.Name = name
	}
	if u.Color != nil {
		color, err := normalizeColor(*u.Color)
		if err != nil {
			return l, err
		}
		l.Color = color
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateLabel(ctx, tx, l); err != nil {
		return l, conflictOn(err, "label name already exists in this project")
	}
	if err := e.events().Append(ctx, tx, events.LabelUpdated, projectID, "label", l.ID, actorID, events.EventPayload{"name": l.Name}); err != nil {
		return l, err
	}
	return l, conflictOn(tx.Commit(), "label name already exists in this project")
}

func (e Engine) DeleteLabel(ctx context.Context, projectID, labelID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return err
	}
	if _, err := e.projectLabel(ctx, projectID, labelID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteLabel(ctx, tx, labelID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.LabelDeleted, projectID, "label", labelID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}


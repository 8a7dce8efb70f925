package engine

import (
	"context"
	"errors"
	"strings"

	"flowboard/internal/db"
	"flowboard/internal/domain"
	"flowboard/internal/events"
	"flowboard/internal/repo"
)

// ensureSprintTransition rejects status changes the lifecycle does not allow.
func ensureSprintTransition(sp domain.Sprint, to domain.SprintStatus) error {
	if sp.Status.CanTransition(to) {
		return nil
	}
	switch to {
	case domain.SprintActive:
		return invalidState("only planning sprints can be started")
	case domain.SprintCompleted:
		return invalidState("only active sprints can be completed")
	}
	return invalidState("sprint cannot move from %s to %s", sp.Status, to)
}

// staleTransition maps a lost race on the status flip to the same error a sequential
// caller would have seen.
func staleTransition(err error, to domain.SprintStatus) error {
	switch {
	case errors.Is(err, repo.ErrStaleStatus) && to == domain.SprintActive:
		return invalidState("only planning sprints can be started")
	case errors.Is(err, repo.ErrStaleStatus):
		return invalidState("only active sprints can be completed")
	case to == domain.SprintActive && db.IsUniqueViolation(err):
		return invalidState("project already has an active sprint")
	}
	return err
}

func validateSprintDates(start, end *string) error {
	if start != nil && *start != "" && !domain.ValidDate(*start) {
		return invalidField("start_date", "must be YYYY-MM-DD")
	}
	if end != nil && *end != "" && !domain.ValidDate(*end) {
		return invalidField("end_date", "must be YYYY-MM-DD")
	}
	if start != nil && end != nil && *start != "" && *end != "" && *end < *start {
		return invalidField("end_date", "must not be before start_date")
	}
	return nil
}

// projectSprint loads a sprint and hides sprints of other projects behind NotFound.
func (e Engine) projectSprint(ctx context.Context, q repo.Querier, projectID, sprintID string) (domain.Sprint, error) {
	sp, err := e.Repo.GetSprint(ctx, q, sprintID)
	if err != nil {
		return sp, err
	}
	if sp.ProjectID != projectID {
		return domain.Sprint{}, repo.ErrNotFound
	}
	return sp, nil
}

type SprintInput struct {
	Name      string
	Goal      string
	StartDate string
	EndDate   string
}

func (e Engine) CreateSprint(ctx context.Context, projectID string, in SprintInput, actorID string) (domain.Sprint, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.Sprint{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 255 {
		return domain.Sprint{}, invalidField("name", "must be between 1 and 255 characters")
	}
	start, end := optionalString(in.StartDate), optionalString(in.EndDate)
	if err := validateSprintDates(start, end); err != nil {
		return domain.Sprint{}, err
	}
	now := e.nowString()
	sp := domain.Sprint{
		ID:        newID(),
		ProjectID: projectID,
		Name:      name,
		Goal:      strings.TrimSpace(in.Goal),
		StartDate: start,
		EndDate:   end,
		Status:    domain.SprintPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSprint(ctx, tx, sp); err != nil {
		return domain.Sprint{}, err
	}
	if err := e.events().Append(ctx, tx, events.SprintCreated, projectID, "sprint", sp.ID, actorID, events.EventPayload{"name": sp.Name}); err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return sp, nil
}

func (e Engine) ListSprints(ctx context.Context, projectID string, status domain.SprintStatus, actorID string) ([]domain.Sprint, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return nil, err
	}
	if status != "" {
		if _, err := domain.ParseSprintStatus(string(status)); err != nil {
			return nil, invalidField("status", "%s", err.Error())
		}
	}
	return e.Repo.ListSprints(ctx, e.DB, projectID, status)
}

func (e Engine) GetSprint(ctx context.Context, projectID, sprintID, actorID string) (domain.Sprint, error) {
	if _, err := e.Auth.ProjectRole(ctx, e.DB, projectID, actorID); err != nil {
		return domain.Sprint{}, err
	}
	return e.projectSprint(ctx, e.DB, projectID, sprintID)
}

// SprintUpdate patches a planning sprint. An empty date clears it.
type SprintUpdate struct {
	Name      *string
	Goal      *string
	StartDate *string
	EndDate   *string
}

func (e Engine) UpdateSprint(ctx context.Context, projectID, sprintID string, u SprintUpdate, actorID string) (domain.Sprint, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return domain.Sprint{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return sp, err
	}
	if sp.Status != domain.SprintPlanning {
		return sp, invalidState("only planning sprints can be updated")
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" || len(name) > 255 {
			return sp, invalidField("name", "must be between 1 and 255 characters")
		}
		sp.Name = name
	}
	if u.Goal != nil {
		sp.Goal = strings.TrimSpace(*u.Goal)
	}
	if u.StartDate != nil {
		sp.StartDate = optionalString(*u.StartDate)
	}
	if u.EndDate != nil {
		sp.EndDate = optionalString(*u.EndDate)
	}
	if err := validateSprintDates(sp.StartDate, sp.EndDate); err != nil {
		return sp, err
	}
	sp.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateSprint(ctx, tx, sp); err != nil {
		return sp, err
	}
	if err := e.events().Append(ctx, tx, events.SprintUpdated, projectID, "sprint", sp.ID, actorID, nil); err != nil {
		return sp, err
	}
	if err := tx.Commit(); err != nil {
		return sp, err
	}
	return sp, nil
}

// StartSprint activates a planning sprint. The read-side check gives the usual error;
// the partial unique index on active sprints catches a concurrent start that slipped past it.
func (e Engine) StartSprint(ctx context.Context, projectID, sprintID, actorID string) (domain.Sprint, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.Sprint{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return sp, err
	}
	if err := ensureSprintTransition(sp, domain.SprintActive); err != nil {
		return sp, err
	}
	if _, err := e.Repo.ActiveSprintID(ctx, tx, projectID); err == nil {
		return sp, invalidState("project already has an active sprint")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return sp, err
	}
	now := e.nowString()
	if err := e.Repo.SetSprintStatus(ctx, tx, sp.ID, domain.SprintPlanning, domain.SprintActive, now); err != nil {
		return sp, staleTransition(err, domain.SprintActive)
	}
	if err := e.events().Append(ctx, tx, events.SprintStarted, projectID, "sprint", sp.ID, actorID, nil); err != nil {
		return sp, err
	}
	if err := tx.Commit(); err != nil {
		return sp, staleTransition(err, domain.SprintActive)
	}
	e.Metrics.SprintTransition(string(domain.SprintActive))
	sp.Status = domain.SprintActive
	sp.UpdatedAt = now
	return sp, nil
}

// CompleteSprint closes an active sprint. Issues whose status is not in a done category
// go back to the backlog in the same transaction as the flip.
func (e Engine) CompleteSprint(ctx context.Context, projectID, sprintID, actorID string) (domain.Sprint, int, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return domain.Sprint{}, 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, 0, err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return sp, 0, err
	}
	if err := ensureSprintTransition(sp, domain.SprintCompleted); err != nil {
		return sp, 0, err
	}
	now := e.nowString()
	if err := e.Repo.SetSprintStatus(ctx, tx, sp.ID, domain.SprintActive, domain.SprintCompleted, now); err != nil {
		return sp, 0, staleTransition(err, domain.SprintCompleted)
	}
	moved, err := e.Repo.ReturnUnfinishedToBacklog(ctx, tx, sp.ID, now)
	if err != nil {
		return sp, 0, err
	}
	if err := e.events().Append(ctx, tx, events.SprintCompleted, projectID, "sprint", sp.ID, actorID, events.EventPayload{
		"returned_to_backlog": moved,
	}); err != nil {
		return sp, 0, err
	}
	if err := tx.Commit(); err != nil {
		return sp, 0, err
	}
	e.Metrics.SprintTransition(string(domain.SprintCompleted))
	sp.Status = domain.SprintCompleted
	sp.IssueCount -= moved
	sp.UpdatedAt = now
	return sp, moved, nil
}

func (e Engine) DeleteSprint(ctx context.Context, projectID, sprintID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleProjectManager); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return err
	}
	if sp.Status != domain.SprintPlanning {
		return invalidState("only planning sprints can be deleted")
	}
	if err := e.Repo.DeleteSprint(ctx, tx, sp.ID); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return invalidState("only planning sprints can be deleted")
		}
		return err
	}
	if err := e.events().Append(ctx, tx, events.SprintDeleted, projectID, "sprint", sp.ID, actorID, events.EventPayload{"name": sp.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddIssuesToSprint attaches issues in bulk and returns how many were moved. Ids of
// other projects are ignored.
func (e Engine) AddIssuesToSprint(ctx context.Context, projectID, sprintID string, issueIDs []string, actorID string) (int, error) {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return 0, err
	}
	if sp.Status.Terminal() {
		return 0, invalidState("cannot add issues to a completed sprint")
	}
	n, err := e.Repo.AddIssuesToSprint(ctx, tx, projectID, sp.ID, issueIDs, e.nowString())
	if err != nil {
		return 0, err
	}
	if err := e.events().Append(ctx, tx, events.SprintIssuesAdded, projectID, "sprint", sp.ID, actorID, events.EventPayload{"count": n}); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (e Engine) RemoveIssueFromSprint(ctx context.Context, projectID, sprintID, issueID, actorID string) error {
	if _, err := e.Auth.Require(ctx, e.DB, projectID, actorID, domain.RoleDeveloper); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	sp, err := e.projectSprint(ctx, tx, projectID, sprintID)
	if err != nil {
		return err
	}
	if _, err := e.projectIssue(ctx, tx, projectID, issueID); err != nil {
		return err
	}
	if err := e.Repo.RemoveIssueFromSprint(ctx, tx, sp.ID, issueID, e.nowString()); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.SprintIssueRemoved, projectID, "sprint", sp.ID, actorID, events.EventPayload{"issue_id": issueID}); err != nil {
		return err
	}
	return tx.Commit()
}

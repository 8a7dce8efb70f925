package domain

import "fmt"

// SprintStatus is the lifecycle state of a sprint. Completed is terminal.
type SprintStatus string

const (
	SprintPlanning  SprintStatus = "planning"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
)

var sprintTransitions = map[SprintStatus][]SprintStatus{
	SprintPlanning:  {SprintActive},
	SprintActive:    {SprintCompleted},
	SprintCompleted: nil,
}

func ParseSprintStatus(s string) (SprintStatus, error) {
	st := SprintStatus(s)
	if _, ok := sprintTransitions[st]; !ok {
		return "", fmt.Errorf("invalid sprint status %q", s)
	}
	return st, nil
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s SprintStatus) CanTransition(next SprintStatus) bool {
	for _, allowed := range sprintTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SprintStatus) Terminal() bool {
	return len(sprintTransitions[s]) == 0
}

// Role is a project (or global) role. Roles are totally ordered by Level.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleDeveloper      Role = "developer"
	RoleViewer         Role = "viewer"
)

func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 4
	case RoleProjectManager:
		return 3
	case RoleDeveloper:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func (r Role) Valid() bool { return r.Level() > 0 }

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

type IssueType string

const (
	IssueEpic    IssueType = "epic"
	IssueStory   IssueType = "story"
	IssueTask    IssueType = "task"
	IssueBug     IssueType = "bug"
	IssueSubtask IssueType = "subtask"
)

var validParents = map[IssueType][]IssueType{
	IssueEpic:    nil,
	IssueStory:   {IssueEpic},
	IssueTask:    {IssueEpic},
	IssueBug:     {IssueEpic},
	IssueSubtask: {IssueStory, IssueTask},
}

func (t IssueType) Valid() bool {
	_, ok := validParents[t]
	return ok
}

// AllowedParents lists the issue types that may parent t.
func (t IssueType) AllowedParents() []IssueType {
	return validParents[t]
}

func (t IssueType) CanHaveParent(parent IssueType) bool {
	for _, p := range validParents[t] {
		if p == parent {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

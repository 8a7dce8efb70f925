package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSprintTransitions(t *testing.T) {
	assert.True(t, SprintPlanning.CanTransition(SprintActive))
	assert.True(t, SprintActive.CanTransition(SprintCompleted))
	assert.False(t, SprintPlanning.CanTransition(SprintCompleted))
	assert.False(t, SprintActive.CanTransition(SprintPlanning))
	assert.False(t, SprintCompleted.CanTransition(SprintActive))
	assert.True(t, SprintCompleted.Terminal())
	assert.False(t, SprintActive.Terminal())

	st, err := ParseSprintStatus("active")
	require.NoError(t, err)
	assert.Equal(t, SprintActive, st)
	_, err = ParseSprintStatus("archived")
	assert.Error(t, err)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleProjectManager))
	assert.True(t, RoleDeveloper.AtLeast(RoleDeveloper))
	assert.False(t, RoleViewer.AtLeast(RoleDeveloper))
	assert.False(t, Role("owner").Valid())
	assert.False(t, Role("owner").AtLeast(RoleViewer))
}

func TestIssueHierarchy(t *testing.T) {
	assert.Empty(t, IssueEpic.AllowedParents())
	for _, typ := range []IssueType{IssueStory, IssueTask, IssueBug} {
		assert.True(t, typ.CanHaveParent(IssueEpic), typ)
		assert.False(t, typ.CanHaveParent(IssueStory), typ)
	}
	assert.True(t, IssueSubtask.CanHaveParent(IssueStory))
	assert.True(t, IssueSubtask.CanHaveParent(IssueTask))
	assert.False(t, IssueSubtask.CanHaveParent(IssueEpic))
	assert.False(t, IssueSubtask.CanHaveParent(IssueBug))
	assert.False(t, IssueType("feature").Valid())
}

func TestTimeFormats(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 123456789, time.FixedZone("CET", 3600))
	s := FormatTime(ts)
	assert.Equal(t, "2024-03-09T06:05:01.123456Z", s)
	back, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts.Truncate(time.Microsecond)))

	assert.True(t, ValidDate("2024-02-29"))
	assert.False(t, ValidDate("2023-02-29"))
	assert.False(t, ValidDate("29/02/2024"))
}

package nav

import (
	"testing"

	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleTreesDisjoint(t *testing.T) {
	roles := []model.Role{model.RoleStudent, model.RoleInstructor, model.RoleAdmin}

	seen := make(map[string]model.Role)
	for _, role := range roles {
		cap := For(role)
		require.NotEmpty(t, cap.Menu, "every role has a menu tree")
		require.NotEmpty(t, cap.DefaultRoute)

		for _, item := range cap.Menu {
			owner, dup := seen[item.Route]
			require.False(t, dup, "route %s appears in both %s and %s", item.Route, owner, role)
			seen[item.Route] = role
		}
	}
}

func TestDefaultRouteReachable(t *testing.T) {
	for _, role := range []model.Role{model.RoleStudent, model.RoleInstructor, model.RoleAdmin} {
		cap := For(role)
		assert.True(t, CanReach(role, cap.DefaultRoute))
	}
}

func TestCrossRoleRoutesUnreachable(t *testing.T) {
	assert.False(t, CanReach(model.RoleStudent, "/admin/users"))
	assert.False(t, CanReach(model.RoleInstructor, "/student/exams"))
	assert.False(t, CanReach(model.RoleAdmin, "/instructor/question-bank"))
}

func TestUnknownRoleFailsClosed(t *testing.T) {
	cap := For(model.Role("GUEST"))
	assert.Empty(t, cap.Menu)
	assert.Empty(t, cap.DefaultRoute)
	assert.False(t, CanReach(model.Role("GUEST"), "/student/dashboard"))
}

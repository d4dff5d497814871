package destination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolebridge/pkg/auth"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

func newTestPolicies(t *testing.T) *auth.PolicyService {
	t.Helper()
	enforcer, err := auth.NewEnforcer(newTestDB(t), nil)
	require.NoError(t, err)
	return auth.NewPolicyService(enforcer)
}

func TestGrants(t *testing.T) {
	assert.Empty(t, Grants(rolemap.PermissionsFor(10, rolemap.TierBasic)))

	all := Grants(rolemap.PermissionsFor(100, rolemap.TierEnterprise))
	assert.Len(t, all, 7)

	basic := Grants(rolemap.PermissionsFor(40, rolemap.TierBasic))
	assert.ElementsMatch(t, []auth.Grant{grantEditContent, grantApproveContent, grantAccessReports}, basic)
}

func TestPolicyProjector_ReplacesAndRevokes(t *testing.T) {
	policies := newTestPolicies(t)
	p := NewPolicyProjector(policies)
	domain := auth.Domain(key.App, key.ProjectID)

	require.NoError(t, p.Project(key, role(rolemap.RoleProductionManager, 80)))

	roles, err := policies.RolesForUser(key.UserID, domain)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleSubject(rolemap.RoleProductionManager)}, roles)

	ok, err := policies.Enforce(key.UserID, domain, "team", "manage")
	require.NoError(t, err)
	assert.True(t, ok)

	// 其他项目不受影响
	ok, err = policies.Enforce(key.UserID, auth.Domain(key.App, "p2"), "team", "manage")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Project(key, role(rolemap.RoleEditor, 50)))
	roles, err = policies.RolesForUser(key.UserID, domain)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleSubject(rolemap.RoleEditor)}, roles)

	ok, err = policies.Enforce(key.UserID, domain, "team", "manage")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = policies.Enforce(key.UserID, domain, "content", "approve")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Revoke(key))
	roles, err = policies.RolesForUser(key.UserID, domain)
	require.NoError(t, err)
	assert.Empty(t, roles)
	ok, err = policies.Enforce(key.UserID, domain, "content", "edit")
	require.NoError(t, err)
	assert.False(t, ok)
}

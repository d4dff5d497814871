package rolemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTiers = []Tier{TierBasic, TierPro, TierEnterprise}

func TestMap_MemberOnPro(t *testing.T) {
	m := NewEngine().Map("MEMBER", nil, TierPro)

	assert.Equal(t, RoleAssociateProducer, m.TargetRole)
	assert.Equal(t, 60, m.EffectiveHierarchy)
	assert.True(t, m.Permissions.CanManageProjects)
	assert.False(t, m.Permissions.CanViewFinancials)
	assert.False(t, m.IsHeuristicMapping)
	assert.Equal(t, MatchBasic, m.MatchedBy)
}

func TestMap_AdminClampedOnBasic(t *testing.T) {
	m := NewEngine().Map("ADMIN", nil, TierBasic)

	assert.Equal(t, RoleAdmin, m.TargetRole)
	assert.Equal(t, 40, m.EffectiveHierarchy)
	assert.False(t, m.Permissions.CanManageSettings)
	assert.False(t, m.Permissions.CanManageTeam)
	assert.False(t, m.Permissions.CanViewFinancials)
	assert.True(t, m.Permissions.CanApproveContent)
	assert.Equal(t, 40, m.Permissions.HierarchyLevel)
}

func TestMap_LineProducerTemplate(t *testing.T) {
	tpl := &TemplateRole{ID: "tpl-line", DisplayName: "Line Producer", Hierarchy: 50}
	m := NewEngine().Map("MEMBER", tpl, TierEnterprise)

	assert.Equal(t, RoleLineProducer, m.TargetRole)
	assert.Equal(t, 50, m.EffectiveHierarchy)
	assert.True(t, m.IsHeuristicMapping)
	assert.Equal(t, MatchSemantic+":producer", m.MatchedBy)
}

func TestMap_TableMatchTakesHigherHierarchy(t *testing.T) {
	e := NewEngine()

	exact := e.Map("MEMBER", &TemplateRole{ID: "t1", Name: "producer", Hierarchy: 50}, TierEnterprise)
	assert.Equal(t, RoleProducer, exact.TargetRole)
	assert.Equal(t, 70, exact.EffectiveHierarchy)
	assert.Equal(t, MatchTable, exact.MatchedBy)
	assert.False(t, exact.IsHeuristicMapping)

	higher := e.Map("MEMBER", &TemplateRole{ID: "t2", Name: "Editor", Hierarchy: 75}, TierEnterprise)
	assert.Equal(t, RoleEditor, higher.TargetRole)
	assert.Equal(t, 75, higher.EffectiveHierarchy)

	// 子串匹配优先更长的角色名
	sub := e.Map("MEMBER", &TemplateRole{ID: "t3", Name: "senior-assistant-editor", Hierarchy: 30}, TierEnterprise)
	assert.Equal(t, RoleAssistantEditor, sub.TargetRole)
	assert.Equal(t, 40, sub.EffectiveHierarchy)
}

func TestMap_TableSubstringMatchesAdmin(t *testing.T) {
	e := NewEngine()
	tpl := &TemplateRole{ID: "t-admin-asst", Name: "Administrative Assistant", Hierarchy: 30}

	// 名称包含 ADMIN 即命中层级表，层级取模板与表中较高者，再按套餐截断
	m := e.Map("MEMBER", tpl, TierEnterprise)
	assert.Equal(t, RoleAdmin, m.TargetRole)
	assert.Equal(t, 100, m.EffectiveHierarchy)
	assert.Equal(t, MatchTable, m.MatchedBy)
	assert.True(t, m.Permissions.CanManageSettings)

	basic := e.Map("MEMBER", tpl, TierBasic)
	assert.Equal(t, RoleAdmin, basic.TargetRole)
	assert.Equal(t, 40, basic.EffectiveHierarchy)
	assert.False(t, basic.Permissions.CanManageTeam)

	// 只有显示名时走关键词规则，不会命中 ADMIN
	byDisplay := e.Map("MEMBER", &TemplateRole{ID: "t-admin-asst-display", DisplayName: "Administrative Assistant", Hierarchy: 30}, TierEnterprise)
	assert.Equal(t, RoleProductionAssist, byDisplay.TargetRole)
	assert.True(t, byDisplay.IsHeuristicMapping)
}

func TestMap_SemanticRules(t *testing.T) {
	tests := []struct {
		name string
		tpl  TemplateRole
		want string
	}{
		{"director high", TemplateRole{DisplayName: "Creative Director", Hierarchy: 95}, RoleExecutiveProducer},
		{"manager", TemplateRole{DisplayName: "Post Production Manager", Hierarchy: 85}, RoleProductionManager},
		{"manager low hierarchy falls through", TemplateRole{DisplayName: "Stage Manager", Hierarchy: 50}, RoleEditor},
		{"editor", TemplateRole{DisplayName: "Video Editor", Hierarchy: 50}, RoleEditor},
		{"assistant editor", TemplateRole{DisplayName: "Assistant Editor", Hierarchy: 35}, RoleAssistantEditor},
		{"executive producer", TemplateRole{DisplayName: "Executive Producer", Hierarchy: 70}, RoleExecutiveProducer},
		{"associate producer", TemplateRole{DisplayName: "Associate Producer", Hierarchy: 55}, RoleAssociateProducer},
		{"producer", TemplateRole{DisplayName: "Producer", Hierarchy: 70}, RoleProducer},
		{"camera", TemplateRole{DisplayName: "Camera Operator", Hierarchy: 45}, RoleCameraOperator},
		{"sound via description", TemplateRole{DisplayName: "Crew", Description: "Handles audio capture", Hierarchy: 45}, RoleSoundEngineer},
		{"lighting", TemplateRole{DisplayName: "Lighting Tech", Hierarchy: 40}, RoleLightingTechnician},
		{"colorist", TemplateRole{DisplayName: "Color Grading", Hierarchy: 45}, RoleColorist},
		{"graphics", TemplateRole{DisplayName: "Motion Graphics Artist", Hierarchy: 40}, RoleGraphicsDesigner},
		{"quality", TemplateRole{DisplayName: "Quality Reviewer", Hierarchy: 35}, RoleQASpecialist},
		{"intern", TemplateRole{DisplayName: "Intern", Hierarchy: 30}, RoleProductionAssist},
		{"low hierarchy", TemplateRole{DisplayName: "Guest", Hierarchy: 5}, RoleProductionAssist},
	}
	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := tt.tpl
			m := e.Map("MEMBER", &tpl, TierEnterprise)
			assert.Equal(t, tt.want, m.TargetRole)
			assert.Equal(t, ClampHierarchy(tpl.Hierarchy, TierEnterprise), m.EffectiveHierarchy)
		})
	}
}

func TestMap_BandFallback(t *testing.T) {
	tests := []struct {
		hierarchy int
		want      string
	}{
		{95, RoleExecutiveProducer},
		{82, RoleProductionManager},
		{65, RoleProducer},
		{45, RoleEditor},
		{25, RoleProductionAssist},
	}
	e := NewEngine()
	for _, tt := range tests {
		m := e.Map("MEMBER", &TemplateRole{DisplayName: "Generalist", Hierarchy: tt.hierarchy}, TierEnterprise)
		assert.Equal(t, tt.want, m.TargetRole, "hierarchy %d", tt.hierarchy)
		assert.Equal(t, MatchBand, m.MatchedBy)
		assert.True(t, m.IsHeuristicMapping)
	}
}

func TestMap_UnknownSourceRoleIsLowestPrivilege(t *testing.T) {
	m := NewEngine().Map("STRANGER", nil, TierEnterprise)
	assert.Equal(t, RoleViewer, m.TargetRole)
	assert.Equal(t, 10, m.EffectiveHierarchy)
	assert.False(t, m.Permissions.CanEditContent)
}

func TestMap_ClampInvariant(t *testing.T) {
	e := NewEngine()
	sources := []string{"ADMIN", "OWNER", "MEMBER", "VIEWER", ""}
	templates := []*TemplateRole{
		nil,
		{ID: "a", Name: "admin", Hierarchy: 100},
		{ID: "b", DisplayName: "Executive Producer", Hierarchy: 120},
		{ID: "c", DisplayName: "Something", Hierarchy: -5},
		{ID: "d", DisplayName: "Line Producer", Hierarchy: 65},
	}
	for _, tier := range allTiers {
		for _, src := range sources {
			for _, tpl := range templates {
				m := e.Map(src, tpl, tier)
				assert.LessOrEqual(t, m.EffectiveHierarchy, tier.Cap())
				assert.GreaterOrEqual(t, m.EffectiveHierarchy, MinHierarchy)
				assert.Equal(t, PermissionsFor(m.EffectiveHierarchy, tier), m.Permissions)
			}
		}
	}
}

func TestMap_Cached(t *testing.T) {
	e := NewEngine()
	tpl := &TemplateRole{ID: "tpl-1", DisplayName: "Video Editor", Hierarchy: 50, Tags: []string{"post"}}

	first := e.Map("MEMBER", tpl, TierPro)
	second := e.Map("MEMBER", tpl, TierPro)
	assert.Equal(t, first, second)
	assert.Same(t, first.TemplateRole, second.TemplateRole)
	assert.Equal(t, 1, e.CacheSize())

	// 缓存保存的是模板快照，调用方后续修改不影响结果
	tpl.Tags[0] = "changed"
	assert.Equal(t, "post", e.Map("MEMBER", tpl, TierPro).TemplateRole.Tags[0])

	e.Map("MEMBER", nil, TierPro)
	e.Map("MEMBER", nil, TierBasic)
	assert.Equal(t, 3, e.CacheSize())

	e.ResetCache()
	assert.Equal(t, 0, e.CacheSize())
	assert.Equal(t, first.TargetRole, e.Map("MEMBER", tpl, TierPro).TargetRole)
}

func TestMap_TemplateWithoutIDNotCached(t *testing.T) {
	e := NewEngine()
	m := e.Map("MEMBER", &TemplateRole{DisplayName: "Video Editor", Hierarchy: 50}, TierPro)
	assert.Equal(t, RoleEditor, m.TargetRole)
	assert.Equal(t, 0, e.CacheSize())
}

func TestMap_UnknownTierTreatedAsBasic(t *testing.T) {
	m := NewEngine().Map("ADMIN", nil, Tier("gold"))
	assert.Equal(t, TierBasic, m.Tier)
	assert.Equal(t, 40, m.EffectiveHierarchy)
}

func TestPermissionsFor(t *testing.T) {
	p := PermissionsFor(100, TierEnterprise)
	assert.Equal(t, Permissions{
		CanManageTeam:     true,
		CanManageProjects: true,
		CanViewFinancials: true,
		CanEditContent:    true,
		CanApproveContent: true,
		CanAccessReports:  true,
		CanManageSettings: true,
		HierarchyLevel:    100,
	}, p)

	pro := PermissionsFor(100, TierPro)
	assert.Equal(t, 80, pro.HierarchyLevel)
	assert.True(t, pro.CanManageTeam)
	assert.True(t, pro.CanViewFinancials)
	assert.False(t, pro.CanManageSettings)

	edge := PermissionsFor(25, TierBasic)
	assert.True(t, edge.CanEditContent)
	assert.False(t, edge.CanAccessReports)
}

func TestValidateAssignment(t *testing.T) {
	for _, tier := range allTiers {
		for _, rl := range Roles() {
			v := ValidateAssignment(rl.Role, tier)
			assert.Equal(t, rl.Hierarchy <= tier.Cap(), v.IsValid, "%s on %s", rl.Role, tier)
			if v.IsValid {
				assert.Empty(t, v.Reason)
			} else {
				assert.Contains(t, v.Reason, rl.Role)
			}
		}
	}

	v := ValidateAssignment("astronaut", TierEnterprise)
	assert.False(t, v.IsValid)
	assert.NotEmpty(t, v.Reason)

	assert.True(t, ValidateAssignment("line producer", TierPro).IsValid)
}

func TestAvailableRoles(t *testing.T) {
	basic := AvailableRoles(TierBasic)
	require.NotEmpty(t, basic)
	assert.Equal(t, 40, basic[0].Hierarchy)
	for _, rl := range basic {
		assert.LessOrEqual(t, rl.Hierarchy, 40)
	}
	assert.Len(t, AvailableRoles(TierEnterprise), len(Roles()))
	assert.Equal(t, RoleAdmin, AvailableRoles(TierEnterprise)[0].Role)
}

func TestReverseMap(t *testing.T) {
	role, h := ReverseMap(RoleExecutiveProducer, 0)
	assert.Equal(t, SourceRoleAdmin, role)
	assert.Equal(t, 90, h)

	role, _ = ReverseMap(RoleEditor, 50)
	assert.Equal(t, SourceRoleMember, role)

	role, _ = ReverseMap(RoleViewer, 0)
	assert.Equal(t, SourceRoleViewer, role)
}

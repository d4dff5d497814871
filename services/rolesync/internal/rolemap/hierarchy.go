package rolemap

import (
	"sort"
	"strings"
)

// 目标应用(appB)角色
const (
	RoleAdmin              = "ADMIN"
	RoleExecutiveProducer  = "EXECUTIVE_PRODUCER"
	RoleProductionManager  = "PRODUCTION_MANAGER"
	RoleProducer           = "PRODUCER"
	RoleLineProducer       = "LINE_PRODUCER"
	RoleAssociateProducer  = "ASSOCIATE_PRODUCER"
	RoleEditor             = "EDITOR"
	RoleCameraOperator     = "CAMERA_OPERATOR"
	RoleSoundEngineer      = "SOUND_ENGINEER"
	RoleColorist           = "COLORIST"
	RoleAssistantEditor    = "ASSISTANT_EDITOR"
	RoleLightingTechnician = "LIGHTING_TECHNICIAN"
	RoleGraphicsDesigner   = "GRAPHICS_DESIGNER"
	RoleQASpecialist       = "QA_SPECIALIST"
	RoleProductionAssist   = "PRODUCTION_ASSISTANT"
	RoleViewer             = "VIEWER"
)

// 源应用(appA)角色
const (
	SourceRoleOwner  = "OWNER"
	SourceRoleAdmin  = "ADMIN"
	SourceRoleMember = "MEMBER"
	SourceRoleViewer = "VIEWER"
)

// 层级取值范围
const (
	MinHierarchy = 0
	MaxHierarchy = 100
)

// hierarchyTable 角色层级表，层级越高权限越大
var hierarchyTable = map[string]int{
	RoleAdmin:              100,
	RoleExecutiveProducer:  90,
	RoleProductionManager:  80,
	RoleProducer:           70,
	RoleLineProducer:       65,
	RoleAssociateProducer:  60,
	RoleEditor:             50,
	RoleCameraOperator:     45,
	RoleSoundEngineer:      45,
	RoleColorist:           45,
	RoleAssistantEditor:    40,
	RoleLightingTechnician: 40,
	RoleGraphicsDesigner:   40,
	RoleQASpecialist:       35,
	RoleProductionAssist:   20,
	RoleViewer:             10,
}

// rolesByLength 子串匹配时优先匹配更长的角色名，避免 EDITOR 抢先命中 ASSISTANT_EDITOR
var rolesByLength = func() []string {
	names := make([]string, 0, len(hierarchyTable))
	for name := range hierarchyTable {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// RoleLevel 角色及其层级
type RoleLevel struct {
	Role      string `json:"role"`
	Hierarchy int    `json:"hierarchy"`
}

// Hierarchy 查询角色层级
func Hierarchy(role string) (int, bool) {
	h, ok := hierarchyTable[NormalizeRoleName(role)]
	return h, ok
}

// Roles 返回层级表中的全部角色，按层级降序
func Roles() []RoleLevel {
	out := make([]RoleLevel, 0, len(hierarchyTable))
	for role, h := range hierarchyTable {
		out = append(out, RoleLevel{Role: role, Hierarchy: h})
	}
	sortRoleLevels(out)
	return out
}

func sortRoleLevels(levels []RoleLevel) {
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Hierarchy != levels[j].Hierarchy {
			return levels[i].Hierarchy > levels[j].Hierarchy
		}
		return levels[i].Role < levels[j].Role
	})
}

// NormalizeRoleName 统一角色名格式: 大写，空格和连字符替换为下划线
func NormalizeRoleName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	return strings.ToUpper(name)
}

// matchTable 按名称精确或子串匹配层级表
func matchTable(name string) (string, int, bool) {
	norm := NormalizeRoleName(name)
	if norm == "" {
		return "", 0, false
	}
	if h, ok := hierarchyTable[norm]; ok {
		return norm, h, true
	}
	for _, role := range rolesByLength {
		if strings.Contains(norm, role) {
			return role, hierarchyTable[role], true
		}
	}
	return "", 0, false
}

// ClampHierarchy 把层级限制在 [0, 套餐上限] 内
func ClampHierarchy(h int, tier Tier) int {
	if h < MinHierarchy {
		return MinHierarchy
	}
	if limit := tier.Cap(); h > limit {
		return limit
	}
	return h
}

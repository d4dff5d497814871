package rolemap

import (
	"fmt"
	"strings"
)

// Tier 组织套餐等级
type Tier string

const (
	TierBasic      Tier = "BASIC"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// ParseTier 解析套餐等级，未知值按最严格的 BASIC 处理
func ParseTier(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierBasic
	}
}

// Cap 套餐允许的最高层级
func (t Tier) Cap() int {
	switch t {
	case TierEnterprise:
		return 100
	case TierPro:
		return 80
	default:
		return 40
	}
}

// Permissions 由层级和套餐推导出的能力集合
type Permissions struct {
	CanManageTeam     bool `json:"canManageTeam"`
	CanManageProjects bool `json:"canManageProjects"`
	CanViewFinancials bool `json:"canViewFinancials"`
	CanEditContent    bool `json:"canEditContent"`
	CanApproveContent bool `json:"canApproveContent"`
	CanAccessReports  bool `json:"canAccessReports"`
	CanManageSettings bool `json:"canManageSettings"`
	HierarchyLevel    int  `json:"hierarchyLevel"`
}

// 能力阈值
const (
	thresholdManageTeam     = 80
	thresholdManageProjects = 60
	thresholdViewFinancials = 70
	thresholdEditContent    = 25
	thresholdApproveContent = 40
	thresholdAccessReports  = 30
	thresholdManageSettings = 90
)

// PermissionsFor 计算能力集合，层级先按套餐截断
func PermissionsFor(hierarchy int, tier Tier) Permissions {
	h := ClampHierarchy(hierarchy, tier)
	p := Permissions{
		CanManageTeam:     h >= thresholdManageTeam,
		CanManageProjects: h >= thresholdManageProjects,
		CanViewFinancials: h >= thresholdViewFinancials && tier != TierBasic,
		CanEditContent:    h >= thresholdEditContent,
		CanApproveContent: h >= thresholdApproveContent,
		CanAccessReports:  h >= thresholdAccessReports,
		CanManageSettings: h >= thresholdManageSettings,
		HierarchyLevel:    h,
	}
	if tier == TierBasic {
		p.CanViewFinancials = false
		p.CanManageSettings = false
	}
	return p
}

// Validation 角色分配校验结果
type Validation struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

// ValidateAssignment 校验角色能否在该套餐下分配
func ValidateAssignment(role string, tier Tier) Validation {
	h, ok := Hierarchy(role)
	if !ok {
		return Validation{Reason: fmt.Sprintf("未知角色: %s", role)}
	}
	if limit := tier.Cap(); h > limit {
		return Validation{
			Reason: fmt.Sprintf("角色 %s 的层级 %d 超出 %s 套餐上限 %d", NormalizeRoleName(role), h, tier, limit),
		}
	}
	return Validation{IsValid: true}
}

// AvailableRoles 套餐下可分配的全部角色，按层级降序
func AvailableRoles(tier Tier) []RoleLevel {
	limit := tier.Cap()
	out := make([]RoleLevel, 0, len(hierarchyTable))
	for role, h := range hierarchyTable {
		if h <= limit {
			out = append(out, RoleLevel{Role: role, Hierarchy: h})
		}
	}
	sortRoleLevels(out)
	return out
}

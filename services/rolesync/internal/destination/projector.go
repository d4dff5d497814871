package destination

import (
	"fmt"

	"github.com/rolebridge/pkg/auth"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

// 能力对应的资源与动作
var (
	grantManageTeam     = auth.Grant{Object: "team", Action: "manage"}
	grantManageProjects = auth.Grant{Object: "projects", Action: "manage"}
	grantViewFinancials = auth.Grant{Object: "financials", Action: "view"}
	grantEditContent    = auth.Grant{Object: "content", Action: "edit"}
	grantApproveContent = auth.Grant{Object: "content", Action: "approve"}
	grantAccessReports  = auth.Grant{Object: "reports", Action: "view"}
	grantManageSettings = auth.Grant{Object: "settings", Action: "manage"}
)

// Grants 能力集合转换为策略
func Grants(p rolemap.Permissions) []auth.Grant {
	var grants []auth.Grant
	add := func(ok bool, g auth.Grant) {
		if ok {
			grants = append(grants, g)
		}
	}
	add(p.CanManageTeam, grantManageTeam)
	add(p.CanManageProjects, grantManageProjects)
	add(p.CanViewFinancials, grantViewFinancials)
	add(p.CanEditContent, grantEditContent)
	add(p.CanApproveContent, grantApproveContent)
	add(p.CanAccessReports, grantAccessReports)
	add(p.CanManageSettings, grantManageSettings)
	return grants
}

// Projector 在目标记录写入后同步访问控制策略
type Projector interface {
	Project(key Key, role Role) error
	Revoke(key Key) error
}

// PolicyProjector 将目标记录投影为 Casbin 策略
type PolicyProjector struct {
	policies *auth.PolicyService
}

// NewPolicyProjector 创建投影器
func NewPolicyProjector(policies *auth.PolicyService) *PolicyProjector {
	return &PolicyProjector{policies: policies}
}

// Project 替换用户在项目域内的角色与能力
func (p *PolicyProjector) Project(key Key, role Role) error {
	if err := p.policies.SetUserRole(key.UserID, auth.Domain(key.App, key.ProjectID), role.ResolvedRole, Grants(role.Permissions)); err != nil {
		return fmt.Errorf("project policy for %s/%s: %w", key.ProjectID, key.UserID, err)
	}
	return nil
}

// Revoke 清除用户在项目域内的策略
func (p *PolicyProjector) Revoke(key Key) error {
	if err := p.policies.RemoveUser(key.UserID, auth.Domain(key.App, key.ProjectID)); err != nil {
		return fmt.Errorf("revoke policy for %s/%s: %w", key.ProjectID, key.UserID, err)
	}
	return nil
}

// NopProjector 不做任何投影
type NopProjector struct{}

func (NopProjector) Project(Key, Role) error { return nil }
func (NopProjector) Revoke(Key) error        { return nil }

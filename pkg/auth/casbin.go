package auth

import (
	"fmt"
	"sync"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"

	"github.com/rolebridge/pkg/config"
)

// 带域的RBAC模型，域为某个应用下的某个项目
const domainModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (r.sub == p.sub || g(r.sub, p.sub, r.dom)) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

// NewEnforcer 创建Casbin Enforcer，策略通过GORM适配器持久化
func NewEnforcer(db *gorm.DB, cfg *config.CasbinConfig) (*casbin.Enforcer, error) {
	// 使用GORM适配器
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin adapter: %w", err)
	}

	var m model.Model
	if cfg != nil && cfg.ModelPath != "" {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(domainModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	// 加载策略
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load casbin policy: %w", err)
	}
	return enforcer, nil
}

// Grant 资源与动作
type Grant struct {
	Object string `json:"object"`
	Action string `json:"action"`
}

// PolicyService 按项目域维护用户角色与能力策略
type PolicyService struct {
	enforcer *casbin.Enforcer
	mu       sync.Mutex
}

// NewPolicyService 创建策略服务
func NewPolicyService(enforcer *casbin.Enforcer) *PolicyService {
	return &PolicyService{enforcer: enforcer}
}

// Subject 用户主体
func Subject(userID string) string {
	return "user:" + userID
}

// RoleSubject 角色主体
func RoleSubject(role string) string {
	return "role:" + role
}

// Domain 项目域
func Domain(app, projectID string) string {
	return app + ":project:" + projectID
}

// SetUserRole 设置用户在域内的角色(1对1)并整体替换其能力策略
func (s *PolicyService) SetUserRole(userID, domain, role string, grants []Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := Subject(userID)
	if err := s.clear(user, domain); err != nil {
		return err
	}

	if _, err := s.enforcer.AddGroupingPolicy(user, RoleSubject(role), domain); err != nil {
		return fmt.Errorf("add grouping policy: %w", err)
	}

	if len(grants) == 0 {
		return nil
	}
	rules := make([][]string, 0, len(grants))
	for _, g := range grants {
		rules = append(rules, []string{user, domain, g.Object, g.Action})
	}
	if _, err := s.enforcer.AddPolicies(rules); err != nil {
		return fmt.Errorf("add policies: %w", err)
	}
	return nil
}

// RemoveUser 移除用户在域内的角色和能力
func (s *PolicyService) RemoveUser(userID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear(Subject(userID), domain)
}

func (s *PolicyService) clear(user, domain string) error {
	if _, err := s.enforcer.RemoveFilteredGroupingPolicy(0, user, "", domain); err != nil {
		return fmt.Errorf("remove grouping policy: %w", err)
	}
	if _, err := s.enforcer.RemoveFilteredPolicy(0, user, domain); err != nil {
		return fmt.Errorf("remove policies: %w", err)
	}
	return nil
}

// RolesForUser 获取用户在域内的角色
func (s *PolicyService) RolesForUser(userID, domain string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.enforcer.GetFilteredGroupingPolicy(0, Subject(userID), "", domain)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(rules))
	for _, r := range rules {
		if len(r) > 1 {
			roles = append(roles, r[1])
		}
	}
	return roles, nil
}

// Enforce 权限检查
func (s *PolicyService) Enforce(userID, domain, obj, act string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforcer.Enforce(Subject(userID), domain, obj, act)
}

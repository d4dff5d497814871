// Package rolemap 把源应用的角色翻译为目标应用的角色、有效层级和能力集合。
//
// 映射顺序: 无模板时查基础表；有模板时依次尝试层级表名称匹配、关键词规则、
// 层级区间兜底。结果按套餐上限截断后推导能力集合，并按
// (源角色, 模板ID, 套餐) 缓存。映射永不返回错误，最差结果是最低权限角色。
package rolemap

import (
	"strings"

	"github.com/rolebridge/pkg/cache"
)

// 映射来源
const (
	MatchBasic    = "basic"
	MatchTable    = "table"
	MatchSemantic = "semantic"
	MatchBand     = "band"
)

// TemplateRole 预设模板角色
type TemplateRole struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Industry    string   `json:"industry"`
	Category    string   `json:"category"`
	Hierarchy   int      `json:"hierarchy"`
	Tags        []string `json:"tags,omitempty"`
}

func (t *TemplateRole) clone() *TemplateRole {
	if t == nil {
		return nil
	}
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// Mapping 映射结果，缓存共享，调用方不得修改
type Mapping struct {
	SourceRole         string        `json:"sourceRole"`
	TemplateRole       *TemplateRole `json:"templateRole,omitempty"`
	TargetRole         string        `json:"targetRole"`
	EffectiveHierarchy int           `json:"effectiveHierarchy"`
	Permissions        Permissions   `json:"permissions"`
	IsHeuristicMapping bool          `json:"isHeuristicMapping"`
	MatchedBy          string        `json:"matchedBy"`
	Tier               Tier          `json:"tier"`
}

type cacheKey struct {
	source   string
	template string
	tier     Tier
}

// Engine 角色映射引擎
type Engine struct {
	cache *cache.Cache[cacheKey, Mapping]
}

// NewEngine 创建映射引擎
func NewEngine() *Engine {
	return &Engine{cache: cache.New[cacheKey, Mapping]()}
}

// Map 计算角色映射
// 没有 ID 的模板无法可靠地区分，不进入缓存
func (e *Engine) Map(sourceRole string, tpl *TemplateRole, tier Tier) Mapping {
	tier = ParseTier(string(tier))
	if tpl != nil && tpl.ID == "" {
		return compute(sourceRole, tpl.clone(), tier)
	}

	key := cacheKey{source: sourceRole, template: "basic", tier: tier}
	if tpl != nil {
		key.template = tpl.ID
	}
	return e.cache.GetOrCompute(key, func() Mapping {
		return compute(sourceRole, tpl.clone(), tier)
	})
}

// CacheSize 当前缓存条目数
func (e *Engine) CacheSize() int {
	return e.cache.Count()
}

// ResetCache 清空映射缓存，模板目录变化后调用
func (e *Engine) ResetCache() {
	e.cache.Clear()
}

func compute(sourceRole string, tpl *TemplateRole, tier Tier) Mapping {
	m := Mapping{SourceRole: sourceRole, TemplateRole: tpl, Tier: tier}

	var raw int
	if tpl == nil {
		m.TargetRole, raw = basicMapping(sourceRole)
		m.MatchedBy = MatchBasic
	} else if role, h, ok := matchTable(tpl.Name); ok {
		m.TargetRole = role
		raw = max(tpl.Hierarchy, h)
		m.MatchedBy = MatchTable
	} else if role, rule, ok := matchSemantic(tpl); ok {
		m.TargetRole = role
		raw = tpl.Hierarchy
		m.IsHeuristicMapping = true
		m.MatchedBy = MatchSemantic + ":" + rule
	} else {
		m.TargetRole = bandRole(tpl.Hierarchy)
		raw = tpl.Hierarchy
		m.IsHeuristicMapping = true
		m.MatchedBy = MatchBand
	}

	m.EffectiveHierarchy = ClampHierarchy(raw, tier)
	m.Permissions = PermissionsFor(m.EffectiveHierarchy, tier)
	return m
}

// basicMapping 无模板时的固定映射
func basicMapping(sourceRole string) (string, int) {
	switch strings.ToUpper(strings.TrimSpace(sourceRole)) {
	case SourceRoleAdmin, SourceRoleOwner:
		return RoleAdmin, 100
	case SourceRoleMember:
		return RoleAssociateProducer, 60
	default:
		return RoleViewer, 10
	}
}

// ReverseMap 把目标应用的角色映射回源应用词汇，用于反向同步
func ReverseMap(targetRole string, hierarchy int) (string, int) {
	if hierarchy <= 0 {
		if h, ok := Hierarchy(targetRole); ok {
			hierarchy = h
		}
	}
	switch {
	case hierarchy >= 90:
		return SourceRoleAdmin, hierarchy
	case hierarchy >= thresholdEditContent:
		return SourceRoleMember, hierarchy
	default:
		return SourceRoleViewer, hierarchy
	}
}

package destination

import (
	"github.com/rolebridge/pkg/config"
)

// State 参与冲突比较的记录状态
type State struct {
	Version   int64
	Hierarchy int
}

// Resolver 冲突解决
type Resolver struct {
	policy string
}

// NewResolver 按策略名创建，未知策略按 hierarchy-based 处理
func NewResolver(policy string) Resolver {
	switch policy {
	case config.ConflictLastWriteWins, config.ConflictTimestamp:
	default:
		policy = config.ConflictHierarchyBased
	}
	return Resolver{policy: policy}
}

// Policy 当前策略
func (r Resolver) Policy() string {
	return r.policy
}

// ShouldApply 已存在 current 时 incoming 是否覆盖
//
//	last-write-wins  总是覆盖
//	timestamp        current 更新时跳过
//	hierarchy-based  版本新者胜，版本相同时层级高者胜，层级也相同时覆盖
//
// 重放同一事件版本与层级都相同，总会覆盖为同样的值
func (r Resolver) ShouldApply(current, incoming State) bool {
	switch r.policy {
	case config.ConflictLastWriteWins:
		return true
	case config.ConflictTimestamp:
		return incoming.Version >= current.Version
	default:
		if incoming.Version != current.Version {
			return incoming.Version > current.Version
		}
		return incoming.Hierarchy >= current.Hierarchy
	}
}

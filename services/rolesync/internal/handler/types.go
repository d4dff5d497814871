package handler

import (
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncer"
)

// UpdateRoleRequest 角色变更请求
type UpdateRoleRequest struct {
	syncer.AssignRequest
	PreviousRole string `json:"previousRole"`
}

// RealTimeRequest 实时同步开关
type RealTimeRequest struct {
	Enabled *bool `json:"enabled"`
}

// ValidateRequest 角色分配校验请求
type ValidateRequest struct {
	Role string       `json:"role"`
	Tier rolemap.Tier `json:"tier"`
}

// MapRequest 角色映射预览请求
type MapRequest struct {
	SourceRole   string                `json:"sourceRole"`
	TemplateRole *rolemap.TemplateRole `json:"templateRole,omitempty"`
	Tier         rolemap.Tier          `json:"tier"`
}

// SyncSettings 同步开关状态
type SyncSettings struct {
	LocalApp      string       `json:"localApp"`
	RealTime      bool         `json:"realTime"`
	Bidirectional bool         `json:"bidirectional"`
	Stats         syncer.Stats `json:"stats"`
}

package model

import (
	"time"

	"github.com/rolebridge/pkg/dal"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

// SyncEvent 同步事件日志，只追加不删除
type SyncEvent struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Type           string    `gorm:"size:32;not null" json:"type"`
	SourceApp      string    `gorm:"size:16;not null" json:"sourceApp"`
	TargetApp      string    `gorm:"size:16;not null" json:"targetApp"`
	Timestamp      time.Time `gorm:"not null" json:"timestamp"`
	UserID         string    `gorm:"size:64;not null;index:idx_sync_event_user_project" json:"userId"`
	ProjectID      string    `gorm:"size:64;not null;index:idx_sync_event_user_project" json:"projectId"`
	OrganizationID string    `gorm:"size:64" json:"organizationId"`
	Payload        string    `gorm:"type:text" json:"payload"`
	Status         string    `gorm:"size:16;not null;index:idx_sync_event_status" json:"status"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	Attempts       int       `json:"attempts"`
	ProcessedBy    string    `gorm:"size:64" json:"processedBy,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_sync_event_status" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 表名
func (SyncEvent) TableName() string {
	return "sync_event"
}

// UserRoleMapping 用户记录中的单个项目角色映射
// (app, user_id) 聚合起来即为按用户ID存放的用户记录
type UserRoleMapping struct {
	dal.Model
	App            string              `gorm:"size:16;not null;uniqueIndex:uk_user_role_mapping" json:"app"`
	UserID         string              `gorm:"size:64;not null;uniqueIndex:uk_user_role_mapping" json:"userId"`
	ProjectID      string              `gorm:"size:64;not null;uniqueIndex:uk_user_role_mapping" json:"projectId"`
	ResolvedRole   string              `gorm:"size:64" json:"resolvedRole"`
	Hierarchy      int                 `json:"hierarchy"`
	Permissions    rolemap.Permissions `gorm:"serializer:json;type:text" json:"permissions"`
	SourceRole     string              `gorm:"size:64" json:"sourceRole"`
	TemplateRoleID string              `gorm:"size:64" json:"templateRoleId,omitempty"`
	SyncedAt       time.Time           `json:"syncedAt"`
	SyncSource     string              `gorm:"size:16" json:"syncSource"`
	SyncVersion    int64               `json:"syncVersion"`
	Removed        bool                `json:"removed"`
}

// TableName 表名
func (UserRoleMapping) TableName() string {
	return "user_role_mapping"
}

// SyncMetadata 同步元数据
type SyncMetadata struct {
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	SyncSource   string    `gorm:"size:16" json:"syncSource"`
	SyncVersion  int64     `json:"syncVersion"`
}

// ProjectAssignment 项目成员分配记录
type ProjectAssignment struct {
	dal.Model
	App                 string              `gorm:"size:16;not null;uniqueIndex:uk_project_assignment" json:"app"`
	ProjectID           string              `gorm:"size:64;not null;uniqueIndex:uk_project_assignment" json:"projectId"`
	UserID              string              `gorm:"size:64;not null;uniqueIndex:uk_project_assignment" json:"userId"`
	ResolvedRole        string              `gorm:"size:64" json:"resolvedRole"`
	Hierarchy           int                 `json:"hierarchy"`
	HierarchyLevel      int                 `json:"hierarchyLevel"`
	EnhancedPermissions rolemap.Permissions `gorm:"serializer:json;type:text" json:"enhancedPermissions"`
	SyncMetadata        SyncMetadata        `gorm:"embedded;embeddedPrefix:sync_" json:"syncMetadata"`
	SourceRole          string              `gorm:"size:64" json:"sourceRole"`
	TemplateRoleID      string              `gorm:"size:64" json:"templateRoleId,omitempty"`
	Removed             bool                `json:"removed"`
}

// TableName 表名
func (ProjectAssignment) TableName() string {
	return "project_assignment"
}

// All 全部需要迁移的模型
func All() []any {
	return []any{
		&SyncEvent{},
		&UserRoleMapping{},
		&ProjectAssignment{},
	}
}

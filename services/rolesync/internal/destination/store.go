// Package destination 目标应用中的角色记录
//
// 每个应用两类记录：按用户聚合的项目角色映射，以及按 (项目, 用户) 的成员分配。
// 所有写入都是整字段覆盖，同一事件重复写入结果不变。
package destination

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rolebridge/pkg/dal"
	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/services/rolesync/internal/model"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

// Key 记录定位
type Key struct {
	App       string
	UserID    string
	ProjectID string
}

func (k Key) columns() []string {
	return []string{"app", "project_id", "user_id"}
}

func (k Key) where() map[string]interface{} {
	return map[string]interface{}{
		"app":        k.App,
		"user_id":    k.UserID,
		"project_id": k.ProjectID,
	}
}

// Meta 写入来源
type Meta struct {
	Source  string
	Version int64
	At      time.Time
}

// Role 已解析的角色
type Role struct {
	ResolvedRole   string
	Hierarchy      int
	Permissions    rolemap.Permissions
	SourceRole     string
	TemplateRoleID string
}

// Outcome 写入结果
type Outcome int

const (
	Applied Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "applied"
}

// ProjectRole 用户记录中单个项目的角色
type ProjectRole struct {
	ResolvedRole   string              `json:"resolvedRole"`
	Hierarchy      int                 `json:"hierarchy"`
	Permissions    rolemap.Permissions `json:"permissions"`
	SourceRole     string              `json:"sourceRole"`
	TemplateRoleID string              `json:"templateRoleId,omitempty"`
	SyncedAt       time.Time           `json:"syncedAt"`
	SyncSource     string              `json:"syncSource"`
}

// UserRecord 按用户聚合的记录，Projects 以项目ID为键
type UserRecord struct {
	App      string                 `json:"app"`
	UserID   string                 `json:"userId"`
	Projects map[string]ProjectRole `json:"projects"`
}

// Store 目标记录存储
type Store interface {
	ApplyAssignment(ctx context.Context, key Key, role Role, meta Meta) (Outcome, error)
	RemoveAssignment(ctx context.Context, key Key, meta Meta) (Outcome, error)
	// UpdateHierarchy 调整层级，能力集合由调用方按新层级重新推导
	UpdateHierarchy(ctx context.Context, key Key, hierarchy int, perms rolemap.Permissions, meta Meta) (Outcome, error)
	UpdatePermissions(ctx context.Context, key Key, perms rolemap.Permissions, meta Meta) (Outcome, error)
	GetUserRecord(ctx context.Context, app, userID string) (*UserRecord, error)
	GetAssignment(ctx context.Context, key Key) (*model.ProjectAssignment, error)
}

// GormStore 基于 gorm 的目标记录存储
type GormStore struct {
	db       *gorm.DB
	resolver Resolver
}

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB, resolver Resolver) *GormStore {
	return &GormStore{db: db, resolver: resolver}
}

// change 一次写入的完整内容
type change struct {
	role    Role
	removed bool
	// compare 参与冲突比较的层级
	compare int
}

// ApplyAssignment 写入角色分配
func (s *GormStore) ApplyAssignment(ctx context.Context, key Key, role Role, meta Meta) (Outcome, error) {
	return s.write(ctx, key, meta, func(*model.ProjectAssignment) (change, error) {
		return change{role: role, compare: role.Hierarchy}, nil
	})
}

// RemoveAssignment 移除角色，保留墓碑记录以便拒绝更早的写入
func (s *GormStore) RemoveAssignment(ctx context.Context, key Key, meta Meta) (Outcome, error) {
	return s.write(ctx, key, meta, func(cur *model.ProjectAssignment) (change, error) {
		c := change{removed: true}
		if cur != nil {
			c.compare = cur.Hierarchy
		}
		return c, nil
	})
}

// UpdateHierarchy 调整层级
func (s *GormStore) UpdateHierarchy(ctx context.Context, key Key, hierarchy int, perms rolemap.Permissions, meta Meta) (Outcome, error) {
	return s.write(ctx, key, meta, func(cur *model.ProjectAssignment) (change, error) {
		if cur == nil || cur.Removed {
			return change{}, missing(key)
		}
		role := roleOf(cur)
		role.Hierarchy = hierarchy
		role.Permissions = perms
		return change{role: role, compare: hierarchy}, nil
	})
}

// UpdatePermissions 覆盖能力集合
func (s *GormStore) UpdatePermissions(ctx context.Context, key Key, perms rolemap.Permissions, meta Meta) (Outcome, error) {
	return s.write(ctx, key, meta, func(cur *model.ProjectAssignment) (change, error) {
		if cur == nil || cur.Removed {
			return change{}, missing(key)
		}
		role := roleOf(cur)
		role.Permissions = perms
		return change{role: role, compare: role.Hierarchy}, nil
	})
}

func (s *GormStore) write(ctx context.Context, key Key, meta Meta, build func(cur *model.ProjectAssignment) (change, error)) (Outcome, error) {
	outcome := Applied
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assignments := dal.NewBaseRepository[model.ProjectAssignment](tx)
		mappings := dal.NewBaseRepository[model.UserRoleMapping](tx)

		cur, err := assignments.FindOne(ctx, key.where(), dal.ForUpdate())
		if err != nil {
			return fmt.Errorf("load assignment: %w", err)
		}

		var c change
		inserted := false
		for {
			if c, err = build(cur); err != nil {
				return err
			}
			if cur != nil {
				if !s.resolver.ShouldApply(
					State{Version: cur.SyncMetadata.SyncVersion, Hierarchy: cur.Hierarchy},
					State{Version: meta.Version, Hierarchy: c.compare},
				) {
					outcome = Skipped
					return nil
				}
				break
			}

			// 首次写入时没有可锁定的行，插入冲突说明另一写入者先提交，重新读取后再比较
			created, err := assignments.CreateIfAbsent(ctx, c.assignment(key, meta), key.columns()...)
			if err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
			if created {
				inserted = true
				break
			}
			if cur, err = assignments.FindOne(ctx, key.where(), dal.ForUpdate()); err != nil {
				return fmt.Errorf("reload assignment: %w", err)
			}
			if cur == nil {
				return fmt.Errorf("assignment %s/%s/%s vanished after insert conflict", key.App, key.ProjectID, key.UserID)
			}
		}

		if !inserted {
			if err := assignments.Upsert(ctx, c.assignment(key, meta), key.columns()...); err != nil {
				return fmt.Errorf("upsert assignment: %w", err)
			}
		}
		if err := mappings.Upsert(ctx, c.mapping(key, meta), "app", "user_id", "project_id"); err != nil {
			return fmt.Errorf("upsert user role mapping: %w", err)
		}
		return nil
	})
	if err != nil {
		return Skipped, err
	}
	return outcome, nil
}

func (c change) assignment(key Key, meta Meta) *model.ProjectAssignment {
	return &model.ProjectAssignment{
		App:                 key.App,
		ProjectID:           key.ProjectID,
		UserID:              key.UserID,
		ResolvedRole:        c.role.ResolvedRole,
		Hierarchy:           c.role.Hierarchy,
		HierarchyLevel:      c.role.Hierarchy,
		EnhancedPermissions: c.role.Permissions,
		SyncMetadata: model.SyncMetadata{
			LastSyncedAt: meta.At.UTC(),
			SyncSource:   meta.Source,
			SyncVersion:  meta.Version,
		},
		SourceRole:     c.role.SourceRole,
		TemplateRoleID: c.role.TemplateRoleID,
		Removed:        c.removed,
	}
}

func (c change) mapping(key Key, meta Meta) *model.UserRoleMapping {
	return &model.UserRoleMapping{
		App:            key.App,
		UserID:         key.UserID,
		ProjectID:      key.ProjectID,
		ResolvedRole:   c.role.ResolvedRole,
		Hierarchy:      c.role.Hierarchy,
		Permissions:    c.role.Permissions,
		SourceRole:     c.role.SourceRole,
		TemplateRoleID: c.role.TemplateRoleID,
		SyncedAt:       meta.At.UTC(),
		SyncSource:     meta.Source,
		SyncVersion:    meta.Version,
		Removed:        c.removed,
	}
}

// GetUserRecord 聚合用户在某应用下的全部项目角色，已移除的项目不出现
func (s *GormStore) GetUserRecord(ctx context.Context, app, userID string) (*UserRecord, error) {
	rows, err := dal.NewBaseRepository[model.UserRoleMapping](s.db).FindAll(ctx, map[string]interface{}{
		"app":     app,
		"user_id": userID,
		"removed": false,
	}, dal.WithOrder("project_id ASC"))
	if err != nil {
		return nil, fmt.Errorf("load user record: %w", err)
	}

	rec := &UserRecord{App: app, UserID: userID, Projects: make(map[string]ProjectRole, len(rows))}
	for _, r := range rows {
		rec.Projects[r.ProjectID] = ProjectRole{
			ResolvedRole:   r.ResolvedRole,
			Hierarchy:      r.Hierarchy,
			Permissions:    r.Permissions,
			SourceRole:     r.SourceRole,
			TemplateRoleID: r.TemplateRoleID,
			SyncedAt:       r.SyncedAt,
			SyncSource:     r.SyncSource,
		}
	}
	return rec, nil
}

// GetAssignment 获取成员分配记录，包括墓碑
func (s *GormStore) GetAssignment(ctx context.Context, key Key) (*model.ProjectAssignment, error) {
	row, err := dal.NewBaseRepository[model.ProjectAssignment](s.db).FindOne(ctx, key.where())
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	if row == nil {
		return nil, missing(key)
	}
	return row, nil
}

func roleOf(a *model.ProjectAssignment) Role {
	return Role{
		ResolvedRole:   a.ResolvedRole,
		Hierarchy:      a.Hierarchy,
		Permissions:    a.EnhancedPermissions,
		SourceRole:     a.SourceRole,
		TemplateRoleID: a.TemplateRoleID,
	}
}

func missing(key Key) error {
	return errors.WithDetail(errors.ErrNotFound, "assignment %s/%s/%s", key.App, key.ProjectID, key.UserID)
}

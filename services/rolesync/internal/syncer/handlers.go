package syncer

import (
	"context"
	"fmt"

	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/services/rolesync/internal/destination"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// Handlers 默认事件处理，写入目标记录并投影访问策略
type Handlers struct {
	dest      destination.Store
	projector destination.Projector
}

// NewHandlers 创建默认处理集合，projector 为 nil 时不投影
func NewHandlers(dest destination.Store, projector destination.Projector) *Handlers {
	if projector == nil {
		projector = destination.NopProjector{}
	}
	return &Handlers{dest: dest, projector: projector}
}

// Register 注册全部事件类型
func (h *Handlers) Register(p *Processor) {
	p.Handle(syncevent.TypeRoleAssigned, h.roleAssigned)
	p.Handle(syncevent.TypeRoleUpdated, h.roleUpdated)
	p.Handle(syncevent.TypeRoleRemoved, h.roleRemoved)
	p.Handle(syncevent.TypeHierarchyChanged, h.hierarchyChanged)
	p.Handle(syncevent.TypePermissionsUpdated, h.permissionsUpdated)
}

func keyOf(e *syncevent.Event) destination.Key {
	return destination.Key{App: string(e.TargetApp), UserID: e.UserID, ProjectID: e.ProjectID}
}

func metaOf(e *syncevent.Event) destination.Meta {
	return destination.Meta{Source: string(e.SourceApp), Version: e.Version(), At: e.Timestamp}
}

func roleOf(r syncevent.Resolution) destination.Role {
	return destination.Role{
		ResolvedRole:   r.TargetRole,
		Hierarchy:      r.Hierarchy,
		Permissions:    r.Permissions,
		SourceRole:     r.SourceRole,
		TemplateRoleID: r.TemplateRoleID,
	}
}

func mismatch(e *syncevent.Event) error {
	return errors.WithDetail(errors.ErrInvalidEvent, "payload %T does not match %s", e.Payload, e.Type)
}

func (h *Handlers) roleAssigned(ctx context.Context, e *syncevent.Event) error {
	p, ok := e.Payload.(syncevent.RoleAssigned)
	if !ok {
		return mismatch(e)
	}
	return h.assign(ctx, e, roleOf(p.Resolution))
}

func (h *Handlers) roleUpdated(ctx context.Context, e *syncevent.Event) error {
	p, ok := e.Payload.(syncevent.RoleUpdated)
	if !ok {
		return mismatch(e)
	}
	return h.assign(ctx, e, roleOf(p.Resolution))
}

func (h *Handlers) assign(ctx context.Context, e *syncevent.Event, role destination.Role) error {
	key := keyOf(e)
	out, err := h.dest.ApplyAssignment(ctx, key, role, metaOf(e))
	if err != nil {
		return fmt.Errorf("apply assignment: %w", err)
	}
	if out == destination.Skipped {
		return nil
	}
	return h.projector.Project(key, role)
}

func (h *Handlers) roleRemoved(ctx context.Context, e *syncevent.Event) error {
	if _, ok := e.Payload.(syncevent.RoleRemoved); !ok {
		return mismatch(e)
	}
	key := keyOf(e)
	out, err := h.dest.RemoveAssignment(ctx, key, metaOf(e))
	if err != nil {
		return fmt.Errorf("remove assignment: %w", err)
	}
	if out == destination.Skipped {
		return nil
	}
	return h.projector.Revoke(key)
}

func (h *Handlers) hierarchyChanged(ctx context.Context, e *syncevent.Event) error {
	p, ok := e.Payload.(syncevent.HierarchyChanged)
	if !ok {
		return mismatch(e)
	}
	tier := rolemap.ParseTier(string(p.Tier))
	level := rolemap.ClampHierarchy(p.Hierarchy, tier)

	key := keyOf(e)
	out, err := h.dest.UpdateHierarchy(ctx, key, level, rolemap.PermissionsFor(level, tier), metaOf(e))
	if err != nil {
		return fmt.Errorf("update hierarchy: %w", err)
	}
	return h.reproject(ctx, key, out)
}

func (h *Handlers) permissionsUpdated(ctx context.Context, e *syncevent.Event) error {
	p, ok := e.Payload.(syncevent.PermissionsUpdated)
	if !ok {
		return mismatch(e)
	}
	key := keyOf(e)
	out, err := h.dest.UpdatePermissions(ctx, key, p.Permissions, metaOf(e))
	if err != nil {
		return fmt.Errorf("update permissions: %w", err)
	}
	return h.reproject(ctx, key, out)
}

// reproject 局部更新后按最新记录重新投影
func (h *Handlers) reproject(ctx context.Context, key destination.Key, out destination.Outcome) error {
	if out == destination.Skipped {
		return nil
	}
	a, err := h.dest.GetAssignment(ctx, key)
	if err != nil {
		return err
	}
	return h.projector.Project(key, destination.Role{
		ResolvedRole:   a.ResolvedRole,
		Hierarchy:      a.Hierarchy,
		Permissions:    a.EnhancedPermissions,
		SourceRole:     a.SourceRole,
		TemplateRoleID: a.TemplateRoleID,
	})
}

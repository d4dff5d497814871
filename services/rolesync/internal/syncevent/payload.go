package syncevent

import (
	"encoding/json"
	"fmt"

	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

// Payload 事件载荷，每种事件类型对应一个具体结构
type Payload interface {
	Type() Type
	isPayload()
}

// Resolution 已解析的目标角色
type Resolution struct {
	SourceRole     string              `json:"sourceRole"`
	TemplateRoleID string              `json:"templateRoleId,omitempty"`
	TargetRole     string              `json:"targetRole"`
	Hierarchy      int                 `json:"hierarchy"`
	Permissions    rolemap.Permissions `json:"permissions"`
	Tier           rolemap.Tier        `json:"tier"`
	IsHeuristic    bool                `json:"isHeuristic"`
}

// ResolutionFromMapping 由映射结果构建
func ResolutionFromMapping(m rolemap.Mapping) Resolution {
	r := Resolution{
		SourceRole:  m.SourceRole,
		TargetRole:  m.TargetRole,
		Hierarchy:   m.EffectiveHierarchy,
		Permissions: m.Permissions,
		Tier:        m.Tier,
		IsHeuristic: m.IsHeuristicMapping,
	}
	if m.TemplateRole != nil {
		r.TemplateRoleID = m.TemplateRole.ID
	}
	return r
}

// RoleAssigned 角色分配
type RoleAssigned struct {
	Resolution
	AssignedBy string `json:"assignedBy"`
}

// RoleUpdated 角色变更
type RoleUpdated struct {
	Resolution
	PreviousRole string `json:"previousRole,omitempty"`
	UpdatedBy    string `json:"updatedBy"`
}

// RoleRemoved 角色移除
type RoleRemoved struct {
	Reason    string `json:"reason,omitempty"`
	RemovedBy string `json:"removedBy"`
}

// HierarchyChanged 层级调整，能力集合按新层级和套餐重新推导
type HierarchyChanged struct {
	Hierarchy int          `json:"hierarchy"`
	Tier      rolemap.Tier `json:"tier"`
	ChangedBy string       `json:"changedBy"`
}

// PermissionsUpdated 能力集合直接覆盖
type PermissionsUpdated struct {
	Permissions rolemap.Permissions `json:"permissions"`
	UpdatedBy   string              `json:"updatedBy"`
}

func (RoleAssigned) Type() Type       { return TypeRoleAssigned }
func (RoleUpdated) Type() Type        { return TypeRoleUpdated }
func (RoleRemoved) Type() Type        { return TypeRoleRemoved }
func (HierarchyChanged) Type() Type   { return TypeHierarchyChanged }
func (PermissionsUpdated) Type() Type { return TypePermissionsUpdated }

func (RoleAssigned) isPayload()       {}
func (RoleUpdated) isPayload()        {}
func (RoleRemoved) isPayload()        {}
func (HierarchyChanged) isPayload()   {}
func (PermissionsUpdated) isPayload() {}

// EncodePayload 序列化载荷
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", p.Type(), err)
	}
	return string(data), nil
}

// DecodePayload 按事件类型反序列化载荷
func DecodePayload(t Type, raw string) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case TypeRoleAssigned:
		var v RoleAssigned
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case TypeRoleUpdated:
		var v RoleUpdated
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case TypeRoleRemoved:
		var v RoleRemoved
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case TypeHierarchyChanged:
		var v HierarchyChanged
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case TypePermissionsUpdated:
		var v PermissionsUpdated
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	default:
		return nil, errors.WithDetail(errors.ErrUnknownEventType, "%q", t)
	}
	if err != nil {
		return nil, errors.WithCause(errors.ErrInvalidEvent, fmt.Errorf("decode %s payload: %w", t, err))
	}
	return p, nil
}

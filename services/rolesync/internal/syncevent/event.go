// Package syncevent 定义跨应用同步事件、事件载荷以及持久化的事件队列。
//
// 事件状态只能 pending -> processing -> completed|failed，终态不再变化；
// 事件记录只追加不删除。多个进程可能同时观察到同一个待处理事件，
// 投递语义是至少一次，正确性依赖目标端的幂等写入。
package syncevent

import (
	"time"

	"github.com/rolebridge/pkg/errors"
)

// Type 事件类型
type Type string

const (
	TypeRoleAssigned       Type = "ROLE_ASSIGNED"
	TypeRoleUpdated        Type = "ROLE_UPDATED"
	TypeRoleRemoved        Type = "ROLE_REMOVED"
	TypeHierarchyChanged   Type = "HIERARCHY_CHANGED"
	TypePermissionsUpdated Type = "PERMISSIONS_UPDATED"
)

// Valid 是否为已知类型
func (t Type) Valid() bool {
	switch t {
	case TypeRoleAssigned, TypeRoleUpdated, TypeRoleRemoved, TypeHierarchyChanged, TypePermissionsUpdated:
		return true
	}
	return false
}

// Status 事件状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// App 应用标识
type App string

const (
	AppA App = "appA"
	AppB App = "appB"
)

// ParseApp 解析应用标识
func ParseApp(s string) (App, error) {
	switch App(s) {
	case AppA, AppB:
		return App(s), nil
	}
	return "", errors.WithDetail(errors.ErrUnknownApp, "%q", s)
}

// Other 另一端应用
func (a App) Other() App {
	if a == AppA {
		return AppB
	}
	return AppA
}

// Event 同步事件
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	SourceApp      App       `json:"sourceApp"`
	TargetApp      App       `json:"targetApp"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"userId"`
	ProjectID      string    `json:"projectId"`
	OrganizationID string    `json:"organizationId"`
	Payload        Payload   `json:"payload"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Attempts       int       `json:"attempts"`
	ProcessedBy    string    `json:"processedBy,omitempty"`
}

// New 创建待追加的事件，类型取自载荷
func New(source, target App, userID, projectID, organizationID string, payload Payload) (*Event, error) {
	e := &Event{
		SourceApp:      source,
		TargetApp:      target,
		UserID:         userID,
		ProjectID:      projectID,
		OrganizationID: organizationID,
		Payload:        payload,
		Status:         StatusPending,
	}
	if payload != nil {
		e.Type = payload.Type()
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate 校验事件字段
func (e *Event) Validate() error {
	if _, err := ParseApp(string(e.SourceApp)); err != nil {
		return err
	}
	if _, err := ParseApp(string(e.TargetApp)); err != nil {
		return err
	}
	if e.SourceApp == e.TargetApp {
		return errors.WithDetail(errors.ErrInvalidEvent, "source and target app are both %s", e.SourceApp)
	}
	if e.UserID == "" || e.ProjectID == "" {
		return errors.WithDetail(errors.ErrInvalidEvent, "userId and projectId are required")
	}
	if e.Payload == nil {
		return errors.WithDetail(errors.ErrInvalidEvent, "payload is required")
	}
	if !e.Type.Valid() {
		return errors.WithDetail(errors.ErrUnknownEventType, "%q", e.Type)
	}
	if e.Payload.Type() != e.Type {
		return errors.WithDetail(errors.ErrInvalidEvent, "payload %s does not match type %s", e.Payload.Type(), e.Type)
	}
	return nil
}

// PartitionKey 同一用户同一项目的事件落在同一分区
func (e *Event) PartitionKey() string {
	return e.UserID + "\x00" + e.ProjectID
}

// Version 冲突比较使用的版本号
func (e *Event) Version() int64 {
	return e.Timestamp.UnixNano()
}

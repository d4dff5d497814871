package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rolebridge/pkg/config"
	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/destination"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// TierLookup 读取组织的订阅套餐
type TierLookup func(ctx context.Context, organizationID string) (rolemap.Tier, error)

// ConfigTiers 按配置的组织套餐表查询，未配置时返回 nil
func ConfigTiers(cfg config.SyncConfig) TierLookup {
	if !cfg.TierLookupEnabled() {
		return nil
	}
	tiers := make(map[string]rolemap.Tier, len(cfg.OrganizationTiers))
	for org, t := range cfg.OrganizationTiers {
		tiers[strings.ToLower(org)] = rolemap.ParseTier(t)
	}
	def := rolemap.ParseTier(cfg.DefaultTier)
	return func(_ context.Context, organizationID string) (rolemap.Tier, error) {
		if t, ok := tiers[strings.ToLower(organizationID)]; ok {
			return t, nil
		}
		return def, nil
	}
}

// Deps 服务依赖
type Deps struct {
	Engine      *rolemap.Engine
	Events      syncevent.Store
	Destination destination.Store
	Processor   *Processor
	// Listener 可为空，此时实时同步开关只记录状态
	Listener *Listener
	Tiers    TierLookup
}

// Service 角色同步服务
type Service struct {
	engine    *rolemap.Engine
	events    syncevent.Store
	dest      destination.Store
	processor *Processor
	listener  *Listener
	tiers     TierLookup
	local     syncevent.App
	log       *logger.Logger

	mu            sync.Mutex
	realTime      bool
	bidirectional bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewService 创建同步服务
func NewService(deps Deps, cfg config.SyncConfig, log *logger.Logger) (*Service, error) {
	local, err := syncevent.ParseApp(cfg.LocalApp)
	if err != nil {
		return nil, fmt.Errorf("sync.localApp: %w", err)
	}
	if log == nil {
		log = logger.Get()
	}
	engine := deps.Engine
	if engine == nil {
		engine = rolemap.NewEngine()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:        engine,
		events:        deps.Events,
		dest:          deps.Destination,
		processor:     deps.Processor,
		listener:      deps.Listener,
		tiers:         deps.Tiers,
		local:         local,
		log:           log.Named("rolesync"),
		realTime:      cfg.EnableRealTimeSync,
		bidirectional: cfg.EnableBidirectionalSync,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// AssignRequest 角色分配意图
type AssignRequest struct {
	UserID         string                `json:"userId"`
	ProjectID      string                `json:"projectId"`
	OrganizationID string                `json:"organizationId"`
	SourceRole     string                `json:"sourceRole"`
	TemplateRole   *rolemap.TemplateRole `json:"templateRole,omitempty"`
	// Tier 仅在没有 TierLookup 时使用
	Tier       rolemap.Tier `json:"tier,omitempty"`
	AssignedBy string       `json:"-"`
}

// ReverseRequest 来自另一端应用的角色分配
type ReverseRequest struct {
	UserID         string       `json:"userId"`
	ProjectID      string       `json:"projectId"`
	OrganizationID string       `json:"organizationId"`
	TargetRole     string       `json:"targetRole"`
	Hierarchy      int          `json:"hierarchy"`
	Tier           rolemap.Tier `json:"tier,omitempty"`
	AssignedBy     string       `json:"-"`
}

// RemoveRequest 移除角色
type RemoveRequest struct {
	UserID         string `json:"userId"`
	ProjectID      string `json:"projectId"`
	OrganizationID string `json:"organizationId"`
	Reason         string `json:"reason,omitempty"`
	RemovedBy      string `json:"-"`
}

// HierarchyRequest 调整层级
type HierarchyRequest struct {
	UserID         string       `json:"userId"`
	ProjectID      string       `json:"projectId"`
	OrganizationID string       `json:"organizationId"`
	Hierarchy      int          `json:"hierarchy"`
	Tier           rolemap.Tier `json:"tier,omitempty"`
	ChangedBy      string       `json:"-"`
}

// PermissionsRequest 覆盖能力集合
type PermissionsRequest struct {
	UserID         string              `json:"userId"`
	ProjectID      string              `json:"projectId"`
	OrganizationID string              `json:"organizationId"`
	Permissions    rolemap.Permissions `json:"permissions"`
	UpdatedBy      string              `json:"-"`
}

// Result 已入队的事件及其映射结果
type Result struct {
	Event   *syncevent.Event `json:"event"`
	Mapping *rolemap.Mapping `json:"mapping,omitempty"`
}

// Engine 映射引擎
func (s *Service) Engine() *rolemap.Engine {
	return s.engine
}

// LocalApp 本端应用
func (s *Service) LocalApp() syncevent.App {
	return s.local
}

// SyncRoleToOtherApp 映射角色并向另一端应用发送 ROLE_ASSIGNED
func (s *Service) SyncRoleToOtherApp(ctx context.Context, req AssignRequest) (*Result, error) {
	tier, err := s.tier(ctx, req.OrganizationID, req.Tier)
	if err != nil {
		return nil, err
	}
	m := s.engine.Map(req.SourceRole, req.TemplateRole, tier)
	e, err := s.publish(ctx, s.local.Other(), req.UserID, req.ProjectID, req.OrganizationID, syncevent.RoleAssigned{
		Resolution: syncevent.ResolutionFromMapping(m),
		AssignedBy: req.AssignedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e, Mapping: &m}, nil
}

// SyncRoleFromOtherApp 把另一端应用的角色反向同步到本端
func (s *Service) SyncRoleFromOtherApp(ctx context.Context, req ReverseRequest) (*Result, error) {
	if !s.BidirectionalEnabled() {
		return nil, errors.ErrSyncDisabled
	}
	tier, err := s.tier(ctx, req.OrganizationID, req.Tier)
	if err != nil {
		return nil, err
	}
	role, level := rolemap.ReverseMap(req.TargetRole, req.Hierarchy)
	level = rolemap.ClampHierarchy(level, tier)

	e, err := s.publishFrom(ctx, s.local.Other(), s.local, req.UserID, req.ProjectID, req.OrganizationID, syncevent.RoleAssigned{
		Resolution: syncevent.Resolution{
			SourceRole:  req.TargetRole,
			TargetRole:  role,
			Hierarchy:   level,
			Permissions: rolemap.PermissionsFor(level, tier),
			Tier:        tier,
		},
		AssignedBy: req.AssignedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e}, nil
}

// UpdateRole 重新映射并发送 ROLE_UPDATED
func (s *Service) UpdateRole(ctx context.Context, req AssignRequest, previousRole string) (*Result, error) {
	tier, err := s.tier(ctx, req.OrganizationID, req.Tier)
	if err != nil {
		return nil, err
	}
	m := s.engine.Map(req.SourceRole, req.TemplateRole, tier)
	e, err := s.publish(ctx, s.local.Other(), req.UserID, req.ProjectID, req.OrganizationID, syncevent.RoleUpdated{
		Resolution:   syncevent.ResolutionFromMapping(m),
		PreviousRole: previousRole,
		UpdatedBy:    req.AssignedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e, Mapping: &m}, nil
}

// RemoveRole 发送 ROLE_REMOVED
func (s *Service) RemoveRole(ctx context.Context, req RemoveRequest) (*Result, error) {
	e, err := s.publish(ctx, s.local.Other(), req.UserID, req.ProjectID, req.OrganizationID, syncevent.RoleRemoved{
		Reason:    req.Reason,
		RemovedBy: req.RemovedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e}, nil
}

// ChangeHierarchy 发送 HIERARCHY_CHANGED
func (s *Service) ChangeHierarchy(ctx context.Context, req HierarchyRequest) (*Result, error) {
	tier, err := s.tier(ctx, req.OrganizationID, req.Tier)
	if err != nil {
		return nil, err
	}
	e, err := s.publish(ctx, s.local.Other(), req.UserID, req.ProjectID, req.OrganizationID, syncevent.HierarchyChanged{
		Hierarchy: req.Hierarchy,
		Tier:      tier,
		ChangedBy: req.ChangedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e}, nil
}

// UpdatePermissions 发送 PERMISSIONS_UPDATED
func (s *Service) UpdatePermissions(ctx context.Context, req PermissionsRequest) (*Result, error) {
	e, err := s.publish(ctx, s.local.Other(), req.UserID, req.ProjectID, req.OrganizationID, syncevent.PermissionsUpdated{
		Permissions: req.Permissions,
		UpdatedBy:   req.UpdatedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: e}, nil
}

func (s *Service) publish(ctx context.Context, target syncevent.App, userID, projectID, orgID string, payload syncevent.Payload) (*syncevent.Event, error) {
	return s.publishFrom(ctx, s.local, target, userID, projectID, orgID, payload)
}

// publishFrom 追加事件后立即入队本地处理
func (s *Service) publishFrom(ctx context.Context, source, target syncevent.App, userID, projectID, orgID string, payload syncevent.Payload) (*syncevent.Event, error) {
	e, err := syncevent.New(source, target, userID, projectID, orgID, payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.events.Append(ctx, e); err != nil {
		return nil, err
	}
	s.processor.Enqueue(e)

	s.log.Info("同步事件已入队",
		logger.EventID(e.ID),
		logger.EventType(string(e.Type)),
		logger.UserID(userID),
		logger.ProjectID(projectID),
		zap.String("target_app", string(target)),
	)
	return e, nil
}

// tier 有 TierLookup 时以套餐记录为准，请求中的套餐被忽略
func (s *Service) tier(ctx context.Context, orgID string, explicit rolemap.Tier) (rolemap.Tier, error) {
	if s.tiers == nil {
		return rolemap.ParseTier(string(explicit)), nil
	}
	t, err := s.tiers(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("lookup tier for organization %s: %w", orgID, err)
	}
	return rolemap.ParseTier(string(t)), nil
}

// GetSyncStatus 某用户某项目的历史同步事件
func (s *Service) GetSyncStatus(ctx context.Context, userID, projectID string) ([]*syncevent.Event, error) {
	if userID == "" || projectID == "" {
		return nil, errors.BadRequest("userId 和 projectId 不能为空")
	}
	return s.events.ListByUserProject(ctx, userID, projectID)
}

// GetUserRecord 目标应用中的用户记录
func (s *Service) GetUserRecord(ctx context.Context, app syncevent.App, userID string) (*destination.UserRecord, error) {
	return s.dest.GetUserRecord(ctx, string(app), userID)
}

// EnableSync 打开实时同步并安装变更监听
func (s *Service) EnableSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realTime = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Start(s.ctx)
}

// DisableSync 关闭实时同步并移除变更监听
func (s *Service) DisableSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realTime = false
	if s.listener == nil {
		return nil
	}
	return s.listener.Stop()
}

// RealTimeEnabled 实时同步是否打开
func (s *Service) RealTimeEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realTime
}

// BidirectionalEnabled 双向同步是否打开
func (s *Service) BidirectionalEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bidirectional
}

// SetBidirectional 切换双向同步
func (s *Service) SetBidirectional(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bidirectional = enabled
}

// Stats 处理器统计
func (s *Service) Stats() Stats {
	return s.processor.Stats()
}

// Start 按配置安装变更监听
func (s *Service) Start() error {
	if !s.RealTimeEnabled() {
		return nil
	}
	return s.EnableSync()
}

// Stop 移除监听并停止处理器
func (s *Service) Stop() error {
	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.processor.Close()
	return err
}

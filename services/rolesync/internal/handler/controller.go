// Package handler 角色同步服务的 HTTP 接口
package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rolebridge/pkg/middleware"
	"github.com/rolebridge/pkg/response"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncer"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// Controller 角色同步控制器
type Controller struct {
	svc *syncer.Service
}

// NewController 创建角色同步控制器
func NewController(svc *syncer.Service) *Controller {
	return &Controller{svc: svc}
}

// RegisterRoutes 注册路由
func (c *Controller) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	r.Get("/health", c.health)

	s := r.Group("/sync", jwtMiddleware)
	s.Post("/roles", c.syncRole)
	s.Put("/roles", c.updateRole)
	s.Delete("/roles", c.removeRole)
	s.Post("/roles/reverse", c.reverseSync)
	s.Put("/hierarchy", c.changeHierarchy)
	s.Put("/permissions", c.updatePermissions)
	s.Get("/status", c.status)
	s.Get("/users/:app/:userId", c.userRecord)
	s.Get("/settings", c.settings)
	s.Put("/realtime", c.realTime)

	roles := r.Group("/roles", jwtMiddleware)
	roles.Get("/available", c.availableRoles)
	roles.Post("/validate", c.validate)
	roles.Post("/map", c.mapRole)
}

func (c *Controller) health(ctx *fiber.Ctx) error {
	return response.Success(ctx, fiber.Map{
		"status":   "ok",
		"localApp": c.svc.LocalApp(),
	})
}

func requireKeys(userID, projectID string) string {
	if userID == "" || projectID == "" {
		return "userId 和 projectId 不能为空"
	}
	return ""
}

// organizationOf 令牌中带有组织时以令牌为准
func organizationOf(ctx *fiber.Ctx, fromBody string) string {
	if org := middleware.GetOrganizationID(ctx); org != "" {
		return org
	}
	return fromBody
}

func (c *Controller) syncRole(ctx *fiber.Ctx) error {
	var req syncer.AssignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	if req.SourceRole == "" {
		return response.ValidateError(ctx, "sourceRole 不能为空")
	}
	req.AssignedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.SyncRoleToOtherApp(ctx.UserContext(), req)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) updateRole(ctx *fiber.Ctx) error {
	var req UpdateRoleRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	if req.SourceRole == "" {
		return response.ValidateError(ctx, "sourceRole 不能为空")
	}
	req.AssignedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.UpdateRole(ctx.UserContext(), req.AssignRequest, req.PreviousRole)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) removeRole(ctx *fiber.Ctx) error {
	var req syncer.RemoveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	req.RemovedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.RemoveRole(ctx.UserContext(), req)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) reverseSync(ctx *fiber.Ctx) error {
	var req syncer.ReverseRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	if req.TargetRole == "" {
		return response.ValidateError(ctx, "targetRole 不能为空")
	}
	req.AssignedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.SyncRoleFromOtherApp(ctx.UserContext(), req)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) changeHierarchy(ctx *fiber.Ctx) error {
	var req syncer.HierarchyRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	req.ChangedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.ChangeHierarchy(ctx.UserContext(), req)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) updatePermissions(ctx *fiber.Ctx) error {
	var req syncer.PermissionsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if msg := requireKeys(req.UserID, req.ProjectID); msg != "" {
		return response.ValidateError(ctx, msg)
	}
	req.UpdatedBy = middleware.GetUserID(ctx)
	req.OrganizationID = organizationOf(ctx, req.OrganizationID)

	res, err := c.svc.UpdatePermissions(ctx.UserContext(), req)
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Accepted(ctx, res)
}

func (c *Controller) status(ctx *fiber.Ctx) error {
	events, err := c.svc.GetSyncStatus(ctx.UserContext(), ctx.Query("userId"), ctx.Query("projectId"))
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Success(ctx, events)
}

func (c *Controller) userRecord(ctx *fiber.Ctx) error {
	app, err := syncevent.ParseApp(ctx.Params("app"))
	if err != nil {
		return response.Fail(ctx, err)
	}
	rec, err := c.svc.GetUserRecord(ctx.UserContext(), app, ctx.Params("userId"))
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Success(ctx, rec)
}

func (c *Controller) settings(ctx *fiber.Ctx) error {
	return response.Success(ctx, c.currentSettings())
}

func (c *Controller) currentSettings() SyncSettings {
	return SyncSettings{
		LocalApp:      string(c.svc.LocalApp()),
		RealTime:      c.svc.RealTimeEnabled(),
		Bidirectional: c.svc.BidirectionalEnabled(),
		Stats:         c.svc.Stats(),
	}
}

func (c *Controller) realTime(ctx *fiber.Ctx) error {
	var req RealTimeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if req.Enabled == nil {
		return response.ValidateError(ctx, "enabled 不能为空")
	}

	var err error
	if *req.Enabled {
		err = c.svc.EnableSync()
	} else {
		err = c.svc.DisableSync()
	}
	if err != nil {
		return response.Fail(ctx, err)
	}
	return response.Success(ctx, c.currentSettings())
}

func (c *Controller) availableRoles(ctx *fiber.Ctx) error {
	tier := rolemap.ParseTier(ctx.Query("tier"))
	return response.Success(ctx, fiber.Map{
		"tier":  tier,
		"limit": tier.Cap(),
		"roles": rolemap.AvailableRoles(tier),
	})
}

func (c *Controller) validate(ctx *fiber.Ctx) error {
	var req ValidateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if req.Role == "" {
		return response.ValidateError(ctx, "role 不能为空")
	}
	return response.Success(ctx, rolemap.ValidateAssignment(req.Role, rolemap.ParseTier(string(req.Tier))))
}

func (c *Controller) mapRole(ctx *fiber.Ctx) error {
	var req MapRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.BadRequest(ctx, "请求参数格式错误")
	}
	if req.SourceRole == "" && req.TemplateRole == nil {
		return response.ValidateError(ctx, "sourceRole 和 templateRole 不能同时为空")
	}
	return response.Success(ctx, c.svc.Engine().Map(req.SourceRole, req.TemplateRole, req.Tier))
}

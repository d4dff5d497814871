package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"go-micro.dev/v5/registry"

	"github.com/rolebridge/pkg/database"
)

// 注册中心模式
const (
	ModeMemory = "memory"
	ModeRedis  = "redis"
	ModeMDNS   = "mdns"
)

// RouteConfig 路由配置（存储在节点元数据中）
type RouteConfig struct {
	PathPrefix   string   `json:"path_prefix"`
	Methods      []string `json:"methods"`
	AuthRequired bool     `json:"auth_required"`
}

// ServiceConfig 节点注册信息
type ServiceConfig struct {
	Name     string
	Version  string
	NodeID   string
	Address  string
	LocalApp string // 本节点代表的应用，appA 或 appB
	Routes   []RouteConfig
}

// New 按模式创建注册中心，redis 模式需要缓存
func New(mode string, cache *database.Cache) (registry.Registry, error) {
	switch mode {
	case "", ModeMemory:
		return NewMemoryRegistry(), nil
	case ModeRedis:
		if cache == nil {
			return nil, fmt.Errorf("registry mode redis requires a redis cache")
		}
		return NewRedisRegistry(cache), nil
	case ModeMDNS:
		return registry.NewMDNSRegistry(), nil
	default:
		return nil, fmt.Errorf("unsupported registry mode: %s", mode)
	}
}

// BuildService 构建服务注册信息
func BuildService(cfg *ServiceConfig) *registry.Service {
	routesJSON, _ := json.Marshal(cfg.Routes)

	return &registry.Service{
		Name:    cfg.Name,
		Version: cfg.Version,
		Nodes: []*registry.Node{
			{
				Id:      cfg.NodeID,
				Address: cfg.Address,
				Metadata: map[string]string{
					"routes":    string(routesJSON),
					"local_app": cfg.LocalApp,
				},
			},
		},
	}
}

// ParseServiceMeta 从服务元数据中解析各节点的应用和路由
func ParseServiceMeta(svc *registry.Service) (apps []string, routes []RouteConfig) {
	for _, node := range svc.Nodes {
		if app, ok := node.Metadata["local_app"]; ok && app != "" {
			apps = append(apps, app)
		}
		if routesJSON, ok := node.Metadata["routes"]; ok {
			var nodeRoutes []RouteConfig
			if err := json.Unmarshal([]byte(routesJSON), &nodeRoutes); err == nil {
				routes = append(routes, nodeRoutes...)
			}
		}
	}
	return
}

// DefaultMethods 默认HTTP方法
var DefaultMethods = []string{"GET", "POST", "PUT", "DELETE"}

// NewRoute 创建路由配置
func NewRoute(pathPrefix string, authRequired bool, methods ...string) RouteConfig {
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	return RouteConfig{
		PathPrefix:   pathPrefix,
		Methods:      methods,
		AuthRequired: authRequired,
	}
}

// MatchPath 检查路径是否匹配
func (r *RouteConfig) MatchPath(path string) bool {
	return strings.HasPrefix(path, r.PathPrefix)
}

// MatchMethod 检查方法是否允许
func (r *RouteConfig) MatchMethod(method string) bool {
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

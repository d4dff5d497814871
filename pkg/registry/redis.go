package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-micro.dev/v5/registry"
	"go.uber.org/zap"

	"github.com/rolebridge/pkg/database"
	"github.com/rolebridge/pkg/logger"
)

const (
	// Redis key 前缀，完整key为 registry:service:{name}:{nodeId}
	servicePrefix = "registry:service:"
	ttlDuration   = 30 * time.Second
	opTimeout     = 3 * time.Second
)

// RedisRegistry 基于 Redis 的服务注册中心，每个节点一个带过期时间的key
type RedisRegistry struct {
	cache     *database.Cache
	mu        sync.Mutex
	heartbeat map[string]chan struct{}
}

// NewRedisRegistry 创建基于 Redis 的注册中心
func NewRedisRegistry(cache *database.Cache) registry.Registry {
	return &RedisRegistry{
		cache:     cache,
		heartbeat: make(map[string]chan struct{}),
	}
}

// Init 初始化
func (r *RedisRegistry) Init(opts ...registry.Option) error {
	return nil
}

// Options 获取选项
func (r *RedisRegistry) Options() registry.Options {
	return registry.Options{}
}

func nodeKey(name, nodeID string) string {
	return servicePrefix + name + ":" + nodeID
}

// Register 注册服务节点并启动心跳保活
func (r *RedisRegistry) Register(s *registry.Service, opts ...registry.RegisterOption) error {
	if s == nil || len(s.Nodes) == 0 {
		return fmt.Errorf("service or nodes cannot be empty")
	}

	for _, n := range s.Nodes {
		single := &registry.Service{
			Name:     s.Name,
			Version:  s.Version,
			Metadata: s.Metadata,
			Nodes:    []*registry.Node{n},
		}
		key := nodeKey(s.Name, n.Id)
		if err := r.put(key, single); err != nil {
			return err
		}

		logger.Debug("服务已注册",
			zap.String("key", key),
			zap.String("service", s.Name),
			zap.String("node", n.Id),
		)
		r.startHeartbeat(key, single)
	}
	return nil
}

func (r *RedisRegistry) put(key string, s *registry.Service) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal service: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := r.cache.Set(ctx, key, data, ttlDuration); err != nil {
		return fmt.Errorf("set cache: %w", err)
	}
	return nil
}

// Deregister 注销服务节点
func (r *RedisRegistry) Deregister(s *registry.Service, opts ...registry.DeregisterOption) error {
	if s == nil {
		return fmt.Errorf("service cannot be nil")
	}

	keys := make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		key := nodeKey(s.Name, n.Id)
		r.stopHeartbeat(key)
		keys = append(keys, key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.cache.Delete(ctx, keys...)
}

// GetService 获取服务，所有存活节点合并为一个条目
func (r *RedisRegistry) GetService(name string, opts ...registry.GetOption) ([]*registry.Service, error) {
	services, err := r.load(servicePrefix + name + ":")
	if err != nil {
		return nil, err
	}
	svc, ok := services[name]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return []*registry.Service{svc}, nil
}

// ListServices 列出所有服务
func (r *RedisRegistry) ListServices(opts ...registry.ListOption) ([]*registry.Service, error) {
	services, err := r.load(servicePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Service, 0, len(services))
	for _, svc := range services {
		out = append(out, svc)
	}
	return out, nil
}

func (r *RedisRegistry) load(prefix string) (map[string]*registry.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys, err := r.cache.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}

	services := make(map[string]*registry.Service)
	for _, key := range keys {
		if !strings.HasPrefix(key, servicePrefix) {
			continue
		}
		raw, err := r.cache.Get(ctx, key)
		if err != nil {
			// 扫描与读取之间过期
			continue
		}
		var svc registry.Service
		if err := json.Unmarshal([]byte(raw), &svc); err != nil {
			logger.Warn("服务注册信息反序列化失败", zap.String("key", key), zap.Error(err))
			continue
		}
		merged, ok := services[svc.Name]
		if !ok {
			merged = &registry.Service{Name: svc.Name, Version: svc.Version, Metadata: svc.Metadata}
			services[svc.Name] = merged
		}
		merged.Nodes = append(merged.Nodes, svc.Nodes...)
	}
	return services, nil
}

// Watch 监听服务变化（不推送）
func (r *RedisRegistry) Watch(opts ...registry.WatchOption) (registry.Watcher, error) {
	return &stoppedWatcher{exit: make(chan bool)}, nil
}

// String 返回注册中心名称
func (r *RedisRegistry) String() string {
	return ModeRedis
}

// startHeartbeat 按 TTL 的三分之一刷新节点
func (r *RedisRegistry) startHeartbeat(key string, s *registry.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, ok := r.heartbeat[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	r.heartbeat[key] = stop

	go func() {
		ticker := time.NewTicker(ttlDuration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.put(key, s); err != nil {
					logger.Warn("服务心跳刷新失败", zap.String("key", key), zap.Error(err))
				}
			}
		}
	}()
}

// stopHeartbeat 停止心跳
func (r *RedisRegistry) stopHeartbeat(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, ok := r.heartbeat[key]; ok {
		close(stop)
		delete(r.heartbeat, key)
	}
}

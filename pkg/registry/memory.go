package registry

import (
	"sync"

	"go-micro.dev/v5/registry"
)

// MemoryRegistry 内存注册中心，单进程部署和测试使用
// 同名服务的节点按节点ID合并
type MemoryRegistry struct {
	services map[string]map[string]*registry.Service
	mu       sync.RWMutex
}

// NewMemoryRegistry 创建内存注册中心
func NewMemoryRegistry() registry.Registry {
	return &MemoryRegistry{
		services: make(map[string]map[string]*registry.Service),
	}
}

// Init 初始化
func (r *MemoryRegistry) Init(opts ...registry.Option) error {
	return nil
}

// Options 获取选项
func (r *MemoryRegistry) Options() registry.Options {
	return registry.Options{}
}

// Register 注册服务
func (r *MemoryRegistry) Register(s *registry.Service, opts ...registry.RegisterOption) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.services[s.Name]
	if !ok {
		nodes = make(map[string]*registry.Service)
		r.services[s.Name] = nodes
	}
	for _, n := range s.Nodes {
		nodes[n.Id] = &registry.Service{
			Name:     s.Name,
			Version:  s.Version,
			Metadata: s.Metadata,
			Nodes:    []*registry.Node{n},
		}
	}
	return nil
}

// Deregister 注销服务节点
func (r *MemoryRegistry) Deregister(s *registry.Service, opts ...registry.DeregisterOption) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.services[s.Name]
	for _, n := range s.Nodes {
		delete(nodes, n.Id)
	}
	if len(nodes) == 0 {
		delete(r.services, s.Name)
	}
	return nil
}

// GetService 获取服务，所有节点合并为一个条目
func (r *MemoryRegistry) GetService(name string, opts ...registry.GetOption) ([]*registry.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes, ok := r.services[name]
	if !ok || len(nodes) == 0 {
		return nil, registry.ErrNotFound
	}
	return []*registry.Service{merge(name, nodes)}, nil
}

// ListServices 列出所有服务
func (r *MemoryRegistry) ListServices(opts ...registry.ListOption) ([]*registry.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*registry.Service, 0, len(r.services))
	for name, nodes := range r.services {
		services = append(services, merge(name, nodes))
	}
	return services, nil
}

// Watch 监听服务变化
func (r *MemoryRegistry) Watch(opts ...registry.WatchOption) (registry.Watcher, error) {
	return &stoppedWatcher{exit: make(chan bool)}, nil
}

// String 返回注册中心名称
func (r *MemoryRegistry) String() string {
	return ModeMemory
}

func merge(name string, nodes map[string]*registry.Service) *registry.Service {
	out := &registry.Service{Name: name}
	for _, s := range nodes {
		out.Version = s.Version
		out.Metadata = s.Metadata
		out.Nodes = append(out.Nodes, s.Nodes...)
	}
	return out
}

// stoppedWatcher 不推送变化，Stop 后 Next 返回
type stoppedWatcher struct {
	exit chan bool
}

func (w *stoppedWatcher) Next() (*registry.Result, error) {
	<-w.exit
	return nil, registry.ErrWatcherStopped
}

func (w *stoppedWatcher) Stop() {
	select {
	case <-w.exit:
		return
	default:
		close(w.exit)
	}
}

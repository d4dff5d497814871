package syncevent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/pkg/logger"
)

// RedisNotifier 通过 Redis 频道发布新事件ID
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier 创建通知器
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Notify 发布事件ID
func (n *RedisNotifier) Notify(ctx context.Context, id string) error {
	return n.client.Publish(ctx, n.channel, id).Err()
}

// SubscriberConfig 订阅配置
type SubscriberConfig struct {
	Channel      string
	PollInterval time.Duration
	// StaleAfter processing 状态超过该时长视为处理者已失联，重新投递
	StaleAfter time.Duration
	BatchSize  int
	Buffer     int
}

// Subscriber 新事件订阅
// Redis 推送负责低延迟，定时扫描负责补齐推送丢失以及重启前遗留的事件
type Subscriber struct {
	client redis.UniversalClient
	store  Store
	cfg    SubscriberConfig
	log    *logger.Logger
}

// NewSubscriber 创建订阅器，client 为 nil 时只靠轮询
func NewSubscriber(client redis.UniversalClient, store Store, cfg SubscriberConfig, log *logger.Logger) *Subscriber {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if log == nil {
		log = logger.Get()
	}
	return &Subscriber{
		client: client,
		store:  store,
		cfg:    cfg,
		log:    log.Named("subscriber"),
	}
}

// Subscription 一次订阅
type Subscription struct {
	events chan *Event
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events 非终态事件流，订阅关闭后通道关闭
// 同一事件可能出现多次，消费方需要去重
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Close 停止订阅并等待后台协程退出
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}

// Subscribe 开始订阅，先回放存储中的待处理事件
func (s *Subscriber) Subscribe(ctx context.Context) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan *Event, s.cfg.Buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if s.client != nil && s.cfg.Channel != "" {
		sub.pubsub = s.client.Subscribe(ctx, s.cfg.Channel)
		// 等待订阅确认
		if _, err := sub.pubsub.Receive(ctx); err != nil {
			cancel()
			sub.pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", s.cfg.Channel, err)
		}
	}

	go s.run(ctx, sub)

	s.log.Info("事件订阅已启动",
		zap.String("channel", s.cfg.Channel),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)
	return sub, nil
}

func (s *Subscriber) run(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.events)

	var msgs <-chan *redis.Message
	if sub.pubsub != nil {
		msgs = sub.pubsub.Channel()
	}

	if !s.sweep(ctx, sub) {
		return
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				s.log.Warn("事件推送通道已关闭，退化为轮询")
				msgs = nil
				continue
			}
			if !s.deliver(ctx, sub, msg.Payload) {
				return
			}
		case <-ticker.C:
			if !s.sweep(ctx, sub) {
				return
			}
		}
	}
}

// deliver 按ID加载推送的事件，已终态的忽略
func (s *Subscriber) deliver(ctx context.Context, sub *Subscription, id string) bool {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, errors.ErrEventNotFound) {
			s.log.Warn("加载推送事件失败", logger.EventID(id), zap.Error(err))
		}
		return ctx.Err() == nil
	}
	if e.Status.Terminal() {
		return true
	}
	return emit(ctx, sub, e)
}

func (s *Subscriber) sweep(ctx context.Context, sub *Subscription) bool {
	var staleBefore time.Time
	if s.cfg.StaleAfter > 0 {
		staleBefore = time.Now().Add(-s.cfg.StaleAfter)
	}
	events, err := s.store.ListPending(ctx, s.cfg.BatchSize, staleBefore)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.log.Warn("扫描待处理事件失败", zap.Error(err))
		return true
	}
	for _, e := range events {
		if !emit(ctx, sub, e) {
			return false
		}
	}
	return true
}

func emit(ctx context.Context, sub *Subscription, e *Event) bool {
	select {
	case sub.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

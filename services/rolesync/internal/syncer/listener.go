package syncer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// Listener 变更监听，把其他进程写入的待处理事件送入处理器
type Listener struct {
	subscriber *syncevent.Subscriber
	processor  *Processor
	log        *logger.Logger

	mu   sync.Mutex
	sub  *syncevent.Subscription
	done chan struct{}
}

// NewListener 创建监听器
func NewListener(subscriber *syncevent.Subscriber, processor *Processor, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.Get()
	}
	return &Listener{
		subscriber: subscriber,
		processor:  processor,
		log:        log.Named("listener"),
	}
}

// Start 安装订阅，重复调用无副作用
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return nil
	}

	sub, err := l.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}
	l.sub = sub
	l.done = make(chan struct{})
	go l.forward(sub, l.done)

	l.log.Info("变更监听已启动")
	return nil
}

func (l *Listener) forward(sub *syncevent.Subscription, done chan struct{}) {
	defer close(done)
	for e := range sub.Events() {
		l.processor.Enqueue(e)
	}
}

// Stop 移除订阅并等待转发协程退出
func (l *Listener) Stop() error {
	l.mu.Lock()
	sub, done := l.sub, l.done
	l.sub, l.done = nil, nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	if err != nil {
		l.log.Error("关闭变更订阅失败", zap.Error(err))
	}
	l.log.Info("变更监听已停止")
	return err
}

// Running 是否已安装
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sub != nil
}

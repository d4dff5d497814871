// Package syncer 同步队列处理、变更监听以及对外的同步服务
package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// HandlerFunc 事件处理函数
type HandlerFunc func(ctx context.Context, e *syncevent.Event) error

// Options 处理器配置
type Options struct {
	NodeID        string
	BatchSize     int
	RetryAttempts int
	SyncTimeout   time.Duration
	QueueCapacity int
	// 重试退避区间
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) normalize() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 30 * time.Second
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	return o
}

// Stats 处理统计
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Retries   uint64 `json:"retries"`
	Batches   uint64 `json:"batches"`
	Queued    int    `json:"queued"`
	Draining  bool   `json:"draining"`
}

// Processor 同步队列处理器
//
// 内存队列按批次排空，同一时刻每个进程只有一个排空周期。
// 批内按 (用户, 项目) 分区，分区之间并行，分区内按时间戳串行。
type Processor struct {
	store    syncevent.Store
	claimer  syncevent.Claimer
	handlers map[syncevent.Type]HandlerFunc
	opts     Options
	log      *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*syncevent.Event
	queued map[string]struct{}
	closed bool

	draining atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	retries   atomic.Uint64
	batches   atomic.Uint64
}

// NewProcessor 创建处理器，claimer 为 nil 时不做认领
func NewProcessor(store syncevent.Store, claimer syncevent.Claimer, opts Options, log *logger.Logger) *Processor {
	if claimer == nil {
		claimer = syncevent.NopClaimer{}
	}
	if log == nil {
		log = logger.Get()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		store:    store,
		claimer:  claimer,
		handlers: make(map[syncevent.Type]HandlerFunc),
		opts:     opts.normalize(),
		log:      log.Named("processor"),
		queued:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Handle 注册事件处理函数
func (p *Processor) Handle(t syncevent.Type, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[t] = h
}

// Enqueue 加入内存队列并触发排空，返回实际入队数量
// 已在队列或处理中的事件忽略；队列满时丢弃，事件仍在存储中等待轮询补投
func (p *Processor) Enqueue(events ...*syncevent.Event) int {
	n := 0
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	for _, e := range events {
		if e == nil || e.Status.Terminal() {
			continue
		}
		if _, ok := p.queued[e.ID]; ok {
			continue
		}
		if len(p.queue) >= p.opts.QueueCapacity {
			p.dropped.Add(1)
			p.log.Warn("同步队列已满，事件留待轮询", logger.EventID(e.ID))
			continue
		}
		p.queue = append(p.queue, e)
		p.queued[e.ID] = struct{}{}
		n++
	}
	p.mu.Unlock()

	p.enqueued.Add(uint64(n))
	if n > 0 {
		p.kick()
	}
	return n
}

// kick 没有排空周期时在后台启动一个
func (p *Processor) kick() {
	if !p.draining.CompareAndSwap(false, true) {
		return
	}
	go p.drain(p.ctx)
}

// Drain 在当前协程排空队列，已有排空周期时立即返回 false
func (p *Processor) Drain(ctx context.Context) bool {
	if !p.draining.CompareAndSwap(false, true) {
		return false
	}
	p.drain(ctx)
	return true
}

// drain 调用方必须已持有排空标记
func (p *Processor) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.release()
			return
		}
		batch := p.nextBatch()
		if len(batch) == 0 {
			if p.finish() {
				return
			}
			continue
		}
		p.processBatch(ctx, batch)
	}
}

func (p *Processor) nextBatch() []*syncevent.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := min(p.opts.BatchSize, len(p.queue))
	batch := make([]*syncevent.Event, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	return batch
}

// finish 队列为空时释放排空标记；检查与释放在同一把锁内，入队方不会错过
func (p *Processor) finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		return false
	}
	p.draining.Store(false)
	p.cond.Broadcast()
	return true
}

func (p *Processor) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draining.Store(false)
	p.cond.Broadcast()
}

// Wait 等待队列排空且没有进行中的排空周期
func (p *Processor) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && (p.draining.Load() || len(p.queue) > 0) {
		p.cond.Wait()
	}
}

// Close 停止后台排空，正在处理的事件保持 processing，由过期扫描重新投递
func (p *Processor) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.cancel()
}

// Stats 统计快照
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Stats{
		Enqueued:  p.enqueued.Load(),
		Dropped:   p.dropped.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		Retries:   p.retries.Load(),
		Batches:   p.batches.Load(),
		Queued:    queued,
		Draining:  p.draining.Load(),
	}
}

// partition 按 (用户, 项目) 分区，分区内按时间戳排序，分区顺序保持首次出现的顺序
func partition(batch []*syncevent.Event) [][]*syncevent.Event {
	index := make(map[string]int)
	var parts [][]*syncevent.Event
	for _, e := range batch {
		k := e.PartitionKey()
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], e)
	}
	for _, part := range parts {
		sort.SliceStable(part, func(a, b int) bool {
			return part[a].Timestamp.Before(part[b].Timestamp)
		})
	}
	return parts
}

func (p *Processor) processBatch(ctx context.Context, batch []*syncevent.Event) {
	p.batches.Add(1)

	var g errgroup.Group
	for _, part := range partition(batch) {
		g.Go(func() error {
			for _, e := range part {
				p.process(ctx, e)
			}
			return nil
		})
	}
	// 单个事件的失败已记录在事件上，不会中断同批其他分区
	_ = g.Wait()
}

func (p *Processor) process(ctx context.Context, e *syncevent.Event) {
	defer p.forget(e.ID)

	log := p.log.With(logger.EventID(e.ID), logger.EventType(string(e.Type)),
		logger.UserID(e.UserID), logger.ProjectID(e.ProjectID))

	claimed, err := p.claimer.TryClaim(ctx, e.ID)
	if err != nil {
		// 认领只是提示，出错时照常处理
		log.Warn("认领同步事件失败", zap.Error(err))
		claimed = true
	}
	if !claimed {
		p.skipped.Add(1)
		log.Debug("同步事件已被其他节点认领")
		return
	}
	defer func() {
		if err := p.claimer.Release(context.WithoutCancel(ctx), e.ID); err != nil {
			log.Warn("释放同步事件认领失败", zap.Error(err))
		}
	}()

	ok, err := p.store.MarkProcessing(ctx, e.ID, p.opts.NodeID)
	if err != nil {
		log.Error("标记同步事件处理中失败", zap.Error(err))
		return
	}
	if !ok {
		p.skipped.Add(1)
		log.Debug("同步事件已是终态")
		return
	}

	err = p.dispatch(ctx, e, log)
	if ctx.Err() != nil {
		log.Warn("处理器停止，同步事件留待重新投递", zap.Error(err))
		return
	}

	if err != nil {
		p.failed.Add(1)
		log.Error("同步事件处理失败", zap.Error(err))
		if _, markErr := p.store.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
			log.Error("标记同步事件失败状态出错", zap.Error(markErr))
		}
		return
	}

	done, err := p.store.MarkCompleted(ctx, e.ID)
	if err != nil {
		log.Error("标记同步事件完成失败", zap.Error(err))
		return
	}
	if !done {
		log.Info("同步事件已由其他节点完成")
		return
	}
	p.completed.Add(1)
	log.Debug("同步事件已完成")
}

// dispatch 按类型分发，可重试错误按指数退避重试，整体受 SyncTimeout 约束
func (p *Processor) dispatch(ctx context.Context, e *syncevent.Event, log *logger.Logger) error {
	p.mu.Lock()
	h, ok := p.handlers[e.Type]
	p.mu.Unlock()
	if !ok {
		return errors.WithDetail(errors.ErrUnknownEventType, "no handler for %s", e.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.SyncTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.MaxInterval = p.opts.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := h(ctx, e); err != nil {
			if permanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.RetryAttempts+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.retries.Add(1)
			log.Warn("同步事件处理出错，稍后重试",
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s after %d attempt(s): %w", e.Type, attempt, err)
	}
	return nil
}

// permanent 业务错误(4xx)重试无意义
func permanent(err error) bool {
	var appErr *errors.AppError
	return errors.As(err, &appErr) && appErr.Code < 500
}

func (p *Processor) forget(id string) {
	p.mu.Lock()
	delete(p.queued, id)
	p.mu.Unlock()
}

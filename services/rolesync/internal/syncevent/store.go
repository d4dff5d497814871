package syncevent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rolebridge/pkg/dal"
	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/model"
)

// Store 持久化事件队列
type Store interface {
	// Append 追加事件，由存储分配ID和时间戳，状态置为 pending
	Append(ctx context.Context, e *Event) (string, error)
	Get(ctx context.Context, id string) (*Event, error)
	// MarkProcessing 非终态事件进入 processing 并累加尝试次数，终态返回 false
	MarkProcessing(ctx context.Context, id, node string) (bool, error)
	// MarkCompleted 仅当事件尚未终态时生效
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	// ListPending 按时间顺序列出待处理事件；staleBefore 非零时同时返回长时间停在 processing 的事件
	ListPending(ctx context.Context, limit int, staleBefore time.Time) ([]*Event, error)
	ListByUserProject(ctx context.Context, userID, projectID string) ([]*Event, error)
}

// Notifier 新事件通知
type Notifier interface {
	Notify(ctx context.Context, id string) error
}

// GormStore 基于 gorm 的事件存储
type GormStore struct {
	repo     dal.Repository[model.SyncEvent]
	notifier Notifier
	now      func() time.Time
	log      *logger.Logger

	mu   sync.Mutex
	last time.Time
}

// StoreOption 存储选项
type StoreOption func(*GormStore)

// WithNotifier 追加成功后发布通知
func WithNotifier(n Notifier) StoreOption {
	return func(s *GormStore) { s.notifier = n }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) StoreOption {
	return func(s *GormStore) { s.now = now }
}

// WithLogger 设置日志
func WithLogger(l *logger.Logger) StoreOption {
	return func(s *GormStore) { s.log = l }
}

// NewGormStore 创建事件存储
func NewGormStore(db *gorm.DB, opts ...StoreOption) *GormStore {
	s := &GormStore{
		repo: dal.NewBaseRepository[model.SyncEvent](db),
		now:  time.Now,
		log:  logger.Get().Named("syncevent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append 追加事件
func (s *GormStore) Append(ctx context.Context, e *Event) (string, error) {
	if e.Type == "" && e.Payload != nil {
		e.Type = e.Payload.Type()
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return "", errors.WithCause(errors.ErrInvalidEvent, err)
	}

	e.ID = uuid.NewString()
	e.Timestamp = s.nextTimestamp()
	e.Status = StatusPending
	e.Attempts = 0
	e.Error = ""
	e.ProcessedBy = ""

	row := toRow(e, payload)
	if err := s.repo.Create(ctx, row); err != nil {
		return "", fmt.Errorf("append sync event: %w", err)
	}

	if s.notifier != nil {
		// 通知失败不影响持久化，轮询会补上
		if err := s.notifier.Notify(ctx, e.ID); err != nil {
			s.log.Warn("发布同步事件通知失败", logger.EventID(e.ID), zap.Error(err))
		}
	}
	return e.ID, nil
}

// nextTimestamp 同一进程内追加的事件时间戳严格递增
func (s *GormStore) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}
	s.last = ts
	return ts
}

// Get 获取事件
func (s *GormStore) Get(ctx context.Context, id string) (*Event, error) {
	row, err := s.repo.FindOne(ctx, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get sync event %s: %w", id, err)
	}
	if row == nil {
		return nil, errors.WithDetail(errors.ErrEventNotFound, "%s", id)
	}
	return fromRow(row)
}

// MarkProcessing 标记处理中
func (s *GormStore) MarkProcessing(ctx context.Context, id, node string) (bool, error) {
	return s.transition(ctx, id, map[string]interface{}{
		"status":       string(StatusProcessing),
		"attempts":     gorm.Expr("attempts + 1"),
		"processed_by": node,
	})
}

// MarkCompleted 标记完成
func (s *GormStore) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, map[string]interface{}{
		"status": string(StatusCompleted),
		"error":  "",
	})
}

// MarkFailed 标记失败并记录原因
func (s *GormStore) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return s.transition(ctx, id, map[string]interface{}{
		"status": string(StatusFailed),
		"error":  reason,
	})
}

// transition 条件更新，只有非终态的行会被修改
func (s *GormStore) transition(ctx context.Context, id string, fields map[string]interface{}) (bool, error) {
	fields["updated_at"] = s.now().UTC()
	n, err := s.repo.UpdateWhere(ctx, fields, "id = ? AND status IN ?", id,
		[]string{string(StatusPending), string(StatusProcessing)})
	if err != nil {
		return false, fmt.Errorf("update sync event %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}

	exists, err := s.repo.Count(ctx, map[string]interface{}{"id": id})
	if err != nil {
		return false, fmt.Errorf("count sync event %s: %w", id, err)
	}
	if exists == 0 {
		return false, errors.WithDetail(errors.ErrEventNotFound, "%s", id)
	}
	return false, nil
}

// ListPending 列出待处理事件
func (s *GormStore) ListPending(ctx context.Context, limit int, staleBefore time.Time) ([]*Event, error) {
	where := dal.WithWhere("status = ?", string(StatusPending))
	if !staleBefore.IsZero() {
		where = dal.WithWhere("status = ? OR (status = ? AND updated_at < ?)",
			string(StatusPending), string(StatusProcessing), staleBefore.UTC())
	}
	rows, err := s.repo.FindAll(ctx, nil, where, dal.WithOrder("timestamp ASC, id ASC"), dal.WithLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending sync events: %w", err)
	}
	return fromRows(rows)
}

// ListByUserProject 列出某用户某项目的全部事件
func (s *GormStore) ListByUserProject(ctx context.Context, userID, projectID string) ([]*Event, error) {
	rows, err := s.repo.FindAll(ctx, map[string]interface{}{
		"user_id":    userID,
		"project_id": projectID,
	}, dal.WithOrder("timestamp ASC, id ASC"))
	if err != nil {
		return nil, fmt.Errorf("list sync events for %s/%s: %w", userID, projectID, err)
	}
	return fromRows(rows)
}

func toRow(e *Event, payload string) *model.SyncEvent {
	return &model.SyncEvent{
		ID:             e.ID,
		Type:           string(e.Type),
		SourceApp:      string(e.SourceApp),
		TargetApp:      string(e.TargetApp),
		Timestamp:      e.Timestamp,
		UserID:         e.UserID,
		ProjectID:      e.ProjectID,
		OrganizationID: e.OrganizationID,
		Payload:        payload,
		Status:         string(e.Status),
		Error:          e.Error,
		Attempts:       e.Attempts,
		ProcessedBy:    e.ProcessedBy,
	}
}

func fromRow(row *model.SyncEvent) (*Event, error) {
	p, err := DecodePayload(Type(row.Type), row.Payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             row.ID,
		Type:           Type(row.Type),
		SourceApp:      App(row.SourceApp),
		TargetApp:      App(row.TargetApp),
		Timestamp:      row.Timestamp,
		UserID:         row.UserID,
		ProjectID:      row.ProjectID,
		OrganizationID: row.OrganizationID,
		Payload:        p,
		Status:         Status(row.Status),
		Error:          row.Error,
		Attempts:       row.Attempts,
		ProcessedBy:    row.ProcessedBy,
	}, nil
}

func fromRows(rows []model.SyncEvent) ([]*Event, error) {
	events := make([]*Event, 0, len(rows))
	for i := range rows {
		e, err := fromRow(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", rows[i].ID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

package dal

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 通用仓储接口
type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	Upsert(ctx context.Context, entity *T, conflictColumns ...string) error
	CreateIfAbsent(ctx context.Context, entity *T, conflictColumns ...string) (bool, error)
	UpdateWhere(ctx context.Context, fields map[string]interface{}, query any, args ...any) (int64, error)
	FindOne(ctx context.Context, conditions map[string]interface{}, opts ...QueryOption) (*T, error)
	FindAll(ctx context.Context, conditions map[string]interface{}, opts ...QueryOption) ([]T, error)
	Count(ctx context.Context, conditions map[string]interface{}) (int64, error)
	Transaction(ctx context.Context, fn func(repo Repository[T]) error) error
	DB() *gorm.DB
}

// BaseRepository 基础仓储实现
type BaseRepository[T any] struct {
	db *gorm.DB
}

// NewBaseRepository 使用指定DB创建基础仓储
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{
		db: db,
	}
}

// DB 获取数据库实例
func (r *BaseRepository[T]) DB() *gorm.DB {
	return r.db
}

// Create 创建实体
func (r *BaseRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Create(entity).Error
}

// Upsert 按冲突列插入或整行覆盖
func (r *BaseRepository[T]) Upsert(ctx context.Context, entity *T, conflictColumns ...string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   columns(conflictColumns),
		UpdateAll: true,
	}).Create(entity).Error
}

// CreateIfAbsent 按冲突列插入，已存在时不做修改并返回 false
func (r *BaseRepository[T]) CreateIfAbsent(ctx context.Context, entity *T, conflictColumns ...string) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   columns(conflictColumns),
		DoNothing: true,
	}).Create(entity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func columns(names []string) []clause.Column {
	cols := make([]clause.Column, len(names))
	for i, c := range names {
		cols[i] = clause.Column{Name: c}
	}
	return cols
}

// UpdateWhere 按条件更新指定字段，返回受影响行数
func (r *BaseRepository[T]) UpdateWhere(ctx context.Context, fields map[string]interface{}, query any, args ...any) (int64, error) {
	var entity T
	res := r.db.WithContext(ctx).Model(&entity).Where(query, args...).Updates(fields)
	return res.RowsAffected, res.Error
}

// FindOne 查找单个实体，不存在时返回 nil, nil
func (r *BaseRepository[T]) FindOne(ctx context.Context, conditions map[string]interface{}, opts ...QueryOption) (*T, error) {
	var entity T
	db := r.db.WithContext(ctx)

	for _, opt := range opts {
		db = opt(db)
	}

	if err := db.Where(conditions).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entity, nil
}

// FindAll 查找所有符合条件的实体
func (r *BaseRepository[T]) FindAll(ctx context.Context, conditions map[string]interface{}, opts ...QueryOption) ([]T, error) {
	var entities []T
	db := r.db.WithContext(ctx)

	for _, opt := range opts {
		db = opt(db)
	}

	if len(conditions) > 0 {
		db = db.Where(conditions)
	}
	if err := db.Find(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}

// Count 统计数量
func (r *BaseRepository[T]) Count(ctx context.Context, conditions map[string]interface{}) (int64, error) {
	var count int64
	var entity T

	db := r.db.WithContext(ctx).Model(&entity)
	if len(conditions) > 0 {
		db = db.Where(conditions)
	}

	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Transaction 在事务中执行，回调拿到绑定事务的仓储
func (r *BaseRepository[T]) Transaction(ctx context.Context, fn func(repo Repository[T]) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewBaseRepository[T](tx))
	})
}

package logger

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func observed(level string) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewGormLogger(Wrap(zap.New(core)), level), logs
}

func TestGormLogger_FormatsThroughSugar(t *testing.T) {
	ctx := context.Background()
	l, logs := observed("info")

	l.Info(ctx, "migrated %d tables", 3)
	l.Warn(ctx, "slow %s", "query")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "migrated 3 tables", entries[0].Message)
	assert.Equal(t, "gorm", entries[0].LoggerName)
	assert.Equal(t, "slow query", entries[1].Message)
}

func TestGormLogger_LevelFilter(t *testing.T) {
	ctx := context.Background()
	l, logs := observed("error")

	l.Info(ctx, "hidden")
	l.Warn(ctx, "hidden")
	l.Error(ctx, "broken %s", "pipe")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "broken pipe", logs.All()[0].Message)

	silent := l.LogMode(gormlogger.Silent)
	silent.Error(ctx, "hidden")
	assert.Equal(t, 1, logs.Len())
}

func TestGormLogger_Trace(t *testing.T) {
	l, logs := observed("warn")
	fc := func() (string, int64) { return "SELECT 1", 1 }

	// 记录不存在不算错误
	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now(), fc, stderrors.New("disk full"))
	require.Equal(t, 1, logs.FilterMessage("gorm error").Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Equal(t, 1, logs.FilterMessage("gorm slow query").Len())
}

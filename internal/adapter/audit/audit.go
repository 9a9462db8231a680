// Package audit 审计落盘
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/repository"
)

// Entry 一次操作的审计记录
type Entry struct {
	Actor    string
	Action   string
	Resource string
	Params   map[string]interface{}
	Success  bool
	Duration time.Duration
	Err      error
}

// Sink 审计接收端
// Record 不返回错误: 审计失败不能阻断业务操作, 实现内部记日志
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// DBSink 数据库审计
type DBSink struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

func NewDBSink(repo repository.AuditRepository, logger *zap.Logger) *DBSink {
	return &DBSink{repo: repo, logger: logger}
}

func (s *DBSink) Record(ctx context.Context, entry Entry) {
	log := &model.AuditLog{
		Actor:      entry.Actor,
		Action:     entry.Action,
		Resource:   entry.Resource,
		Params:     datatypes.JSONMap(entry.Params),
		Success:    entry.Success,
		DurationMs: entry.Duration.Milliseconds(),
	}
	if entry.Err != nil {
		msg := entry.Err.Error()
		log.ErrorMessage = &msg
	}
	if err := s.repo.Create(log); err != nil {
		s.logger.Error("审计写入失败",
			zap.String("actor", entry.Actor),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

// NopSink 空审计(测试用)
type NopSink struct{}

func (NopSink) Record(ctx context.Context, entry Entry) {}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bluegreen-cd/internal/adapter/audit"
	"bluegreen-cd/internal/pkg/logger"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// Operation 一次受控操作: 权限检查与审计由Executor统一施加,
// 具体操作只描述自己的动作/资源/参数与执行逻辑
type Operation interface {
	Action() string
	Resource() string
	Params() map[string]interface{}
	Validate() error
	Execute(ctx context.Context) (interface{}, error)
}

// Executor 操作执行器: 先鉴权, 再执行, 无论成败都落审计
type Executor struct {
	sink audit.Sink
}

func NewExecutor(sink audit.Sink) *Executor {
	return &Executor{sink: sink}
}

func (e *Executor) Run(ctx context.Context, identity *TeamIdentity, op Operation) (interface{}, error) {
	if identity == nil {
		return nil, pkgErrors.ErrUnauthorized
	}
	if !RoleCan(identity.Role, op.Action()) {
		logger.Warn("操作被拒绝",
			zap.String("actor", identity.Actor),
			zap.String("role", identity.Role),
			zap.String("action", op.Action()),
			zap.String("resource", op.Resource()))
		e.record(ctx, identity, op, false, 0, pkgErrors.ErrPermissionDenied)
		return nil, pkgErrors.ErrPermissionDenied
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := op.Execute(ctx)
	e.record(ctx, identity, op, err == nil, time.Since(start), err)
	return result, err
}

func (e *Executor) record(ctx context.Context, identity *TeamIdentity, op Operation, success bool, duration time.Duration, err error) {
	e.sink.Record(ctx, audit.Entry{
		Actor:    identity.Actor,
		Action:   op.Action(),
		Resource: op.Resource(),
		Params:   op.Params(),
		Success:  success,
		Duration: duration,
		Err:      err,
	})
}

// Package health 实现切换前的健康门: 对deployed槽位执行一组检查,
// 全部通过才允许流量切换
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bluegreen-cd/internal/remote"
	"bluegreen-cd/pkg/constants"
)

// Check 单项健康检查
// Critical 为false的检查失败只把整体降级为degraded, 不判unhealthy
type Check interface {
	Name() string
	Critical() bool
	Run(ctx context.Context) error
}

// CheckResult 单项检查结论
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message,omitempty"`
}

// Verdict 健康门聚合结论
// 任一检查unhealthy则整体unhealthy, 否则任一degraded则整体degraded
type Verdict struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Healthy 整体是否通过
func (v *Verdict) Healthy() bool {
	return v.Status == constants.HealthStatusHealthy
}

// FailureSummary 未通过检查的摘要, 用于错误信息与通知
func (v *Verdict) FailureSummary() string {
	var parts []string
	for _, c := range v.Checks {
		if c.Status != constants.HealthStatusHealthy {
			parts = append(parts, fmt.Sprintf("%s: %s", c.Name, c.Message))
		}
	}
	return strings.Join(parts, "; ")
}

// Gate 健康门
// 每项检查失败后按固定间隔重试, 单次尝试受独立超时约束
type Gate struct {
	retries      int
	backoff      time.Duration
	checkTimeout time.Duration
	logger       *zap.Logger

	sleep func(time.Duration) // 测试中替换
}

func NewGate(retries int, backoff, checkTimeout time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		retries:      retries,
		backoff:      backoff,
		checkTimeout: checkTimeout,
		logger:       logger,
		sleep:        time.Sleep,
	}
}

// Evaluate 顺序执行全部检查并聚合结论
// 检查失败不中断后续检查, 以给出完整诊断
func (g *Gate) Evaluate(ctx context.Context, checks []Check) *Verdict {
	verdict := &Verdict{Status: constants.HealthStatusHealthy}
	for _, check := range checks {
		result := g.runCheck(ctx, check)
		switch result.Status {
		case constants.HealthStatusUnhealthy:
			verdict.Status = constants.HealthStatusUnhealthy
		case constants.HealthStatusDegraded:
			if verdict.Status != constants.HealthStatusUnhealthy {
				verdict.Status = constants.HealthStatusDegraded
			}
		}
		verdict.Checks = append(verdict.Checks, result)
	}
	return verdict
}

func (g *Gate) runCheck(ctx context.Context, check Check) CheckResult {
	result := CheckResult{Name: check.Name()}
	var lastErr error
	for attempt := 1; attempt <= g.retries+1; attempt++ {
		result.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, g.checkTimeout)
		err := check.Run(attemptCtx)
		cancel()
		if err == nil {
			result.Status = constants.HealthStatusHealthy
			return result
		}
		lastErr = err
		g.logger.Debug("健康检查失败",
			zap.String("check", check.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
		if attempt <= g.retries {
			g.sleep(g.backoff)
		}
	}
	result.Message = lastErr.Error()
	if check.Critical() {
		result.Status = constants.HealthStatusUnhealthy
	} else {
		result.Status = constants.HealthStatusDegraded
	}
	return result
}

// ProcessCheck 容器进程存活检查
type ProcessCheck struct {
	Channel   remote.Channel
	Host      string
	Container string
}

func (c *ProcessCheck) Name() string   { return constants.HealthCheckProcess }
func (c *ProcessCheck) Critical() bool { return true }

func (c *ProcessCheck) Run(ctx context.Context) error {
	cmd := remote.DockerInspectRunning(c.Container)
	result, err := c.Channel.Run(ctx, c.Host, cmd)
	if err != nil {
		return err
	}
	if !result.OK() {
		return remote.NewRemoteError(cmd, result)
	}
	if strings.TrimSpace(result.Stdout) != "true" {
		return fmt.Errorf("容器 %s 未在运行", c.Container)
	}
	return nil
}

// HTTPCheck HTTP探测
// 在目标主机上执行curl(端口只绑定127.0.0.1, 控制面无法直连)
type HTTPCheck struct {
	Channel    remote.Channel
	Host       string
	Port       int
	Path       string
	TimeoutSec int
}

func (c *HTTPCheck) Name() string   { return constants.HealthCheckHTTP }
func (c *HTTPCheck) Critical() bool { return true }

func (c *HTTPCheck) Run(ctx context.Context) error {
	cmd := remote.HTTPProbe(c.Port, c.Path, c.TimeoutSec)
	result, err := c.Channel.Run(ctx, c.Host, cmd)
	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("HTTP探测 %d%s 失败: %s", c.Port, c.Path, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// DependencyCheck 依赖服务连通性检查(数据库/缓存端口)
// 非关键: 依赖不可达只降级, 不阻断
type DependencyCheck struct {
	Channel    remote.Channel
	Host       string
	Dependency string
	Port       int
	TimeoutSec int
}

func (c *DependencyCheck) Name() string   { return constants.HealthCheckDependency + ":" + c.Dependency }
func (c *DependencyCheck) Critical() bool { return false }

func (c *DependencyCheck) Run(ctx context.Context) error {
	cmd := remote.TCPProbe(c.Port, c.TimeoutSec)
	result, err := c.Channel.Run(ctx, c.Host, cmd)
	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("依赖 %s 端口 %d 不可达", c.Dependency, c.Port)
	}
	return nil
}

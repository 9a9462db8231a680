// Package orchestrator 蓝绿部署编排核心
// 把槽位状态机、端口分配、远程执行、健康门和代理路由串成完整的
// deploy / promote / rollback 流程
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bluegreen-cd/internal/adapter/notification"
	"bluegreen-cd/internal/adapter/proxy"
	"bluegreen-cd/internal/core/health"
	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/core/slot"
	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/remote"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// Config 编排器运行参数(已解析)
type Config struct {
	RetentionWindow time.Duration // grace-period 保留窗口
	CommandTimeout  time.Duration // 单条远程命令超时
	MutateRetries   int           // CAS冲突重试次数
	DualTarget      bool          // 切换时短暂双上游
	HealthHTTPPath  string        // HTTP探测路径
	ProbeTimeoutSec int           // 远端探测命令超时(秒)
}

// Orchestrator 部署编排器
type Orchestrator struct {
	cfg         Config
	slots       repository.SlotRepository
	deployments repository.DeploymentRepository
	projects    repository.ProjectRepository
	portRepo    repository.PortRepository
	allocator   *ports.Allocator
	gate        *health.Gate
	channel     remote.Channel
	fleet       *config.FleetConfig
	proxyCfg    proxy.Configurator
	baseDomain  string
	notifier    notification.Notifier
	logger      *zap.Logger

	now   func() time.Time      // 测试中替换
	sleep func(d time.Duration) // 容器起动等待, 测试中替换
}

func New(
	cfg Config,
	slots repository.SlotRepository,
	deployments repository.DeploymentRepository,
	projects repository.ProjectRepository,
	portRepo repository.PortRepository,
	allocator *ports.Allocator,
	gate *health.Gate,
	channel remote.Channel,
	fleet *config.FleetConfig,
	proxyCfg proxy.Configurator,
	baseDomain string,
	notifier notification.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		slots:       slots,
		deployments: deployments,
		projects:    projects,
		portRepo:    portRepo,
		allocator:   allocator,
		gate:        gate,
		channel:     channel,
		fleet:       fleet,
		proxyCfg:    proxyCfg,
		baseDomain:  baseDomain,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// mutate 带CAS冲突重试的槽位变更
func (o *Orchestrator) mutate(project, environment string, mutator repository.SlotMutator) (*model.SlotRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MutateRetries; attempt++ {
		rec, err := o.slots.CompareAndUpdate(project, environment, mutator)
		if err == nil {
			return rec, nil
		}
		if !pkgErrors.IsCode(err, pkgErrors.CodeConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (o *Orchestrator) hostFor(environment string) (*config.FleetHost, error) {
	return o.fleet.HostFor(constants.EnvClassOf(environment))
}

// run 执行单条远程命令, 受CommandTimeout约束
func (o *Orchestrator) run(ctx context.Context, host string, cmd remote.Command) (*remote.Result, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, o.cfg.CommandTimeout)
	defer cancel()
	return o.channel.Run(cmdCtx, host, cmd)
}

// DeployRequest 部署请求
type DeployRequest struct {
	Project     string
	Environment string
	Version     string
	Image       string // 为空时默认 <project>:<version>
	Actor       string
}

// DeployResult 部署结果
type DeployResult struct {
	Slot       string `json:"slot"`
	Port       int    `json:"port"`
	PreviewURL string `json:"preview_url"`
	DurationMs int64  `json:"duration_ms"`
}

// Deploy 把新版本部署到非活跃槽位, 不切流量
// 先以CAS占住目标槽位(并发第二个部署在这里拿到SlotBusy),
// 远程步骤失败时释放占用, 槽位回到empty
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	start := o.now()
	image := req.Image
	if image == "" {
		image = fmt.Sprintf("%s:%s", req.Project, req.Version)
	}

	host, err := o.hostFor(req.Environment)
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeBadRequest, "环境无可用主机", err)
	}
	envClass := constants.EnvClassOf(req.Environment)

	// 占槽: CAS冲突时重读记录并重新选槽
	var targetSlot string
	var port int
	for attempt := 0; ; attempt++ {
		rec, err := o.slots.Get(req.Project, req.Environment)
		if err != nil {
			return nil, err
		}
		targetSlot = slot.DeployTarget(rec)

		// 槽位端口跨部署复用, 分配幂等
		port, err = o.allocator.Allocate(ctx, envClass, constants.ResourceTypeApp,
			ports.SlotOwnerKey(req.Project, req.Environment, targetSlot), req.Project)
		if err != nil {
			return nil, err
		}

		_, err = o.slots.CompareAndUpdate(req.Project, req.Environment,
			slot.ClaimDeploy(targetSlot, port, req.Version, image, req.Actor, o.now()))
		if err == nil {
			break
		}
		if pkgErrors.IsCode(err, pkgErrors.CodeConcurrentModification) && attempt < o.cfg.MutateRetries {
			continue
		}
		return nil, err
	}

	if err := o.runDeploySequence(ctx, host, req, targetSlot, port, image); err != nil {
		o.releaseClaim(req.Project, req.Environment, targetSlot)
		o.recordDeployment(req, targetSlot, image, constants.DeployOutcomeFailed, start, err)
		o.notifier.SendSlotNotification(ctx, req.Project, req.Environment, targetSlot,
			notification.NotifyDeployFailed, err.Error())
		return nil, err
	}

	o.recordDeployment(req, targetSlot, image, constants.DeployOutcomeSuccess, start, nil)
	o.notifier.SendSlotNotification(ctx, req.Project, req.Environment, targetSlot,
		notification.NotifyDeploySuccess, fmt.Sprintf("版本 %s 已部署到端口 %d", req.Version, port))

	o.logger.Info("部署完成",
		zap.String("project", req.Project),
		zap.String("environment", req.Environment),
		zap.String("slot", targetSlot),
		zap.String("version", req.Version),
		zap.Int("port", port))

	return &DeployResult{
		Slot:       targetSlot,
		Port:       port,
		PreviewURL: fmt.Sprintf("http://%s:%d", host.Address, port),
		DurationMs: o.now().Sub(start).Milliseconds(),
	}, nil
}

// runDeploySequence 远程部署序列: 清理旧容器 -> 启动新容器 -> 等待running
func (o *Orchestrator) runDeploySequence(ctx context.Context, host *config.FleetHost, req DeployRequest, slotName string, port int, image string) error {
	container := remote.ContainerName(req.Project, req.Environment, slotName)

	// 旧容器可能残留, 删除失败(不存在)可忽略
	if _, err := o.run(ctx, host.Name, remote.DockerRemove(container)); err != nil {
		return pkgErrors.NewDeployFailed("清理残留容器失败", err.Error())
	}

	runCmd := remote.DockerRun(remote.ContainerSpec{
		Name:  container,
		Image: image,
		Port:  port,
		Env: map[string]string{
			"PORT":        strconv.Itoa(port),
			"ENVIRONMENT": req.Environment,
		},
	})
	result, err := o.run(ctx, host.Name, runCmd)
	if err != nil {
		return pkgErrors.NewDeployFailed("启动容器失败", err.Error())
	}
	if !result.OK() {
		return pkgErrors.NewDeployFailed("启动容器失败", result.Stderr)
	}

	return o.waitRunning(ctx, host.Name, container)
}

// waitRunning 轮询容器进入running, 容器起动慢时重试几次
func (o *Orchestrator) waitRunning(ctx context.Context, host, container string) error {
	inspectCmd := remote.DockerInspectRunning(container)
	var lastStderr string
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			o.sleep(time.Second)
		}
		result, err := o.run(ctx, host, inspectCmd)
		if err != nil {
			return pkgErrors.NewDeployFailed("查询容器状态失败", err.Error())
		}
		if result.OK() && strings.TrimSpace(result.Stdout) == "true" {
			return nil
		}
		lastStderr = result.Stderr
	}
	return pkgErrors.NewDeployFailed(fmt.Sprintf("容器 %s 未进入running状态", container), lastStderr)
}

// releaseClaim 部署失败后把占住的槽位放回empty, 尽力而为
func (o *Orchestrator) releaseClaim(project, environment, slotName string) {
	if _, err := o.mutate(project, environment, slot.ReleaseFailed(slotName)); err != nil {
		o.logger.Error("释放部署占用失败",
			zap.String("project", project),
			zap.String("environment", environment),
			zap.String("slot", slotName),
			zap.Error(err))
	}
}

func (o *Orchestrator) recordDeployment(req DeployRequest, slotName, image, outcome string, start time.Time, deployErr error) {
	finished := o.now()
	rec := &model.DeploymentRecord{
		ProjectName: req.Project,
		Environment: req.Environment,
		Slot:        slotName,
		Version:     req.Version,
		Image:       image,
		Strategy:    constants.StrategyBlueGreen,
		Outcome:     outcome,
		DeployedBy:  req.Actor,
		StartedAt:   start,
		FinishedAt:  &finished,
		DurationMs:  finished.Sub(start).Milliseconds(),
	}
	if deployErr != nil {
		msg := deployErr.Error()
		rec.ErrorMessage = &msg
	}
	if err := o.deployments.Create(rec); err != nil {
		o.logger.Error("写入部署历史失败", zap.Error(err))
	}
}

// PromoteResult 切换结果
type PromoteResult struct {
	FromSlot      string `json:"from_slot"`
	ToSlot        string `json:"to_slot"`
	ProductionURL string `json:"production_url"`
	DurationMs    int64  `json:"duration_ms"`
}

// Promote 把deployed且健康的槽位提升为active并切换代理流量
// 注册表先行: CAS成功后状态即生效, 代理重载失败只报错不回退注册表
func (o *Orchestrator) Promote(ctx context.Context, project, environment, actor string) (*PromoteResult, error) {
	start := o.now()

	before, err := o.slots.Get(project, environment)
	if err != nil {
		return nil, err
	}
	fromSlot := before.ActiveSlot

	rec, err := o.mutate(project, environment, slot.Promote(o.cfg.RetentionWindow, o.now()))
	if err != nil {
		return nil, err
	}

	result := &PromoteResult{
		FromSlot:      fromSlot,
		ToSlot:        rec.ActiveSlot,
		ProductionURL: fmt.Sprintf("http://%s.%s", proxy.UpstreamName(project, environment), o.baseDomain),
		DurationMs:    o.now().Sub(start).Milliseconds(),
	}

	if err := o.switchTraffic(ctx, project, environment, rec); err != nil {
		return result, err
	}

	o.notifier.SendSlotNotification(ctx, project, environment, rec.ActiveSlot,
		notification.NotifyPromoteSuccess,
		fmt.Sprintf("流量已从 %s 切到 %s", fromSlot, rec.ActiveSlot))
	o.logger.Info("流量切换完成",
		zap.String("project", project),
		zap.String("environment", environment),
		zap.String("from", fromSlot),
		zap.String("to", rec.ActiveSlot))

	result.DurationMs = o.now().Sub(start).Milliseconds()
	return result, nil
}

// switchTraffic 按注册表当前状态重写代理路由
// 开启双上游窗口时先让新旧端口同时接流量再收敛到新端口
func (o *Orchestrator) switchTraffic(ctx context.Context, project, environment string, rec *model.SlotRecord) error {
	activePort := rec.Active().Port
	gracePort := rec.Inactive().Port

	if o.cfg.DualTarget && gracePort != 0 && gracePort != activePort {
		dual := proxy.Route{Project: project, Environment: environment, Ports: []int{activePort, gracePort}}
		if err := o.proxyCfg.Apply(ctx, dual); err != nil {
			return err
		}
	}
	return o.proxyCfg.Apply(ctx, proxy.Route{
		Project:     project,
		Environment: environment,
		Ports:       []int{activePort},
	})
}

// RollbackResult 回滚结果
type RollbackResult struct {
	FromSlot        string `json:"from_slot"`
	ToSlot          string `json:"to_slot"`
	RestoredVersion string `json:"restored_version"`
	DurationMs      int64  `json:"duration_ms"`
}

// Rollback 把流量切回grace-period中的上一版本
func (o *Orchestrator) Rollback(ctx context.Context, project, environment, actor, reason string) (*RollbackResult, error) {
	start := o.now()

	before, err := o.slots.Get(project, environment)
	if err != nil {
		return nil, err
	}
	fromSlot := before.ActiveSlot

	rec, err := o.mutate(project, environment, slot.Rollback(o.cfg.RetentionWindow, o.now()))
	if err != nil {
		return nil, err
	}

	restored := rec.Active()
	version := ""
	if restored.Version != nil {
		version = *restored.Version
	} else if last, err := o.deployments.LastSuccessful(project, environment, rec.ActiveSlot); err == nil && last != nil {
		version = last.Version
	}

	result := &RollbackResult{
		FromSlot:        fromSlot,
		ToSlot:          rec.ActiveSlot,
		RestoredVersion: version,
		DurationMs:      o.now().Sub(start).Milliseconds(),
	}

	if err := o.switchTraffic(ctx, project, environment, rec); err != nil {
		return result, err
	}

	msg := fmt.Sprintf("已回滚到版本 %s", version)
	if reason != "" {
		msg = fmt.Sprintf("%s, 原因: %s", msg, reason)
	}
	o.notifier.SendSlotNotification(ctx, project, environment, rec.ActiveSlot,
		notification.NotifyRollbackSuccess, msg)
	o.logger.Warn("已执行回滚",
		zap.String("project", project),
		zap.String("environment", environment),
		zap.String("from", fromSlot),
		zap.String("to", rec.ActiveSlot),
		zap.String("reason", reason))

	result.DurationMs = o.now().Sub(start).Milliseconds()
	return result, nil
}

// Status 槽位状态(只读)
func (o *Orchestrator) Status(project, environment string) (*model.SlotRecord, error) {
	return o.slots.Get(project, environment)
}

// List 全部槽位记录
func (o *Orchestrator) List() ([]*model.SlotRecord, error) {
	return o.slots.List()
}

// History 部署历史
func (o *Orchestrator) History(project, environment string, limit int) ([]*model.DeploymentRecord, error) {
	return o.deployments.List(project, environment, limit)
}

// CheckHealth 对指定槽位执行健康门并记录结果
// autoRollback 且被检槽位是active且整体unhealthy时, 直接触发回滚
func (o *Orchestrator) CheckHealth(ctx context.Context, project, environment, slotName string, autoRollback bool) (*health.Verdict, error) {
	rec, err := o.slots.Get(project, environment)
	if err != nil {
		return nil, err
	}
	state := rec.Slot(slotName)
	if state.State != constants.SlotStateDeployed && state.State != constants.SlotStateActive {
		return nil, pkgErrors.NewNotReady(
			fmt.Sprintf("槽位 %s 状态为 %s, 无法检查", slotName, state.State))
	}

	host, err := o.hostFor(environment)
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeBadRequest, "环境无可用主机", err)
	}

	checks := o.buildChecks(host.Name, project, environment, slotName, state.Port)
	verdict := o.gate.Evaluate(ctx, checks)

	if _, err := o.mutate(project, environment, slot.SetHealth(slotName, verdict.Status)); err != nil {
		o.logger.Error("记录健康状态失败", zap.Error(err))
	}

	if autoRollback && verdict.Status == constants.HealthStatusUnhealthy && rec.ActiveSlot == slotName {
		o.notifier.SendSlotNotification(ctx, project, environment, slotName,
			notification.NotifyAutoRollback, verdict.FailureSummary())
		if _, err := o.Rollback(ctx, project, environment, "health-gate", "健康检查失败自动回滚"); err != nil &&
			!errors.Is(err, pkgErrors.ErrNoRollbackTarget) {
			o.logger.Error("自动回滚失败", zap.Error(err))
		}
	}

	return verdict, nil
}

// buildChecks 组装槽位的检查清单: 进程 + HTTP + 项目依赖端口连通性
func (o *Orchestrator) buildChecks(host, project, environment, slotName string, port int) []health.Check {
	checks := []health.Check{
		&health.ProcessCheck{
			Channel:   o.channel,
			Host:      host,
			Container: remote.ContainerName(project, environment, slotName),
		},
		&health.HTTPCheck{
			Channel:    o.channel,
			Host:       host,
			Port:       port,
			Path:       o.cfg.HealthHTTPPath,
			TimeoutSec: o.cfg.ProbeTimeoutSec,
		},
	}

	allocs, err := o.portRepo.ListByProject(project)
	if err != nil {
		o.logger.Warn("查询项目依赖端口失败", zap.Error(err))
		return checks
	}
	envClass := constants.EnvClassOf(environment)
	for _, alloc := range allocs {
		if alloc.EnvironmentClass != envClass || alloc.ResourceType == constants.ResourceTypeApp {
			continue
		}
		checks = append(checks, &health.DependencyCheck{
			Channel:    o.channel,
			Host:       host,
			Dependency: alloc.ResourceType,
			Port:       alloc.Port,
			TimeoutSec: o.cfg.ProbeTimeoutSec,
		})
	}
	return checks
}

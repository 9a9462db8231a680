// Package reaper 周期清理过期的grace-period槽位
package reaper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"bluegreen-cd/internal/adapter/notification"
	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/core/slot"
	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/remote"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// Reaper 槽位回收器
// 只回收graceExpiresAt已过的grace-period槽位, 回滚仍可能用到的槽位绝不提前回收
type Reaper struct {
	slots          repository.SlotRepository
	allocator      *ports.Allocator
	channel        remote.Channel
	fleet          *config.FleetConfig
	notifier       notification.Notifier
	logger         *zap.Logger
	commandTimeout time.Duration
	mutateRetries  int

	running  bool
	stopChan chan struct{}

	now func() time.Time // 测试中替换
}

func New(
	slots repository.SlotRepository,
	allocator *ports.Allocator,
	channel remote.Channel,
	fleet *config.FleetConfig,
	notifier notification.Notifier,
	commandTimeout time.Duration,
	mutateRetries int,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		slots:          slots,
		allocator:      allocator,
		channel:        channel,
		fleet:          fleet,
		notifier:       notifier,
		commandTimeout: commandTimeout,
		mutateRetries:  mutateRetries,
		logger:         logger,
		stopChan:       make(chan struct{}),
		now:            time.Now,
	}
}

// Start 启动周期扫描
func (r *Reaper) Start(interval time.Duration) {
	if r.running {
		r.logger.Warn("回收器已在运行中")
		return
	}
	r.running = true
	r.logger.Info("回收器启动", zap.Duration("interval", interval))
	go r.runLoop(interval)
}

// Stop 停止扫描
func (r *Reaper) Stop() {
	if !r.running {
		return
	}
	close(r.stopChan)
	r.running = false
	r.logger.Info("回收器已停止")
}

func (r *Reaper) runLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.stopChan:
			return
		}
	}
}

// Sweep 扫描一轮, 返回回收的槽位数
func (r *Reaper) Sweep(ctx context.Context) int {
	recs, err := r.slots.List()
	if err != nil {
		r.logger.Error("回收扫描失败", zap.Error(err))
		return 0
	}

	reaped := 0
	now := r.now()
	for _, rec := range recs {
		for _, slotName := range []string{constants.SlotBlue, constants.SlotGreen} {
			s := rec.Slot(slotName)
			if s.State != constants.SlotStateGracePeriod {
				continue
			}
			if s.GraceExpiresAt == nil || now.Before(*s.GraceExpiresAt) {
				continue
			}
			if r.reapSlot(ctx, rec, slotName) {
				reaped++
			}
		}
	}
	return reaped
}

// reapSlot 回收单个槽位: CAS置空 -> 删容器 -> 还端口
func (r *Reaper) reapSlot(ctx context.Context, rec *model.SlotRecord, slotName string) bool {
	var reapedPort int
	mutator := func(cur *model.SlotRecord) error {
		reapedPort = cur.Slot(slotName).Port
		return slot.Reap(slotName, r.now())(cur)
	}

	var err error
	for attempt := 0; attempt <= r.mutateRetries; attempt++ {
		_, err = r.slots.CompareAndUpdate(rec.ProjectName, rec.Environment, mutator)
		if err == nil || !pkgErrors.IsCode(err, pkgErrors.CodeConcurrentModification) {
			break
		}
	}
	if err != nil {
		// 扫描后被回滚或重新部署的槽位正常跳过
		if !errors.Is(err, slot.ErrNotReapable) {
			r.logger.Error("回收槽位失败",
				zap.String("project", rec.ProjectName),
				zap.String("environment", rec.Environment),
				zap.String("slot", slotName),
				zap.Error(err))
		}
		return false
	}

	r.teardownContainer(ctx, rec, slotName)

	if reapedPort != 0 {
		envClass := constants.EnvClassOf(rec.Environment)
		if err := r.allocator.Deallocate(ctx, envClass, reapedPort); err != nil {
			r.logger.Error("回收端口失败",
				zap.Int("port", reapedPort), zap.Error(err))
		}
	}

	r.notifier.SendSlotNotification(ctx, rec.ProjectName, rec.Environment, slotName,
		notification.NotifySlotReaped, "保留窗口已过, 槽位已回收")
	r.logger.Info("槽位已回收",
		zap.String("project", rec.ProjectName),
		zap.String("environment", rec.Environment),
		zap.String("slot", slotName),
		zap.Int("port", reapedPort))
	return true
}

func (r *Reaper) teardownContainer(ctx context.Context, rec *model.SlotRecord, slotName string) {
	host, err := r.fleet.HostFor(constants.EnvClassOf(rec.Environment))
	if err != nil {
		r.logger.Error("回收时找不到环境主机",
			zap.String("environment", rec.Environment), zap.Error(err))
		return
	}
	container := remote.ContainerName(rec.ProjectName, rec.Environment, slotName)
	cmdCtx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()
	if _, err := r.channel.Run(cmdCtx, host.Name, remote.DockerRemove(container)); err != nil {
		r.logger.Error("回收容器失败", zap.String("container", container), zap.Error(err))
	}
}

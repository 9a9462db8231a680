package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/repository"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	cron          *cron.Cron
	logger        *zap.Logger
	cfg           *config.Config
	deployments   repository.DeploymentRepository
	portRepo      repository.PortRepository
	scanner       ports.SocketScanner
	cronSchedules map[string]cron.EntryID
}

// NewScheduler 创建调度器
func NewScheduler(cfg *config.Config, logger *zap.Logger,
	deployments repository.DeploymentRepository,
	portRepo repository.PortRepository,
	scanner ports.SocketScanner) *Scheduler {
	// 创建 cron 实例（带秒级支持）
	c := cron.New(cron.WithSeconds())

	return &Scheduler{
		cron:          c,
		logger:        logger,
		cfg:           cfg,
		deployments:   deployments,
		portRepo:      portRepo,
		scanner:       scanner,
		cronSchedules: make(map[string]cron.EntryID),
	}
}

// Start 注册任务并启动调度器
func (s *Scheduler) Start() error {
	log := s.logger.Sugar()

	log.Info("启动定时任务调度器...")

	// cron 表达式格式: 秒 分 时 日 月 周
	pruneCron := s.cfg.Core.HistoryPruneCron
	if pruneCron == "" {
		pruneCron = "0 0 2 * * *" // 默认: 每天凌晨2点
	}
	entryID, err := s.cron.AddFunc(pruneCron, func() {
		s.PruneHistory()
	})
	if err != nil {
		log.Errorf("注册历史清理任务失败: %v", err)
		return err
	}
	s.cronSchedules["history_prune"] = entryID
	log.Infof("部署历史清理任务已注册: %s entry_id=%d", pruneCron, entryID)

	auditCron := s.cfg.Core.PortAuditCron
	if auditCron == "" {
		auditCron = "0 */30 * * * *" // 默认: 每30分钟
	}
	entryID, err = s.cron.AddFunc(auditCron, func() {
		s.AuditPorts(context.Background())
	})
	if err != nil {
		log.Errorf("注册端口稽核任务失败: %v", err)
		return err
	}
	s.cronSchedules["port_audit"] = entryID
	log.Infof("端口台账稽核任务已注册: %s entry_id=%d", auditCron, entryID)

	s.cron.Start()
	log.Info("定时任务调度器启动成功")

	return nil
}

// Stop 停止调度器, 等待在途任务完成
func (s *Scheduler) Stop() {
	s.logger.Info("正在停止定时任务调度器...")

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("定时任务调度器已停止")
}

// PruneHistory 按保留天数清理部署历史
func (s *Scheduler) PruneHistory() {
	keepDays := s.cfg.Core.HistoryKeepDays
	if keepDays <= 0 {
		keepDays = 90
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	pruned, err := s.deployments.PruneBefore(cutoff)
	if err != nil {
		s.logger.Error("清理部署历史失败", zap.Error(err))
		return
	}
	if pruned > 0 {
		s.logger.Info("清理部署历史",
			zap.Int64("pruned", pruned),
			zap.Time("cutoff", cutoff))
	}
}

// AuditPorts 稽核端口台账与主机实际监听的偏差
// 只记录日志, 不做自动修复: 台账有分配但主机未监听, 通常意味着容器挂了
func (s *Scheduler) AuditPorts(ctx context.Context) {
	for envClass := range s.cfg.Ports {
		live, err := s.scanner.ListeningPorts(ctx, envClass)
		if err != nil {
			s.logger.Warn("端口稽核: 主机扫描失败",
				zap.String("env_class", envClass),
				zap.Error(err))
			continue
		}

		allocs, err := s.portRepo.ListByClass(envClass)
		if err != nil {
			s.logger.Error("端口稽核: 读取台账失败",
				zap.String("env_class", envClass),
				zap.Error(err))
			continue
		}

		for _, alloc := range allocs {
			if !live[alloc.Port] {
				s.logger.Warn("端口稽核: 已分配端口无人监听",
					zap.String("env_class", envClass),
					zap.String("owner", alloc.OwnerKey),
					zap.Int("port", alloc.Port))
			}
		}
	}
}

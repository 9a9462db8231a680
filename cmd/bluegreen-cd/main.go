package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bluegreen-cd/internal/adapter/notification"
	"bluegreen-cd/internal/adapter/proxy"
	"bluegreen-cd/internal/api/router"
	"bluegreen-cd/internal/core/health"
	"bluegreen-cd/internal/core/orchestrator"
	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/core/reaper"
	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/pkg/database"
	"bluegreen-cd/internal/pkg/logger"
	"bluegreen-cd/internal/remote"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/internal/scheduler"
)

// @title Blue-Green CD API
// @version 1.0
// @description 蓝绿部署编排控制面 API 文档
// @description 提供部署、流量切换、回滚、健康检查、项目生命周期管理等功能

// @contact.name API Support
// @contact.email support@example.com

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var (
	configFile = flag.String("config", "", "配置文件路径 (例如: -config=configs/config.yaml)")
	version    = flag.Bool("version", false, "显示版本信息")
)

const (
	appVersion = "1.0.0"
	appName    = "bluegreen-cd"
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	// init config logger
	var cfg *config.Config
	{
		// 优先级: 命令行参数 > 环境变量 > 默认路径
		configPath := getConfigPath()

		c, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("加载配置失败: %v\n", err)
			os.Exit(1)
		}
		cfg = c

		if err := logger.Init(&cfg.Log); err != nil {
			fmt.Printf("初始化日志失败: %v\n", err)
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Load config file: %s", configPath))

		defer func() {
			_ = logger.Close()
		}()
	}

	logger.Info(fmt.Sprintf("服务 %s 启动中...", appName), zap.String("version", appVersion))

	// 初始化数据库
	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer func() {
		_ = database.Close()
	}()

	if err := model.AutoMigrate(database.GetDB()); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}
	logger.Info(fmt.Sprintf("数据库连接成功 %s:%v", cfg.Database.Host, cfg.Database.Port), zap.String("database", cfg.Database.Database))

	// 注入数据库连接到配置
	cfg.DB = database.GetDB()
	db := database.GetDB()

	// SSH连接池
	pool, err := remote.NewPool(cfg.Fleet, logger.Log)
	if err != nil {
		logger.Fatal("初始化SSH连接池失败", zap.Error(err))
	}
	defer func() {
		_ = pool.Close()
	}()

	// Repository
	slotRepo := repository.NewSlotRepository(db)
	portRepo := repository.NewPortRepository(db)
	deploymentRepo := repository.NewDeploymentRepository(db)
	projectRepo := repository.NewProjectRepository(db)

	// 端口分配器(台账 + 主机实测双重来源)
	scanner := ports.NewFleetScanner(pool, &cfg.Fleet)
	allocator := ports.NewAllocator(cfg.Ports, portRepo, scanner, logger.Log)

	// 健康门
	gate := health.NewGate(
		cfg.Core.Health.Retries,
		config.ParseDurationOr(cfg.Core.Health.Backoff, 3*time.Second),
		config.ParseDurationOr(cfg.Core.Health.CheckTimeout, 10*time.Second),
		logger.Log,
	)

	// 反向代理与通知
	proxyConfigurator := proxy.NewNginxConfigurator(pool, &cfg.Proxy, logger.Log)
	var notifier notification.Notifier
	if cfg.Core.Notification.Provider == "lark" {
		notifier = notification.NewLarkNotifier(cfg.Core.Notification.LarkWebhook, cfg.Core.Notification.Enabled, logger.Log)
	} else {
		notifier = notification.NewLogNotifier(logger.Log)
	}

	// 编排器
	commandTimeout := config.ParseDurationOr(cfg.Core.CommandTimeout, 60*time.Second)
	orch := orchestrator.New(
		orchestrator.Config{
			RetentionWindow: config.ParseDurationOr(cfg.Core.RetentionWindow, 48*time.Hour),
			CommandTimeout:  commandTimeout,
			MutateRetries:   cfg.Core.MutateRetries,
			DualTarget:      cfg.Core.DualTargetWindow,
			HealthHTTPPath:  cfg.Core.Health.HTTPPath,
			ProbeTimeoutSec: int(config.ParseDurationOr(cfg.Core.Health.CheckTimeout, 10*time.Second).Seconds()),
		},
		slotRepo, deploymentRepo, projectRepo, portRepo,
		allocator, gate, pool, &cfg.Fleet,
		proxyConfigurator, cfg.Proxy.BaseDomain, notifier, logger.Log,
	)

	// grace-period 槽位回收器
	slotReaper := reaper.New(slotRepo, allocator, pool, &cfg.Fleet, notifier,
		commandTimeout, cfg.Core.MutateRetries, logger.Log)
	reapInterval := config.ParseDurationOr(cfg.Core.ReapInterval, 5*time.Minute)
	slotReaper.Start(reapInterval)
	logger.Info("槽位回收器启动成功", zap.Duration("reap_interval", reapInterval))

	// 定时任务调度器
	taskScheduler := scheduler.NewScheduler(cfg, logger.Log, deploymentRepo, portRepo, scanner)
	if err := taskScheduler.Start(); err != nil {
		logger.Warn("定时任务调度器启动失败", zap.Error(err))
	}

	// 设置路由
	r := router.Setup(cfg, orch, allocator)

	// 创建HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// 启动服务器
	go func() {
		logger.Info(fmt.Sprintf("%s 服务启动成功", cfg.Server.Name),
			zap.String("address", addr),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务正在关闭...")

	taskScheduler.Stop()
	logger.Info("定时任务调度器已停止")

	slotReaper.Stop()
	logger.Info("槽位回收器已停止")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
}

// getConfigPath 获取配置文件路径
// 优先级: 命令行参数 > 环境变量 > 默认路径
func getConfigPath() string {
	if *configFile != "" {
		return *configFile
	}
	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		return envConfig
	}
	return "configs/config.yaml"
}

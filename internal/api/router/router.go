package router

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"bluegreen-cd/internal/adapter/audit"
	"bluegreen-cd/internal/api/handler"
	"bluegreen-cd/internal/api/middleware"
	"bluegreen-cd/internal/core/orchestrator"
	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/pkg/logger"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/utils"
)

// Setup 设置路由
func Setup(cfg *config.Config, orch *orchestrator.Orchestrator, allocator *ports.Allocator) *gin.Engine {
	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 注册自定义校验器
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("project_name", utils.ProjectNameValidator)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Swagger API 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 获取数据库连接
	db := cfg.DB.(*gorm.DB)

	// 初始化Repository
	apiKeyRepo := repository.NewAPIKeyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// 初始化Service
	ldapService := service.NewLDAPService(&cfg.Auth.LDAP)
	authService := service.NewAuthService(ldapService, apiKeyRepo)
	executor := service.NewExecutor(audit.NewDBSink(auditRepo, logger.Log))

	// 初始化Handler
	authHandler := handler.NewAuthHandler(authService, executor)
	slotHandler := handler.NewSlotHandler(orch, executor)
	projectHandler := handler.NewProjectHandler(orch, executor)
	portHandler := handler.NewPortHandler(allocator)
	auditHandler := handler.NewAuditHandler(auditRepo)

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证相关(无需token)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
		}

		// 需要认证的路由
		authed := v1.Group("")
		authed.Use(middleware.AuthMiddleware(authService))
		{
			// 认证信息
			authed.GET("/auth/me", authHandler.GetMe)
			authed.POST("/apikeys", authHandler.CreateAPIKey)

			// 部署流水
			deployGroup := authed.Group("/deployments")
			{
				deployGroup.POST("", slotHandler.Deploy)
				deployGroup.POST("/promote", slotHandler.Promote)
				deployGroup.POST("/rollback", slotHandler.Rollback)
				deployGroup.POST("/health", slotHandler.CheckHealth)
				deployGroup.GET("/history", slotHandler.History)
			}

			// 槽位查询
			slotsGroup := authed.Group("/slots")
			{
				slotsGroup.GET("", slotHandler.List)
				slotsGroup.GET("/status", slotHandler.Status)
			}

			// 项目生命周期
			projectsGroup := authed.Group("/projects")
			{
				projectsGroup.POST("/init", projectHandler.Init)
				projectsGroup.DELETE("/:name", projectHandler.Teardown)
			}

			// 端口预览
			authed.GET("/ports/preview", portHandler.Preview)

			// 审计日志
			authed.GET("/audits", auditHandler.List)
		}
	}

	return r
}

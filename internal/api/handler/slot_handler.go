package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/api/middleware"
	"bluegreen-cd/internal/core/orchestrator"
	"bluegreen-cd/internal/dto"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/constants"
	"bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

type SlotHandler struct {
	orch     *orchestrator.Orchestrator
	executor *service.Executor
}

func NewSlotHandler(orch *orchestrator.Orchestrator, executor *service.Executor) *SlotHandler {
	return &SlotHandler{
		orch:     orch,
		executor: executor,
	}
}

// Deploy 部署到非活跃槽位
// @Summary 部署
// @Description 部署指定版本到非活跃槽位, 不切换流量
// @Tags 槽位
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.DeployRequest true "部署请求"
// @Success 200 {object} orchestrator.DeployResult
// @Router /api/v1/deployments [post]
func (h *SlotHandler) Deploy(c *gin.Context) {
	var req dto.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	result, err := h.executor.Run(c.Request.Context(), identity, &service.DeployOperation{
		Orch: h.orch,
		Req: orchestrator.DeployRequest{
			Project:     req.Project,
			Environment: req.Environment,
			Version:     req.Version,
			Image:       req.Image,
			Actor:       identity.Actor,
		},
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

// Promote 切换流量
// @Summary 切换流量
// @Description 将流量切到已部署且健康的槽位, 原活跃槽位进入grace-period
// @Tags 槽位
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.PromoteRequest true "切换请求"
// @Success 200 {object} orchestrator.PromoteResult
// @Router /api/v1/deployments/promote [post]
func (h *SlotHandler) Promote(c *gin.Context) {
	var req dto.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	result, err := h.executor.Run(c.Request.Context(), identity, &service.PromoteOperation{
		Orch:        h.orch,
		Project:     req.Project,
		Environment: req.Environment,
		Actor:       identity.Actor,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

// Rollback 回滚
// @Summary 回滚
// @Description 将流量切回grace-period槽位
// @Tags 槽位
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.RollbackRequest true "回滚请求"
// @Success 200 {object} orchestrator.RollbackResult
// @Router /api/v1/deployments/rollback [post]
func (h *SlotHandler) Rollback(c *gin.Context) {
	var req dto.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	result, err := h.executor.Run(c.Request.Context(), identity, &service.RollbackOperation{
		Orch:        h.orch,
		Project:     req.Project,
		Environment: req.Environment,
		Actor:       identity.Actor,
		Reason:      req.Reason,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

// CheckHealth 健康检查
// @Summary 槽位健康检查
// @Description 对指定槽位执行健康门检查, 可选在活跃槽位不健康时自动回滚
// @Tags 槽位
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.HealthCheckRequest true "健康检查请求"
// @Success 200 {object} health.Verdict
// @Router /api/v1/deployments/health [post]
func (h *SlotHandler) CheckHealth(c *gin.Context) {
	var req dto.HealthCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	result, err := h.executor.Run(c.Request.Context(), middleware.IdentityFrom(c), &service.HealthCheckOperation{
		Orch: h.orch,
		Req:  req,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

// Status 槽位状态
// @Summary 查询槽位状态
// @Description 返回指定项目环境的双槽位状态
// @Tags 槽位
// @Produce json
// @Security BearerAuth
// @Param project query string true "项目名"
// @Param environment query string true "环境名"
// @Success 200 {object} model.SlotRecord
// @Router /api/v1/slots/status [get]
func (h *SlotHandler) Status(c *gin.Context) {
	if !canRead(c, constants.ActionSlotStatus) {
		return
	}

	project := c.Query("project")
	environment := c.Query("environment")
	if project == "" || environment == "" {
		responses.ErrorWithCode(c, responses.CodeBadRequest, "缺少project或environment参数")
		return
	}

	rec, err := h.orch.Status(project, environment)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, rec)
}

// List 槽位列表
// @Summary 查询全部槽位
// @Tags 槽位
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.SlotRecord
// @Router /api/v1/slots [get]
func (h *SlotHandler) List(c *gin.Context) {
	if !canRead(c, constants.ActionSlotList) {
		return
	}

	records, err := h.orch.List()
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, records)
}

// History 部署历史
// @Summary 查询部署历史
// @Description 返回指定项目环境的部署历史, 按时间倒序
// @Tags 槽位
// @Produce json
// @Security BearerAuth
// @Param project query string true "项目名"
// @Param environment query string true "环境名"
// @Param limit query int false "返回条数, 默认20"
// @Success 200 {array} model.DeploymentRecord
// @Router /api/v1/deployments/history [get]
func (h *SlotHandler) History(c *gin.Context) {
	if !canRead(c, constants.ActionHistory) {
		return
	}

	project := c.Query("project")
	environment := c.Query("environment")
	if project == "" || environment == "" {
		responses.ErrorWithCode(c, responses.CodeBadRequest, "缺少project或environment参数")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := h.orch.History(project, environment, limit)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, records)
}

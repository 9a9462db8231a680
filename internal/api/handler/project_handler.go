package handler

import (
	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/core/orchestrator"
	"bluegreen-cd/internal/dto"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

type ProjectHandler struct {
	orch     *orchestrator.Orchestrator
	executor *service.Executor
}

func NewProjectHandler(orch *orchestrator.Orchestrator, executor *service.Executor) *ProjectHandler {
	return &ProjectHandler{
		orch:     orch,
		executor: executor,
	}
}

// Init 项目初始化
// @Summary 初始化项目
// @Description 创建项目记录, 分配端口, 首次部署并切换流量
// @Tags 项目
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.InitProjectRequest true "初始化请求"
// @Success 200 {object} orchestrator.InitResult
// @Router /api/v1/projects/init [post]
func (h *ProjectHandler) Init(c *gin.Context) {
	var req dto.InitProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	result, err := h.executor.Run(c.Request.Context(), identity, &service.InitProjectOperation{
		Orch: h.orch,
		Req: orchestrator.InitRequest{
			Project:      req.Project,
			Environment:  req.Environment,
			Version:      req.Version,
			Image:        req.Image,
			TeamID:       identity.TeamID,
			ArtifactType: req.ArtifactType,
			Description:  req.Description,
			WithDatabase: req.WithDatabase,
			WithCache:    req.WithCache,
			Actor:        identity.Actor,
		},
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

// Teardown 项目下线
// @Summary 下线项目
// @Description 移除项目全部容器/路由/端口分配与槽位记录
// @Tags 项目
// @Produce json
// @Security BearerAuth
// @Param name path string true "项目名"
// @Success 200 {object} responses.Response
// @Router /api/v1/projects/{name} [delete]
func (h *ProjectHandler) Teardown(c *gin.Context) {
	name := c.Param("name")

	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	_, err := h.executor.Run(c.Request.Context(), identity, &service.TeardownProjectOperation{
		Orch:    h.orch,
		Project: name,
		Actor:   identity.Actor,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithMessage(c, "项目已下线", nil)
}

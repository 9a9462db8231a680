package handler

import (
	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/dto"
	"bluegreen-cd/pkg/constants"
	"bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

type PortHandler struct {
	allocator *ports.Allocator
}

func NewPortHandler(allocator *ports.Allocator) *PortHandler {
	return &PortHandler{allocator: allocator}
}

// Preview 端口预览
// @Summary 预览可分配端口
// @Description 返回指定环境类别与资源类型下接下来会被分配的端口, 不实际占用
// @Tags 端口
// @Produce json
// @Security BearerAuth
// @Param environment_class query string true "环境类别 staging/production/preview"
// @Param resource_type query string true "资源类型 app/db/cache"
// @Param count query int false "预览数量, 默认1"
// @Success 200 {array} int
// @Router /api/v1/ports/preview [get]
func (h *PortHandler) Preview(c *gin.Context) {
	if !canRead(c, constants.ActionPortPreview) {
		return
	}

	var query dto.PortPreviewQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}
	query.Count = utils.Condexpr(query.Count > 0, query.Count, 1)

	free, err := h.allocator.Preview(c.Request.Context(), query.EnvironmentClass, query.ResourceType, query.Count)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, free)
}

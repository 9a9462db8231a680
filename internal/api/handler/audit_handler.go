package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	"bluegreen-cd/pkg/responses"
)

type AuditHandler struct {
	auditRepo repository.AuditRepository
}

func NewAuditHandler(auditRepo repository.AuditRepository) *AuditHandler {
	return &AuditHandler{auditRepo: auditRepo}
}

// List 审计日志查询
// @Summary 查询审计日志
// @Description 仅admin可用, 按actor/action过滤, 按时间倒序
// @Tags 审计
// @Produce json
// @Security BearerAuth
// @Param actor query string false "操作者"
// @Param action query string false "动作"
// @Param limit query int false "返回条数, 默认100"
// @Success 200 {array} model.AuditLog
// @Router /api/v1/audits [get]
func (h *AuditHandler) List(c *gin.Context) {
	if !canRead(c, constants.ActionAuditList) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.auditRepo.List(c.Query("actor"), c.Query("action"), limit)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, entries)
}

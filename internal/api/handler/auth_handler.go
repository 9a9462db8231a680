package handler

import (
	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/api/middleware"
	"bluegreen-cd/internal/dto"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

type AuthHandler struct {
	authService service.AuthService
	executor    *service.Executor
}

func NewAuthHandler(authService service.AuthService, executor *service.Executor) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		executor:    executor,
	}
}

// Login 登录
// @Summary LDAP登录
// @Description LDAP认证成功后签发访问Token, 角色由组成员关系映射
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "登录请求"
// @Success 200 {object} dto.LoginResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.authService.LoginLDAP(&req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// GetMe 获取当前身份
// @Summary 获取当前身份
// @Description 返回认证中间件解析出的团队身份
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.TeamIdentity
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	responses.Success(c, middleware.IdentityFrom(c))
}

// CreateAPIKey 创建API Key
// @Summary 创建API Key
// @Description 仅admin可用, 明文Key只在响应中出现一次
// @Tags 认证
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateAPIKeyRequest true "创建请求"
// @Success 200 {object} dto.CreateAPIKeyResponse
// @Router /api/v1/apikeys [post]
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	result, err := h.executor.Run(c.Request.Context(), middleware.IdentityFrom(c), &service.CreateAPIKeyOperation{
		Auth: h.authService,
		Req:  req,
	})
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, result)
}

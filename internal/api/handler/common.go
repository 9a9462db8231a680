package handler

import (
	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/api/middleware"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/responses"
)

// identityOrAbort 取出团队身份, 缺失则返回401
func identityOrAbort(c *gin.Context) (*service.TeamIdentity, bool) {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		responses.Error(c, responses.ErrUnauthorized)
		return nil, false
	}
	return identity, true
}

// canRead 读操作的权限校验, 不落审计
func canRead(c *gin.Context, action string) bool {
	identity, ok := identityOrAbort(c)
	if !ok {
		return false
	}
	if !service.RoleCan(identity.Role, action) {
		responses.Error(c, responses.ErrPermissionDenied)
		return false
	}
	return true
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"bluegreen-cd/internal/pkg/jwt"
	"bluegreen-cd/internal/service"
	"bluegreen-cd/pkg/constants"
	"bluegreen-cd/pkg/responses"
)

// ContextIdentityKey context中团队身份的key
const ContextIdentityKey = "identity"

// AuthMiddleware 认证中间件: 优先X-API-Key, 其次Bearer Token
func AuthMiddleware(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// API Key认证(CI/CD调用方)
		if rawKey := c.GetHeader(constants.HeaderAPIKey); rawKey != "" {
			identity, err := authService.VerifyAPIKey(rawKey)
			if err != nil {
				responses.Error(c, err)
				c.Abort()
				return
			}
			setIdentity(c, identity)
			c.Next()
			return
		}

		// JWT认证(LDAP登录用户)
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			responses.ErrorWithCode(c, responses.CodeUnauthorized, "缺少认证信息")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, constants.HeaderBearerPrefix) {
			responses.ErrorWithCode(c, responses.CodeUnauthorized, "Authorization格式错误")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, constants.HeaderBearerPrefix)
		claims, err := jwt.ParseToken(token)
		if err != nil {
			responses.Error(c, err)
			c.Abort()
			return
		}
		if claims.Type != constants.JWTTypeAccess {
			responses.ErrorWithCode(c, responses.CodeUnauthorized, "无效的Token类型")
			c.Abort()
			return
		}

		setIdentity(c, &service.TeamIdentity{
			TeamID:   claims.TeamID,
			Actor:    claims.Actor,
			Role:     claims.Role,
			AuthType: claims.AuthType,
		})
		c.Next()
	}
}

func setIdentity(c *gin.Context, identity *service.TeamIdentity) {
	c.Set(ContextIdentityKey, identity)
	c.Set("actor", identity.Actor)
	c.Set("team_id", identity.TeamID)
	c.Set("role", identity.Role)
}

// IdentityFrom 取出认证中间件写入的团队身份
func IdentityFrom(c *gin.Context) *service.TeamIdentity {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*service.TeamIdentity)
	return identity
}

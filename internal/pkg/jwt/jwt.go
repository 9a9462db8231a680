package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// TeamClaims 团队身份Claims
type TeamClaims struct {
	TeamID   string `json:"team_id"`
	Actor    string `json:"actor"` // 持有API Key的操作者标识
	Role     string `json:"role"`  // admin/deployer/viewer
	AuthType string `json:"auth_type"`
	Type     string `json:"type"` // access
	jwt.RegisteredClaims
}

// GenerateAccessToken 为已验证的团队身份签发访问Token
func GenerateAccessToken(teamID, actor, role, authType string) (string, error) {
	cfg := config.GlobalConfig.Auth.JWT

	claims := TeamClaims{
		TeamID:   teamID,
		Actor:    actor,
		Role:     role,
		AuthType: authType,
		Type:     constants.JWTTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(cfg.AccessTokenExpire) * time.Second)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken 解析Token
func ParseToken(tokenString string) (*TeamClaims, error) {
	cfg := config.GlobalConfig.Auth.JWT

	token, err := jwt.ParseWithClaims(tokenString, &TeamClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})

	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeUnauthorized, "解析Token失败", err)
	}

	if claims, ok := token.Claims.(*TeamClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, pkgErrors.ErrInvalidToken
}

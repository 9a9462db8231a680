package service

import (
	"go.uber.org/zap"

	"bluegreen-cd/internal/dto"
	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/pkg/jwt"
	"bluegreen-cd/internal/pkg/logger"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

// AuthService 认证: LDAP登录换Token, API Key直接校验
type AuthService interface {
	LoginLDAP(req *dto.LoginRequest) (*dto.LoginResponse, error)
	VerifyAPIKey(rawKey string) (*TeamIdentity, error)
	CreateAPIKey(req *dto.CreateAPIKeyRequest) (*dto.CreateAPIKeyResponse, error)
}

type authService struct {
	ldapService LDAPService
	apiKeyRepo  repository.APIKeyRepository
}

func NewAuthService(ldapService LDAPService, apiKeyRepo repository.APIKeyRepository) AuthService {
	return &authService{
		ldapService: ldapService,
		apiKeyRepo:  apiKeyRepo,
	}
}

// LoginLDAP LDAP认证成功后签发访问Token
func (s *authService) LoginLDAP(req *dto.LoginRequest) (*dto.LoginResponse, error) {
	identity, err := s.ldapService.Authenticate(req.Username, req.Password)
	if err != nil {
		logger.Warn("LDAP登录失败",
			zap.String("username", req.Username),
			zap.Error(err))
		return nil, err
	}

	token, err := jwt.GenerateAccessToken(identity.TeamID, identity.Actor, identity.Role, identity.AuthType)
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeAuthError, "签发Token失败", err)
	}

	logger.Info("LDAP登录成功",
		zap.String("actor", identity.Actor),
		zap.String("team_id", identity.TeamID),
		zap.String("role", identity.Role))

	return &dto.LoginResponse{
		AccessToken: token,
		ExpiresIn:   config.GlobalConfig.Auth.JWT.AccessTokenExpire,
		TeamID:      identity.TeamID,
		Actor:       identity.Actor,
		Role:        identity.Role,
	}, nil
}

// VerifyAPIKey 按摘要查库验证API Key
func (s *authService) VerifyAPIKey(rawKey string) (*TeamIdentity, error) {
	if rawKey == "" {
		return nil, pkgErrors.ErrInvalidAPIKey
	}

	hash := utils.HashAPIKey(rawKey)
	key, err := s.apiKeyRepo.FindByHash(hash)
	if err != nil {
		return nil, err
	}
	// FindByHash 走唯一索引, 这里再做一次常量时间比较
	if !utils.SecureCompare(hash, key.KeyHash) {
		return nil, pkgErrors.ErrInvalidAPIKey
	}

	return &TeamIdentity{
		TeamID:   key.TeamID,
		Actor:    key.Actor,
		Role:     key.Role,
		AuthType: constants.AuthTypeAPIKey,
	}, nil
}

// CreateAPIKey 生成新Key, 明文只返回一次, 库里只存摘要
func (s *authService) CreateAPIKey(req *dto.CreateAPIKeyRequest) (*dto.CreateAPIKeyResponse, error) {
	rawKey, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "生成API Key失败", err)
	}

	key := &model.APIKey{
		KeyHash: utils.HashAPIKey(rawKey),
		TeamID:  req.TeamID,
		Actor:   req.Actor,
		Role:    req.Role,
	}
	if err := s.apiKeyRepo.Create(key); err != nil {
		return nil, err
	}

	logger.Info("创建API Key",
		zap.String("team_id", req.TeamID),
		zap.String("actor", req.Actor),
		zap.String("role", req.Role))

	return &dto.CreateAPIKeyResponse{
		APIKey: rawKey,
		TeamID: req.TeamID,
		Actor:  req.Actor,
		Role:   req.Role,
	}, nil
}

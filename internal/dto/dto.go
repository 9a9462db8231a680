// Package dto API请求/响应结构
package dto

// LoginRequest LDAP登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // 秒
	TeamID      string `json:"team_id"`
	Actor       string `json:"actor"`
	Role        string `json:"role"`
}

// DeployRequest 部署请求
type DeployRequest struct {
	Project     string `json:"project" binding:"required,project_name"`
	Environment string `json:"environment" binding:"required"`
	Version     string `json:"version" binding:"required"`
	Image       string `json:"image"`
}

// PromoteRequest 切换请求
type PromoteRequest struct {
	Project     string `json:"project" binding:"required,project_name"`
	Environment string `json:"environment" binding:"required"`
}

// RollbackRequest 回滚请求
type RollbackRequest struct {
	Project     string `json:"project" binding:"required,project_name"`
	Environment string `json:"environment" binding:"required"`
	Reason      string `json:"reason"`
}

// HealthCheckRequest 健康检查请求
type HealthCheckRequest struct {
	Project      string `json:"project" binding:"required,project_name"`
	Environment  string `json:"environment" binding:"required"`
	Slot         string `json:"slot" binding:"required,oneof=blue green"`
	AutoRollback bool   `json:"auto_rollback"`
}

// InitProjectRequest 项目初始化请求
type InitProjectRequest struct {
	Project      string `json:"project" binding:"required,project_name"`
	Environment  string `json:"environment" binding:"required"`
	Version      string `json:"version" binding:"required"`
	Image        string `json:"image"`
	ArtifactType string `json:"artifact_type"`
	Description  string `json:"description"`
	WithDatabase bool   `json:"with_database"`
	WithCache    bool   `json:"with_cache"`
}

// CreateAPIKeyRequest API Key创建请求(仅admin)
type CreateAPIKeyRequest struct {
	TeamID string `json:"team_id" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=admin deployer viewer"`
}

// CreateAPIKeyResponse API Key创建响应, 明文Key只在这里出现一次
type CreateAPIKeyResponse struct {
	APIKey string `json:"api_key"`
	TeamID string `json:"team_id"`
	Actor  string `json:"actor"`
	Role   string `json:"role"`
}

// PortPreviewQuery 端口预览查询
type PortPreviewQuery struct {
	EnvironmentClass string `form:"environment_class" binding:"required"`
	ResourceType     string `form:"resource_type" binding:"required"`
	Count            int    `form:"count"`
}

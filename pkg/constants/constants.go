package constants

import (
	"fmt"
	"strings"
)

// Slot 槽位名称
const (
	SlotBlue  = "blue"
	SlotGreen = "green"
)

// OtherSlot 返回另一个槽位名称
func OtherSlot(slot string) string {
	if slot == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// SlotState 槽位状态
const (
	SlotStateEmpty       = "empty"        // 未部署
	SlotStateDeployed    = "deployed"     // 已部署, 未接流量
	SlotStateActive      = "active"       // 正在接流量
	SlotStateGracePeriod = "grace-period" // 降级保留中, 可回滚
)

// HealthStatus 健康状态
const (
	HealthStatusUnknown   = "unknown"
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// 环境类别(端口段按类别隔离)
const (
	EnvClassStaging    = "staging"
	EnvClassProduction = "production"
	EnvClassPreview    = "preview"
)

// EnvClassOf 环境名到环境类别的映射
// preview环境按 preview-<id> 命名, 其余环境名即类别名
func EnvClassOf(environment string) string {
	if strings.HasPrefix(environment, EnvClassPreview) {
		return EnvClassPreview
	}
	if environment == EnvClassStaging {
		return EnvClassStaging
	}
	return EnvClassProduction
}

// 资源类型(每类环境内再按资源类型划分端口段)
const (
	ResourceTypeApp      = "app"
	ResourceTypeDatabase = "db"
	ResourceTypeCache    = "cache"
)

// 部署策略
const (
	StrategyBlueGreen = "bluegreen"
)

// 部署结果
const (
	DeployOutcomeSuccess = "success"
	DeployOutcomeFailed  = "failed"
)

// 健康检查类型
const (
	HealthCheckProcess    = "process"
	HealthCheckHTTP       = "http"
	HealthCheckDependency = "dependency"
)

// 操作动作(审计/权限)
const (
	ActionDeploy          = "deploy"
	ActionPromote         = "promote"
	ActionRollback        = "rollback"
	ActionHealthCheck     = "health_check"
	ActionInitProject     = "init_project"
	ActionTeardownProject = "teardown_project"
	ActionSlotStatus      = "slot_status"
	ActionSlotList        = "slot_list"
	ActionHistory         = "history"
	ActionPortPreview     = "port_preview"
	ActionCreateAPIKey    = "create_api_key"
	ActionAuditList       = "audit_list"
)

// 角色
const (
	RoleAdmin    = "admin"
	RoleDeployer = "deployer"
	RoleViewer   = "viewer"
)

// 认证类型
const (
	AuthTypeAPIKey = "apikey"
	AuthTypeLDAP   = "ldap"
)

// JWT 相关
const (
	JWTTypeAccess  = "access"
	JWTTypeRefresh = "refresh"
)

// HTTP Header
const (
	HeaderAuthorization = "Authorization"
	HeaderBearerPrefix  = "Bearer "
	HeaderAPIKey        = "X-API-Key"
)

// ValidSlotStates 槽位状态枚举(校验用)
var ValidSlotStates = map[string]bool{
	SlotStateEmpty:       true,
	SlotStateDeployed:    true,
	SlotStateActive:      true,
	SlotStateGracePeriod: true,
}

// SlotStateLabel 槽位状态展示名
func SlotStateLabel(state string) string {
	if ValidSlotStates[state] {
		return state
	}
	return fmt.Sprintf("unknown(%s)", state)
}

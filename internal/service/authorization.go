package service

import (
	"bluegreen-cd/pkg/constants"
)

// rolePermissions 角色到允许动作的映射
// viewer只读; deployer可操作部署流水; admin全量
var rolePermissions = map[string]map[string]bool{
	constants.RoleViewer: {
		constants.ActionSlotStatus:  true,
		constants.ActionSlotList:    true,
		constants.ActionHistory:     true,
		constants.ActionPortPreview: true,
	},
	constants.RoleDeployer: {
		constants.ActionSlotStatus:  true,
		constants.ActionSlotList:    true,
		constants.ActionHistory:     true,
		constants.ActionPortPreview: true,
		constants.ActionDeploy:      true,
		constants.ActionPromote:     true,
		constants.ActionRollback:    true,
		constants.ActionHealthCheck: true,
	},
	constants.RoleAdmin: {
		constants.ActionSlotStatus:      true,
		constants.ActionSlotList:        true,
		constants.ActionHistory:         true,
		constants.ActionPortPreview:     true,
		constants.ActionDeploy:          true,
		constants.ActionPromote:         true,
		constants.ActionRollback:        true,
		constants.ActionHealthCheck:     true,
		constants.ActionInitProject:     true,
		constants.ActionTeardownProject: true,
		constants.ActionCreateAPIKey:    true,
		constants.ActionAuditList:       true,
	},
}

// RoleCan 判断角色是否允许执行动作
func RoleCan(role, action string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return perms[action]
}

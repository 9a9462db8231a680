package service

import (
	"context"
	"fmt"

	"bluegreen-cd/internal/core/orchestrator"
	"bluegreen-cd/internal/dto"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

// 具体操作定义. 变更类操作全部经由Executor执行,
// 读操作不产生审计, 由handler直接走RoleCan判断.

type DeployOperation struct {
	Orch *orchestrator.Orchestrator
	Req  orchestrator.DeployRequest
}

func (op *DeployOperation) Action() string   { return constants.ActionDeploy }
func (op *DeployOperation) Resource() string { return envResource(op.Req.Project, op.Req.Environment) }
func (op *DeployOperation) Params() map[string]interface{} {
	return map[string]interface{}{
		"version": op.Req.Version,
		"image":   op.Req.Image,
	}
}
func (op *DeployOperation) Validate() error {
	if !utils.ValidateProjectName(op.Req.Project) {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "项目名不合法")
	}
	if op.Req.Version == "" {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "版本不能为空")
	}
	return nil
}
func (op *DeployOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Orch.Deploy(ctx, op.Req)
}

type PromoteOperation struct {
	Orch        *orchestrator.Orchestrator
	Project     string
	Environment string
	Actor       string
}

func (op *PromoteOperation) Action() string   { return constants.ActionPromote }
func (op *PromoteOperation) Resource() string { return envResource(op.Project, op.Environment) }
func (op *PromoteOperation) Params() map[string]interface{} {
	return map[string]interface{}{}
}
func (op *PromoteOperation) Validate() error {
	if !utils.ValidateProjectName(op.Project) {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "项目名不合法")
	}
	return nil
}
func (op *PromoteOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Orch.Promote(ctx, op.Project, op.Environment, op.Actor)
}

type RollbackOperation struct {
	Orch        *orchestrator.Orchestrator
	Project     string
	Environment string
	Actor       string
	Reason      string
}

func (op *RollbackOperation) Action() string   { return constants.ActionRollback }
func (op *RollbackOperation) Resource() string { return envResource(op.Project, op.Environment) }
func (op *RollbackOperation) Params() map[string]interface{} {
	return map[string]interface{}{
		"reason": op.Reason,
	}
}
func (op *RollbackOperation) Validate() error {
	if !utils.ValidateProjectName(op.Project) {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "项目名不合法")
	}
	return nil
}
func (op *RollbackOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Orch.Rollback(ctx, op.Project, op.Environment, op.Actor, op.Reason)
}

type HealthCheckOperation struct {
	Orch *orchestrator.Orchestrator
	Req  dto.HealthCheckRequest
}

func (op *HealthCheckOperation) Action() string { return constants.ActionHealthCheck }
func (op *HealthCheckOperation) Resource() string {
	return envResource(op.Req.Project, op.Req.Environment)
}
func (op *HealthCheckOperation) Params() map[string]interface{} {
	return map[string]interface{}{
		"slot":          op.Req.Slot,
		"auto_rollback": op.Req.AutoRollback,
	}
}
func (op *HealthCheckOperation) Validate() error {
	if op.Req.Slot != constants.SlotBlue && op.Req.Slot != constants.SlotGreen {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "槽位只能是blue或green")
	}
	return nil
}
func (op *HealthCheckOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Orch.CheckHealth(ctx, op.Req.Project, op.Req.Environment, op.Req.Slot, op.Req.AutoRollback)
}

type InitProjectOperation struct {
	Orch *orchestrator.Orchestrator
	Req  orchestrator.InitRequest
}

func (op *InitProjectOperation) Action() string { return constants.ActionInitProject }
func (op *InitProjectOperation) Resource() string {
	return envResource(op.Req.Project, op.Req.Environment)
}
func (op *InitProjectOperation) Params() map[string]interface{} {
	return map[string]interface{}{
		"version":       op.Req.Version,
		"artifact_type": op.Req.ArtifactType,
		"with_database": op.Req.WithDatabase,
		"with_cache":    op.Req.WithCache,
	}
}
func (op *InitProjectOperation) Validate() error {
	if !utils.ValidateProjectName(op.Req.Project) {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "项目名不合法")
	}
	return nil
}
func (op *InitProjectOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Orch.InitProject(ctx, op.Req)
}

type TeardownProjectOperation struct {
	Orch    *orchestrator.Orchestrator
	Project string
	Actor   string
}

func (op *TeardownProjectOperation) Action() string   { return constants.ActionTeardownProject }
func (op *TeardownProjectOperation) Resource() string { return op.Project }
func (op *TeardownProjectOperation) Params() map[string]interface{} {
	return map[string]interface{}{}
}
func (op *TeardownProjectOperation) Validate() error {
	if !utils.ValidateProjectName(op.Project) {
		return pkgErrors.New(pkgErrors.CodeBadRequest, "项目名不合法")
	}
	return nil
}
func (op *TeardownProjectOperation) Execute(ctx context.Context) (interface{}, error) {
	return nil, op.Orch.TeardownProject(ctx, op.Project, op.Actor)
}

type CreateAPIKeyOperation struct {
	Auth AuthService
	Req  dto.CreateAPIKeyRequest
}

func (op *CreateAPIKeyOperation) Action() string   { return constants.ActionCreateAPIKey }
func (op *CreateAPIKeyOperation) Resource() string { return op.Req.TeamID }
func (op *CreateAPIKeyOperation) Params() map[string]interface{} {
	return map[string]interface{}{
		"actor": op.Req.Actor,
		"role":  op.Req.Role,
	}
}
func (op *CreateAPIKeyOperation) Validate() error {
	switch op.Req.Role {
	case constants.RoleViewer, constants.RoleDeployer, constants.RoleAdmin:
		return nil
	}
	return pkgErrors.New(pkgErrors.CodeBadRequest, "角色不合法")
}
func (op *CreateAPIKeyOperation) Execute(ctx context.Context) (interface{}, error) {
	return op.Auth.CreateAPIKey(&op.Req)
}

func envResource(project, environment string) string {
	return fmt.Sprintf("%s/%s", project, environment)
}

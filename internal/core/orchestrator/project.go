package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/remote"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
	"bluegreen-cd/pkg/utils"
)

// InitRequest 项目初始化请求
type InitRequest struct {
	Project      string
	Environment  string
	Version      string
	Image        string
	TeamID       string
	ArtifactType string
	Description  string
	WithDatabase bool
	WithCache    bool
	Actor        string
}

// InitResult 初始化结果
type InitResult struct {
	Slot          string `json:"slot"`
	Port          int    `json:"port"`
	DatabasePort  int    `json:"database_port,omitempty"`
	CachePort     int    `json:"cache_port,omitempty"`
	ProductionURL string `json:"production_url"`
	DurationMs    int64  `json:"duration_ms"`
}

// InitProject 创建项目并上线首个版本
// 流程: 建项目 -> 分配资源端口 -> 部署blue -> 健康门 -> 切流量
// 健康门不通过时项目保留在deployed状态, 不接流量
func (o *Orchestrator) InitProject(ctx context.Context, req InitRequest) (*InitResult, error) {
	start := o.now()

	if !utils.ValidateProjectName(req.Project) {
		return nil, pkgErrors.New(pkgErrors.CodeBadRequest,
			fmt.Sprintf("非法项目名: %s", req.Project))
	}

	project := &model.Project{
		Name:         req.Project,
		TeamID:       req.TeamID,
		ArtifactType: req.ArtifactType,
	}
	if req.Description != "" {
		project.Description = &req.Description
	}
	if err := o.projects.Create(project); err != nil {
		return nil, err
	}

	envClass := constants.EnvClassOf(req.Environment)
	result := &InitResult{}

	if req.WithDatabase {
		port, err := o.allocator.Allocate(ctx, envClass, constants.ResourceTypeDatabase,
			ports.OwnerKey(req.Project, req.Environment, constants.ResourceTypeDatabase), req.Project)
		if err != nil {
			return nil, err
		}
		result.DatabasePort = port
		dbName := fmt.Sprintf("%s_%s", req.Project, req.Environment)
		project.DatabaseName = &dbName
	}
	if req.WithCache {
		port, err := o.allocator.Allocate(ctx, envClass, constants.ResourceTypeCache,
			ports.OwnerKey(req.Project, req.Environment, constants.ResourceTypeCache), req.Project)
		if err != nil {
			return nil, err
		}
		result.CachePort = port
		ns := fmt.Sprintf("%s:%s", req.Project, req.Environment)
		project.CacheNamespace = &ns
	}
	if req.WithDatabase || req.WithCache {
		if err := o.projects.Update(project); err != nil {
			return nil, err
		}
	}

	deployResult, err := o.Deploy(ctx, DeployRequest{
		Project:     req.Project,
		Environment: req.Environment,
		Version:     req.Version,
		Image:       req.Image,
		Actor:       req.Actor,
	})
	if err != nil {
		return nil, err
	}
	result.Slot = deployResult.Slot
	result.Port = deployResult.Port

	verdict, err := o.CheckHealth(ctx, req.Project, req.Environment, deployResult.Slot, false)
	if err != nil {
		return nil, err
	}
	if !verdict.Healthy() {
		return nil, pkgErrors.NewNotReady(
			fmt.Sprintf("首次部署未通过健康门: %s", verdict.FailureSummary()))
	}

	promoteResult, err := o.Promote(ctx, req.Project, req.Environment, req.Actor)
	if err != nil {
		return nil, err
	}
	result.ProductionURL = promoteResult.ProductionURL
	result.DurationMs = o.now().Sub(start).Milliseconds()

	o.logger.Info("项目初始化完成",
		zap.String("project", req.Project),
		zap.String("environment", req.Environment),
		zap.String("slot", result.Slot),
		zap.Int("port", result.Port))
	return result, nil
}

// TeardownProject 销毁项目: 停容器、摘路由、清槽位记录、释放端口
// 各环境独立清理, 单点失败不阻断其余清理
func (o *Orchestrator) TeardownProject(ctx context.Context, projectName, actor string) error {
	if _, err := o.projects.FindByName(projectName); err != nil {
		return err
	}

	recs, err := o.slots.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.ProjectName != projectName {
			continue
		}
		o.teardownEnvironment(ctx, rec)
	}

	if err := o.allocator.ReleaseProject(ctx, projectName); err != nil {
		return err
	}
	if err := o.projects.Delete(projectName); err != nil {
		return err
	}

	o.logger.Info("项目已销毁", zap.String("project", projectName), zap.String("actor", actor))
	return nil
}

func (o *Orchestrator) teardownEnvironment(ctx context.Context, rec *model.SlotRecord) {
	host, err := o.hostFor(rec.Environment)
	if err != nil {
		o.logger.Error("销毁时找不到环境主机",
			zap.String("environment", rec.Environment), zap.Error(err))
	} else {
		for _, slotName := range []string{constants.SlotBlue, constants.SlotGreen} {
			if rec.Slot(slotName).State == constants.SlotStateEmpty {
				continue
			}
			container := remote.ContainerName(rec.ProjectName, rec.Environment, slotName)
			if _, err := o.run(ctx, host.Name, remote.DockerRemove(container)); err != nil {
				o.logger.Error("销毁容器失败",
					zap.String("container", container), zap.Error(err))
			}
		}
	}

	if err := o.proxyCfg.Remove(ctx, rec.ProjectName, rec.Environment); err != nil {
		o.logger.Error("摘除代理路由失败",
			zap.String("project", rec.ProjectName),
			zap.String("environment", rec.Environment),
			zap.Error(err))
	}
	if err := o.slots.Delete(rec.ProjectName, rec.Environment); err != nil {
		o.logger.Error("删除槽位记录失败",
			zap.String("project", rec.ProjectName),
			zap.String("environment", rec.Environment),
			zap.Error(err))
	}
}

package ports

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// SocketScanner 目标主机监听端口的实时扫描
type SocketScanner interface {
	ListeningPorts(ctx context.Context, envClass string) (map[int]bool, error)
}

// OwnerKey 分配归属键: (项目, 环境, 资源类型)
func OwnerKey(project, environment, resourceType string) string {
	return fmt.Sprintf("%s/%s/%s", project, environment, resourceType)
}

// SlotOwnerKey 应用端口的归属键
// 蓝绿槽位各持有独立端口, 归属键追加槽位名
func SlotOwnerKey(project, environment, slot string) string {
	return OwnerKey(project, environment, constants.ResourceTypeApp) + "/" + slot
}

// Allocator 端口分配器
// 同类环境内升序扫描取最小空闲端口; 分配对同一OwnerKey幂等;
// 端口在分配调用内同步落库, 扫描与占用之间不存在"看似空闲"的窗口
type Allocator struct {
	mu      sync.Mutex
	ranges  config.PortsConfig
	repo    repository.PortRepository
	scanner SocketScanner // 可为空(测试/离线场景)
	logger  *zap.Logger
}

func NewAllocator(ranges config.PortsConfig, repo repository.PortRepository, scanner SocketScanner, logger *zap.Logger) *Allocator {
	return &Allocator{
		ranges:  ranges,
		repo:    repo,
		scanner: scanner,
		logger:  logger,
	}
}

func (a *Allocator) rangeFor(envClass, resourceType string) (config.PortRange, error) {
	types, ok := a.ranges[envClass]
	if !ok {
		return config.PortRange{}, pkgErrors.New(pkgErrors.CodeBadRequest,
			fmt.Sprintf("未配置环境类别 %s 的端口段", envClass))
	}
	rng, ok := types[resourceType]
	if !ok {
		return config.PortRange{}, pkgErrors.New(pkgErrors.CodeBadRequest,
			fmt.Sprintf("未配置资源类型 %s/%s 的端口段", envClass, resourceType))
	}
	return rng, nil
}

// usedSet 占用集合 = 本分配器账本 + 目标主机实时监听扫描
func (a *Allocator) usedSet(ctx context.Context, envClass string) (map[int]bool, error) {
	used := make(map[int]bool)

	allocs, err := a.repo.ListByClass(envClass)
	if err != nil {
		return nil, err
	}
	for _, alloc := range allocs {
		used[alloc.Port] = true
	}

	if a.scanner != nil {
		live, err := a.scanner.ListeningPorts(ctx, envClass)
		if err != nil {
			// 扫描失败不阻塞分配: 账本仍然保证本系统内不重复,
			// 外部进程占用的端口由容器启动失败兜底
			a.logger.Warn("监听端口扫描失败, 仅使用账本分配",
				zap.String("env_class", envClass), zap.Error(err))
		} else {
			for port := range live {
				used[port] = true
			}
		}
	}

	return used, nil
}

// Allocate 分配端口, 同一OwnerKey重复调用返回已分配端口
func (a *Allocator) Allocate(ctx context.Context, envClass, resourceType, ownerKey, project string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rng, err := a.rangeFor(envClass, resourceType)
	if err != nil {
		return 0, err
	}

	// 幂等: 已有分配直接返回
	existing, err := a.repo.FindByOwner(envClass, resourceType, ownerKey)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.Port, nil
	}

	used, err := a.usedSet(ctx, envClass)
	if err != nil {
		return 0, err
	}

	for port := rng.Start; port <= rng.End; port++ {
		if used[port] {
			continue
		}
		alloc := &model.PortAllocation{
			EnvironmentClass: envClass,
			ResourceType:     resourceType,
			OwnerKey:         ownerKey,
			ProjectName:      project,
			Port:             port,
		}
		err := a.repo.Create(alloc)
		if err == nil {
			a.logger.Info("分配端口",
				zap.String("env_class", envClass),
				zap.String("resource_type", resourceType),
				zap.String("owner", ownerKey),
				zap.Int("port", port))
			return port, nil
		}
		if errors.Is(err, repository.ErrPortTaken) {
			// 另一实例刚占走这个端口, 继续向后找
			used[port] = true
			continue
		}
		return 0, err
	}

	return 0, pkgErrors.NewResourceExhausted(envClass, resourceType, rng.Start, rng.End)
}

// Deallocate 释放端口
func (a *Allocator) Deallocate(ctx context.Context, envClass string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.repo.DeleteByPort(envClass, port)
}

// ReleaseProject 释放项目名下全部端口(项目销毁时)
func (a *Allocator) ReleaseProject(ctx context.Context, project string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.repo.DeleteByProject(project)
}

// Preview 返回至多n个空闲端口, 不占用, 诊断用
func (a *Allocator) Preview(ctx context.Context, envClass, resourceType string, n int) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rng, err := a.rangeFor(envClass, resourceType)
	if err != nil {
		return nil, err
	}
	used, err := a.usedSet(ctx, envClass)
	if err != nil {
		return nil, err
	}

	free := make([]int, 0, n)
	for port := rng.Start; port <= rng.End && len(free) < n; port++ {
		if !used[port] {
			free = append(free, port)
		}
	}
	return free, nil
}

package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bluegreen-cd/internal/adapter/notification"
	"bluegreen-cd/internal/adapter/proxy"
	"bluegreen-cd/internal/core/health"
	"bluegreen-cd/internal/core/ports"
	"bluegreen-cd/internal/core/slot"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/remote"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

const testRetention = 48 * time.Hour

type fixture struct {
	orch        *Orchestrator
	slots       *repository.MemorySlotRepository
	portRepo    *repository.MemoryPortRepository
	deployments *repository.MemoryDeploymentRepository
	projects    *repository.MemoryProjectRepository
	channel     *remote.MockChannel
	proxy       *proxy.MockConfigurator
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		slots:       repository.NewMemorySlotRepository(),
		portRepo:    repository.NewMemoryPortRepository(),
		deployments: repository.NewMemoryDeploymentRepository(),
		projects:    repository.NewMemoryProjectRepository(),
		channel:     remote.NewMockChannel(),
		proxy:       proxy.NewMockConfigurator(),
		now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	// 未脚本化的docker inspect默认返回running
	f.channel.Script("docker inspect", remote.Result{Stdout: "true\n"})

	ranges := config.PortsConfig{
		constants.EnvClassProduction: {
			constants.ResourceTypeApp:      {Start: 4100, End: 4199},
			constants.ResourceTypeDatabase: {Start: 4200, End: 4299},
			constants.ResourceTypeCache:    {Start: 4300, End: 4399},
		},
		constants.EnvClassStaging: {
			constants.ResourceTypeApp: {Start: 3100, End: 3199},
		},
	}
	fleet := &config.FleetConfig{
		Hosts: []config.FleetHost{
			{Name: "prod-1", Address: "10.0.0.5",
				Environments: []string{constants.EnvClassProduction, constants.EnvClassStaging, constants.EnvClassPreview}},
		},
	}

	logger := zap.NewNop()
	allocator := ports.NewAllocator(ranges, f.portRepo, nil, logger)
	gate := health.NewGate(0, time.Millisecond, time.Second, logger)

	f.orch = New(
		Config{
			RetentionWindow: testRetention,
			CommandTimeout:  5 * time.Second,
			MutateRetries:   3,
			HealthHTTPPath:  "/healthz",
			ProbeTimeoutSec: 2,
		},
		f.slots, f.deployments, f.projects, f.portRepo,
		allocator, gate, f.channel, fleet,
		f.proxy, "apps.example.com",
		notification.NewLogNotifier(logger), logger,
	)
	f.orch.now = func() time.Time { return f.now }
	f.orch.sleep = func(time.Duration) {}
	return f
}

func (f *fixture) deploy(t *testing.T, version string) *DeployResult {
	t.Helper()
	result, err := f.orch.Deploy(context.Background(), DeployRequest{
		Project:     "demo-app",
		Environment: "production",
		Version:     version,
		Actor:       "alice",
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) checkHealthy(t *testing.T, slotName string) {
	t.Helper()
	verdict, err := f.orch.CheckHealth(context.Background(), "demo-app", "production", slotName, false)
	require.NoError(t, err)
	require.True(t, verdict.Healthy())
}

func (f *fixture) promote(t *testing.T) *PromoteResult {
	t.Helper()
	result, err := f.orch.Promote(context.Background(), "demo-app", "production", "alice")
	require.NoError(t, err)
	return result
}

// 完整场景: 新项目首次上线blue, 再发一版到green并切换
func TestBlueGreenScenario(t *testing.T) {
	f := newFixture(t)

	// 首次部署进blue, 拿区间首个端口
	result := f.deploy(t, "v1")
	assert.Equal(t, constants.SlotBlue, result.Slot)
	assert.Equal(t, 4100, result.Port)
	assert.Equal(t, "http://10.0.0.5:4100", result.PreviewURL)

	f.checkHealthy(t, constants.SlotBlue)
	promoted := f.promote(t)
	assert.Equal(t, constants.SlotBlue, promoted.ToSlot)
	assert.Equal(t, "http://demo-app-production.apps.example.com", promoted.ProductionURL)

	rec, err := f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
	assert.Equal(t, 4100, rec.Blue.Port)
	assert.Equal(t, constants.SlotStateEmpty, rec.Green.State)
	assert.Zero(t, rec.Green.Port)
	assert.Equal(t, []int{4100}, f.proxy.RoutedPorts("demo-app", "production"))

	// 第二版进green, 端口顺延
	result = f.deploy(t, "v2")
	assert.Equal(t, constants.SlotGreen, result.Slot)
	assert.Equal(t, 4101, result.Port)

	f.checkHealthy(t, constants.SlotGreen)
	promoted = f.promote(t)
	assert.Equal(t, constants.SlotBlue, promoted.FromSlot)
	assert.Equal(t, constants.SlotGreen, promoted.ToSlot)

	rec, err = f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotGreen, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateGracePeriod, rec.Blue.State)
	require.NotNil(t, rec.Blue.GraceExpiresAt)
	assert.True(t, rec.Blue.GraceExpiresAt.After(f.now))
	assert.Equal(t, []int{4101}, f.proxy.RoutedPorts("demo-app", "production"))

	// 历史两条, 全部成功
	history, err := f.orch.History("demo-app", "production", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, constants.DeployOutcomeSuccess, history[0].Outcome)
	assert.Equal(t, "v2", history[0].Version)
}

// 远程命令必须按清单名称寻址, 地址解析是通道内部的事
func TestDeployAddressesHostByFleetName(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)

	calls := f.channel.Calls()
	require.NotEmpty(t, calls)
	for _, line := range calls {
		assert.True(t, strings.HasPrefix(line, "prod-1: "), line)
	}
}

func TestDeployFailureLeavesSlotEmpty(t *testing.T) {
	f := newFixture(t)
	f.channel.Script("docker run", remote.Result{ExitCode: 125, Stderr: "pull access denied"})

	_, err := f.orch.Deploy(context.Background(), DeployRequest{
		Project: "demo-app", Environment: "production", Version: "v1", Actor: "alice",
	})
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeDeployFailed))
	assert.Contains(t, err.Error(), "pull access denied")

	rec, err := f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotStateEmpty, rec.Blue.State)

	history, err := f.orch.History("demo-app", "production", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, constants.DeployOutcomeFailed, history[0].Outcome)
	require.NotNil(t, history[0].ErrorMessage)

	// 端口归属保留, 重试部署拿回同一端口
	f.channel.Script("docker run", remote.Result{})
	result := f.deploy(t, "v1")
	assert.Equal(t, 4100, result.Port)
}

func TestDeployContainerNeverRunning(t *testing.T) {
	f := newFixture(t)
	f.channel.Script("docker inspect", remote.Result{Stdout: "false\n"})

	_, err := f.orch.Deploy(context.Background(), DeployRequest{
		Project: "demo-app", Environment: "production", Version: "v1", Actor: "alice",
	})
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeDeployFailed))
	// 轮询了多次
	assert.GreaterOrEqual(t, len(f.channel.CallsMatching("docker inspect")), 3)
}

func TestSecondDeployIntoBusySlot(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)
	f.deploy(t, "v2") // green deployed, 未promote

	_, err := f.orch.Deploy(context.Background(), DeployRequest{
		Project: "demo-app", Environment: "production", Version: "v3", Actor: "bob",
	})
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeSlotBusy))
}

func TestDeployRetriesOnConcurrentModification(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)

	// 占槽CAS写回前, 另一个写入抢先提交
	injected := false
	f.slots.BeforeWrite = func() {
		if injected {
			return
		}
		injected = true
		_, err := f.slots.CompareAndUpdate("demo-app", "production",
			slot.SetHealth(constants.SlotBlue, constants.HealthStatusHealthy))
		require.NoError(t, err)
	}

	result := f.deploy(t, "v2")
	assert.True(t, injected)
	assert.Equal(t, constants.SlotGreen, result.Slot)
}

func TestPromoteNotReadyWithoutHealthCheck(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")

	// 健康状态还是unknown
	_, err := f.orch.Promote(context.Background(), "demo-app", "production", "alice")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNotReady))
}

func TestPromoteProxyFailureKeepsRegistryPromoted(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.proxy.SetApplyError(pkgErrors.NewProxyReloadFailed(assert.AnError))

	_, err := f.orch.Promote(context.Background(), "demo-app", "production", "alice")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeProxyReloadFailed))

	// 注册表以流量意图为准, 保持promoted
	rec, getErr := f.orch.Status("demo-app", "production")
	require.NoError(t, getErr)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
}

func TestDualTargetWindow(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.DualTarget = true

	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)
	f.deploy(t, "v2")
	f.checkHealthy(t, constants.SlotGreen)
	f.promote(t)

	applied := f.proxy.Applied()
	require.GreaterOrEqual(t, len(applied), 3)
	// 第二次切换: 先双上游再收敛
	dual := applied[len(applied)-2]
	assert.Equal(t, []int{4101, 4100}, dual.Ports)
	final := applied[len(applied)-1]
	assert.Equal(t, []int{4101}, final.Ports)
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)
	f.deploy(t, "v2")
	f.checkHealthy(t, constants.SlotGreen)
	f.promote(t)

	f.now = f.now.Add(10 * time.Minute)
	result, err := f.orch.Rollback(context.Background(), "demo-app", "production", "alice", "latency spike")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotGreen, result.FromSlot)
	assert.Equal(t, constants.SlotBlue, result.ToSlot)
	assert.Equal(t, "v1", result.RestoredVersion)

	rec, err := f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateGracePeriod, rec.Green.State)
	assert.Equal(t, []int{4100}, f.proxy.RoutedPorts("demo-app", "production"))
}

func TestRollbackAfterRetentionExpired(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)
	f.deploy(t, "v2")
	f.checkHealthy(t, constants.SlotGreen)
	f.promote(t)

	f.now = f.now.Add(testRetention + time.Hour)
	_, err := f.orch.Rollback(context.Background(), "demo-app", "production", "alice", "")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNoRollbackTarget))
}

func TestAutoRollbackOnUnhealthyActiveSlot(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "v1")
	f.checkHealthy(t, constants.SlotBlue)
	f.promote(t)
	f.deploy(t, "v2")
	f.checkHealthy(t, constants.SlotGreen)
	f.promote(t)

	// 新active槽位容器挂掉
	f.channel.Script("docker inspect", remote.Result{Stdout: "false\n"})
	verdict, err := f.orch.CheckHealth(context.Background(), "demo-app", "production",
		constants.SlotGreen, true)
	require.NoError(t, err)
	assert.Equal(t, constants.HealthStatusUnhealthy, verdict.Status)

	rec, err := f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, []int{4100}, f.proxy.RoutedPorts("demo-app", "production"))
}

func TestCheckHealthOnEmptySlot(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.CheckHealth(context.Background(), "demo-app", "production",
		constants.SlotGreen, false)
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNotReady))
}

func TestInitProject(t *testing.T) {
	f := newFixture(t)
	result, err := f.orch.InitProject(context.Background(), InitRequest{
		Project:      "demo-app",
		Environment:  "production",
		Version:      "v1",
		TeamID:       "team-1",
		ArtifactType: "web",
		WithDatabase: true,
		WithCache:    true,
		Actor:        "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.SlotBlue, result.Slot)
	assert.Equal(t, 4100, result.Port)
	assert.Equal(t, 4200, result.DatabasePort)
	assert.Equal(t, 4300, result.CachePort)
	assert.Equal(t, "http://demo-app-production.apps.example.com", result.ProductionURL)

	project, err := f.projects.FindByName("demo-app")
	require.NoError(t, err)
	require.NotNil(t, project.DatabaseName)
	assert.Equal(t, "demo-app_production", *project.DatabaseName)

	rec, err := f.orch.Status("demo-app", "production")
	require.NoError(t, err)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
}

func TestInitProjectDuplicate(t *testing.T) {
	f := newFixture(t)
	req := InitRequest{
		Project: "demo-app", Environment: "production", Version: "v1",
		TeamID: "team-1", ArtifactType: "web", Actor: "alice",
	}
	_, err := f.orch.InitProject(context.Background(), req)
	require.NoError(t, err)

	_, err = f.orch.InitProject(context.Background(), req)
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeConflict))
}

func TestInitProjectInvalidName(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.InitProject(context.Background(), InitRequest{
		Project: "Demo_App!", Environment: "production", Version: "v1", Actor: "alice",
	})
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeBadRequest))
}

func TestTeardownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.InitProject(context.Background(), InitRequest{
		Project: "demo-app", Environment: "production", Version: "v1",
		TeamID: "team-1", ArtifactType: "web", WithDatabase: true, Actor: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.TeardownProject(context.Background(), "demo-app", "alice"))

	_, err = f.projects.FindByName("demo-app")
	assert.ErrorIs(t, err, pkgErrors.ErrRecordNotFound)

	allocs, err := f.portRepo.ListByProject("demo-app")
	require.NoError(t, err)
	assert.Empty(t, allocs)

	assert.Nil(t, f.proxy.RoutedPorts("demo-app", "production"))
	assert.NotEmpty(t, f.channel.CallsMatching("docker rm -f demo-app-production-blue"))
}

func TestTeardownUnknownProject(t *testing.T) {
	f := newFixture(t)
	err := f.orch.TeardownProject(context.Background(), "ghost", "alice")
	assert.ErrorIs(t, err, pkgErrors.ErrRecordNotFound)
}

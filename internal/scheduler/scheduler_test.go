package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/repository"
)

type stubScanner struct {
	ports map[int]bool
	err   error
}

func (s *stubScanner) ListeningPorts(_ context.Context, _ string) (map[int]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ports, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Core: config.CoreConfig{HistoryKeepDays: 30},
		Ports: config.PortsConfig{
			"production": {
				"app": config.PortRange{Start: 4100, End: 4199},
			},
		},
	}
}

func TestPruneHistoryRemovesOldRecords(t *testing.T) {
	deployments := repository.NewMemoryDeploymentRepository()
	old := &model.DeploymentRecord{
		ProjectName: "demo-app",
		Environment: "production",
		Slot:        "blue",
		Version:     "v1",
		Outcome:     "success",
		DeployedBy:  "alice",
		StartedAt:   time.Now().AddDate(0, 0, -60),
	}
	recent := &model.DeploymentRecord{
		ProjectName: "demo-app",
		Environment: "production",
		Slot:        "green",
		Version:     "v2",
		Outcome:     "success",
		DeployedBy:  "alice",
		StartedAt:   time.Now().AddDate(0, 0, -1),
	}
	require.NoError(t, deployments.Create(old))
	require.NoError(t, deployments.Create(recent))

	s := NewScheduler(testConfig(), zap.NewNop(), deployments, repository.NewMemoryPortRepository(), &stubScanner{})
	s.PruneHistory()

	records, err := deployments.List("demo-app", "production", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v2", records[0].Version)
}

func TestAuditPortsSurvivesScanFailure(t *testing.T) {
	portRepo := repository.NewMemoryPortRepository()
	require.NoError(t, portRepo.Create(&model.PortAllocation{
		EnvironmentClass: "production",
		ResourceType:     "app",
		OwnerKey:         "demo-app/production/app/blue",
		ProjectName:      "demo-app",
		Port:             4100,
	}))

	s := NewScheduler(testConfig(), zap.NewNop(), repository.NewMemoryDeploymentRepository(), portRepo, &stubScanner{err: context.DeadlineExceeded})
	// 扫描失败只记日志, 不应panic
	s.AuditPorts(context.Background())
}

func TestAuditPortsDetectsSilentAllocation(t *testing.T) {
	portRepo := repository.NewMemoryPortRepository()
	require.NoError(t, portRepo.Create(&model.PortAllocation{
		EnvironmentClass: "production",
		ResourceType:     "app",
		OwnerKey:         "demo-app/production/app/blue",
		ProjectName:      "demo-app",
		Port:             4100,
	}))

	s := NewScheduler(testConfig(), zap.NewNop(), repository.NewMemoryDeploymentRepository(), portRepo, &stubScanner{ports: map[int]bool{4101: true}})
	s.AuditPorts(context.Background())
}

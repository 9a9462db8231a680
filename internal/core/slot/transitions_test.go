package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

var (
	now       = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	retention = 30 * time.Minute
)

func deployedRecord(slotName string, port int, health string) *model.SlotRecord {
	rec := model.NewSlotRecord("shop", "prod")
	s := rec.Slot(slotName)
	version, image := "v1", "shop:v1"
	deployedAt := now
	*s = model.SlotState{
		State:        constants.SlotStateDeployed,
		Port:         port,
		Version:      &version,
		Image:        &image,
		DeployedAt:   &deployedAt,
		HealthStatus: health,
	}
	return rec
}

func TestDeployTarget(t *testing.T) {
	rec := model.NewSlotRecord("shop", "prod")
	// 从未部署过时固定为blue
	assert.Equal(t, constants.SlotBlue, DeployTarget(rec))

	rec.Blue.State = constants.SlotStateActive
	assert.Equal(t, constants.SlotGreen, DeployTarget(rec))

	rec.ActiveSlot = constants.SlotGreen
	rec.Green.State = constants.SlotStateActive
	rec.Blue.State = constants.SlotStateGracePeriod
	assert.Equal(t, constants.SlotBlue, DeployTarget(rec))
}

func TestClaimDeploy(t *testing.T) {
	rec := model.NewSlotRecord("shop", "prod")
	err := ClaimDeploy(constants.SlotBlue, 4100, "v1", "shop:v1", "alice", now)(rec)
	require.NoError(t, err)
	assert.Equal(t, constants.SlotStateDeployed, rec.Blue.State)
	assert.Equal(t, 4100, rec.Blue.Port)
	assert.Equal(t, "v1", *rec.Blue.Version)
	assert.Equal(t, "alice", *rec.Blue.DeployedBy)
	assert.Equal(t, constants.HealthStatusUnknown, rec.Blue.HealthStatus)
	require.NoError(t, rec.CheckInvariant())
}

func TestClaimDeployBusy(t *testing.T) {
	rec := deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusUnknown)
	err := ClaimDeploy(constants.SlotGreen, 4102, "v2", "shop:v2", "bob", now)(rec)
	assert.ErrorIs(t, err, pkgErrors.ErrSlotBusy)

	rec.Green.State = constants.SlotStateActive
	err = ClaimDeploy(constants.SlotGreen, 4102, "v2", "shop:v2", "bob", now)(rec)
	assert.ErrorIs(t, err, pkgErrors.ErrSlotBusy)
}

func TestClaimDeployOverwritesGracePeriod(t *testing.T) {
	rec := deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusHealthy)
	rec.Green.State = constants.SlotStateGracePeriod
	expiry := now.Add(retention)
	rec.Green.GraceExpiresAt = &expiry

	err := ClaimDeploy(constants.SlotGreen, 4102, "v3", "shop:v3", "alice", now)(rec)
	require.NoError(t, err)
	assert.Equal(t, constants.SlotStateDeployed, rec.Green.State)
	assert.Equal(t, 4102, rec.Green.Port)
	assert.Nil(t, rec.Green.GraceExpiresAt)
}

func TestReleaseFailed(t *testing.T) {
	rec := deployedRecord(constants.SlotBlue, 4100, constants.HealthStatusUnhealthy)
	require.NoError(t, ReleaseFailed(constants.SlotBlue)(rec))
	assert.Equal(t, constants.SlotStateEmpty, rec.Blue.State)
	assert.Zero(t, rec.Blue.Port)

	// 非deployed状态不可释放
	assert.Error(t, ReleaseFailed(constants.SlotBlue)(rec))
}

func TestSetHealth(t *testing.T) {
	rec := deployedRecord(constants.SlotBlue, 4100, constants.HealthStatusUnknown)
	require.NoError(t, SetHealth(constants.SlotBlue, constants.HealthStatusHealthy)(rec))
	assert.Equal(t, constants.HealthStatusHealthy, rec.Blue.HealthStatus)

	assert.Error(t, SetHealth(constants.SlotGreen, constants.HealthStatusHealthy)(rec))
}

func TestPromoteInitial(t *testing.T) {
	rec := deployedRecord(constants.SlotBlue, 4100, constants.HealthStatusHealthy)
	require.NoError(t, Promote(retention, now)(rec))
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
	assert.Equal(t, constants.SlotStateEmpty, rec.Green.State)
	require.NoError(t, rec.CheckInvariant())
}

func TestPromoteSwap(t *testing.T) {
	rec := deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusHealthy)
	rec.Blue.State = constants.SlotStateActive
	rec.Blue.Port = 4100
	rec.ActiveSlot = constants.SlotBlue

	require.NoError(t, Promote(retention, now)(rec))
	assert.Equal(t, constants.SlotGreen, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Green.State)
	assert.Equal(t, constants.SlotStateGracePeriod, rec.Blue.State)
	require.NotNil(t, rec.Blue.GraceExpiresAt)
	assert.Equal(t, now.Add(retention), *rec.Blue.GraceExpiresAt)
	require.NoError(t, rec.CheckInvariant())
}

func TestPromoteIdempotent(t *testing.T) {
	rec := deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusHealthy)
	rec.Blue.State = constants.SlotStateActive
	rec.ActiveSlot = constants.SlotBlue

	require.NoError(t, Promote(retention, now)(rec))
	// 重复提升: 状态不变, 直接成功
	before := *rec
	require.NoError(t, Promote(retention, now.Add(time.Minute))(rec))
	assert.Equal(t, before.ActiveSlot, rec.ActiveSlot)
	assert.Equal(t, before.Blue.GraceExpiresAt, rec.Blue.GraceExpiresAt)
}

func TestPromoteIdempotentAfterInitialPromote(t *testing.T) {
	// 首次提升后另一槽位还是empty, 重复promote也要直接成功
	rec := deployedRecord(constants.SlotBlue, 4100, constants.HealthStatusHealthy)
	require.NoError(t, Promote(retention, now)(rec))

	require.NoError(t, Promote(retention, now.Add(time.Minute))(rec))
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
	assert.Equal(t, constants.SlotStateEmpty, rec.Green.State)
}

func TestPromoteIdempotentAfterReap(t *testing.T) {
	// grace槽位被回收成empty后, 重复promote仍视为已到达终态
	rec := promotedRecord()
	require.NoError(t, Reap(constants.SlotBlue, now.Add(retention+time.Minute))(rec))

	require.NoError(t, Promote(retention, now.Add(retention+2*time.Minute))(rec))
	assert.Equal(t, constants.SlotGreen, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Green.State)
	assert.Equal(t, constants.SlotStateEmpty, rec.Blue.State)
}

func TestPromoteNotReady(t *testing.T) {
	// 无deployed槽位
	rec := model.NewSlotRecord("shop", "prod")
	err := Promote(retention, now)(rec)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNotReady))

	// deployed但不健康
	rec = deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusUnhealthy)
	err = Promote(retention, now)(rec)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNotReady))

	// deployed但还未做健康检查
	rec = deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusUnknown)
	err = Promote(retention, now)(rec)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeNotReady))
}

func promotedRecord() *model.SlotRecord {
	rec := deployedRecord(constants.SlotGreen, 4101, constants.HealthStatusHealthy)
	rec.Blue.State = constants.SlotStateActive
	rec.Blue.Port = 4100
	rec.Blue.HealthStatus = constants.HealthStatusHealthy
	rec.ActiveSlot = constants.SlotBlue
	if err := Promote(retention, now)(rec); err != nil {
		panic(err)
	}
	return rec
}

func TestRollback(t *testing.T) {
	rec := promotedRecord()
	require.NoError(t, Rollback(retention, now.Add(time.Minute))(rec))
	assert.Equal(t, constants.SlotBlue, rec.ActiveSlot)
	assert.Equal(t, constants.SlotStateActive, rec.Blue.State)
	assert.Nil(t, rec.Blue.GraceExpiresAt)
	// 被回滚的槽位转入grace-period
	assert.Equal(t, constants.SlotStateGracePeriod, rec.Green.State)
	require.NotNil(t, rec.Green.GraceExpiresAt)
	require.NoError(t, rec.CheckInvariant())
}

func TestRollbackNoTarget(t *testing.T) {
	// 非活跃槽位为空
	rec := model.NewSlotRecord("shop", "prod")
	rec.Blue.State = constants.SlotStateActive
	err := Rollback(retention, now)(rec)
	assert.ErrorIs(t, err, pkgErrors.ErrNoRollbackTarget)

	// grace-period已过期
	rec = promotedRecord()
	err = Rollback(retention, now.Add(retention+time.Second))(rec)
	assert.ErrorIs(t, err, pkgErrors.ErrNoRollbackTarget)
}

func TestReap(t *testing.T) {
	rec := promotedRecord()
	// 未过期不可回收
	err := Reap(constants.SlotBlue, now.Add(retention-time.Second))(rec)
	assert.ErrorIs(t, err, ErrNotReapable)

	require.NoError(t, Reap(constants.SlotBlue, now.Add(retention+time.Second))(rec))
	assert.Equal(t, constants.SlotStateEmpty, rec.Blue.State)
	assert.Zero(t, rec.Blue.Port)
	require.NoError(t, rec.CheckInvariant())
}

func TestReapSkipsNonGraceSlot(t *testing.T) {
	rec := promotedRecord()
	// 回滚后原grace槽位重新active, 回收器应跳过
	require.NoError(t, Rollback(retention, now.Add(time.Minute))(rec))
	err := Reap(constants.SlotBlue, now.Add(2*retention))(rec)
	assert.ErrorIs(t, err, ErrNotReapable)
}

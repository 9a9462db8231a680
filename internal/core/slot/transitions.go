// Package slot 实现蓝绿槽位状态机的全部状态迁移
// 每个迁移是一个可重试的mutator, 由 SlotRepository.CompareAndUpdate 在乐观并发下执行
package slot

import (
	"errors"
	"fmt"
	"time"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// ErrNotReapable 槽位已不处于可回收状态(被回滚或重新部署), 回收器跳过
var ErrNotReapable = errors.New("slot not reapable")

// DeployTarget 选择部署目标槽位
// 常规为非活跃槽位; 从未部署过(两个槽位均为空)时固定为blue
func DeployTarget(rec *model.SlotRecord) string {
	if rec.Blue.State == constants.SlotStateEmpty && rec.Green.State == constants.SlotStateEmpty {
		return constants.SlotBlue
	}
	return rec.InactiveSlot()
}

// ClaimDeploy 占用目标槽位开始部署
// 目标槽位已有进行中的部署或正在承载流量时返回 SlotBusy;
// 处于grace-period的槽位可被覆盖(放弃其回滚目标身份)
func ClaimDeploy(slotName string, port int, version, image, actor string, now time.Time) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		target := rec.Slot(slotName)
		switch target.State {
		case constants.SlotStateDeployed, constants.SlotStateActive:
			return pkgErrors.ErrSlotBusy
		}
		deployedAt := now
		*target = model.SlotState{
			State:        constants.SlotStateDeployed,
			Port:         port,
			Version:      &version,
			Image:        &image,
			DeployedAt:   &deployedAt,
			DeployedBy:   &actor,
			HealthStatus: constants.HealthStatusUnknown,
		}
		return nil
	}
}

// ReleaseFailed 部署失败后释放占用, 槽位回到empty
func ReleaseFailed(slotName string) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		target := rec.Slot(slotName)
		if target.State != constants.SlotStateDeployed {
			return fmt.Errorf("槽位 %s 状态为 %s, 无法释放", slotName, target.State)
		}
		*target = model.EmptySlotState()
		return nil
	}
}

// SetHealth 记录健康检查结果
func SetHealth(slotName, status string) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		target := rec.Slot(slotName)
		switch target.State {
		case constants.SlotStateDeployed, constants.SlotStateActive:
			target.HealthStatus = status
			return nil
		default:
			return fmt.Errorf("槽位 %s 状态为 %s, 无法记录健康状态", slotName, target.State)
		}
	}
}

// Promote 把deployed且健康的槽位提升为active, 原active槽位进入grace-period
// 幂等: 已完成切换(活跃槽位active, 另一槽位grace-period或empty)时直接成功;
// 没有可提升槽位或候选不健康时返回 NotReady
func Promote(retention time.Duration, now time.Time) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		candName := deployedSlot(rec)
		if candName == "" {
			// 首次切换后另一槽位还是empty, 回收后也回到empty,
			// 这两种情况下重复promote同样视为已到达终态
			if rec.Active().State == constants.SlotStateActive &&
				(rec.Inactive().State == constants.SlotStateGracePeriod ||
					rec.Inactive().State == constants.SlotStateEmpty) {
				return nil
			}
			return pkgErrors.NewNotReady("没有处于deployed状态的槽位")
		}
		cand := rec.Slot(candName)
		if cand.HealthStatus != constants.HealthStatusHealthy {
			return pkgErrors.NewNotReady(
				fmt.Sprintf("槽位 %s 健康状态为 %s", candName, cand.HealthStatus))
		}

		other := rec.Slot(constants.OtherSlot(candName))
		if other.State == constants.SlotStateActive {
			other.State = constants.SlotStateGracePeriod
			expiry := now.Add(retention)
			other.GraceExpiresAt = &expiry
		}
		cand.State = constants.SlotStateActive
		cand.GraceExpiresAt = nil
		rec.ActiveSlot = candName
		return nil
	}
}

// Rollback 把流量切回grace-period中的上一版本
// 回滚目标必须是未过期的grace-period槽位, 否则返回 NoRollbackTarget;
// 被回滚的槽位转入grace-period等待回收
func Rollback(retention time.Duration, now time.Time) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		candName := rec.InactiveSlot()
		cand := rec.Slot(candName)
		if cand.State != constants.SlotStateGracePeriod {
			return pkgErrors.ErrNoRollbackTarget
		}
		if cand.GraceExpiresAt != nil && now.After(*cand.GraceExpiresAt) {
			return pkgErrors.ErrNoRollbackTarget
		}

		cur := rec.Active()
		if cur.State == constants.SlotStateActive {
			cur.State = constants.SlotStateGracePeriod
			expiry := now.Add(retention)
			cur.GraceExpiresAt = &expiry
		}
		cand.State = constants.SlotStateActive
		cand.GraceExpiresAt = nil
		rec.ActiveSlot = candName
		return nil
	}
}

// Reap 回收过期的grace-period槽位
// 扫描到执行之间槽位可能已被回滚或重新部署, 此时返回 ErrNotReapable
func Reap(slotName string, now time.Time) repository.SlotMutator {
	return func(rec *model.SlotRecord) error {
		target := rec.Slot(slotName)
		if target.State != constants.SlotStateGracePeriod {
			return ErrNotReapable
		}
		if target.GraceExpiresAt == nil || now.Before(*target.GraceExpiresAt) {
			return ErrNotReapable
		}
		*target = model.EmptySlotState()
		return nil
	}
}

func deployedSlot(rec *model.SlotRecord) string {
	if rec.Blue.State == constants.SlotStateDeployed {
		return constants.SlotBlue
	}
	if rec.Green.State == constants.SlotStateDeployed {
		return constants.SlotGreen
	}
	return ""
}

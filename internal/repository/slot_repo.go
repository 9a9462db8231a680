package repository

import (
	"errors"

	"gorm.io/gorm"

	"bluegreen-cd/internal/model"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// SlotMutator 在一条槽位记录上执行变更, 所有业务前置检查在这里做
// 返回错误则放弃写入并原样上抛
type SlotMutator func(rec *model.SlotRecord) error

// SlotRepository 槽位记录仓库
// CompareAndUpdate 是唯一的变更入口: 读取-变更-带旧Revision写回,
// 写回影响0行即判定并发冲突, 调用方需整体重试mutator
type SlotRepository interface {
	Get(project, environment string) (*model.SlotRecord, error)
	CompareAndUpdate(project, environment string, mutator SlotMutator) (*model.SlotRecord, error)
	List() ([]*model.SlotRecord, error)
	Delete(project, environment string) error
}

type slotRepository struct {
	db *gorm.DB
}

func NewSlotRepository(db *gorm.DB) SlotRepository {
	return &slotRepository{db: db}
}

// Get 查询槽位记录, 首次访问时创建全空记录
func (r *slotRepository) Get(project, environment string) (*model.SlotRecord, error) {
	var rec model.SlotRecord
	err := r.db.Where("project_name = ? AND environment = ?", project, environment).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询槽位记录失败", err)
	}

	fresh := model.NewSlotRecord(project, environment)
	if err := r.db.Create(fresh).Error; err != nil {
		// 并发首次访问: 另一个请求先建了记录, 重新读取
		var again model.SlotRecord
		if err2 := r.db.Where("project_name = ? AND environment = ?", project, environment).First(&again).Error; err2 == nil {
			return &again, nil
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建槽位记录失败", err)
	}
	return fresh, nil
}

// CompareAndUpdate 读取-应用mutator-乐观写回
func (r *slotRepository) CompareAndUpdate(project, environment string, mutator SlotMutator) (*model.SlotRecord, error) {
	rec, err := r.Get(project, environment)
	if err != nil {
		return nil, err
	}

	oldRev := rec.Revision
	if err := mutator(rec); err != nil {
		return nil, err
	}

	if err := rec.CheckInvariant(); err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "槽位不变式被破坏, 拒绝写入", err)
	}

	result := r.db.Model(&model.SlotRecord{}).
		Where("id = ? AND revision = ?", rec.ID, oldRev).
		Updates(map[string]interface{}{
			"active_slot": rec.ActiveSlot,
			"blue":        rec.Blue,
			"green":       rec.Green,
			"revision":    oldRev + 1,
		})
	if result.Error != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新槽位记录失败", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, pkgErrors.ErrConcurrentModification
	}

	rec.Revision = oldRev + 1
	return rec, nil
}

func (r *slotRepository) List() ([]*model.SlotRecord, error) {
	var recs []*model.SlotRecord
	if err := r.db.Order("project_name ASC, environment ASC").Find(&recs).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询槽位列表失败", err)
	}
	return recs, nil
}

func (r *slotRepository) Delete(project, environment string) error {
	if err := r.db.Where("project_name = ? AND environment = ?", project, environment).
		Delete(&model.SlotRecord{}).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "删除槽位记录失败", err)
	}
	return nil
}

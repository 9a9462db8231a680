package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// DeploymentRepository 部署历史仓库(仅追加)
type DeploymentRepository interface {
	Create(rec *model.DeploymentRecord) error
	List(project, environment string, limit int) ([]*model.DeploymentRecord, error)
	// LastSuccessful 指定槽位最近一次成功部署, 用于解析回滚目标版本
	LastSuccessful(project, environment, slot string) (*model.DeploymentRecord, error)
	PruneBefore(cutoff time.Time) (int64, error)
}

type deploymentRepository struct {
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{db: db}
}

func (r *deploymentRepository) Create(rec *model.DeploymentRecord) error {
	if err := r.db.Create(rec).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入部署记录失败", err)
	}
	return nil
}

func (r *deploymentRepository) List(project, environment string, limit int) ([]*model.DeploymentRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var recs []*model.DeploymentRecord
	query := r.db.Where("project_name = ?", project)
	if environment != "" {
		query = query.Where("environment = ?", environment)
	}
	if err := query.Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询部署历史失败", err)
	}
	return recs, nil
}

func (r *deploymentRepository) LastSuccessful(project, environment, slot string) (*model.DeploymentRecord, error) {
	var rec model.DeploymentRecord
	err := r.db.Where("project_name = ? AND environment = ? AND slot = ? AND outcome = ?",
		project, environment, slot, constants.DeployOutcomeSuccess).
		Order("started_at DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询部署记录失败", err)
	}
	return &rec, nil
}

func (r *deploymentRepository) PruneBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("started_at < ?", cutoff).Delete(&model.DeploymentRecord{})
	if result.Error != nil {
		return 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "清理部署历史失败", result.Error)
	}
	return result.RowsAffected, nil
}

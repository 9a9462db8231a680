package repository

import (
	"gorm.io/gorm"

	"bluegreen-cd/internal/model"
	pkgErrors "bluegreen-cd/pkg/responses"
)

type AuditRepository interface {
	Create(entry *model.AuditLog) error
	List(actor, action string, limit int) ([]*model.AuditLog, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(entry *model.AuditLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入审计日志失败", err)
	}
	return nil
}

func (r *auditRepository) List(actor, action string, limit int) ([]*model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := r.db.Model(&model.AuditLog{})
	if actor != "" {
		query = query.Where("actor = ?", actor)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}
	var entries []*model.AuditLog
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询审计日志失败", err)
	}
	return entries, nil
}

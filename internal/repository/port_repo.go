package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"bluegreen-cd/internal/model"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// ErrPortTaken 端口已被占用(唯一索引冲突), 分配器会换端口重试
var ErrPortTaken = errors.New("port already allocated")

// PortRepository 端口分配仓库
type PortRepository interface {
	Create(alloc *model.PortAllocation) error
	FindByOwner(envClass, resourceType, ownerKey string) (*model.PortAllocation, error)
	ListByClass(envClass string) ([]*model.PortAllocation, error)
	ListByProject(project string) ([]*model.PortAllocation, error)
	DeleteByPort(envClass string, port int) error
	DeleteByProject(project string) error
}

type portRepository struct {
	db *gorm.DB
}

func NewPortRepository(db *gorm.DB) PortRepository {
	return &portRepository{db: db}
}

func (r *portRepository) Create(alloc *model.PortAllocation) error {
	if err := r.db.Create(alloc).Error; err != nil {
		// MySQL 1062: 唯一索引冲突, 说明端口刚被并发占走
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate entry") {
			return ErrPortTaken
		}
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建端口分配失败", err)
	}
	return nil
}

func (r *portRepository) FindByOwner(envClass, resourceType, ownerKey string) (*model.PortAllocation, error) {
	var alloc model.PortAllocation
	err := r.db.Where("environment_class = ? AND resource_type = ? AND owner_key = ?",
		envClass, resourceType, ownerKey).First(&alloc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询端口分配失败", err)
	}
	return &alloc, nil
}

func (r *portRepository) ListByClass(envClass string) ([]*model.PortAllocation, error) {
	var allocs []*model.PortAllocation
	if err := r.db.Where("environment_class = ?", envClass).Order("port ASC").Find(&allocs).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询端口分配列表失败", err)
	}
	return allocs, nil
}

func (r *portRepository) ListByProject(project string) ([]*model.PortAllocation, error) {
	var allocs []*model.PortAllocation
	if err := r.db.Where("project_name = ?", project).Order("port ASC").Find(&allocs).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询项目端口失败", err)
	}
	return allocs, nil
}

func (r *portRepository) DeleteByPort(envClass string, port int) error {
	if err := r.db.Where("environment_class = ? AND port = ?", envClass, port).
		Delete(&model.PortAllocation{}).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "释放端口失败", err)
	}
	return nil
}

func (r *portRepository) DeleteByProject(project string) error {
	if err := r.db.Where("project_name = ?", project).
		Delete(&model.PortAllocation{}).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "释放项目端口失败", err)
	}
	return nil
}

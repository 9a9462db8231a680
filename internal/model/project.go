package model

const ProjectTableName = "projects"

// Project 项目模型
// 名称全局唯一且不可变, 资源关联(数据库名/缓存命名空间)可在初始化后补充
type Project struct {
	BaseModelWithSoftDelete
	Name           string  `gorm:"size:100;not null;uniqueIndex" json:"name"`
	TeamID         string  `gorm:"size:100;not null;index" json:"team_id"`
	ArtifactType   string  `gorm:"size:50;not null;default:web" json:"artifact_type"`
	DatabaseName   *string `gorm:"size:100" json:"database_name"`
	CacheNamespace *string `gorm:"size:100" json:"cache_namespace"`
	Description    *string `gorm:"type:text" json:"description"`
}

func (Project) TableName() string {
	return ProjectTableName
}

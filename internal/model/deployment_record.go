package model

import "time"

const DeploymentRecordTableName = "deployment_records"

// DeploymentRecord 部署历史(仅追加, 不更新不删除)
// 回滚目标版本从该表里对应槽位最近一次成功记录中解析
type DeploymentRecord struct {
	BaseModel
	ProjectName  string     `gorm:"size:100;not null;index:idx_proj_env" json:"project_name"`
	Environment  string     `gorm:"size:20;not null;index:idx_proj_env" json:"environment"`
	Slot         string     `gorm:"size:10;not null" json:"slot"`
	Version      string     `gorm:"size:100;not null" json:"version"`
	Image        string     `gorm:"size:500" json:"image"`
	Strategy     string     `gorm:"size:20;not null;default:bluegreen" json:"strategy"`
	Outcome      string     `gorm:"size:20;not null" json:"outcome"` // success/failed
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	DeployedBy   string     `gorm:"size:100;not null" json:"deployed_by"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	DurationMs   int64      `gorm:"not null;default:0" json:"duration_ms"`
}

func (DeploymentRecord) TableName() string {
	return DeploymentRecordTableName
}

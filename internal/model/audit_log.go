package model

import "gorm.io/datatypes"

const AuditLogTableName = "audit_logs"

// AuditLog 审计日志, 每个编排操作成功失败都记一条
type AuditLog struct {
	BaseModel
	Actor        string            `gorm:"size:100;not null;index" json:"actor"`
	Action       string            `gorm:"size:50;not null;index" json:"action"`
	Resource     string            `gorm:"size:200;not null" json:"resource"`
	Params       datatypes.JSONMap `gorm:"type:json" json:"params"`
	Success      bool              `gorm:"not null" json:"success"`
	DurationMs   int64             `gorm:"not null;default:0" json:"duration_ms"`
	ErrorMessage *string           `gorm:"type:text" json:"error_message"`
}

func (AuditLog) TableName() string {
	return AuditLogTableName
}

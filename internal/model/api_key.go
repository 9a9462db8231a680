package model

const APIKeyTableName = "api_keys"

// APIKey API密钥, 只存SHA-256摘要
type APIKey struct {
	BaseStatus
	KeyHash string `gorm:"size:64;not null;uniqueIndex" json:"-"`
	TeamID  string `gorm:"size:100;not null;index" json:"team_id"`
	Actor   string `gorm:"size:100;not null" json:"actor"` // 密钥持有者标识
	Role    string `gorm:"size:20;not null;default:viewer" json:"role"`
}

func (APIKey) TableName() string {
	return APIKeyTableName
}

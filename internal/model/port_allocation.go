package model

const PortAllocationTableName = "port_allocations"

// PortAllocation 端口分配记录
// (environment_class, port) 唯一: 同类环境内端口不可重复分配
// (environment_class, resource_type, owner_key) 唯一: 同一资源的分配幂等
type PortAllocation struct {
	BaseModel
	EnvironmentClass string `gorm:"size:20;not null;uniqueIndex:idx_class_port;uniqueIndex:idx_owner" json:"environment_class"`
	ResourceType     string `gorm:"size:20;not null;uniqueIndex:idx_owner" json:"resource_type"`
	OwnerKey         string `gorm:"size:200;not null;uniqueIndex:idx_owner" json:"owner_key"`
	ProjectName      string `gorm:"size:100;not null;index" json:"project_name"`
	Port             int    `gorm:"not null;uniqueIndex:idx_class_port" json:"port"`
}

func (PortAllocation) TableName() string {
	return PortAllocationTableName
}

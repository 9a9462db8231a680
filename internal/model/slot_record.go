package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"bluegreen-cd/pkg/constants"
)

const SlotRecordTableName = "slot_records"

// SlotState 单个槽位的状态与元数据, 以JSON列存储
type SlotState struct {
	State          string     `json:"state"`
	Port           int        `json:"port"`
	Version        *string    `json:"version"`
	Image          *string    `json:"image"`
	DeployedAt     *time.Time `json:"deployed_at"`
	DeployedBy     *string    `json:"deployed_by"`
	HealthStatus   string     `json:"health_status"`
	GraceExpiresAt *time.Time `json:"grace_expires_at"`
}

// EmptySlotState 初始槽位
func EmptySlotState() SlotState {
	return SlotState{
		State:        constants.SlotStateEmpty,
		HealthStatus: constants.HealthStatusUnknown,
	}
}

// 实现 sql.Scanner
func (s *SlotState) Scan(value interface{}) error {
	if value == nil {
		*s = EmptySlotState()
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SlotState", value)
	}
	return json.Unmarshal(bytes, s)
}

// 实现 driver.Valuer
func (s SlotState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// SlotRecord 槽位记录, (project, environment) 唯一, 流量路由的单一事实来源
// Revision 列用于乐观并发控制: 所有变更必须带旧Revision写入
type SlotRecord struct {
	BaseModel
	ProjectName string    `gorm:"size:100;not null;uniqueIndex:idx_project_env" json:"project_name"`
	Environment string    `gorm:"size:20;not null;uniqueIndex:idx_project_env" json:"environment"`
	ActiveSlot  string    `gorm:"size:10;not null;default:blue" json:"active_slot"`
	Blue        SlotState `gorm:"type:json" json:"blue"`
	Green       SlotState `gorm:"type:json" json:"green"`
	Revision    int64     `gorm:"not null;default:0" json:"revision"`
}

func (SlotRecord) TableName() string {
	return SlotRecordTableName
}

// NewSlotRecord 初始全空记录
func NewSlotRecord(project, environment string) *SlotRecord {
	return &SlotRecord{
		ProjectName: project,
		Environment: environment,
		ActiveSlot:  constants.SlotBlue,
		Blue:        EmptySlotState(),
		Green:       EmptySlotState(),
	}
}

// Slot 按名称取槽位指针
func (r *SlotRecord) Slot(name string) *SlotState {
	if name == constants.SlotGreen {
		return &r.Green
	}
	return &r.Blue
}

// InactiveSlot 非活跃槽位名称
func (r *SlotRecord) InactiveSlot() string {
	return constants.OtherSlot(r.ActiveSlot)
}

// Active 当前活跃槽位
func (r *SlotRecord) Active() *SlotState {
	return r.Slot(r.ActiveSlot)
}

// Inactive 当前非活跃槽位
func (r *SlotRecord) Inactive() *SlotState {
	return r.Slot(r.InactiveSlot())
}

// Clone 深拷贝(JSON槽位为值类型, 浅拷贝即可, 指针字段只读约定)
func (r *SlotRecord) Clone() *SlotRecord {
	cp := *r
	return &cp
}

// CheckInvariant 校验槽位不变式: 至多一个active, 且deployed/active不共用端口
func (r *SlotRecord) CheckInvariant() error {
	if r.Blue.State == constants.SlotStateActive && r.Green.State == constants.SlotStateActive {
		return fmt.Errorf("槽位 %s/%s 同时存在两个active槽位", r.ProjectName, r.Environment)
	}
	if r.Active().State == constants.SlotStateActive && r.Inactive().State == constants.SlotStateActive {
		return fmt.Errorf("槽位 %s/%s active指向冲突", r.ProjectName, r.Environment)
	}
	blueLive := r.Blue.State == constants.SlotStateActive || r.Blue.State == constants.SlotStateDeployed
	greenLive := r.Green.State == constants.SlotStateActive || r.Green.State == constants.SlotStateDeployed
	if blueLive && greenLive && r.Blue.Port != 0 && r.Blue.Port == r.Green.Port {
		return fmt.Errorf("槽位 %s/%s 两个在役槽位共用端口 %d", r.ProjectName, r.Environment, r.Blue.Port)
	}
	return nil
}

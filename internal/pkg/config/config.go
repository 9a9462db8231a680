package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var GlobalConfig *Config

// Config 全局配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Core     CoreConfig     `mapstructure:"core"`
	Ports    PortsConfig    `mapstructure:"ports"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	DB       interface{}    // 数据库连接,运行时注入
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // SQL日志级别: silent/error/warn/info
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWT  JWTConfig  `mapstructure:"jwt"`
	LDAP LDAPConfig `mapstructure:"ldap"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	AccessTokenExpire int    `mapstructure:"access_token_expire"` // 秒
}

// LDAPConfig LDAP配置(可选的团队校验后端)
type LDAPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	BindDN       string `mapstructure:"bind_dn"`
	BindPassword string `mapstructure:"bind_password"`
	BaseDN       string `mapstructure:"base_dn"`
	UserFilter   string `mapstructure:"user_filter"`
	DeployGroup  string `mapstructure:"deploy_group"` // 此组成员拥有 deployer 角色
	AdminGroup   string `mapstructure:"admin_group"`  // 此组成员拥有 admin 角色
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	Output     string `mapstructure:"output"` // stdout, file
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// CoreConfig 编排核心配置
type CoreConfig struct {
	RetentionWindow  string             `mapstructure:"retention_window"`   // grace-period 保留窗口, 默认48h
	ReapInterval     string             `mapstructure:"reap_interval"`      // 清理扫描间隔
	CommandTimeout   string             `mapstructure:"command_timeout"`    // 单条远程命令超时
	MutateRetries    int                `mapstructure:"mutate_retries"`     // CAS失败重试次数
	DualTargetWindow bool               `mapstructure:"dual_target"`        // 切换时短暂双上游
	HistoryKeepDays  int                `mapstructure:"history_keep_days"`  // 部署历史保留天数
	HistoryPruneCron string             `mapstructure:"history_prune_cron"` // 历史清理任务cron
	PortAuditCron    string             `mapstructure:"port_audit_cron"`    // 端口台账稽核任务cron
	Health           HealthConfig       `mapstructure:"health"`
	Notification     NotificationConfig `mapstructure:"notification"`
}

// HealthConfig 健康门配置
type HealthConfig struct {
	Retries      int    `mapstructure:"retries"`       // 每项检查重试次数
	Backoff      string `mapstructure:"backoff"`       // 重试间隔(固定)
	CheckTimeout string `mapstructure:"check_timeout"` // 单项检查超时
	HTTPPath     string `mapstructure:"http_path"`     // HTTP探测路径
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Provider    string `mapstructure:"provider"`
	LarkWebhook string `mapstructure:"lark_webhook"`
}

// PortsConfig 端口段配置: 环境类别 -> 资源类型 -> [start,end]
type PortsConfig map[string]map[string]PortRange

// PortRange 端口范围
type PortRange struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
}

// Contains 判断端口是否落在范围内
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// ProxyConfig 反向代理配置
type ProxyConfig struct {
	Host       string `mapstructure:"host"`        // 代理所在主机(fleet中的名字)
	ConfDir    string `mapstructure:"conf_dir"`    // upstream 配置目录
	BaseDomain string `mapstructure:"base_domain"` // 生产域名后缀, 如 apps.example.com
}

// FleetConfig 主机编队配置
type FleetConfig struct {
	InventoryFile string        `mapstructure:"inventory_file"` // YAML 主机清单, 可选
	User          string        `mapstructure:"user"`
	KeyFile       string        `mapstructure:"key_file"`
	DialTimeout   string        `mapstructure:"dial_timeout"`
	MaxPerHost    int           `mapstructure:"max_per_host"` // 每主机并发连接上限
	IdleTimeout   string        `mapstructure:"idle_timeout"` // 空闲连接回收
	Hosts         []FleetHost   `mapstructure:"hosts"`
}

// FleetHost 单台主机
type FleetHost struct {
	Name         string   `mapstructure:"name" yaml:"name"`
	Address      string   `mapstructure:"address" yaml:"address"`
	Environments []string `mapstructure:"environments" yaml:"environments"` // 承载的环境类别
}

// HostFor 返回承载指定环境类别的主机
func (f *FleetConfig) HostFor(envClass string) (*FleetHost, error) {
	for i := range f.Hosts {
		for _, env := range f.Hosts[i].Environments {
			if env == envClass {
				return &f.Hosts[i], nil
			}
		}
	}
	return nil, fmt.Errorf("没有主机承载环境 %s", envClass)
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 读取环境变量
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 外部主机清单(可选)覆盖内联配置
	if config.Fleet.InventoryFile != "" {
		hosts, err := LoadInventory(config.Fleet.InventoryFile)
		if err != nil {
			return nil, err
		}
		config.Fleet.Hosts = hosts
	}

	if err := config.Ports.Validate(); err != nil {
		return nil, err
	}

	// 设置全局配置
	GlobalConfig = config

	return config, nil
}

// Validate 校验端口段互不重叠
func (p PortsConfig) Validate() error {
	type span struct {
		class, rtype string
		r            PortRange
	}
	var all []span
	for class, types := range p {
		for rtype, r := range types {
			if r.Start <= 0 || r.End < r.Start {
				return fmt.Errorf("非法端口段 %s/%s [%d-%d]", class, rtype, r.Start, r.End)
			}
			all = append(all, span{class, rtype, r})
		}
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i].r, all[j].r
			if a.Start <= b.End && b.Start <= a.End {
				return fmt.Errorf("端口段重叠: %s/%s [%d-%d] 与 %s/%s [%d-%d]",
					all[i].class, all[i].rtype, a.Start, a.End,
					all[j].class, all[j].rtype, b.Start, b.End)
			}
		}
	}
	return nil
}

// GetDSN 获取数据库DSN
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// ParseDurationOr 解析时长, 失败时返回默认值
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

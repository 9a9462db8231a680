package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// inventoryFile YAML 主机清单文件结构
type inventoryFile struct {
	Hosts []FleetHost `yaml:"hosts"`
}

// LoadInventory 从YAML文件加载主机清单
func LoadInventory(path string) ([]FleetHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取主机清单失败: %w", err)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("解析主机清单失败: %w", err)
	}

	if len(inv.Hosts) == 0 {
		return nil, fmt.Errorf("主机清单为空: %s", path)
	}

	seen := make(map[string]bool, len(inv.Hosts))
	for _, h := range inv.Hosts {
		if h.Name == "" || h.Address == "" {
			return nil, fmt.Errorf("主机清单缺少 name/address: %+v", h)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("主机名重复: %s", h.Name)
		}
		seen[h.Name] = true
	}

	return inv.Hosts, nil
}

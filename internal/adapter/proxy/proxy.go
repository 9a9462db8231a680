// Package proxy 管理反向代理的流量路由
// 切换只改上游配置并重载, 不触碰容器
package proxy

import (
	"context"
	"fmt"
)

// Route 一个环境的流量路由
// Ports 通常只有一个端口; 双上游过渡窗口内包含新旧两个端口
type Route struct {
	Project     string
	Environment string
	Ports       []int
}

// Configurator 反向代理配置器
type Configurator interface {
	// Apply 写入路由并重载代理
	Apply(ctx context.Context, route Route) error
	// Remove 删除环境的路由(项目销毁)
	Remove(ctx context.Context, project, environment string) error
}

// UpstreamName 上游命名: <project>-<environment>
func UpstreamName(project, environment string) string {
	return fmt.Sprintf("%s-%s", project, environment)
}

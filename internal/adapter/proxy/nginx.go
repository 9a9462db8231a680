package proxy

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/remote"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// NginxConfigurator 通过远程通道维护nginx上游配置
// 每个环境一个conf文件, 写入后先 nginx -t 校验再reload,
// 校验失败不reload, 保持线上配置不变
type NginxConfigurator struct {
	channel remote.Channel
	cfg     *config.ProxyConfig
	logger  *zap.Logger
}

func NewNginxConfigurator(channel remote.Channel, cfg *config.ProxyConfig, logger *zap.Logger) *NginxConfigurator {
	return &NginxConfigurator{channel: channel, cfg: cfg, logger: logger}
}

func (n *NginxConfigurator) confPath(project, environment string) string {
	return path.Join(n.cfg.ConfDir, UpstreamName(project, environment)+".conf")
}

func (n *NginxConfigurator) render(route Route) []byte {
	upstream := UpstreamName(route.Project, route.Environment)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "upstream %s {\n", upstream)
	for _, port := range route.Ports {
		fmt.Fprintf(&buf, "    server 127.0.0.1:%d;\n", port)
	}
	buf.WriteString("}\n\n")
	fmt.Fprintf(&buf, "server {\n")
	fmt.Fprintf(&buf, "    listen 80;\n")
	fmt.Fprintf(&buf, "    server_name %s.%s;\n", upstream, n.cfg.BaseDomain)
	fmt.Fprintf(&buf, "    location / {\n")
	fmt.Fprintf(&buf, "        proxy_pass http://%s;\n", upstream)
	fmt.Fprintf(&buf, "        proxy_set_header Host $host;\n")
	fmt.Fprintf(&buf, "        proxy_set_header X-Real-IP $remote_addr;\n")
	fmt.Fprintf(&buf, "        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	fmt.Fprintf(&buf, "    }\n")
	fmt.Fprintf(&buf, "}\n")
	return buf.Bytes()
}

func (n *NginxConfigurator) Apply(ctx context.Context, route Route) error {
	confPath := n.confPath(route.Project, route.Environment)
	writeCmd := remote.WriteFile(confPath, n.render(route))
	result, err := n.channel.Run(ctx, n.cfg.Host, writeCmd)
	if err != nil {
		return pkgErrors.NewProxyReloadFailed(err)
	}
	if !result.OK() {
		return pkgErrors.NewProxyReloadFailed(remote.NewRemoteError(writeCmd, result))
	}
	if err := n.reload(ctx); err != nil {
		return err
	}
	n.logger.Info("更新代理路由",
		zap.String("project", route.Project),
		zap.String("environment", route.Environment),
		zap.Ints("ports", route.Ports))
	return nil
}

func (n *NginxConfigurator) Remove(ctx context.Context, project, environment string) error {
	rmCmd := remote.RemoveFile(n.confPath(project, environment))
	result, err := n.channel.Run(ctx, n.cfg.Host, rmCmd)
	if err != nil {
		return pkgErrors.NewProxyReloadFailed(err)
	}
	if !result.OK() {
		return pkgErrors.NewProxyReloadFailed(remote.NewRemoteError(rmCmd, result))
	}
	return n.reload(ctx)
}

func (n *NginxConfigurator) reload(ctx context.Context) error {
	checkCmd := remote.NginxCheck()
	result, err := n.channel.Run(ctx, n.cfg.Host, checkCmd)
	if err != nil {
		return pkgErrors.NewProxyReloadFailed(err)
	}
	if !result.OK() {
		return pkgErrors.NewProxyReloadFailed(remote.NewRemoteError(checkCmd, result))
	}

	reloadCmd := remote.NginxReload()
	result, err = n.channel.Run(ctx, n.cfg.Host, reloadCmd)
	if err != nil {
		return pkgErrors.NewProxyReloadFailed(err)
	}
	if !result.OK() {
		return pkgErrors.NewProxyReloadFailed(remote.NewRemoteError(reloadCmd, result))
	}
	return nil
}

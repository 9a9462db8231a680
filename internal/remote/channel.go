package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pkgErrors "bluegreen-cd/pkg/responses"
)

// Result 远程命令执行结果
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK 命令是否成功退出
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Channel 到具名主机的远程执行通道
// 实现必须复用连接并限制每主机并发, 不得每次调用新建连接;
// 超时由调用方通过ctx携带, 超时的命令返回ctx错误
type Channel interface {
	// Run 在指定主机执行一条命令, 返回stdout/stderr/退出码
	// host是主机清单里的名称(非地址), 地址解析在实现内部完成;
	// 命令非零退出不算error, 调用方检查ExitCode
	Run(ctx context.Context, host string, cmd Command) (*Result, error)

	// Close 关闭所有连接
	Close() error
}

// NewRemoteError 非零退出的命令包装为远程执行错误
func NewRemoteError(cmd Command, result *Result) error {
	return &pkgErrors.AppError{
		Code:    pkgErrors.CodeRemoteError,
		Message: fmt.Sprintf("远程命令失败(exit %d): %s", result.ExitCode, cmd.Line()),
		Detail:  strings.TrimSpace(result.Stderr),
	}
}

// ParseListeningPorts 解析 ss -tlnH 输出中的本地监听端口
func ParseListeningPorts(output string) map[int]bool {
	ports := make(map[int]bool)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		// 第4列为 Local Address:Port, 可能是 IPv6 形式 [::]:8080
		addr := fields[3]
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(addr[idx+1:])
		if err != nil || port <= 0 {
			continue
		}
		ports[port] = true
	}
	return ports
}

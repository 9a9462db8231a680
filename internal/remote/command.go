package remote

import (
	"fmt"
	"sort"

	"github.com/kballard/go-shellquote"
)

// Command 远程命令
// 只能通过本文件的构造函数产生, 所有参数经shellquote序列化,
// 禁止在别处拼接命令字符串
type Command struct {
	line  string
	stdin []byte
}

// Line 序列化后的命令行
func (c Command) Line() string {
	return c.line
}

// Stdin 命令标准输入(文件传输用)
func (c Command) Stdin() []byte {
	return c.stdin
}

func quoted(words ...string) string {
	return shellquote.Join(words...)
}

// ContainerSpec 容器启动参数
type ContainerSpec struct {
	Name          string
	Image         string
	Port          int // 宿主机端口
	ContainerPort int // 容器内端口, 0表示与宿主机一致
	Env           map[string]string
}

// DockerRun 启动容器(后台, 自动重启)
func DockerRun(spec ContainerSpec) Command {
	containerPort := spec.ContainerPort
	if containerPort == 0 {
		containerPort = spec.Port
	}
	args := []string{
		"docker", "run", "-d",
		"--name", spec.Name,
		"--restart", "unless-stopped",
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", spec.Port, containerPort),
	}

	// 环境变量按键排序, 保证命令行可复现
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	args = append(args, spec.Image)
	return Command{line: quoted(args...)}
}

// DockerRemove 强制删除容器(不存在也算成功, 调用方忽略非零退出)
func DockerRemove(name string) Command {
	return Command{line: quoted("docker", "rm", "-f", name)}
}

// DockerInspectRunning 查询容器是否在运行, stdout为true/false
func DockerInspectRunning(name string) Command {
	return Command{line: quoted("docker", "inspect", "-f", "{{.State.Running}}", name)}
}

// HTTPProbe 在目标主机上对本机端口做HTTP探测
// 容器端口只绑定127.0.0.1, 探测必须在宿主机上执行
func HTTPProbe(port int, path string, timeoutSec int) Command {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	return Command{line: quoted("curl", "-fsS", "-o", "/dev/null",
		"-m", fmt.Sprintf("%d", timeoutSec), url)}
}

// TCPProbe 探测本机TCP端口可连接(依赖服务连通性检查)
func TCPProbe(port int, timeoutSec int) Command {
	return Command{line: quoted("nc", "-z",
		"-w", fmt.Sprintf("%d", timeoutSec), "127.0.0.1", fmt.Sprintf("%d", port))}
}

// ListListeningPorts 列出TCP监听端口(ss无表头输出)
func ListListeningPorts() Command {
	return Command{line: quoted("ss", "-tlnH")}
}

// WriteFile 通过stdin写入单个文件
func WriteFile(path string, data []byte) Command {
	return Command{
		line:  "cat > " + quoted(path),
		stdin: data,
	}
}

// RemoveFile 删除远端文件
func RemoveFile(path string) Command {
	return Command{line: quoted("rm", "-f", path)}
}

// NginxReload 重载nginx配置
func NginxReload() Command {
	return Command{line: quoted("nginx", "-s", "reload")}
}

// NginxCheck 校验nginx配置
func NginxCheck() Command {
	return Command{line: quoted("nginx", "-t")}
}

// ContainerName 槽位容器命名: <project>-<environment>-<slot>
func ContainerName(project, environment, slot string) string {
	return fmt.Sprintf("%s-%s-%s", project, environment, slot)
}

package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"bluegreen-cd/internal/pkg/config"
)

const (
	defaultMaxPerHost  = 5
	defaultDialTimeout = 10 * time.Second
	defaultIdleTimeout = 5 * time.Minute
)

// Pool 池化SSH通道
// 每台主机维护一组可复用连接, 并发受信号量限制:
// 超过上限的调用方阻塞等待空位而不是报错, 空闲连接定期回收
type Pool struct {
	cfg    config.FleetConfig
	auth   []ssh.AuthMethod
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostPool

	stopOnce sync.Once
	stopChan chan struct{}
}

type hostPool struct {
	addr string
	sem  chan struct{}

	mu   sync.Mutex
	idle []*idleClient
}

type idleClient struct {
	client   *ssh.Client
	lastUsed time.Time
}

// NewPool 创建连接池
func NewPool(cfg config.FleetConfig, logger *zap.Logger) (*Pool, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		keyData, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("读取SSH私钥失败: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("解析SSH私钥失败: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("未配置SSH认证方式")
	}

	p := &Pool{
		cfg:      cfg,
		auth:     auth,
		logger:   logger,
		hosts:    make(map[string]*hostPool),
		stopChan: make(chan struct{}),
	}
	go p.evictLoop()
	return p, nil
}

func (p *Pool) maxPerHost() int {
	if p.cfg.MaxPerHost > 0 {
		return p.cfg.MaxPerHost
	}
	return defaultMaxPerHost
}

func (p *Pool) idleTimeout() time.Duration {
	return config.ParseDurationOr(p.cfg.IdleTimeout, defaultIdleTimeout)
}

func (p *Pool) dialTimeout() time.Duration {
	return config.ParseDurationOr(p.cfg.DialTimeout, defaultDialTimeout)
}

// hostPool 获取主机对应的子池
func (p *Pool) hostPool(host string) (*hostPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if hp, ok := p.hosts[host]; ok {
		return hp, nil
	}

	var addr string
	for i := range p.cfg.Hosts {
		if p.cfg.Hosts[i].Name == host {
			addr = p.cfg.Hosts[i].Address
			break
		}
	}
	if addr == "" {
		return nil, fmt.Errorf("未知主机: %s", host)
	}

	// 清单允许省略端口, 缺省走22
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	hp := &hostPool{
		addr: addr,
		sem:  make(chan struct{}, p.maxPerHost()),
	}
	p.hosts[host] = hp
	return hp, nil
}

// Run 执行远程命令
func (p *Pool) Run(ctx context.Context, host string, cmd Command) (*Result, error) {
	hp, err := p.hostPool(host)
	if err != nil {
		return nil, err
	}

	// 并发上限: 阻塞等待空位
	select {
	case hp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-hp.sem }()

	client, err := p.acquire(hp)
	if err != nil {
		return nil, fmt.Errorf("连接主机 %s 失败: %w", host, err)
	}

	result, err := runOnClient(ctx, client, cmd)
	if err != nil {
		// 会话层错误说明连接可能已坏, 丢弃不归还
		_ = client.Close()
		return nil, err
	}

	hp.release(client)
	return result, nil
}

// acquire 取空闲连接或新建
func (p *Pool) acquire(hp *hostPool) (*ssh.Client, error) {
	hp.mu.Lock()
	for len(hp.idle) > 0 {
		last := hp.idle[len(hp.idle)-1]
		hp.idle = hp.idle[:len(hp.idle)-1]
		hp.mu.Unlock()

		// 复用前探活
		if _, _, err := last.client.SendRequest("keepalive@bluegreen-cd", true, nil); err == nil {
			return last.client, nil
		}
		_ = last.client.Close()
		hp.mu.Lock()
	}
	hp.mu.Unlock()

	clientCfg := &ssh.ClientConfig{
		User:    p.cfg.User,
		Auth:    p.auth,
		Timeout: p.dialTimeout(),
		// 主机由本系统统一置备, 指纹校验交由置备流程保证
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	return ssh.Dial("tcp", hp.addr, clientCfg)
}

func (hp *hostPool) release(client *ssh.Client) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.idle = append(hp.idle, &idleClient{client: client, lastUsed: time.Now()})
}

// runOnClient 在给定连接上执行命令, 尊重ctx超时
func runOnClient(ctx context.Context, client *ssh.Client, cmd Command) (*Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("创建SSH会话失败: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if len(cmd.Stdin()) > 0 {
		session.Stdin = bytes.NewReader(cmd.Stdin())
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd.Line())
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, fmt.Errorf("远程命令超时: %s: %w", cmd.Line(), ctx.Err())
	case err = <-done:
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("远程命令执行失败: %s: %w", cmd.Line(), err)
	}
	return result, nil
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// evictLoop 周期回收空闲超时的连接
func (p *Pool) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	cutoff := time.Now().Add(-p.idleTimeout())

	p.mu.Lock()
	hosts := make([]*hostPool, 0, len(p.hosts))
	for _, hp := range p.hosts {
		hosts = append(hosts, hp)
	}
	p.mu.Unlock()

	for _, hp := range hosts {
		hp.mu.Lock()
		kept := hp.idle[:0]
		for _, ic := range hp.idle {
			if ic.lastUsed.Before(cutoff) {
				_ = ic.client.Close()
				continue
			}
			kept = append(kept, ic)
		}
		hp.idle = kept
		hp.mu.Unlock()
	}
}

// Close 关闭连接池
func (p *Pool) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hp := range p.hosts {
		hp.mu.Lock()
		for _, ic := range hp.idle {
			_ = ic.client.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
	}
	return nil
}

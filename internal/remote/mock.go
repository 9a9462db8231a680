package remote

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockChannel 模拟远程通道
// 可按命令前缀脚本化结果, 记录所有调用, 供核心层测试使用
type MockChannel struct {
	mu sync.Mutex

	// 可控行为
	scripted  []scriptEntry // 前缀 → 结果
	defaults  Result        // 未命中脚本时的结果
	runError  error         // Run 直接返回的错误
	runDelay  time.Duration // 每次调用延迟
	callLines []string      // 记录的命令行(含host前缀)
}

type scriptEntry struct {
	prefix string
	result Result
	err    error
}

func NewMockChannel() *MockChannel {
	return &MockChannel{defaults: Result{ExitCode: 0}}
}

// === 配置方法 ===

// Script 为匹配前缀的命令设置结果
func (m *MockChannel) Script(prefix string, result Result) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, scriptEntry{prefix: prefix, result: result})
	return m
}

// ScriptError 为匹配前缀的命令设置传输层错误
func (m *MockChannel) ScriptError(prefix string, err error) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, scriptEntry{prefix: prefix, err: err})
	return m
}

func (m *MockChannel) SetRunError(err error) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runError = err
	return m
}

func (m *MockChannel) SetRunDelay(d time.Duration) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runDelay = d
	return m
}

// === 接口实现 ===

func (m *MockChannel) Run(ctx context.Context, host string, cmd Command) (*Result, error) {
	m.mu.Lock()
	m.callLines = append(m.callLines, host+": "+cmd.Line())
	delay := m.runDelay
	runErr := m.runError
	scripted := make([]scriptEntry, len(m.scripted))
	copy(scripted, m.scripted)
	defaults := m.defaults
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if runErr != nil {
		return nil, runErr
	}

	// 后注册的脚本优先, 允许测试中途覆盖
	for i := len(scripted) - 1; i >= 0; i-- {
		if strings.HasPrefix(cmd.Line(), scripted[i].prefix) {
			if scripted[i].err != nil {
				return nil, scripted[i].err
			}
			result := scripted[i].result
			return &result, nil
		}
	}

	result := defaults
	return &result, nil
}

func (m *MockChannel) Close() error {
	return nil
}

// === 验证方法 ===

// Calls 返回所有记录的命令行
func (m *MockChannel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callLines))
	copy(out, m.callLines)
	return out
}

// CallsMatching 返回包含子串的命令行
func (m *MockChannel) CallsMatching(substr string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, line := range m.callLines {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

// Reset 清空调用记录
func (m *MockChannel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLines = nil
}

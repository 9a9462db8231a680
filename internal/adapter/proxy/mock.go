package proxy

import (
	"context"
	"sync"
)

// MockConfigurator 测试用配置器, 记录路由并可注入失败
type MockConfigurator struct {
	mu       sync.Mutex
	routes   map[string][]int
	applyErr error
	applied  []Route
}

func NewMockConfigurator() *MockConfigurator {
	return &MockConfigurator{routes: make(map[string][]int)}
}

// SetApplyError 之后的Apply全部返回该错误
func (m *MockConfigurator) SetApplyError(err error) *MockConfigurator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
	return m
}

func (m *MockConfigurator) Apply(ctx context.Context, route Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, route)
	m.routes[UpstreamName(route.Project, route.Environment)] = route.Ports
	return nil
}

func (m *MockConfigurator) Remove(ctx context.Context, project, environment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, UpstreamName(project, environment))
	return nil
}

// RoutedPorts 当前路由指向的端口
func (m *MockConfigurator) RoutedPorts(project, environment string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routes[UpstreamName(project, environment)]
}

// Applied 全部Apply调用历史
func (m *MockConfigurator) Applied() []Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Route, len(m.applied))
	copy(out, m.applied)
	return out
}

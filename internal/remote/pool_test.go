package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bluegreen-cd/internal/pkg/config"
)

func testPool() *Pool {
	return &Pool{
		cfg: config.FleetConfig{
			Hosts: []config.FleetHost{
				{Name: "prod-1", Address: "10.0.0.5", Environments: []string{"production"}},
				{Name: "staging-1", Address: "10.0.0.6:2222", Environments: []string{"staging"}},
			},
		},
		logger:   zap.NewNop(),
		hosts:    make(map[string]*hostPool),
		stopChan: make(chan struct{}),
	}
}

func TestHostPoolResolvesByName(t *testing.T) {
	p := testPool()

	hp, err := p.hostPool("prod-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:22", hp.addr)

	// 地址不是合法的主机标识, 调用方必须传清单名称
	_, err = p.hostPool("10.0.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未知主机")
}

func TestHostPoolKeepsExplicitPort(t *testing.T) {
	p := testPool()

	hp, err := p.hostPool("staging-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6:2222", hp.addr)
}

func TestHostPoolUnknownHost(t *testing.T) {
	p := testPool()

	_, err := p.hostPool("prod-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未知主机")
}

package ports

import (
	"context"

	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/remote"
)

// FleetScanner 通过远端执行 ss 扫描目标主机监听端口
type FleetScanner struct {
	channel remote.Channel
	fleet   *config.FleetConfig
}

func NewFleetScanner(channel remote.Channel, fleet *config.FleetConfig) *FleetScanner {
	return &FleetScanner{channel: channel, fleet: fleet}
}

func (s *FleetScanner) ListeningPorts(ctx context.Context, envClass string) (map[int]bool, error) {
	host, err := s.fleet.HostFor(envClass)
	if err != nil {
		return nil, err
	}
	result, err := s.channel.Run(ctx, host.Name, remote.ListListeningPorts())
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		return nil, remote.NewRemoteError(remote.ListListeningPorts(), result)
	}
	return remote.ParseListeningPorts(result.Stdout), nil
}

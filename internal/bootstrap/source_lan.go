package bootstrap

import (
	"context"

	"overlay-node/internal/discovery"
	"overlay-node/internal/netx"
)

type LANSource struct {
	Cfg    discovery.LANConfig
	NodeID string // hex id, used to ignore our own beacon
}

func (s LANSource) Name() string { return "lan" }

func (s LANSource) Discover(ctx context.Context) ([]netx.Endpoint, error) {
	return discovery.DiscoverLANPeers(ctx, s.Cfg, s.NodeID)
}

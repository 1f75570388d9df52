package p2p

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
)

type ExpandConfig struct {
	MinPeers int
	Tick     time.Duration
	Timeout  time.Duration
}

func DefaultExpandConfig() ExpandConfig {
	return ExpandConfig{
		MinPeers: 6,
		Tick:     3 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Bootstrap sends a connect request to every endpoint. Their ids are not
// known yet, so each request goes on the direct path and carries our own
// relay descriptor for the reply.
func (n *Node) Bootstrap(ctx context.Context, endpoints ...netx.Endpoint) error {
	var errs error
	for _, ep := range endpoints {
		if ep == n.ListenAddr() {
			continue
		}
		if err := ep.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n.Logf("bootstrap: connecting to %s", ep)
		if err := n.svc.SendConnect(ctx, dht.NodeID{}, ep, true); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// ConnectClient registers this node as a client of the node on ep.
func (n *Node) ConnectClient(ctx context.Context, ep netx.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	return n.svc.SendClientConnect(ctx, ep)
}

// coldStartBootstrap replays the contact book when no bootstrap endpoints
// were configured.
func (n *Node) coldStartBootstrap() {
	if n.cfg.Store == nil {
		return
	}
	cands, err := n.cfg.Store.Candidates(3, 8)
	if err != nil {
		n.log.Warn("contact book", zap.Error(err))
		return
	}
	eps := make([]netx.Endpoint, 0, len(cands))
	for _, ni := range cands {
		if ni.ID == n.ID() {
			continue
		}
		eps = append(eps, ni.Endpoint)
	}
	if err := n.Bootstrap(n.ctx, eps...); err != nil {
		n.log.Debug("cold start", zap.Error(err))
	}
}

// startExpandLoop looks up random targets while the routing table is
// below MinPeers. Ids learned from the lookups are asked to connect by the
// find nodes response handler.
func (n *Node) startExpandLoop(cfg ExpandConfig) {
	def := DefaultExpandConfig()
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = def.MinPeers
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		t := time.NewTicker(cfg.Tick)
		defer t.Stop()

		for {
			select {
			case <-n.ctx.Done():
				return
			case <-t.C:
				// Need at least one routing peer to do anything.
				if n.PeerCount() == 0 || n.PeerCount() >= cfg.MinPeers {
					continue
				}
				for i := 0; i < 2; i++ {
					target := dht.RandomNodeID()
					ctx, cancel := context.WithTimeout(n.ctx, cfg.Timeout)
					nodes, err := n.FindNodes(ctx, target)
					cancel()
					if err != nil {
						n.Logf("expand: lookup %s: %v", target, err)
						continue
					}
					n.Logf("expand: lookup %s returned %d ids", target, len(nodes))
				}
			}
		}
	}()
}

package bootstrap

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"overlay-node/internal/netx"
)

// Joiner is the part of the node RunOnce drives.
type Joiner interface {
	ListenAddr() netx.Endpoint
	Bootstrap(ctx context.Context, endpoints ...netx.Endpoint) error
}

type Config struct {
	MaxConnectPerRound int
	Logger             *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxConnectPerRound: 12,
	}
}

// RunOnce gathers candidates from sources and sends a connect request to at
// most cfg.MaxConnectPerRound of them. It returns the endpoints it tried.
func RunOnce(ctx context.Context, n Joiner, cfg Config, sources ...PeerSource) ([]netx.Endpoint, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cands := make([]netx.Endpoint, 0, 64)

	for _, s := range sources {
		eps, err := s.Discover(ctx)
		if err != nil {
			log.Warn("bootstrap source failed", zap.String("source", s.Name()), zap.Error(err))
			continue
		}
		log.Debug("bootstrap source", zap.String("source", s.Name()), zap.Int("candidates", len(eps)))
		cands = append(cands, eps...)
	}

	// Shuffle to avoid everyone hitting the same bootstrap in the same order.
	rand.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })

	self := n.ListenAddr()
	seen := make(map[netx.Endpoint]struct{}, len(cands))
	picked := make([]netx.Endpoint, 0, len(cands))
	for _, ep := range cands {
		if cfg.MaxConnectPerRound > 0 && len(picked) >= cfg.MaxConnectPerRound {
			break
		}
		if ep == self || ep.Validate() != nil {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		picked = append(picked, ep)
	}
	if len(picked) == 0 {
		return nil, nil
	}
	return picked, n.Bootstrap(ctx, picked...)
}

package bootstrap

import (
	"context"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
)

// CandidateStore is the read side of the contact book.
type CandidateStore interface {
	Candidates(maxFailures, limit int) ([]dht.NodeInfo, error)
}

// StoreSource replays contacts persisted by earlier runs, freshest first.
type StoreSource struct {
	Store       CandidateStore
	MaxFailures int
	Limit       int
}

func (s StoreSource) Name() string { return "contacts" }

func (s StoreSource) Discover(ctx context.Context) ([]netx.Endpoint, error) {
	if s.Store == nil {
		return nil, nil
	}
	c, err := s.Store.Candidates(s.MaxFailures, s.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]netx.Endpoint, 0, len(c))
	for _, ni := range c {
		out = append(out, ni.Endpoint)
	}
	return out, nil
}

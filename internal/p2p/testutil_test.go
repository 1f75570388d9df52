package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/netx"
)

type nodeTestOpt func(*NodeConfig)

// WithClient makes the node join as a client.
func WithClient(client bool) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Client = client }
}

// WithLogger lets you override the logger (default is a no-op logger).
func WithLogger(l *zap.Logger) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Logger = l }
}

// WithBootstraps sets the seed endpoints.
func WithBootstraps(eps ...netx.Endpoint) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Bootstraps = eps }
}

// WithStore attaches a contact book.
func WithStore(s ContactStore) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Store = s }
}

// newTestNode spins up a node bound to an ephemeral localhost port and auto-stops it.
func newTestNode(t *testing.T, name string, opts ...nodeTestOpt) *Node {
	t.Helper()

	cfg := NodeConfig{
		Name:     name,
		Network:  netx.NewTCPNetwork(time.Second),
		BindAddr: "127.0.0.1:0",
		Logger:   zap.NewNop(),
		Debug:    true,
		K:        8,
		// keep the top-up loop out of the way of assertions
		Expand:   ExpandConfig{MinPeers: 1, Tick: time.Hour},
		Dispatch: []dispatch.Option{dispatch.WithRetryInterval(10 * time.Millisecond)},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := NewNode(cfg)
	require.NoError(t, err, "NewNode(%s)", name)
	n.RoutingTable().SetDiversityLimit(0)
	require.NoError(t, n.Start(), "Start(%s)", name)

	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func waitPeers(t *testing.T, n *Node, want int, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return n.PeerCount() >= want }, timeout, 10*time.Millisecond,
		"timed out waiting for peers: node=%s have=%d want=%d", n.Name(), n.PeerCount(), want)
}

func waitKnows(t *testing.T, n *Node, id dht.NodeID, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return n.RoutingTable().Contains(id) }, timeout, 10*time.Millisecond,
		"%s never learned %s", n.Name(), id)
}

// join bootstraps from to to and waits until each holds the other.
func join(t *testing.T, from, to *Node) {
	t.Helper()
	require.NoError(t, from.Bootstrap(from.ctx, to.ListenAddr()))
	waitKnows(t, to, from.ID(), 3*time.Second)
	waitKnows(t, from, to.ID(), 3*time.Second)
}

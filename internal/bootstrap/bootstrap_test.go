package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
	"overlay-node/internal/p2p"
)

type fakeJoiner struct {
	self netx.Endpoint
	got  []netx.Endpoint
}

func (f *fakeJoiner) ListenAddr() netx.Endpoint { return f.self }

func (f *fakeJoiner) Bootstrap(_ context.Context, eps ...netx.Endpoint) error {
	f.got = append(f.got, eps...)
	return nil
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Discover(context.Context) ([]netx.Endpoint, error) {
	return nil, errors.New("unavailable")
}

type fakeStore struct {
	nodes []dht.NodeInfo
}

func (f fakeStore) Candidates(maxFailures, limit int) ([]dht.NodeInfo, error) {
	if limit > 0 && len(f.nodes) > limit {
		return f.nodes[:limit], nil
	}
	return f.nodes, nil
}

func TestRunOnce_DedupesAndSkipsSelf(t *testing.T) {
	j := &fakeJoiner{self: "127.0.0.1:4000"}
	static := StaticSource{Endpoints: []netx.Endpoint{"127.0.0.1:4000", "127.0.0.1:4001", "127.0.0.1:4001", "not-an-endpoint"}}
	store := StoreSource{Store: fakeStore{nodes: []dht.NodeInfo{
		{ID: dht.RandomNodeID(), Endpoint: "127.0.0.1:4001"},
		{ID: dht.RandomNodeID(), Endpoint: "127.0.0.1:4002"},
	}}}

	tried, err := RunOnce(context.Background(), j, DefaultConfig(), static, failingSource{}, store)
	require.NoError(t, err)
	assert.ElementsMatch(t, []netx.Endpoint{"127.0.0.1:4001", "127.0.0.1:4002"}, tried)
	assert.ElementsMatch(t, tried, j.got)
}

func TestRunOnce_Caps(t *testing.T) {
	j := &fakeJoiner{}
	var eps []netx.Endpoint
	for _, p := range []string{"1", "2", "3", "4", "5"} {
		eps = append(eps, netx.Endpoint("127.0.0.1:500"+p))
	}

	tried, err := RunOnce(context.Background(), j, Config{MaxConnectPerRound: 2}, StaticSource{Endpoints: eps})
	require.NoError(t, err)
	assert.Len(t, tried, 2)
	assert.Len(t, j.got, 2)
}

func TestRunOnce_NoCandidates(t *testing.T) {
	j := &fakeJoiner{}
	tried, err := RunOnce(context.Background(), j, DefaultConfig(), StoreSource{})
	require.NoError(t, err)
	assert.Empty(t, tried)
	assert.Nil(t, j.got)
}

func TestStaticSource_Copies(t *testing.T) {
	s := StaticSource{Endpoints: []netx.Endpoint{"127.0.0.1:1"}}
	out, err := s.Discover(context.Background())
	require.NoError(t, err)
	out[0] = "mutated:1"
	assert.Equal(t, netx.Endpoint("127.0.0.1:1"), s.Endpoints[0])
	assert.Equal(t, "static", s.Name())
	assert.Equal(t, "seeds", StaticSource{Label: "seeds"}.Name())
}

func TestRunOnce_JoinsRealNodes(t *testing.T) {
	newNode := func(name string) *p2p.Node {
		n, err := p2p.NewNode(p2p.NodeConfig{
			Name:       name,
			Network:    netx.NewTCPNetwork(time.Second),
			BindAddr:   "127.0.0.1:0",
			NoAutoJoin: true,
			Expand:     p2p.ExpandConfig{Tick: time.Hour},
		})
		require.NoError(t, err)
		require.NoError(t, n.Start())
		t.Cleanup(func() { _ = n.Stop() })
		return n
	}
	a := newNode("a")
	b := newNode("b")

	tried, err := RunOnce(context.Background(), b, DefaultConfig(),
		StaticSource{Endpoints: []netx.Endpoint{a.ListenAddr(), b.ListenAddr()}})
	require.NoError(t, err)
	assert.Equal(t, []netx.Endpoint{a.ListenAddr()}, tried)

	require.Eventually(t, func() bool {
		return a.RoutingTable().Contains(b.ID()) && b.RoutingTable().Contains(a.ID())
	}, 5*time.Second, 20*time.Millisecond)
}

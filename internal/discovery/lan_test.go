package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlay-node/internal/netx"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, c.Close())
	return port
}

func TestLANDiscovery_Loopback(t *testing.T) {
	cfg := LANConfig{Port: freeUDPPort(t), Timeout: 300 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listen := func() netx.Endpoint { return "0.0.0.0:4100" }
	require.NoError(t, StartLANResponder(ctx, cfg, "responder", listen, nil))

	eps, err := DiscoverLANPeers(context.Background(), cfg, "asker")
	require.NoError(t, err)
	require.NotEmpty(t, eps)
	for _, ep := range eps {
		_, port, err := net.SplitHostPort(string(ep))
		require.NoError(t, err)
		assert.Equal(t, "4100", port)
	}
}

func TestLANDiscovery_IgnoresSelf(t *testing.T) {
	cfg := LANConfig{Port: freeUDPPort(t), Timeout: 200 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, StartLANResponder(ctx, cfg, "same", func() netx.Endpoint { return "127.0.0.1:4100" }, nil))

	eps, err := DiscoverLANPeers(context.Background(), cfg, "same")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestListenPortOnly(t *testing.T) {
	assert.Equal(t, ":4100", listenPortOnly("0.0.0.0:4100"))
	assert.Equal(t, ":4100", listenPortOnly("[::]:4100"))
	assert.Equal(t, "10.0.0.5:4100", listenPortOnly("10.0.0.5:4100"))

	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 7), Port: 9}
	assert.Equal(t, netx.Endpoint("192.168.1.7:4100"), normalizeListenFromReply(from, ":4100"))
	assert.Equal(t, netx.Endpoint("10.0.0.5:4100"), normalizeListenFromReply(from, "10.0.0.5:4100"))
}

package p2p

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"overlay-node/internal/dht"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
	"overlay-node/internal/storage/peersbolt"
)

func TestBootstrap_TwoNodesJoin(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")

	join(t, b, a)

	assert.Equal(t, 1, a.PeerCount())
	assert.Equal(t, 1, b.PeerCount())
	got, ok := a.RoutingTable().Get(b.ID())
	require.True(t, ok)
	assert.Equal(t, b.ListenAddr(), got.Endpoint)
}

func TestBootstrap_FromConfigOnStart(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b", WithBootstraps(a.ListenAddr()))

	waitKnows(t, a, b.ID(), 3*time.Second)
	waitKnows(t, b, a.ID(), 3*time.Second)
}

func TestPing_OverOverlay(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	join(t, b, a)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rtt, err := a.Ping(ctx, b.ID())
	require.NoError(t, err)
	assert.Less(t, rtt, 3*time.Second)
}

func TestFindNodes_ExpandsFromOnePeer(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	c := newTestNode(t, "c")

	// b knows c; a only knows b.
	join(t, c, b)
	join(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	nodes, err := a.FindNodes(ctx, c.ID())
	require.NoError(t, err)
	assert.Contains(t, nodes, c.ID())

	// the response handler asks c to connect through b
	waitKnows(t, a, c.ID(), 3*time.Second)
	waitKnows(t, c, a.ID(), 3*time.Second)
}

func TestPing_ForwardedThroughIntermediate(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a := newTestNode(t, "a", WithLogger(zap.New(core)))
	b := newTestNode(t, "b")
	c := newTestNode(t, "c")
	join(t, c, b)
	join(t, a, b)
	require.False(t, a.RoutingTable().Contains(c.ID()))

	// b re-signs the request on the way to c, and c's pong echoes b's
	// signature; a must still match the pong to its ping.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := a.Ping(ctx, c.ID())
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("unmatched ping response").Len())
}

func TestForward_RetriesPastDeadPeer(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	c := newTestNode(t, "c")
	join(t, c, b)
	join(t, a, b)

	// a dead contact that is closer to c than b is
	dead := c.ID()
	dead[dht.NodeIDBytes-1] ^= 0x01
	_, err := a.RoutingTable().Upsert(dht.NodeInfo{ID: dead, Endpoint: "127.0.0.1:1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.Ping(ctx, c.ID())
	require.NoError(t, err)
}

func TestForward_DropsUnreachablePeerAfterChain(t *testing.T) {
	a := newTestNode(t, "a")
	dead := dht.RandomNodeID()
	_, err := a.RoutingTable().Upsert(dht.NodeInfo{ID: dead, Endpoint: "127.0.0.1:1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = a.Ping(ctx, dead)
	require.Error(t, err)

	require.Eventually(t, func() bool { return !a.RoutingTable().Contains(dead) }, 2*time.Second, 10*time.Millisecond)
	requireEvent(t, a, EventPeerRemoved, dead)
}

func TestConnectClient_JoinsNonRoutingTable(t *testing.T) {
	a := newTestNode(t, "a")
	k := newTestNode(t, "k", WithClient(true))

	require.NoError(t, k.ConnectClient(context.Background(), a.ListenAddr()))
	require.Eventually(t, func() bool { return a.Clients().Contains(k.ID()) }, 3*time.Second, 10*time.Millisecond)
	waitKnows(t, k, a.ID(), 3*time.Second)
	assert.False(t, a.RoutingTable().Contains(k.ID()), "a client must not enter the routing table")

	// a reaches its client through the non-routing table
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := a.Ping(ctx, k.ID())
	require.NoError(t, err)
	requireEvent(t, a, EventClientAdded, k.ID())
}

func TestClient_DroppedAfterFailedSend(t *testing.T) {
	a := newTestNode(t, "a")
	k := newTestNode(t, "k", WithClient(true))

	require.NoError(t, k.ConnectClient(context.Background(), a.ListenAddr()))
	require.Eventually(t, func() bool { return a.Clients().Contains(k.ID()) }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, k.Stop())

	// sends to the stopped client fail until its endpoint is forgotten
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, _ = a.Ping(ctx, k.ID())
		return !a.Clients().Contains(k.ID())
	}, 5*time.Second, 20*time.Millisecond)
	requireEvent(t, a, EventClientRemoved, k.ID())
}

// blockingStore holds NoteFailure until release is closed.
type blockingStore struct {
	release chan struct{}
	noted   chan dht.NodeID
}

func (s *blockingStore) Put(dht.NodeInfo) (bool, error) { return true, nil }

func (s *blockingStore) NoteFailure(id dht.NodeID) error {
	<-s.release
	s.noted <- id
	return nil
}

func (s *blockingStore) Candidates(int, int) ([]dht.NodeInfo, error) { return nil, nil }

func TestDeliveryFailed_DoesNotWaitForContactBook(t *testing.T) {
	store := &blockingStore{release: make(chan struct{}), noted: make(chan dht.NodeID, 1)}
	a := newTestNode(t, "a", WithStore(store))
	peer := dht.RandomNodeID()
	_, err := a.RoutingTable().Upsert(dht.NodeInfo{ID: peer, Endpoint: "127.0.0.1:1"})
	require.NoError(t, err)

	// transport completions call this from the link's actor
	returned := make(chan struct{})
	go func() {
		a.deliveryFailed(peer, dispatch.ErrRetriesExhausted)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("deliveryFailed waited on the contact book")
	}

	close(store.release)
	select {
	case id := <-store.noted:
		assert.Equal(t, peer, id)
	case <-time.After(3 * time.Second):
		t.Fatal("failure never reached the contact book")
	}
	assert.False(t, a.RoutingTable().Contains(peer))
}

func TestContactBook_ColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	store, err := peersbolt.Open(path)
	require.NoError(t, err)
	defer store.Close()

	a := newTestNode(t, "a")
	b := newTestNode(t, "b", WithStore(store))
	join(t, b, a)

	require.Eventually(t, func() bool {
		_, err := store.Get(a.ID())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Stop())

	// a fresh node with the same book finds a without any bootstrap endpoint
	c := newTestNode(t, "c", WithStore(store))
	waitKnows(t, c, a.ID(), 3*time.Second)
}

func TestVerifyHandshake(t *testing.T) {
	n, err := NewNode(NodeConfig{Network: netx.NewTCPNetwork(time.Second)})
	require.NoError(t, err)
	defer n.Stop()

	opts, err := n.handshakeOptions()
	require.NoError(t, err)
	require.Len(t, opts, 2)

	_, noisePub, err := n.keys.NoiseKeypair()
	require.NoError(t, err)
	sig, err := n.keys.Sign(noisePub)
	require.NoError(t, err)

	good := mustPayload(t, n.keys.Public, sig)
	assert.NoError(t, verifyHandshake(noisePub, good))

	other := make([]byte, len(noisePub))
	copy(other, noisePub)
	other[0] ^= 0xff
	assert.ErrorIs(t, verifyHandshake(other, good), ErrIdentityMismatch)
	assert.Error(t, verifyHandshake(noisePub, []byte("junk")))
}

func requireEvent(t *testing.T, n *Node, typ EventType, id dht.NodeID) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-n.Events():
			if e.Type == typ && e.PeerID == id.Hex() {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", typ, id)
		}
	}
}

func mustPayload(t *testing.T, pub ed25519.PublicKey, sig []byte) []byte {
	t.Helper()
	return proto.MustMarshal(proto.NoiseIdentityPayload{PublicKey: pub, Signature: sig})
}

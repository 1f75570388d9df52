package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/identity"
	"overlay-node/internal/netx"
	"overlay-node/internal/service"
	"overlay-node/internal/telemetry"
)

// ContactStore persists routing table contacts across restarts.
type ContactStore interface {
	Put(ni dht.NodeInfo) (bool, error)
	NoteFailure(id dht.NodeID) error
	Candidates(maxFailures, limit int) ([]dht.NodeInfo, error)
}

type NodeConfig struct {
	Name          string             // user-facing name
	Keys          identity.Keys      // node credentials; generated when empty
	Network       netx.Network       // dial/listen layer under the transport
	BindAddr      string             // e.g. ":0" to choose random port
	AdvertiseAddr netx.Endpoint      // endpoint given to peers; defaults to the listen endpoint
	Bootstraps    []netx.Endpoint    // known peers to try on startup
	NoAutoJoin    bool               // skip the startup bootstrap; the caller joins explicitly
	Client        bool               // join as a client instead of a routing node
	K             int                // bucket size and closest-nodes count
	MaxClients    int                // non-routing table capacity
	Logger        *zap.Logger        // system logger
	Debug         bool               // flag for showing hidden logs to debug
	Metrics       *telemetry.Metrics // optional prometheus export
	Store         ContactStore       // optional contact book
	Expand        ExpandConfig       // routing table top-up loop
	DedupeTTL     time.Duration      // how long an inbound message is remembered
	PingTimeout   time.Duration      // default Ping deadline
	Dispatch      []dispatch.Option  // extra dispatcher tuning
}

type Node struct {
	cfg  NodeConfig
	keys identity.Keys
	log  *zap.Logger

	rt         *dht.RoutingTable
	clients    *dht.NonRoutingTable
	transport  *netx.ManagedTransport
	dispatcher *dispatch.Dispatcher
	svc        *service.Service
	seen       *seenCache

	mu   sync.RWMutex
	addr netx.Endpoint

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan Event

	// failures serializes table and contact book updates after failed sends
	failures phony.Inbox
}

func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Network == nil {
		return nil, errors.New("p2p: node needs a network")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 2 * time.Minute
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	keys := cfg.Keys
	if len(keys.Private) == 0 {
		var err error
		if keys, err = identity.Generate(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		keys:   keys,
		log:    cfg.Logger.With(zap.String("node", dht.NodeID(keys.ID).Short())),
		ctx:    ctx,
		cancel: cancel,
		seen:   newSeenCache(4096, cfg.DedupeTTL),
		events: make(chan Event, 128),
	}

	n.rt = dht.NewRoutingTable(keys, cfg.K)
	n.clients = dht.NewNonRoutingTable(n.ID(), cfg.MaxClients)

	transportOpts, err := n.handshakeOptions()
	if err != nil {
		cancel()
		return nil, err
	}
	noisePriv, noisePub, err := keys.NoiseKeypair()
	if err != nil {
		cancel()
		return nil, err
	}
	n.transport = netx.NewManagedTransport(cfg.Network, noisePriv, noisePub, n.onFrame,
		append(transportOpts, netx.WithTransportLogger(n.log.Named("transport")))...)

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(n.log.Named("dispatch"))}
	if cfg.Metrics != nil {
		n.rt.SetMetrics(cfg.Metrics)
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(cfg.Metrics))
	}
	n.dispatcher = dispatch.New(n.rt, n.clients, n.transport, append(dispatchOpts, cfg.Dispatch...)...)

	n.svc = service.New(n.rt, n.clients, n.dispatcher,
		service.WithLogger(n.log.Named("service")),
		service.WithLocalEndpoint(n.ListenAddr),
		service.WithPeerAdded(n.peerAdded),
		service.WithDeliveryFailed(n.deliveryFailed),
		service.WithClientMode(cfg.Client),
		service.WithEvictionPing(cfg.PingTimeout),
	)
	return n, nil
}

// ID returns this node's overlay identifier.
func (n *Node) ID() dht.NodeID { return dht.NodeID(n.keys.ID) }

// Keys returns the node's credentials.
func (n *Node) Keys() identity.Keys { return n.keys }

// ListenAddr returns the endpoint this node advertises to peers.
func (n *Node) ListenAddr() netx.Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.addr
}

// Name returns this node's name
func (n *Node) Name() string { return n.cfg.Name }

// Events return a channel of events for logging
func (n *Node) Events() <-chan Event { return n.events }

// RoutingTable exposes the overlay routing table for inspection.
func (n *Node) RoutingTable() *dht.RoutingTable { return n.rt }

// Clients exposes the non-routing table for inspection.
func (n *Node) Clients() *dht.NonRoutingTable { return n.clients }

// Start brings the node online.
func (n *Node) Start() error {
	ep, err := n.transport.Listen(n.cfg.BindAddr)
	if err != nil {
		return err
	}
	if !n.cfg.AdvertiseAddr.IsZero() {
		ep = n.cfg.AdvertiseAddr
	}
	n.mu.Lock()
	n.addr = ep
	n.mu.Unlock()
	n.log.Info("listening", zap.String("endpoint", string(ep)), zap.String("id", n.ID().Hex()), zap.Bool("client", n.cfg.Client))

	switch {
	case n.cfg.NoAutoJoin:
	case len(n.cfg.Bootstraps) > 0:
		if err := n.Bootstrap(n.ctx, n.cfg.Bootstraps...); err != nil {
			n.log.Warn("bootstrap", zap.Error(err))
		}
	default:
		n.coldStartBootstrap()
	}
	n.startExpandLoop(n.cfg.Expand)
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() error {
	n.cancel()
	err := n.transport.Close()
	n.wg.Wait()
	phony.Block(&n.failures, func() {})
	return err
}

// Run starts the node and blocks until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-n.ctx.Done():
	}
	return n.Stop()
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		// drop to avoid deadlock
	}
}

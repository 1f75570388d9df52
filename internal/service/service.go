// Package service answers the overlay's request messages and consumes the
// matching responses. Replies are built here and handed to the dispatcher;
// routing decisions are never made in this package.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

// Sender is the dispatcher's send operation.
type Sender interface {
	Send(ctx context.Context, env proto.Envelope, direct netx.Endpoint, done dispatch.DoneFunc) error
}

// PeerAddedFunc is called after a contact enters one of the tables. client
// reports which one.
type PeerAddedFunc func(ni dht.NodeInfo, client bool)

type config struct {
	logger     *zap.Logger
	local      func() netx.Endpoint
	onAdded    PeerAddedFunc
	onFailed   dispatch.DoneFunc
	isClient   bool
	evictAfter time.Duration
}

type Option func(*config)

func configDefaults() Option {
	return func(c *config) {
		c.logger = zap.NewNop()
		c.local = func() netx.Endpoint { return "" }
		c.onAdded = func(dht.NodeInfo, bool) {}
		c.onFailed = func(dht.NodeID, error) {}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLocalEndpoint supplies the endpoint advertised in our own contact.
func WithLocalEndpoint(f func() netx.Endpoint) Option {
	return func(c *config) {
		if f != nil {
			c.local = f
		}
	}
}

func WithPeerAdded(f PeerAddedFunc) Option {
	return func(c *config) {
		if f != nil {
			c.onAdded = f
		}
	}
}

// WithDeliveryFailed is called whenever a message this service sent could
// not be delivered. peer is the last node an attempt went to.
func WithDeliveryFailed(f dispatch.DoneFunc) Option {
	return func(c *config) {
		if f != nil {
			c.onFailed = f
		}
	}
}

// WithClientMode marks this node as a client: its own connect requests ask
// to be placed in the remote's non-routing table.
func WithClientMode(client bool) Option {
	return func(c *config) {
		c.isClient = client
	}
}

// WithEvictionPing lets a connect request that meets a full bucket replace
// the bucket's least recently seen peer when that peer does not answer a
// ping within timeout. Zero keeps full buckets as they are.
func WithEvictionPing(timeout time.Duration) Option {
	return func(c *config) {
		c.evictAfter = timeout
	}
}

type Service struct {
	cfg     config
	rt      *dht.RoutingTable
	clients *dht.NonRoutingTable
	sender  Sender
	rpcs    *pending
}

func New(rt *dht.RoutingTable, clients *dht.NonRoutingTable, sender Sender, opts ...Option) *Service {
	var cfg config
	configDefaults()(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		cfg:     cfg,
		rt:      rt,
		clients: clients,
		sender:  sender,
		rpcs:    newPending(),
	}
}

func (s *Service) self() dht.NodeID { return s.rt.Self() }

// Handle processes an envelope addressed to this node.
func (s *Service) Handle(ctx context.Context, env proto.Envelope) {
	if env.IsResponse() {
		switch env.Type {
		case proto.MsgPing:
			s.PingResponse(env)
		case proto.MsgConnect:
			s.ConnectResponse(env)
		case proto.MsgFindNodes:
			s.FindNodesResponse(ctx, env)
		default:
			s.cfg.logger.Debug("dropping response of unknown type", zap.Stringer("type", env.Type))
		}
		return
	}

	switch env.Type {
	case proto.MsgPing:
		s.Ping(ctx, env)
	case proto.MsgConnect:
		s.Connect(ctx, env)
	case proto.MsgFindNodes:
		s.FindNodes(ctx, env)
	default:
		s.cfg.logger.Debug("dropping request of unknown type", zap.Stringer("type", env.Type))
	}
}

func (s *Service) isSelf(id []byte) bool {
	self := s.self()
	return len(id) == dht.NodeIDBytes && dht.NodeIDFromBytes(id) == self
}

func (s *Service) selfContact() proto.Contact {
	self := s.self()
	c := proto.Contact{NodeID: append([]byte(nil), self[:]...)}
	if ep, err := proto.EndpointFromAddr(string(s.cfg.local())); err == nil {
		c.Endpoint = *ep
	}
	return c
}

// selfRelay is the relay descriptor pointing back at this node, so replies
// from peers that do not know us yet still reach us.
func (s *Service) selfRelay(env *proto.Envelope) {
	self := s.self()
	env.RelayID = append([]byte(nil), self[:]...)
	if ep, err := proto.EndpointFromAddr(string(s.cfg.local())); err == nil {
		env.Relay = ep
	}
}

func contactInfo(c proto.Contact) (dht.NodeInfo, bool) {
	if len(c.NodeID) != dht.NodeIDBytes {
		return dht.NodeInfo{}, false
	}
	ep := netx.Endpoint(c.Endpoint.Addr())
	if ep.Validate() != nil {
		return dht.NodeInfo{}, false
	}
	return dht.NodeInfo{ID: dht.NodeIDFromBytes(c.NodeID), Endpoint: ep}, true
}

func (s *Service) send(ctx context.Context, env proto.Envelope, direct netx.Endpoint) {
	err := s.sender.Send(ctx, env, direct, s.failed(env.Type))
	if err != nil {
		s.cfg.logger.Debug("reply not sent", zap.Stringer("type", env.Type), zap.Error(err))
	}
}

func (s *Service) failed(typ proto.MessageType) dispatch.DoneFunc {
	return func(peer dht.NodeID, err error) {
		if err == nil {
			return
		}
		s.cfg.logger.Debug("message not delivered",
			zap.Stringer("type", typ), zap.String("peer", peer.Short()), zap.Error(err))
		s.cfg.onFailed(peer, err)
	}
}

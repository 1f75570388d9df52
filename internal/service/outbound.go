package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

var ErrNoDestination = errors.New("service: connect needs a destination id or endpoint")

func (s *Service) request(typ proto.MessageType, dest dht.NodeID, data []byte) proto.Envelope {
	self := s.self()
	env := proto.Envelope{
		SourceID:    append([]byte(nil), self[:]...),
		Data:        data,
		Type:        typ,
		Replication: 1,
	}
	if !dest.IsZero() {
		env.DestinationID = append([]byte(nil), dest[:]...)
	}
	s.selfRelay(&env)
	return env
}

// SendConnect asks dest, or whoever listens on direct, to add us to its
// tables. Bootstrap requests go to an endpoint whose id we do not know yet.
func (s *Service) SendConnect(ctx context.Context, dest dht.NodeID, direct netx.Endpoint, bootstrap bool) error {
	return s.connect(ctx, dest, direct, bootstrap, s.cfg.isClient)
}

// SendClientConnect asks the node on direct to keep us as a client.
func (s *Service) SendClientConnect(ctx context.Context, direct netx.Endpoint) error {
	return s.connect(ctx, dht.NodeID{}, direct, true, true)
}

func (s *Service) connect(ctx context.Context, dest dht.NodeID, direct netx.Endpoint, bootstrap, client bool) error {
	if dest.IsZero() && direct.IsZero() {
		return ErrNoDestination
	}
	req := proto.ConnectRequest{
		Contact:   s.selfContact(),
		Bootstrap: bootstrap,
		Client:    client,
		Timestamp: proto.Timestamp(),
	}
	env := s.request(proto.MsgConnect, dest, proto.MustMarshal(req))
	env.Direct = !direct.IsZero()
	return s.sender.Send(ctx, env, direct, s.failed(env.Type))
}

// PingPeer sends a ping through the overlay and waits for the pong.
func (s *Service) PingPeer(ctx context.Context, dest dht.NodeID) (time.Duration, error) {
	id := uuid.NewString()
	req := proto.PingRequest{Ping: true, RPCID: id, Timestamp: proto.Timestamp()}
	env := s.request(proto.MsgPing, dest, proto.MustMarshal(req))

	start := time.Now()
	res, err := s.roundTrip(ctx, id, env)
	if err != nil {
		return 0, err
	}
	if res.from != dest {
		return 0, errors.New("service: pong from unexpected peer")
	}
	return time.Since(start), nil
}

// FindNodesQuery asks the node closest to target for the ids it knows near
// target.
func (s *Service) FindNodesQuery(ctx context.Context, target dht.NodeID, n int) ([]dht.NodeID, error) {
	id := uuid.NewString()
	req := proto.FindNodesRequest{
		NumNodesRequested: uint32(n),
		Target:            append([]byte(nil), target[:]...),
		RPCID:             id,
		Timestamp:         proto.Timestamp(),
	}
	env := s.request(proto.MsgFindNodes, target, proto.MustMarshal(req))
	res, err := s.roundTrip(ctx, id, env)
	if err != nil {
		return nil, err
	}
	return res.nodes, nil
}

func (s *Service) roundTrip(ctx context.Context, id string, env proto.Envelope) (rpcResult, error) {
	wait := s.rpcs.register(id, env.Data)
	failed := s.failed(env.Type)
	err := s.sender.Send(ctx, env, "", func(peer dht.NodeID, err error) {
		if err != nil {
			s.rpcs.fail(id, err)
			failed(peer, err)
		}
	})
	if err != nil {
		s.rpcs.cancel(id)
		return rpcResult{}, err
	}
	select {
	case res := <-wait:
		return res, res.err
	case <-ctx.Done():
		s.rpcs.cancel(id)
		return rpcResult{}, ctx.Err()
	}
}

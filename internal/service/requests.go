package service

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/proto"
)

// Ping answers a ping addressed to this node with a pong that echoes the
// request and its signature.
func (s *Service) Ping(ctx context.Context, env proto.Envelope) {
	if !s.isSelf(env.DestinationID) {
		return
	}
	var req proto.PingRequest
	if err := proto.Unmarshal(env.Data, &req); err != nil {
		s.cfg.logger.Debug("malformed ping request", zap.Error(err))
		return
	}
	resp := proto.PingResponse{
		Pong:              true,
		RPCID:             req.RPCID,
		OriginalRequest:   env.Data,
		OriginalSignature: env.Signature,
		Timestamp:         proto.Timestamp(),
	}
	s.send(ctx, s.reply(env, proto.MustMarshal(resp)), "")
}

// Connect handles a request to join this node's routing table, or its
// non-routing table when the requester is a client. Requests we cannot
// attribute are dropped without a reply, as are requests from peers we
// already route through.
func (s *Service) Connect(ctx context.Context, env proto.Envelope) {
	if !s.isSelf(env.DestinationID) && !(!env.HasDestination() && env.Direct) {
		return
	}
	var req proto.ConnectRequest
	if err := proto.Unmarshal(env.Data, &req); err != nil {
		s.cfg.logger.Debug("malformed connect request", zap.Error(err))
		return
	}
	ni, ok := contactInfo(req.Contact)
	if !ok || ni.ID == s.self() {
		return
	}
	if !bytes.Equal(env.SourceID, req.Contact.NodeID) {
		s.cfg.logger.Debug("connect contact does not match source",
			zap.String("contact", ni.ID.Short()), zap.String("source", shortBytes(env.SourceID)))
		return
	}
	if s.rt.Contains(ni.ID) {
		return
	}

	accepted := false
	if req.Client {
		if s.clients.Add(ni) {
			s.rt.Remove(ni.ID)
			accepted = true
			s.cfg.onAdded(ni, true)
		}
	} else if s.rt.CheckNode(ni) {
		added, err := s.rt.Upsert(ni)
		if err != nil {
			s.cfg.logger.Debug("rejecting connect", zap.String("peer", ni.ID.Short()), zap.Error(err))
		} else if added {
			s.clients.Remove(ni.ID)
			accepted = true
			s.cfg.onAdded(ni, false)
		}
	} else {
		s.admitOverTail(ctx, ni)
	}
	s.cfg.logger.Info("connect request",
		zap.String("peer", ni.ID.Short()),
		zap.String("endpoint", string(ni.Endpoint)),
		zap.Bool("client", req.Client),
		zap.Bool("bootstrap", req.Bootstrap),
		zap.Bool("accepted", accepted),
	)

	resp := proto.ConnectResponse{
		Accepted:  accepted,
		Contact:   s.selfContact(),
		Timestamp: proto.Timestamp(),
	}
	s.send(ctx, s.reply(env, proto.MustMarshal(resp)), "")
}

// FindNodes answers with the ids closest to the requested target. A small
// network also gets our own id, since we may be among the closest.
func (s *Service) FindNodes(ctx context.Context, env proto.Envelope) {
	var req proto.FindNodesRequest
	if err := proto.Unmarshal(env.Data, &req); err != nil {
		s.cfg.logger.Debug("malformed find nodes request", zap.Error(err))
		return
	}
	var target dht.NodeID
	switch {
	case len(req.Target) == dht.NodeIDBytes:
		target = dht.NodeIDFromBytes(req.Target)
	case len(env.DestinationID) == dht.NodeIDBytes:
		target = dht.NodeIDFromBytes(env.DestinationID)
	default:
		return
	}
	n := int(req.NumNodesRequested)
	if n <= 0 || n > s.rt.ClosestNodesSize() {
		n = s.rt.ClosestNodesSize()
	}

	resp := proto.FindNodesResponse{
		OriginalRequest:   env.Data,
		OriginalSignature: env.Signature,
		Timestamp:         proto.Timestamp(),
	}
	for _, id := range s.rt.GetClosestNodes(target, n) {
		resp.Nodes = append(resp.Nodes, append([]byte(nil), id[:]...))
	}
	if s.rt.Size() < s.rt.ClosestNodesSize() {
		self := s.self()
		resp.Nodes = append(resp.Nodes, append([]byte(nil), self[:]...))
	}

	out := s.reply(env, proto.MustMarshal(resp))
	out.Type = proto.MsgFindNodes
	out.Direct = true
	out.Replication = 1
	s.send(ctx, out, "")
}

// reply addresses a response back to the request's source. When the request
// came through a relay and we know the requester by neither table, the
// destination is dropped so the reply goes straight to the relay.
func (s *Service) reply(req proto.Envelope, data []byte) proto.Envelope {
	self := s.self()
	out := proto.Envelope{
		SourceID:      append([]byte(nil), self[:]...),
		DestinationID: append([]byte(nil), req.SourceID...),
		Data:          data,
		Type:          req.Type,
		Direct:        req.Direct,
		Response:      true,
		Replication:   req.Replication,
		RelayID:       append([]byte(nil), req.RelayID...),
	}
	if req.Relay != nil {
		r := *req.Relay
		out.Relay = &r
	}
	if len(out.RelayID) == 0 {
		out.RelayID = nil
	}
	if req.HasRelayID() && req.HasRelay() && !s.knows(req.SourceID) {
		out.DestinationID = nil
	}
	return out
}

func (s *Service) knows(id []byte) bool {
	if len(id) != dht.NodeIDBytes {
		return false
	}
	nid := dht.NodeIDFromBytes(id)
	return s.rt.Contains(nid) || s.clients.Contains(nid)
}

func shortBytes(b []byte) string {
	if len(b) != dht.NodeIDBytes {
		return "-"
	}
	return dht.NodeIDFromBytes(b).Short()
}

// admitOverTail offers ni to a full bucket. The bucket's oldest peer is
// pinged first, so this runs off the read loop that delivers the pong.
func (s *Service) admitOverTail(ctx context.Context, ni dht.NodeInfo) {
	if s.cfg.evictAfter <= 0 {
		return
	}
	go func() {
		added, err := s.rt.UpsertWithEviction(ni, func(tail dht.NodeInfo) bool {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.evictAfter)
			defer cancel()
			_, err := s.PingPeer(pctx, tail.ID)
			// shutting down is no reason to evict
			return err == nil || ctx.Err() != nil
		})
		if err != nil || !added || ctx.Err() != nil {
			return
		}
		s.clients.Remove(ni.ID)
		s.cfg.logger.Info("peer replaced silent bucket tail", zap.String("peer", ni.ID.Short()))
		s.cfg.onAdded(ni, false)
	}()
}

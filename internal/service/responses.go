package service

import (
	"context"

	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/proto"
)

// PingResponse completes a ping we issued. The echoed request must be the
// one we sent under the response's rpc id.
func (s *Service) PingResponse(env proto.Envelope) {
	var resp proto.PingResponse
	if err := proto.Unmarshal(env.Data, &resp); err != nil || !resp.Pong {
		s.cfg.logger.Debug("malformed ping response", zap.Error(err))
		return
	}
	if !s.rpcs.answer(resp.RPCID, resp.OriginalRequest, rpcResult{from: sourceOf(env)}) {
		s.cfg.logger.Debug("unmatched ping response",
			zap.String("rpc", resp.RPCID), zap.String("source", shortBytes(env.SourceID)))
	}
}

// ConnectResponse adds the responder to the routing table when it accepted us.
func (s *Service) ConnectResponse(env proto.Envelope) {
	var resp proto.ConnectResponse
	if err := proto.Unmarshal(env.Data, &resp); err != nil {
		s.cfg.logger.Debug("malformed connect response", zap.Error(err))
		return
	}
	ni, ok := contactInfo(resp.Contact)
	if !ok || ni.ID == s.self() {
		return
	}
	if !resp.Accepted {
		s.cfg.logger.Info("connect refused", zap.String("peer", ni.ID.Short()))
		return
	}
	if s.rt.Contains(ni.ID) || !s.rt.CheckNode(ni) {
		return
	}
	added, err := s.rt.Upsert(ni)
	if err != nil || !added {
		return
	}
	s.clients.Remove(ni.ID)
	s.cfg.logger.Info("peer added", zap.String("peer", ni.ID.Short()), zap.String("endpoint", string(ni.Endpoint)))
	s.cfg.onAdded(ni, false)
}

// FindNodesResponse completes a lookup we issued and asks every id we did not
// know yet to connect.
func (s *Service) FindNodesResponse(ctx context.Context, env proto.Envelope) {
	var resp proto.FindNodesResponse
	if err := proto.Unmarshal(env.Data, &resp); err != nil {
		s.cfg.logger.Debug("malformed find nodes response", zap.Error(err))
		return
	}
	var req proto.FindNodesRequest
	if err := proto.Unmarshal(resp.OriginalRequest, &req); err != nil || req.RPCID == "" {
		s.cfg.logger.Debug("find nodes response without a request", zap.Error(err))
		return
	}

	self := s.self()
	nodes := make([]dht.NodeID, 0, len(resp.Nodes))
	for _, raw := range resp.Nodes {
		if len(raw) != dht.NodeIDBytes {
			continue
		}
		nodes = append(nodes, dht.NodeIDFromBytes(raw))
	}

	if !s.rpcs.answer(req.RPCID, resp.OriginalRequest, rpcResult{from: sourceOf(env), nodes: nodes}) {
		s.cfg.logger.Debug("unmatched find nodes response",
			zap.String("rpc", req.RPCID), zap.String("source", shortBytes(env.SourceID)))
		return
	}

	for _, id := range nodes {
		if id == self || s.rt.Contains(id) || s.clients.Contains(id) {
			continue
		}
		if err := s.SendConnect(ctx, id, "", false); err != nil {
			s.cfg.logger.Debug("connect not sent", zap.String("peer", id.Short()), zap.Error(err))
		}
	}
}

func sourceOf(env proto.Envelope) dht.NodeID {
	if len(env.SourceID) != dht.NodeIDBytes {
		return dht.NodeID{}
	}
	return dht.NodeIDFromBytes(env.SourceID)
}

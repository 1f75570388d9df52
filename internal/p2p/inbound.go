package p2p

import (
	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

// onFrame runs on the transport's read loop for every inbound frame.
func (n *Node) onFrame(from netx.Endpoint, frame []byte) {
	env, err := proto.Decode(frame)
	if err != nil {
		n.Logf("bad frame from %s: %v", from, err)
		return
	}
	if n.seen.Seen(messageKey(env)) {
		return
	}
	n.handleEnvelope(from, env)
}

func (n *Node) handleEnvelope(from netx.Endpoint, env proto.Envelope) {
	self := n.ID()
	if !env.IsResponse() && len(env.SourceID) == dht.NodeIDBytes && dht.NodeIDFromBytes(env.SourceID) == self {
		n.Logf("dropping own %s request looped back from %s", env.Type, from)
		return
	}

	if !env.HasDestination() {
		if env.Direct && !env.IsResponse() {
			n.svc.Handle(n.ctx, env)
			return
		}
		n.Logf("dropping %s from %s without destination", env.Type, from)
		return
	}
	if len(env.DestinationID) != dht.NodeIDBytes {
		return
	}
	dest := dht.NodeIDFromBytes(env.DestinationID)
	if dest == self {
		n.svc.Handle(n.ctx, env)
		return
	}

	if len(n.clients.GetNodesInfo(dest)) == 0 && n.closestTo(dest) {
		if env.Type == proto.MsgFindNodes && !env.IsResponse() {
			n.svc.Handle(n.ctx, env)
			return
		}
		n.Logf("no peer closer to %s than us, dropping %s", dest, env.Type)
		return
	}
	if env.Direct {
		n.Logf("dropping direct %s for %s", env.Type, dest)
		return
	}
	n.forward(env)
}

// closestTo reports whether no routing table peer is closer to target than
// this node.
func (n *Node) closestTo(target dht.NodeID) bool {
	peer, ok := n.rt.GetClosestNode(target, 0)
	if !ok {
		return true
	}
	return !dht.Closer(target, peer.ID, n.ID())
}

func (n *Node) forward(env proto.Envelope) {
	err := n.dispatcher.Send(n.ctx, env, "", func(peer dht.NodeID, err error) {
		if err != nil {
			n.log.Debug("forward not delivered", zap.Stringer("type", env.Type), zap.String("peer", peer.Short()), zap.Error(err))
			n.deliveryFailed(peer, err)
		}
	})
	if err != nil {
		n.log.Debug("forward failed", zap.Stringer("type", env.Type), zap.Error(err))
	}
}

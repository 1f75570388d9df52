package p2p

import (
	"context"
	"time"

	"overlay-node/internal/dht"
)

// Ping measures the round trip to id through the overlay.
func (n *Node) Ping(ctx context.Context, id dht.NodeID) (time.Duration, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.PingTimeout)
		defer cancel()
	}
	return n.svc.PingPeer(ctx, id)
}

// FindNodes asks the node closest to target for the ids it knows near
// target. Ids we did not know yet are asked to connect.
func (n *Node) FindNodes(ctx context.Context, target dht.NodeID) ([]dht.NodeID, error) {
	return n.svc.FindNodesQuery(ctx, target, n.rt.ClosestNodesSize())
}

package p2p

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/dispatch"
	"overlay-node/internal/netx"
)

// PeerSnapshot is a read-only view of a known peer.
type PeerSnapshot struct {
	NodeID   string // hex overlay id
	Name     string
	Addr     string // listen endpoint
	LastSeen time.Time
}

// peerAdded runs after a contact enters one of the tables.
func (n *Node) peerAdded(ni dht.NodeInfo, client bool) {
	if client {
		n.emit(Event{Type: EventClientAdded, PeerID: ni.ID.Hex(), PeerAddr: string(ni.Endpoint), PeerName: ni.Name})
		return
	}
	if n.cfg.Store != nil {
		if _, err := n.cfg.Store.Put(ni); err != nil {
			n.log.Warn("persist contact", zap.String("peer", ni.ID.Short()), zap.Error(err))
		}
	}
	n.emit(Event{Type: EventPeerAdded, PeerID: ni.ID.Hex(), PeerAddr: string(ni.Endpoint), PeerName: ni.Name})
}

// peerFailed drops a routing peer the transport could not reach.
func (n *Node) peerFailed(id dht.NodeID, cause error) {
	if id.IsZero() || n.ctx.Err() != nil {
		return
	}
	ni, ok := n.rt.Get(id)
	if !ok || !n.rt.Remove(id) {
		return
	}
	if n.cfg.Store != nil {
		if err := n.cfg.Store.NoteFailure(id); err != nil {
			n.log.Debug("note contact failure", zap.String("peer", id.Short()), zap.Error(err))
		}
	}
	n.emit(Event{Type: EventPeerRemoved, PeerID: id.Hex(), PeerAddr: string(ni.Endpoint), PeerName: ni.Name, Err: cause.Error()})
}

// clientFailed forgets the client endpoint a send could not reach. Other
// endpoints of the same client stay.
func (n *Node) clientFailed(id dht.NodeID, ep netx.Endpoint, cause error) {
	if n.ctx.Err() != nil || !n.clients.RemoveEndpoint(id, ep) {
		return
	}
	n.emit(Event{Type: EventClientRemoved, PeerID: id.Hex(), PeerAddr: string(ep), Err: cause.Error()})
}

// deliveryFailed handles a failed chain for a message this node sent or
// forwarded. The chain names the last peer it tried; that peer stops being
// used. It runs on the transport's completion context, so the table and
// contact book updates are queued on the node's own actor.
func (n *Node) deliveryFailed(peer dht.NodeID, err error) {
	if err == nil || peer.IsZero() {
		return
	}
	if !errors.Is(err, dispatch.ErrSendFailed) && !errors.Is(err, dispatch.ErrRetriesExhausted) && !errors.Is(err, dispatch.ErrNoRoute) {
		return
	}
	n.failures.Act(nil, func() {
		var sendErr *dispatch.SendError
		if errors.As(err, &sendErr) && n.clients.Contains(peer) {
			n.clientFailed(peer, sendErr.Endpoint, err)
			return
		}
		n.peerFailed(peer, err)
	})
}

// PeerCount is the number of routing peers.
func (n *Node) PeerCount() int { return n.rt.Size() }

func (n *Node) SnapshotPeers() []PeerSnapshot {
	var out []PeerSnapshot
	for _, ni := range n.rt.Snapshot() {
		out = append(out, PeerSnapshot{
			NodeID:   ni.ID.Hex(),
			Name:     ni.Name,
			Addr:     string(ni.Endpoint),
			LastSeen: ni.LastSeen,
		})
	}
	return out
}

func (n *Node) PeerDisplayName(id dht.NodeID) string {
	if ni, ok := n.rt.Get(id); ok && ni.Name != "" {
		return ni.Name
	}
	return id.Short()
}

package dispatch

import (
	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

type routeKind int

const (
	routeInvalid routeKind = iota
	routeDirect
	routeClient
	routeOverlay
	routeRelayResponse
	routeNoRoute
)

func (k routeKind) String() string {
	switch k {
	case routeDirect:
		return "direct"
	case routeClient:
		return "client"
	case routeOverlay:
		return "overlay"
	case routeRelayResponse:
		return "relay"
	case routeNoRoute:
		return "no_route"
	default:
		return "invalid"
	}
}

// route is the delivery decision for one envelope, made once per Send.
type route struct {
	kind     routeKind
	endpoint netx.Endpoint  // routeDirect, routeRelayResponse
	peer     dht.NodeID     // routeRelayResponse
	clients  []dht.NodeInfo // routeClient
	target   dht.NodeID     // routeOverlay, routeNoRoute
}

func idFromBytes(b []byte) (dht.NodeID, bool) {
	if len(b) != dht.NodeIDBytes {
		return dht.NodeID{}, false
	}
	return dht.NodeIDFromBytes(b), true
}

func (d *Dispatcher) classify(env *proto.Envelope, direct netx.Endpoint) route {
	if !direct.IsZero() {
		if direct.Validate() != nil {
			return route{kind: routeInvalid}
		}
		return route{kind: routeDirect, endpoint: direct}
	}

	if env.HasDestination() {
		target, ok := idFromBytes(env.DestinationID)
		if !ok {
			return route{kind: routeInvalid}
		}
		if clients := d.clients.GetNodesInfo(target); len(clients) > 0 {
			return route{kind: routeClient, clients: clients, target: target}
		}
		if d.rt.Size() > 0 {
			return route{kind: routeOverlay, target: target}
		}
		return route{kind: routeNoRoute, target: target}
	}

	if env.IsResponse() && env.HasRelayID() && env.HasRelay() {
		relayID, ok := idFromBytes(env.RelayID)
		if !ok {
			return route{kind: routeInvalid}
		}
		ep := netx.Endpoint(env.Relay.Addr())
		if ep.Validate() != nil {
			return route{kind: routeInvalid}
		}
		return route{kind: routeRelayResponse, endpoint: ep, peer: relayID}
	}

	return route{kind: routeInvalid}
}

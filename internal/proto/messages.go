package proto

import (
	"net"
	"strconv"
)

type MessageType int32

const (
	MsgPing      MessageType = 0
	MsgFindNodes MessageType = 1
	MsgConnect   MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgFindNodes:
		return "find_nodes"
	case MsgConnect:
		return "connect"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Endpoint is the wire form of a network endpoint.
type Endpoint struct {
	IP   string `msgpack:"ip"`
	Port uint16 `msgpack:"port"`
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(int(e.Port)))
}

// EndpointFromAddr parses host:port into its wire form.
func EndpointFromAddr(addr string) (*Endpoint, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, err
	}
	return &Endpoint{IP: host, Port: uint16(p)}, nil
}

// Envelope is the unit of transmission between overlay nodes. Identifiers are
// raw 32 byte values; an empty DestinationID means the envelope is a response
// routed back through its relay.
type Envelope struct {
	SourceID      []byte      `msgpack:"source_id"`
	DestinationID []byte      `msgpack:"destination_id,omitempty"`
	Data          []byte      `msgpack:"data"`
	Signature     []byte      `msgpack:"signature"`
	Type          MessageType `msgpack:"type"`
	Direct        bool        `msgpack:"direct"`
	Response      bool        `msgpack:"response"`
	Replication   int32       `msgpack:"replication"`
	RelayID       []byte      `msgpack:"relay_id,omitempty"`
	Relay         *Endpoint   `msgpack:"relay,omitempty"`
}

func (e *Envelope) HasDestination() bool { return len(e.DestinationID) > 0 }

func (e *Envelope) HasRelayID() bool { return len(e.RelayID) > 0 }

func (e *Envelope) HasRelay() bool { return e.Relay != nil }

func (e *Envelope) IsResponse() bool { return e.Response }

// Contact describes a peer another node can reach directly.
type Contact struct {
	NodeID   []byte   `msgpack:"node_id"`
	Endpoint Endpoint `msgpack:"endpoint"`
}

type PingRequest struct {
	Ping      bool   `msgpack:"ping"`
	RPCID     string `msgpack:"rpc_id"`
	Timestamp int64  `msgpack:"timestamp"`
}

type PingResponse struct {
	Pong              bool   `msgpack:"pong"`
	RPCID             string `msgpack:"rpc_id"`
	OriginalRequest   []byte `msgpack:"original_request"`
	OriginalSignature []byte `msgpack:"original_signature"`
	Timestamp         int64  `msgpack:"timestamp"`
}

type ConnectRequest struct {
	Contact   Contact `msgpack:"contact"`
	Bootstrap bool    `msgpack:"bootstrap"`
	Client    bool    `msgpack:"client"`
	Timestamp int64   `msgpack:"timestamp"`
}

type ConnectResponse struct {
	Accepted  bool    `msgpack:"accepted"`
	Contact   Contact `msgpack:"contact"`
	Timestamp int64   `msgpack:"timestamp"`
}

type FindNodesRequest struct {
	NumNodesRequested uint32 `msgpack:"num_nodes_requested"`
	Target            []byte `msgpack:"target"`
	RPCID             string `msgpack:"rpc_id,omitempty"`
	Timestamp         int64  `msgpack:"timestamp"`
}

type FindNodesResponse struct {
	Nodes             [][]byte `msgpack:"nodes"`
	OriginalRequest   []byte   `msgpack:"original_request"`
	OriginalSignature []byte   `msgpack:"original_signature"`
	Timestamp         int64    `msgpack:"timestamp"`
}

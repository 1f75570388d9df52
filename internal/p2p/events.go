package p2p

type EventType string

const (
	EventPeerAdded     EventType = "peer_added"
	EventClientAdded   EventType = "client_added"
	EventPeerRemoved   EventType = "peer_removed"
	EventClientRemoved EventType = "client_removed"
)

type Event struct {
	Type     EventType
	PeerID   string
	PeerAddr string
	PeerName string
	Err      string
}

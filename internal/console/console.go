// Package console is the interactive operator front end of the node binary.
package console

import (
	"bufio"
	"context"
	"io"
	"time"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
	"overlay-node/internal/p2p"
)

// Node is the node surface the console drives.
type Node interface {
	ID() dht.NodeID
	Name() string
	ListenAddr() netx.Endpoint
	PeerCount() int
	SnapshotPeers() []p2p.PeerSnapshot
	PeerDisplayName(id dht.NodeID) string
	Ping(ctx context.Context, id dht.NodeID) (time.Duration, error)
	FindNodes(ctx context.Context, target dht.NodeID) ([]dht.NodeID, error)
}

type Console struct {
	node    Node
	ui      Printer
	timeout time.Duration
}

func New(n Node, ui Printer) *Console {
	return &Console{node: n, ui: ui, timeout: 10 * time.Second}
}

// Run reads commands from in until /quit, EOF or ctx ends. Node events are
// printed as they arrive.
func (c *Console) Run(ctx context.Context, in io.Reader, events <-chan p2p.Event) error {
	PrintBanner(c.ui, c.node)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.printEvent(ev)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.handleCommand(ctx, line) {
				return nil
			}
		}
	}
}

func (c *Console) printEvent(ev p2p.Event) {
	name := formatName(ev.PeerName, ev.PeerID)
	switch ev.Type {
	case p2p.EventPeerAdded:
		c.ui.Printf("[NET] peer added: %s (%s)\n", name, ev.PeerAddr)
	case p2p.EventClientAdded:
		c.ui.Printf("[NET] client added: %s (%s)\n", name, ev.PeerAddr)
	case p2p.EventClientRemoved:
		c.ui.Printf("[NET] client endpoint dropped: %s %s(%s)%s\n", name, ansiDim, ev.Err, ansiReset)
	case p2p.EventPeerRemoved:
		c.ui.Printf("[NET] peer removed: %s %s(%s)%s\n", name, ansiDim, ev.Err, ansiReset)
	}
}

package console

import (
	"context"
	"strings"

	"overlay-node/internal/dht"
)

// handleCommand runs one input line and reports whether the console should exit.
func (c *Console) handleCommand(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		c.ui.Println("quitting...")
		return true

	case "/help":
		PrintCommands(c.ui)

	case "/me":
		c.ui.Println()
		c.ui.Println("== You ==")
		c.ui.Printf("  Name:       %s\n", c.node.Name())
		c.ui.Printf("  NodeID:     %s\n", c.node.ID().Hex())
		c.ui.Printf("  Listen on:  %s\n", c.node.ListenAddr())
		c.ui.Printf("  Peers:      %d\n", c.node.PeerCount())
		c.ui.Println()

	case "/peers":
		peers := c.node.SnapshotPeers()
		if len(peers) == 0 {
			c.ui.Println("routing table is empty")
			return false
		}
		c.ui.Println()
		c.ui.Printf("%-16s  %-10s  %s\n", "NAME", "NODEID", "ADDR")
		c.ui.Printf("%-16s  %-10s  %s\n", "----", "------", "----")
		for _, p := range peers {
			c.ui.Printf("%-16s  %-10s  %s\n", formatName(p.Name, p.NodeID), shortID(p.NodeID), p.Addr)
		}
		c.ui.Println()

	case "/ping":
		id, ok := c.parseID(arg, "/ping <node id>")
		if !ok {
			return false
		}
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		rtt, err := c.node.Ping(ctx, id)
		if err != nil {
			c.ui.Printf("ping %s failed: %v\n", c.node.PeerDisplayName(id), err)
			return false
		}
		c.ui.Printf("pong from %s in %s\n", c.node.PeerDisplayName(id), rtt)

	case "/find":
		id, ok := c.parseID(arg, "/find <node id>")
		if !ok {
			return false
		}
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		ids, err := c.node.FindNodes(ctx, id)
		if err != nil {
			c.ui.Printf("find %s failed: %v\n", id.Short(), err)
			return false
		}
		c.ui.Printf("%d ids close to %s:\n", len(ids), id.Short())
		for _, got := range ids {
			c.ui.Printf("  %s\n", got.Hex())
		}

	default:
		c.ui.Println("unknown command, try /help")
	}
	return false
}

func (c *Console) parseID(arg, usage string) (dht.NodeID, bool) {
	if arg == "" {
		c.ui.Printf("usage: %s\n", usage)
		return dht.NodeID{}, false
	}
	id, err := dht.ParseNodeIDHex(arg)
	if err != nil {
		c.ui.Printf("bad node id: %v\n", err)
		return dht.NodeID{}, false
	}
	return id, true
}

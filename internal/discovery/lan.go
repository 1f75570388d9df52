// Package discovery finds bootstrap candidates on the local network with a
// UDP broadcast beacon.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"overlay-node/internal/netx"
)

// LANConfig controls LAN discovery behavior.
type LANConfig struct {
	Port    int
	Timeout time.Duration
}

const (
	DefaultLANPort    = 42042
	DefaultLANTimeout = 1 * time.Second
)

// DefaultLANConfig returns the default settings for LAN discovery.
func DefaultLANConfig() LANConfig {
	return LANConfig{
		Port:    DefaultLANPort,
		Timeout: DefaultLANTimeout,
	}
}

const (
	beaconQuery = "query"
	beaconReply = "reply"
)

// beacon is the discovery message format.
type beacon struct {
	Type   string `msgpack:"type"`
	NodeID string `msgpack:"node_id"` // hex overlay id of the sender
	Listen string `msgpack:"listen"`  // overlay listen endpoint, e.g. ":3001" or "192.168.1.10:3001"
}

// StartLANResponder answers discovery queries with this node's listen endpoint
// until ctx ends.
func StartLANResponder(ctx context.Context, cfg LANConfig, nodeID string, listen func() netx.Endpoint, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			if network == "udp4" || network == "udp" {
				ctrlErr = c.Control(func(fd uintptr) {
					// Allow multiple nodes on one host to answer queries.
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				})
			}
			return ctrlErr
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("lan responder listen: %w", err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return errors.New("lan responder: not a UDPConn")
	}

	go func() {
		<-ctx.Done()
		_ = udpConn.Close()
	}()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}

			var msg beacon
			if err := msgpack.Unmarshal(buf[:n], &msg); err != nil {
				continue
			}
			if msg.Type != beaconQuery || msg.NodeID == nodeID {
				continue
			}

			resp := beacon{
				Type:   beaconReply,
				NodeID: nodeID,
				Listen: listenPortOnly(listen()),
			}
			data, err := msgpack.Marshal(&resp)
			if err != nil {
				continue
			}
			if _, err := udpConn.WriteToUDP(data, addr); err != nil {
				log.Debug("lan reply", zap.String("to", addr.String()), zap.Error(err))
			}
		}
	}()

	return nil
}

// DiscoverLANPeers broadcasts a query on the LAN and returns the listen
// endpoints reported by nodes that reply within cfg.Timeout.
//
// It does NOT connect itself; the caller can decide what to do with the list.
func DiscoverLANPeers(ctx context.Context, cfg LANConfig, nodeID string) ([]netx.Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("lan discover listen: %w", err)
	}
	defer conn.Close()

	query := beacon{Type: beaconQuery, NodeID: nodeID}
	data, err := msgpack.Marshal(&query)
	if err != nil {
		return nil, err
	}

	if rc, err := conn.SyscallConn(); err == nil {
		_ = rc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		})
	}

	targets := interfaceBroadcastAddrs(cfg.Port)
	if len(targets) == 0 {
		// fall back to limited broadcast
		targets = append(targets, &net.UDPAddr{IP: net.IPv4bcast, Port: cfg.Port})
	}
	// loopback reaches nodes on this host even without a broadcast route
	targets = append(targets, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.Port})

	sent := 0
	var sendErr error
	for _, dst := range targets {
		if _, err := conn.WriteToUDP(data, dst); err != nil {
			sendErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return nil, fmt.Errorf("lan discover broadcast: %w", sendErr)
	}

	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("lan discover set deadline: %w", err)
	}

	seen := make(map[string]struct{})
	out := make([]netx.Endpoint, 0, 4)
	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		var msg beacon
		if err := msgpack.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.Type != beaconReply || msg.NodeID == nodeID {
			continue
		}
		if _, dup := seen[msg.NodeID]; dup {
			continue
		}
		ep := normalizeListenFromReply(from, msg.Listen)
		if ep.Validate() != nil {
			continue
		}
		seen[msg.NodeID] = struct{}{}
		out = append(out, ep)
	}
	return out, nil
}

func interfaceBroadcastAddrs(port int) []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, 8)

	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}

	for _, it := range ifaces {
		// skip down and point-to-point interfaces
		if it.Flags&net.FlagUp == 0 || it.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		addrs, err := it.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP == nil {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || len(ipnet.Mask) != 4 {
				continue
			}
			// broadcast = ip | ^mask
			mask := ipnet.Mask
			b := net.IPv4(ip4[0]|^mask[0], ip4[1]|^mask[1], ip4[2]|^mask[2], ip4[3]|^mask[3])
			out = append(out, &net.UDPAddr{IP: b, Port: port})
		}
	}
	return out
}

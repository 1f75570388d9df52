package discovery

import (
	"net"
	"strings"

	"overlay-node/internal/netx"
)

// listenPortOnly strips an unspecified host so the receiver fills in the
// address it saw the reply come from.
func listenPortOnly(listen netx.Endpoint) string {
	host, port, err := net.SplitHostPort(string(listen))
	if err != nil || port == "" {
		return string(listen)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return ":" + port
	}
	return string(listen)
}

func normalizeListenFromReply(sender *net.UDPAddr, listen string) netx.Endpoint {
	// if listen is ":port", join with sender IP
	if strings.HasPrefix(listen, ":") && sender != nil && sender.IP != nil {
		return netx.Endpoint(net.JoinHostPort(sender.IP.String(), strings.TrimPrefix(listen, ":")))
	}
	return netx.Endpoint(listen)
}

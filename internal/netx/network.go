package netx

import (
	"errors"
	"io"
	"net"
	"strconv"
)

var ErrClosed = errors.New("netx: transport closed")

// Endpoint is a dialable host:port.
type Endpoint string

func (e Endpoint) IsZero() bool { return e == "" }

func (e Endpoint) String() string { return string(e) }

// Validate checks that e is a host:port pair with a usable port.
func (e Endpoint) Validate() error {
	host, port, err := net.SplitHostPort(string(e))
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("netx: endpoint has no host")
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return errors.New("netx: endpoint has invalid port")
	}
	return nil
}

func ParseEndpoint(s string) (Endpoint, error) {
	e := Endpoint(s)
	if err := e.Validate(); err != nil {
		return "", err
	}
	return e, nil
}

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Endpoint
}

type Network interface {
	Listen(bindAddr string) (listenAddr Endpoint, err error)
	Accept() (Conn, error)
	Dial(addr Endpoint) (Conn, error)
	Close() error
}

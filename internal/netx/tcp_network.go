package netx

import (
	"net"
	"sync"
	"time"
)

type tcpNetwork struct {
	dialTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// NewTCPNetwork returns the plain TCP dial/listen layer the transport runs on.
func NewTCPNetwork(dialTimeout time.Duration) Network {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &tcpNetwork{dialTimeout: dialTimeout}
}

func (t *tcpNetwork) Listen(bindAddr string) (Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", err
	}
	t.listener = l
	return Endpoint(l.Addr().String()), nil
}

func (t *tcpNetwork) Accept() (Conn, error) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Dial(addr Endpoint) (Conn, error) {
	c, err := net.DialTimeout("tcp", string(addr), t.dialTimeout)
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		err := t.listener.Close()
		t.listener = nil
		return err
	}
	return nil
}

type tcpConn struct {
	net.Conn
}

func (c *tcpConn) RemoteAddr() Endpoint {
	return Endpoint(c.Conn.RemoteAddr().String())
}

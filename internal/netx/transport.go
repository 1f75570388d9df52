package netx

import (
	"errors"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"overlay-node/internal/crypto/noiseconn"
)

// Transport delivers serialized frames. Send never blocks the caller on I/O;
// done is called exactly once, from the transport's own execution context,
// with whether the frame was written to the remote.
type Transport interface {
	Send(ep Endpoint, data []byte, done func(ok bool))
}

// FrameHandler receives every inbound frame. from is the remote address of
// the connection the frame arrived on, which is not necessarily its listen
// endpoint.
type FrameHandler func(from Endpoint, frame []byte)

// PeerVerifier checks the identity a remote proved during the handshake.
type PeerVerifier func(remoteStatic, payload []byte) error

type transportConfig struct {
	logger           *zap.Logger
	handshakeTimeout time.Duration
	payload          []byte
	verify           PeerVerifier
	maxFrameSize     int
}

type TransportOption func(*transportConfig)

func transportDefaults() TransportOption {
	return func(c *transportConfig) {
		c.logger = zap.NewNop()
		c.handshakeTimeout = 5 * time.Second
		c.verify = func([]byte, []byte) error { return nil }
		c.maxFrameSize = noiseconn.MaxPlaintext
	}
}

func WithTransportLogger(l *zap.Logger) TransportOption {
	return func(c *transportConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithHandshakeTimeout(d time.Duration) TransportOption {
	return func(c *transportConfig) {
		c.handshakeTimeout = d
	}
}

// WithHandshakePayload sets the bytes proven to every remote during the handshake.
func WithHandshakePayload(payload []byte) TransportOption {
	return func(c *transportConfig) {
		c.payload = payload
	}
}

func WithPeerVerifier(v PeerVerifier) TransportOption {
	return func(c *transportConfig) {
		if v != nil {
			c.verify = v
		}
	}
}

func WithMaxFrameSize(n int) TransportOption {
	return func(c *transportConfig) {
		if n > 0 && n <= noiseconn.MaxPlaintext {
			c.maxFrameSize = n
		}
	}
}

var _ Transport = (*ManagedTransport)(nil)

type deadlineConn interface {
	SetDeadline(t time.Time) error
}

// ManagedTransport is a Noise secured, connection caching Transport. Each
// remote endpoint gets one link actor which dials lazily, writes frames in
// order and reports completion.
type ManagedTransport struct {
	cfg        transportConfig
	network    Network
	staticPriv []byte
	staticPub  []byte
	handler    FrameHandler

	mu      sync.Mutex
	closed  bool
	local   Endpoint
	links   map[Endpoint]*link
	inbound map[*noiseconn.SecureConn]struct{}

	wg sync.WaitGroup
}

func NewManagedTransport(network Network, staticPriv, staticPub []byte, handler FrameHandler, opts ...TransportOption) *ManagedTransport {
	var cfg transportConfig
	transportDefaults()(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}
	if handler == nil {
		handler = func(Endpoint, []byte) {}
	}
	return &ManagedTransport{
		cfg:        cfg,
		network:    network,
		staticPriv: staticPriv,
		staticPub:  staticPub,
		handler:    handler,
		links:      make(map[Endpoint]*link),
		inbound:    make(map[*noiseconn.SecureConn]struct{}),
	}
}

// Listen binds the transport and starts accepting inbound connections.
func (t *ManagedTransport) Listen(bindAddr string) (Endpoint, error) {
	ep, err := t.network.Listen(bindAddr)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.local = ep
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()
	return ep, nil
}

func (t *ManagedTransport) LocalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *ManagedTransport) Send(ep Endpoint, data []byte, done func(ok bool)) {
	if done == nil {
		done = func(bool) {}
	}
	if len(data) > t.cfg.maxFrameSize {
		t.cfg.logger.Warn("frame too large", zap.String("to", string(ep)), zap.Int("size", len(data)))
		go done(false)
		return
	}
	l := t.link(ep)
	if l == nil {
		go done(false)
		return
	}
	l.Act(nil, func() {
		done(l._write(data))
	})
}

func (t *ManagedTransport) link(ep Endpoint) *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	l := t.links[ep]
	if l == nil {
		l = &link{t: t, ep: ep}
		t.links[ep] = l
	}
	return l
}

// Close stops accepting, tears down every connection and waits for the read
// loops to exit.
func (t *ManagedTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	inbound := make([]*noiseconn.SecureConn, 0, len(t.inbound))
	for c := range t.inbound {
		inbound = append(inbound, c)
	}
	t.mu.Unlock()

	err := t.network.Close()
	for _, l := range links {
		phony.Block(l, func() {
			if l.conn != nil {
				err = multierr.Append(err, l.conn.Close())
				l.conn = nil
			}
		})
	}
	for _, c := range inbound {
		err = multierr.Append(err, c.Close())
	}
	t.wg.Wait()
	return err
}

func (t *ManagedTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *ManagedTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.network.Accept()
		if err != nil {
			if !t.isClosed() {
				t.cfg.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.wg.Add(1)
		t.mu.Unlock()
		go t.serveInbound(conn)
	}
}

func (t *ManagedTransport) serveInbound(raw Conn) {
	defer t.wg.Done()

	sc, err := t.handshake(raw, false)
	if err != nil {
		t.cfg.logger.Debug("inbound handshake failed", zap.String("from", string(raw.RemoteAddr())), zap.Error(err))
		_ = raw.Close()
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sc.Close()
		return
	}
	t.inbound[sc] = struct{}{}
	t.mu.Unlock()

	t.readLoop(raw.RemoteAddr(), sc)

	t.mu.Lock()
	delete(t.inbound, sc)
	t.mu.Unlock()
	_ = sc.Close()
}

func (t *ManagedTransport) handshake(raw Conn, initiator bool) (*noiseconn.SecureConn, error) {
	if dc, ok := raw.(deadlineConn); ok && t.cfg.handshakeTimeout > 0 {
		_ = dc.SetDeadline(time.Now().Add(t.cfg.handshakeTimeout))
		defer func() { _ = dc.SetDeadline(time.Time{}) }()
	}

	var hs *noiseconn.HandshakeResult
	var err error
	if initiator {
		hs, err = noiseconn.NewSecureClient(raw, t.staticPriv, t.staticPub, t.cfg.payload)
	} else {
		hs, err = noiseconn.NewSecureServer(raw, t.staticPriv, t.staticPub, t.cfg.payload)
	}
	if err != nil {
		return nil, err
	}
	if err := t.cfg.verify(hs.RemoteStatic, hs.RemotePayload); err != nil {
		_ = hs.Conn.Close()
		return nil, err
	}
	return hs.Conn, nil
}

func (t *ManagedTransport) readLoop(from Endpoint, sc *noiseconn.SecureConn) {
	for {
		frame, err := sc.ReadFrame()
		if err != nil {
			return
		}
		t.handler(from, frame)
	}
}

type link struct {
	phony.Inbox
	t    *ManagedTransport
	ep   Endpoint
	conn *noiseconn.SecureConn
}

var errLinkClosed = errors.New("netx: link closed")

func (l *link) _dial() error {
	if l.t.isClosed() {
		return errLinkClosed
	}
	raw, err := l.t.network.Dial(l.ep)
	if err != nil {
		return err
	}
	sc, err := l.t.handshake(raw, true)
	if err != nil {
		_ = raw.Close()
		return err
	}

	l.t.mu.Lock()
	if l.t.closed {
		l.t.mu.Unlock()
		_ = sc.Close()
		return errLinkClosed
	}
	l.t.wg.Add(1)
	l.t.mu.Unlock()

	l.conn = sc
	go func() {
		defer l.t.wg.Done()
		l.t.readLoop(l.ep, sc)
		l.Act(nil, func() {
			if l.conn == sc {
				_ = sc.Close()
				l.conn = nil
			}
		})
	}()
	return nil
}

// _write runs inside the link actor. A write on a cached connection that
// fails is retried once on a fresh connection.
func (l *link) _write(data []byte) bool {
	for attempt := 0; attempt < 2; attempt++ {
		if l.conn == nil {
			if err := l._dial(); err != nil {
				l.t.cfg.logger.Debug("dial failed", zap.String("to", string(l.ep)), zap.Error(err))
				return false
			}
		}
		err := l.conn.WriteFrame(data)
		if err == nil {
			return true
		}
		l.t.cfg.logger.Debug("write failed", zap.String("to", string(l.ep)), zap.Error(err))
		_ = l.conn.Close()
		l.conn = nil
		if errors.Is(err, noiseconn.ErrFrameTooLarge) {
			return false
		}
	}
	return false
}

package dispatch

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/identity"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

// RoutingTable is what the dispatcher needs from the overlay routing table.
type RoutingTable interface {
	Size() int
	GetClosestNode(target dht.NodeID, rank int, exclude ...dht.NodeID) (dht.NodeInfo, bool)
	Keys() identity.Keys
}

// ClientTable is what the dispatcher needs from the non-routing table.
type ClientTable interface {
	GetNodesInfo(id dht.NodeID) []dht.NodeInfo
}

// DoneFunc receives the terminal outcome of one delivery chain. peer is the
// node the last attempt went to; it is zero for direct endpoint sends.
type DoneFunc func(peer dht.NodeID, err error)

// Dispatcher decides where an outbound envelope goes next, signs it and hands
// it to the transport.
type Dispatcher struct {
	cfg       config
	rt        RoutingTable
	clients   ClientTable
	transport netx.Transport
}

func New(rt RoutingTable, clients ClientTable, transport netx.Transport, opts ...Option) *Dispatcher {
	var cfg config
	configDefaults()(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		cfg:       cfg,
		rt:        rt,
		clients:   clients,
		transport: transport,
	}
}

// Send signs env and delivers it. A non-zero direct endpoint pins delivery to
// that endpoint. Send returns once the first transport operation is issued;
// done is then called once per delivery chain. A non-nil error means no
// transport operation happened and done will not be called.
func (d *Dispatcher) Send(ctx context.Context, env proto.Envelope, direct netx.Endpoint, done DoneFunc) error {
	if done == nil {
		done = func(dht.NodeID, error) {}
	}
	keys := d.rt.Keys()
	self := dht.NodeID(keys.ID)

	sig, err := keys.Sign(env.Data)
	if err != nil {
		d.cfg.logger.Error("refusing to send unsigned message", d.fields(self, &env, "-")...)
		return fmt.Errorf("%w: %v", ErrSign, err)
	}
	env.Signature = sig

	r := d.classify(&env, direct)
	switch r.kind {
	case routeDirect:
		return d.sendOnce(ctx, r.kind, env, dht.NodeID{}, r.endpoint, done)

	case routeClient:
		d.cfg.logger.Debug("destination is a direct client", append(d.fields(self, &env, r.target.Short()), zap.Int("endpoints", len(r.clients)))...)
		var firstErr error
		issued := false
		for _, c := range r.clients {
			if err := d.sendOnce(ctx, r.kind, env, c.ID, c.Endpoint, done); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			issued = true
		}
		if !issued {
			return firstErr
		}
		return nil

	case routeOverlay:
		return d.forward(ctx, env, r.target, done)

	case routeRelayResponse:
		// so that the relay sees itself as the destination
		env.DestinationID = append([]byte(nil), r.peer[:]...)
		return d.sendOnce(ctx, r.kind, env, r.peer, r.endpoint, done)

	case routeNoRoute:
		d.cfg.logger.Error("no endpoint to send to, aborting send",
			append(d.fields(self, &env, "-"), zap.String("source", shortID(env.SourceID)))...)
		d.cfg.metrics.ObserveSend(r.kind.String(), false)
		return ErrNoRoute

	default:
		d.cfg.logger.Error("envelope matches no delivery path", d.fields(self, &env, "-")...)
		d.cfg.metrics.ObserveSend(r.kind.String(), false)
		return ErrInvalidEnvelope
	}
}

// sendOnce hands env to the transport exactly once; failures are reported but
// never re-driven.
func (d *Dispatcher) sendOnce(ctx context.Context, kind routeKind, env proto.Envelope, peer dht.NodeID, ep netx.Endpoint, done DoneFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("dispatch: encode envelope: %w", err)
	}

	self := dht.NodeID(d.rt.Keys().ID)
	to := string(ep)
	if !peer.IsZero() {
		to = peer.Short()
	}
	d.cfg.logger.Debug("transport send", append(d.fields(self, &env, to), zap.String("path", kind.String()), zap.String("endpoint", string(ep)))...)

	d.transport.Send(ep, frame, func(ok bool) {
		d.cfg.metrics.ObserveSend(kind.String(), ok)
		if ok {
			d.cfg.logger.Info("message sent", d.fields(self, &env, to)...)
			done(peer, nil)
			return
		}
		d.cfg.logger.Error("failed to send message", d.fields(self, &env, to)...)
		done(peer, &SendError{Path: kind.String(), Endpoint: ep})
	})
	return nil
}

func (d *Dispatcher) fields(self dht.NodeID, env *proto.Envelope, to string) []zap.Field {
	return []zap.Field{
		zap.Stringer("type", env.Type),
		zap.String("to", to),
		zap.String("self", self.Short()),
		zap.String("destination", shortID(env.DestinationID)),
	}
}

func shortID(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	if len(b) > 4 {
		b = b[:4]
	}
	return hex.EncodeToString(b)
}

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"overlay-node/internal/dht"
	"overlay-node/internal/proto"
)

// forward starts a forwarding chain toward target. The first attempt goes to
// the current rank 0 peer; each failure re-resolves rank 0 after a backoff
// delay until an attempt succeeds, the policy stops or ctx ends.
func (d *Dispatcher) forward(ctx context.Context, env proto.Envelope, target dht.NodeID, done DoneFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	peer, ok := d.rt.GetClosestNode(target, 0)
	if !ok {
		d.cfg.metrics.ObserveSend(routeNoRoute.String(), false)
		return ErrNoRoute
	}
	frame, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("dispatch: encode envelope: %w", err)
	}

	c := &chain{
		d:      d,
		ctx:    ctx,
		id:     uuid.NewString(),
		env:    env,
		frame:  frame,
		target: target,
		policy: d.retryPolicy(ctx),
		done:   done,
		log:    d.cfg.logger.With(zap.String("self", dht.NodeID(d.rt.Keys().ID).Short())),
	}
	c.attempt(peer)
	return nil
}

func (d *Dispatcher) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.retryInterval
	exp.MaxInterval = d.cfg.maxInterval
	exp.MaxElapsedTime = d.cfg.retryDeadline
	exp.Reset()

	retries := uint64(0)
	if d.cfg.maxAttempts > 1 {
		retries = uint64(d.cfg.maxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// chain is one forwarding attempt sequence. Attempts are strictly sequential:
// the next one is only issued from the completion of the previous.
type chain struct {
	d      *Dispatcher
	ctx    context.Context
	id     string
	env    proto.Envelope
	frame  []byte
	target dht.NodeID
	policy backoff.BackOff
	done   DoneFunc
	log    *zap.Logger

	mu       sync.Mutex
	peer     dht.NodeInfo
	tried    []dht.NodeID
	attempts int
}

func (c *chain) attempt(peer dht.NodeInfo) {
	c.mu.Lock()
	c.peer = peer
	c.attempts++
	c.tried = append(c.tried, peer.ID)
	n := c.attempts
	c.mu.Unlock()

	c.log.Debug("forwarding",
		zap.String("chain", c.id),
		zap.Int("attempt", n),
		zap.Stringer("type", c.env.Type),
		zap.String("to", peer.ID.Short()),
		zap.String("destination", c.target.Short()),
		zap.String("endpoint", string(peer.Endpoint)),
	)
	c.d.transport.Send(peer.Endpoint, c.frame, c.onComplete)
}

func (c *chain) onComplete(ok bool) {
	c.mu.Lock()
	peer, attempts := c.peer, c.attempts
	c.mu.Unlock()

	c.d.cfg.metrics.ObserveSend(routeOverlay.String(), ok)
	if ok {
		c.log.Info("message sent",
			zap.String("chain", c.id),
			zap.Stringer("type", c.env.Type),
			zap.String("to", peer.ID.Short()),
			zap.String("destination", c.target.Short()),
			zap.Int("attempts", attempts),
		)
		c.finish(peer.ID, attempts, nil)
		return
	}

	next := c.policy.NextBackOff()
	if next == backoff.Stop {
		err := ErrRetriesExhausted
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ErrRetriesExhausted, ctxErr)
		}
		c.log.Error("failed to forward message",
			zap.String("chain", c.id),
			zap.Stringer("type", c.env.Type),
			zap.String("destination", c.target.Short()),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		c.finish(peer.ID, attempts, err)
		return
	}

	c.d.cfg.metrics.IncRetry()
	if next <= 0 {
		go c.retry()
		return
	}
	time.AfterFunc(next, c.retry)
}

// retry re-resolves the closest peer; the table may have changed since the
// previous attempt.
func (c *chain) retry() {
	c.mu.Lock()
	peer, attempts := c.peer, c.attempts
	var exclude []dht.NodeID
	if c.d.cfg.excludeTried {
		exclude = append(exclude, c.tried...)
	}
	c.mu.Unlock()

	if err := c.ctx.Err(); err != nil {
		c.finish(peer.ID, attempts, fmt.Errorf("%w: %v", ErrRetriesExhausted, err))
		return
	}
	next, ok := c.d.rt.GetClosestNode(c.target, 0, exclude...)
	if !ok {
		c.log.Error("no candidate left to forward to",
			zap.String("chain", c.id),
			zap.Stringer("type", c.env.Type),
			zap.String("destination", c.target.Short()),
			zap.Int("attempts", attempts),
		)
		c.finish(peer.ID, attempts, ErrNoRoute)
		return
	}
	c.log.Debug("retrying forward",
		zap.String("chain", c.id),
		zap.String("failed", peer.ID.Short()),
		zap.String("next", next.ID.Short()),
	)
	c.attempt(next)
}

func (c *chain) finish(peer dht.NodeID, attempts int, err error) {
	c.d.cfg.metrics.ObserveChain(attempts, err == nil)
	c.done(peer, err)
}

package service

import (
	"bytes"
	"sync"

	"overlay-node/internal/dht"
)

type rpcResult struct {
	from  dht.NodeID
	nodes []dht.NodeID
	err   error
}

type waiter struct {
	ch      chan rpcResult
	request []byte // payload sent under the rpc id
}

// pending correlates outstanding requests with their responses by rpc id and
// by the request payload the responder echoes back.
type pending struct {
	mu      sync.Mutex
	waiters map[string]waiter
}

func newPending() *pending {
	return &pending{waiters: make(map[string]waiter)}
}

func (p *pending) register(id string, request []byte) <-chan rpcResult {
	ch := make(chan rpcResult, 1)
	p.mu.Lock()
	p.waiters[id] = waiter{ch: ch, request: request}
	p.mu.Unlock()
	return ch
}

// answer resolves id with r when echoed is the payload we sent under id.
// Intermediate hops re-sign what they forward, so the echoed signature is
// not ours; the echoed payload is.
func (p *pending) answer(id string, echoed []byte, r rpcResult) bool {
	p.mu.Lock()
	w, ok := p.waiters[id]
	if !ok || !bytes.Equal(w.request, echoed) {
		p.mu.Unlock()
		return false
	}
	delete(p.waiters, id)
	p.mu.Unlock()
	w.ch <- r
	return true
}

// fail resolves id with err. It reports false when nobody is waiting.
func (p *pending) fail(id string, err error) bool {
	p.mu.Lock()
	w, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- rpcResult{err: err}
	return true
}

func (p *pending) cancel(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

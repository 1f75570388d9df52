package dht

import (
	"sync"
	"time"

	"overlay-node/internal/netx"
)

// NonRoutingTable tracks directly connected clients that take no part in
// overlay routing. One client id may be attached through several endpoints.
type NonRoutingTable struct {
	self       NodeID
	maxClients int

	mu      sync.RWMutex
	clients map[NodeID][]NodeInfo
}

func NewNonRoutingTable(self NodeID, maxClients int) *NonRoutingTable {
	if maxClients <= 0 {
		maxClients = 64
	}
	return &NonRoutingTable{
		self:       self,
		maxClients: maxClients,
		clients:    make(map[NodeID][]NodeInfo),
	}
}

// Add records ni. It returns false for self, an invalid endpoint, or when the
// table is full and ni.ID is not already tracked.
func (t *NonRoutingTable) Add(ni NodeInfo) bool {
	if ni.ID == t.self || ni.ID.IsZero() || ni.Endpoint.Validate() != nil {
		return false
	}
	ni.LastSeen = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.clients[ni.ID]
	if !ok && len(t.clients) >= t.maxClients {
		return false
	}
	for i := range existing {
		if existing[i].Endpoint == ni.Endpoint {
			existing[i] = ni
			return true
		}
	}
	t.clients[ni.ID] = append(existing, ni)
	return true
}

func (t *NonRoutingTable) Remove(id NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[id]; !ok {
		return false
	}
	delete(t.clients, id)
	return true
}

func (t *NonRoutingTable) RemoveEndpoint(id NodeID, ep netx.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.clients[id]
	for i := range entries {
		if entries[i].Endpoint != ep {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(t.clients, id)
		} else {
			t.clients[id] = entries
		}
		return true
	}
	return false
}

// GetNodesInfo returns every entry registered under id. An empty result means
// id is not a known client.
func (t *NonRoutingTable) GetNodesInfo(id NodeID) []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.clients[id]
	if len(entries) == 0 {
		return nil
	}
	return append([]NodeInfo(nil), entries...)
}

func (t *NonRoutingTable) Contains(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.clients[id]
	return ok
}

// Size returns the number of distinct client ids.
func (t *NonRoutingTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

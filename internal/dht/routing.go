package dht

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"overlay-node/internal/identity"
	"overlay-node/internal/netx"
)

var ErrSelf = errors.New("dht: refusing to track own id")

type NodeInfo struct {
	ID       NodeID
	Endpoint netx.Endpoint
	Name     string
	LastSeen time.Time
}

type bucket struct {
	nodes []NodeInfo // LRU: index 0 = most recently seen; end = least
	repl  []NodeInfo // replacement cache (bounded)
}

type DiversityPolicy struct {
	MaxPerSubnet int
}

// RoutingTable holds the overlay peers this node forwards through. Reads are
// safe from any goroutine, including transport completion callbacks, while
// maintenance mutates the table.
type RoutingTable struct {
	keys identity.Keys
	self NodeID
	k    int

	mu      sync.RWMutex
	buckets [256]bucket
	size    int
	maxSize int

	diversity DiversityPolicy
	metrics   Metrics
}

func NewRoutingTable(keys identity.Keys, k int) *RoutingTable {
	if k <= 0 {
		k = 20
	}
	return &RoutingTable{
		keys:      keys,
		self:      NodeID(keys.ID),
		k:         k,
		maxSize:   k * 256,
		diversity: DiversityPolicy{MaxPerSubnet: 2},
		metrics:   NoopMetrics{},
	}
}

// Keys returns this node's credentials.
func (rt *RoutingTable) Keys() identity.Keys { return rt.keys }

func (rt *RoutingTable) Self() NodeID { return rt.self }

// ClosestNodesSize is the number of peers a lookup expects back; a table
// smaller than this is a "small network".
func (rt *RoutingTable) ClosestNodesSize() int { return rt.k }

func (rt *RoutingTable) SetMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	rt.mu.Lock()
	rt.metrics = m
	rt.mu.Unlock()
}

func (rt *RoutingTable) SetMaxSize(n int) {
	rt.mu.Lock()
	if n > 0 {
		rt.maxSize = n
	}
	rt.mu.Unlock()
}

func (rt *RoutingTable) SetDiversityLimit(maxPerSubnet int) {
	rt.mu.Lock()
	rt.diversity.MaxPerSubnet = maxPerSubnet
	rt.mu.Unlock()
}

// Upsert is a "no-network" upsert: it maintains LRU ordering.
// If a bucket is full, it DOES NOT evict; the new node goes to the
// replacement cache instead.
func (rt *RoutingTable) Upsert(ni NodeInfo) (bool, error) {
	return rt.upsertLRU(ni, time.Now(), nil)
}

// PingFunc returns true if the node is alive.
type PingFunc func(NodeInfo) bool

// UpsertWithEviction implements Kademlia bucket semantics:
// - If node exists: move-to-front
// - Else if space: insert at front
// - Else ping LRU tail: if dead -> evict tail, insert new; if alive -> keep tail, add new to replacement cache.
func (rt *RoutingTable) UpsertWithEviction(ni NodeInfo, ping PingFunc) (bool, error) {
	return rt.upsertLRU(ni, time.Now(), ping)
}

func (rt *RoutingTable) upsertLRU(ni NodeInfo, now time.Time, ping PingFunc) (bool, error) {
	if ni.ID == rt.self {
		return false, ErrSelf
	}
	if err := ni.Endpoint.Validate(); err != nil {
		return false, fmt.Errorf("dht: contact %s: %w", ni.ID, err)
	}
	bi := BucketIndex(rt.self, ni.ID)
	ni.LastSeen = now

	rt.mu.Lock()
	b := rt.buckets[bi]

	for i := range b.nodes {
		if b.nodes[i].ID == ni.ID {
			if ni.Name == "" {
				ni.Name = b.nodes[i].Name
			}
			copy(b.nodes[i:], b.nodes[i+1:])
			b.nodes = b.nodes[:len(b.nodes)-1]
			b.nodes = append([]NodeInfo{ni}, b.nodes...)
			rt.buckets[bi] = b
			rt.mu.Unlock()
			return true, nil
		}
	}

	if !rt.diversityAllows(b, ni) || rt.size >= rt.maxSize {
		rt.mu.Unlock()
		return false, nil
	}

	// Space available => insert at front
	if len(b.nodes) < rt.k {
		b = dropReplacement(b, ni.ID)
		b.nodes = append([]NodeInfo{ni}, b.nodes...)
		rt.buckets[bi] = b
		rt.size++
		rt.observeLocked(bi)
		rt.mu.Unlock()
		return true, nil
	}

	if ping == nil {
		rt.buckets[bi] = rt.addReplacement(b, ni)
		rt.mu.Unlock()
		return false, nil
	}

	// Ping LRU tail outside lock to avoid blocking the entire table.
	tail := b.nodes[len(b.nodes)-1]
	rt.mu.Unlock()

	alive := ping(tail)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	b = rt.buckets[bi]

	// The bucket may have changed while we pinged.
	for i := range b.nodes {
		if b.nodes[i].ID == ni.ID {
			return true, nil
		}
	}
	if !rt.diversityAllows(b, ni) {
		return false, nil
	}

	if len(b.nodes) < rt.k {
		if rt.size >= rt.maxSize {
			return false, nil
		}
		b = dropReplacement(b, ni.ID)
		b.nodes = append([]NodeInfo{ni}, b.nodes...)
		rt.buckets[bi] = b
		rt.size++
		rt.observeLocked(bi)
		return true, nil
	}

	// Re-identify tail (could have changed)
	curTail := b.nodes[len(b.nodes)-1]
	if alive || curTail.ID != tail.ID {
		rt.buckets[bi] = rt.addReplacement(b, ni)
		return false, nil
	}

	b = dropReplacement(b, ni.ID)
	b.nodes = b.nodes[:len(b.nodes)-1]
	b.nodes = append([]NodeInfo{ni}, b.nodes...)
	rt.buckets[bi] = b
	rt.observeLocked(bi)
	return true, nil
}

func (rt *RoutingTable) diversityAllows(b bucket, ni NodeInfo) bool {
	maxPerSubnet := rt.diversity.MaxPerSubnet
	if maxPerSubnet <= 0 {
		return true
	}
	sk := subnetKey(string(ni.Endpoint))
	if sk == "" {
		return true
	}
	cnt := 0
	for i := range b.nodes {
		if subnetKey(string(b.nodes[i].Endpoint)) == sk {
			cnt++
		}
	}
	return cnt < maxPerSubnet
}

func (rt *RoutingTable) addReplacement(b bucket, ni NodeInfo) bucket {
	const replMax = 10
	for i := range b.repl {
		if b.repl[i].ID == ni.ID {
			b.repl[i] = ni
			return b
		}
	}
	b.repl = append([]NodeInfo{ni}, b.repl...)
	if len(b.repl) > replMax {
		b.repl = b.repl[:replMax]
	}
	return b
}

// dropReplacement removes id from the replacement cache of b.
func dropReplacement(b bucket, id NodeID) bucket {
	for i := range b.repl {
		if b.repl[i].ID == id {
			b.repl = append(b.repl[:i], b.repl[i+1:]...)
			break
		}
	}
	return b
}

// Remove drops id from the table, promoting the freshest replacement of its
// bucket if there is one.
func (rt *RoutingTable) Remove(id NodeID) bool {
	bi := BucketIndex(rt.self, id)
	if bi < 0 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := dropReplacement(rt.buckets[bi], id)
	for i := range b.nodes {
		if b.nodes[i].ID != id {
			continue
		}
		b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
		rt.size--
		if len(b.repl) > 0 {
			b.nodes = append(b.nodes, b.repl[0])
			b.repl = b.repl[1:]
			rt.size++
		}
		rt.buckets[bi] = b
		rt.observeLocked(bi)
		return true
	}
	rt.buckets[bi] = b
	return false
}

func (rt *RoutingTable) observeLocked(bi int) {
	rt.metrics.SetRoutingTableSize(rt.size)
	rt.metrics.SetBucketOccupancy(bi, len(rt.buckets[bi].nodes))
}

// CheckNode reports whether the table already holds candidate or would accept
// it right now. It does not modify the table.
func (rt *RoutingTable) CheckNode(candidate NodeInfo) bool {
	if candidate.ID == rt.self || candidate.ID.IsZero() {
		return false
	}
	bi := BucketIndex(rt.self, candidate.ID)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	b := rt.buckets[bi]
	for i := range b.nodes {
		if b.nodes[i].ID == candidate.ID {
			return true
		}
	}
	if rt.size >= rt.maxSize || len(b.nodes) >= rt.k {
		return false
	}
	return rt.diversityAllows(b, candidate)
}

func (rt *RoutingTable) Contains(id NodeID) bool {
	bi := BucketIndex(rt.self, id)
	if bi < 0 {
		return false
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, ni := range rt.buckets[bi].nodes {
		if ni.ID == id {
			return true
		}
	}
	return false
}

func (rt *RoutingTable) Get(id NodeID) (NodeInfo, bool) {
	bi := BucketIndex(rt.self, id)
	if bi < 0 {
		return NodeInfo{}, false
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, ni := range rt.buckets[bi].nodes {
		if ni.ID == id {
			return ni, true
		}
	}
	return NodeInfo{}, false
}

func (rt *RoutingTable) snapshotLocked() []NodeInfo {
	all := make([]NodeInfo, 0, rt.size)
	for i := 0; i < 256; i++ {
		all = append(all, rt.buckets[i].nodes...)
	}
	return all
}

// Snapshot returns a copy of every tracked peer.
func (rt *RoutingTable) Snapshot() []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.snapshotLocked()
}

// GetClosestNode returns the peer at rank (0 = nearest) by XOR distance to
// target, ignoring any id in exclude. ok is false when rank is past the end.
func (rt *RoutingTable) GetClosestNode(target NodeID, rank int, exclude ...NodeID) (NodeInfo, bool) {
	if rank < 0 {
		return NodeInfo{}, false
	}

	rt.mu.RLock()
	all := rt.snapshotLocked()
	rt.mu.RUnlock()

	if len(exclude) > 0 {
		kept := all[:0]
		for _, ni := range all {
			if !containsID(exclude, ni.ID) {
				kept = append(kept, ni)
			}
		}
		all = kept
	}
	if rank >= len(all) {
		return NodeInfo{}, false
	}
	SortByDistance(all, target)
	return all[rank], true
}

// GetClosestNodes returns up to n identifiers, nearest first.
func (rt *RoutingTable) GetClosestNodes(target NodeID, n int) []NodeID {
	closest := rt.Closest(target, n)
	out := make([]NodeID, 0, len(closest))
	for _, ni := range closest {
		out = append(out, ni.ID)
	}
	return out
}

func (rt *RoutingTable) Closest(target NodeID, n int) []NodeInfo {
	if n <= 0 {
		n = rt.k
	}

	rt.mu.RLock()
	all := rt.snapshotLocked()
	rt.mu.RUnlock()

	SortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// SortByDistance sorts NodeInfo slice by XOR distance to target.
func SortByDistance(nodes []NodeInfo, target NodeID) {
	sort.Slice(nodes, func(i, j int) bool {
		return Closer(target, nodes[i].ID, nodes[j].ID)
	})
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func subnetKey(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "dns:" + strings.ToLower(host)
	}

	if ip.IsLoopback() {
		if port != "" {
			return "loopback:" + host + ":" + port
		}
		return "loopback:" + host
	}

	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("v4:%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}

	ip = ip.To16()
	if ip == nil {
		return "ip:unknown"
	}

	pfx := make(net.IP, 16)
	copy(pfx, ip)
	for i := 8; i < 16; i++ {
		pfx[i] = 0
	}
	return "v6:" + pfx.String() + "/64"
}

// Size returns total number of nodes in the routing table.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.size
}

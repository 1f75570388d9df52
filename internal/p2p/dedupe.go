package p2p

import (
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"overlay-node/internal/proto"
)

type seenCache struct {
	mu    sync.Mutex
	items *expirable.LRU[string, struct{}]
}

func newSeenCache(size int, ttl time.Duration) *seenCache {
	return &seenCache{items: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen returns true if id was seen recently. If not, it records it and returns false.
func (s *seenCache) Seen(id string) bool {
	if id == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items.Peek(id); ok {
		return true
	}
	s.items.Add(id, struct{}{})
	return false
}

// messageKey identifies an envelope independently of the hop that signed it.
func messageKey(env proto.Envelope) string {
	kind := "q"
	if env.Response {
		kind = "r"
	}
	return hex.EncodeToString(env.SourceID) + "/" +
		hex.EncodeToString(env.DestinationID) + "/" +
		strconv.Itoa(int(env.Type)) + kind + "/" +
		strconv.FormatUint(xxhash.Sum64(env.Data), 16)
}

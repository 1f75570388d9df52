package dht

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const NodeIDBytes = 32

// NodeID names a peer, or transiently a message destination, in the overlay.
// Identifiers are only ever compared through their XOR distance.
type NodeID [NodeIDBytes]byte

// NodeIDFromBytes copies b into a NodeID. b must be exactly NodeIDBytes long.
func NodeIDFromBytes(b []byte) NodeID {
	if len(b) != NodeIDBytes {
		panic(fmt.Sprintf("dht: node id must be %d bytes, got %d", NodeIDBytes, len(b)))
	}
	var id NodeID
	copy(id[:], b)
	return id
}

func ParseNodeIDHex(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != NodeIDBytes {
		return id, fmt.Errorf("node id must be %d bytes, got %d", NodeIDBytes, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

func (id NodeID) Hex() string { return hex.EncodeToString(id[:]) }

// Short is the log form of an id.
func (id NodeID) Short() string { return hex.EncodeToString(id[:4]) }

func (id NodeID) String() string { return id.Short() }

func (id NodeID) IsZero() bool { return id == NodeID{} }

// XOR distance: d = a ^ b
func Xor(a, b NodeID) (out NodeID) {
	for i := 0; i < NodeIDBytes; i++ {
		out[i] = a[i] ^ b[i]
	}
	return
}

// DistanceLess reports whether distance da is smaller than db.
func DistanceLess(da, db NodeID) bool {
	return bytes.Compare(da[:], db[:]) < 0
}

// Closer reports whether a is strictly closer to target than b.
func Closer(target, a, b NodeID) bool {
	return DistanceLess(Xor(a, target), Xor(b, target))
}

// BucketIndex returns [0..255] for 256-bit IDs.
// It’s the index of the first differing bit (MSB-first).
// If identical, returns -1.
func BucketIndex(self, other NodeID) int {
	d := Xor(self, other)
	for byteIdx := 0; byteIdx < NodeIDBytes; byteIdx++ {
		x := d[byteIdx]
		if x == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if x&(1<<(7-bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return -1
}

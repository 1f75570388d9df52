// Package peersbolt is the node's contact book: every peer that made it into
// the routing table, kept across restarts as bootstrap candidates.
package peersbolt

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
)

const (
	bMeta   = "meta"
	bByID   = "contacts_by_id"
	bBySeen = "contacts_by_seen"
	kCount  = "count"

	defaultTO = 2 * time.Second
)

var ErrNotFound = errors.New("peersbolt: contact not found")

type record struct {
	Endpoint    string `msgpack:"endpoint"`
	Name        string `msgpack:"name,omitempty"`
	LastSeen    int64  `msgpack:"last_seen"`
	LastSuccess int64  `msgpack:"last_success"`
	LastFailure int64  `msgpack:"last_failure,omitempty"`
	Failures    int    `msgpack:"failures"`
}

// Store is a BoltDB-backed contact book.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) a BoltDB database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bMeta, bByID, bBySeen} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put records a successful contact with ni. It reports whether the contact
// was new.
func (s *Store) Put(ni dht.NodeInfo) (bool, error) {
	if ni.ID.IsZero() {
		return false, errors.New("missing node id")
	}
	if err := ni.Endpoint.Validate(); err != nil {
		return false, err
	}
	now := s.now().UnixNano()

	var inserted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		bySeen := tx.Bucket([]byte(bBySeen))

		var rec record
		if raw := byID.Get(ni.ID[:]); raw != nil {
			if err := msgpack.Unmarshal(raw, &rec); err == nil {
				if err := bySeen.Delete(seenKey(rec.LastSeen, ni.ID)); err != nil {
					return err
				}
			}
		} else {
			inserted = true
		}

		rec.Endpoint = string(ni.Endpoint)
		if ni.Name != "" {
			rec.Name = ni.Name
		}
		rec.LastSeen = now
		rec.LastSuccess = now
		rec.Failures = 0
		if err := putRecord(byID, bySeen, ni.ID, rec); err != nil {
			return err
		}
		if inserted {
			return bumpCount(tx, 1)
		}
		return nil
	})
	return inserted, err
}

// NoteFailure counts a failed attempt to reach id. The contact keeps its
// place in last-seen order.
func (s *Store) NoteFailure(id dht.NodeID) error {
	now := s.now().UnixNano()
	return s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		raw := byID.Get(id[:])
		if raw == nil {
			return ErrNotFound
		}
		var rec record
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Failures++
		rec.LastFailure = now
		val, err := msgpack.Marshal(&rec)
		if err != nil {
			return err
		}
		return byID.Put(id[:], val)
	})
}

func (s *Store) Remove(id dht.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		raw := byID.Get(id[:])
		if raw == nil {
			return nil
		}
		var rec record
		if err := msgpack.Unmarshal(raw, &rec); err == nil {
			if err := tx.Bucket([]byte(bBySeen)).Delete(seenKey(rec.LastSeen, id)); err != nil {
				return err
			}
		}
		if err := byID.Delete(id[:]); err != nil {
			return err
		}
		return bumpCount(tx, -1)
	})
}

func (s *Store) Get(id dht.NodeID) (dht.NodeInfo, error) {
	var out dht.NodeInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bByID)).Get(id[:])
		if raw == nil {
			return ErrNotFound
		}
		var rec record
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out = rec.info(id)
		return nil
	})
	return out, err
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = int(decodeI64(tx.Bucket([]byte(bMeta)).Get([]byte(kCount))))
		return nil
	})
	return n, err
}

// Candidates returns up to limit contacts, most recently seen first, skipping
// those that failed more than maxFailures times in a row.
func (s *Store) Candidates(maxFailures, limit int) ([]dht.NodeInfo, error) {
	if limit <= 0 {
		limit = 64
	}
	out := make([]dht.NodeInfo, 0, min(limit, 64))
	err := s.db.View(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		c := tx.Bucket([]byte(bBySeen)).Cursor()
		for k, _ := c.Last(); k != nil && len(out) < limit; k, _ = c.Prev() {
			id, ok := splitSeenKey(k)
			if !ok {
				continue
			}
			raw := byID.Get(id[:])
			if raw == nil {
				continue
			}
			var rec record
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				// Corruption: keep going, don't brick bootstrap.
				continue
			}
			if rec.Failures > maxFailures {
				continue
			}
			out = append(out, rec.info(id))
		}
		return nil
	})
	return out, err
}

// LoadAll visits every contact in last-seen order.
func (s *Store) LoadAll(fn func(ni dht.NodeInfo) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bByID))
		c := tx.Bucket([]byte(bBySeen)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			id, ok := splitSeenKey(k)
			if !ok {
				continue
			}
			raw := byID.Get(id[:])
			if raw == nil {
				continue
			}
			var rec record
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				continue
			}
			if err := fn(rec.info(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r record) info(id dht.NodeID) dht.NodeInfo {
	return dht.NodeInfo{
		ID:       id,
		Endpoint: netx.Endpoint(r.Endpoint),
		Name:     r.Name,
		LastSeen: time.Unix(0, r.LastSeen),
	}
}

func putRecord(byID, bySeen *bolt.Bucket, id dht.NodeID, rec record) error {
	val, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	if err := byID.Put(id[:], val); err != nil {
		return err
	}
	return bySeen.Put(seenKey(rec.LastSeen, id), nil)
}

func bumpCount(tx *bolt.Tx, delta int64) error {
	meta := tx.Bucket([]byte(bMeta))
	cur := decodeI64(meta.Get([]byte(kCount))) + delta
	if cur < 0 {
		cur = 0
	}
	return meta.Put([]byte(kCount), encodeI64(cur))
}

func seenKey(ts int64, id dht.NodeID) []byte {
	// big-endian timestamp for correct ordering, then the id.
	b := make([]byte, 8+dht.NodeIDBytes)
	binary.BigEndian.PutUint64(b[:8], uint64(ts))
	copy(b[8:], id[:])
	return b
}

func splitSeenKey(k []byte) (dht.NodeID, bool) {
	if len(k) != 8+dht.NodeIDBytes {
		return dht.NodeID{}, false
	}
	return dht.NodeIDFromBytes(k[8:]), true
}

func encodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeI64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

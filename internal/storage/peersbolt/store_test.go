package peersbolt

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlay-node/internal/dht"
	"overlay-node/internal/netx"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var tick int64
	base := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func contact(port int) dht.NodeInfo {
	return dht.NodeInfo{ID: dht.RandomNodeID(), Endpoint: netx.Endpoint(fmt.Sprintf("127.0.0.1:%d", port))}
}

func TestPutAndGet(t *testing.T) {
	s := openTemp(t)
	c := contact(5000)

	inserted, err := s.Put(c)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Put(c)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Endpoint, got.Endpoint)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(dht.RandomNodeID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRejectsBadContacts(t *testing.T) {
	s := openTemp(t)
	_, err := s.Put(dht.NodeInfo{Endpoint: "127.0.0.1:1"})
	assert.Error(t, err)
	_, err = s.Put(dht.NodeInfo{ID: dht.RandomNodeID(), Endpoint: "nowhere"})
	assert.Error(t, err)
}

func TestCandidatesNewestFirstAndSkipsFailing(t *testing.T) {
	s := openTemp(t)
	a, b, c := contact(5001), contact(5002), contact(5003)
	for _, ni := range []dht.NodeInfo{a, b, c} {
		_, err := s.Put(ni)
		require.NoError(t, err)
	}
	require.NoError(t, s.NoteFailure(b.ID))
	require.NoError(t, s.NoteFailure(b.ID))

	got, err := s.Candidates(1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	// success resets the failure count
	_, err = s.Put(b)
	require.NoError(t, err)
	got, err = s.Candidates(1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}

func TestNoteFailureKeepsSeenOrder(t *testing.T) {
	s := openTemp(t)
	a, b, c := contact(5001), contact(5002), contact(5003)
	for _, ni := range []dht.NodeInfo{a, b, c} {
		_, err := s.Put(ni)
		require.NoError(t, err)
	}
	before, err := s.Get(a.ID)
	require.NoError(t, err)

	require.NoError(t, s.NoteFailure(a.ID))

	got, err := s.Candidates(3, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []dht.NodeID{c.ID, b.ID, a.ID}, []dht.NodeID{got[0].ID, got[1].ID, got[2].ID})

	after, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.LastSeen, after.LastSeen)
}

func TestRemoveAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	s, err := Open(path)
	require.NoError(t, err)

	a, b := contact(5001), contact(5002)
	_, err = s.Put(a)
	require.NoError(t, err)
	_, err = s.Put(b)
	require.NoError(t, err)
	require.NoError(t, s.Remove(a.ID))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var seen []dht.NodeID
	require.NoError(t, s.LoadAll(func(ni dht.NodeInfo) error {
		seen = append(seen, ni.ID)
		return nil
	}))
	assert.Equal(t, []dht.NodeID{b.ID}, seen)
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, s.NoteFailure(a.ID), ErrNotFound)
}

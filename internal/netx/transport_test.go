package netx

import (
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	from Endpoint
	data []byte
}

func newTestTransport(t *testing.T, opts ...TransportOption) (*ManagedTransport, Endpoint, <-chan frame) {
	t.Helper()
	key, err := noise.DH25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	frames := make(chan frame, 16)
	tr := NewManagedTransport(NewTCPNetwork(time.Second), key.Private, key.Public, func(from Endpoint, data []byte) {
		frames <- frame{from: from, data: data}
	}, opts...)
	ep, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, ep, frames
}

func sendAndWait(t *testing.T, tr Transport, ep Endpoint, data []byte) bool {
	t.Helper()
	done := make(chan bool, 1)
	tr.Send(ep, data, func(ok bool) { done <- ok })
	select {
	case ok := <-done:
		return ok
	case <-time.After(5 * time.Second):
		t.Fatalf("completion never reported for %s", ep)
		return false
	}
}

func TestEndpointValidate(t *testing.T) {
	_, err := ParseEndpoint("127.0.0.1:80")
	require.NoError(t, err)

	for _, bad := range []string{"", "127.0.0.1", ":80", "host:0", "host:99999"} {
		assert.Error(t, Endpoint(bad).Validate(), bad)
	}
}

func TestManagedTransport_DeliversInOrder(t *testing.T) {
	a, _, _ := newTestTransport(t)
	_, epB, framesB := newTestTransport(t)

	require.True(t, sendAndWait(t, a, epB, []byte("one")))
	require.True(t, sendAndWait(t, a, epB, []byte("two")))

	for _, want := range []string{"one", "two"} {
		select {
		case f := <-framesB:
			assert.Equal(t, want, string(f.data))
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %q not delivered", want)
		}
	}
}

func TestManagedTransport_UnreachableReportsFailure(t *testing.T) {
	a, _, _ := newTestTransport(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := Endpoint(l.Addr().String())
	require.NoError(t, l.Close())

	assert.False(t, sendAndWait(t, a, dead, []byte("lost")))
}

func TestManagedTransport_VerifierRejects(t *testing.T) {
	a, _, _ := newTestTransport(t, WithPeerVerifier(func(_, _ []byte) error {
		return errors.New("unknown peer")
	}))
	_, epB, _ := newTestTransport(t)

	assert.False(t, sendAndWait(t, a, epB, []byte("nope")))
}

func TestManagedTransport_PayloadVisibleToVerifier(t *testing.T) {
	seen := make(chan []byte, 2)
	a, _, _ := newTestTransport(t, WithHandshakePayload([]byte("from-a")))
	_, epB, _ := newTestTransport(t, WithPeerVerifier(func(_, payload []byte) error {
		seen <- payload
		return nil
	}))

	require.True(t, sendAndWait(t, a, epB, []byte("x")))
	select {
	case p := <-seen:
		assert.Equal(t, []byte("from-a"), p)
	case <-time.After(5 * time.Second):
		t.Fatal("verifier not called")
	}
}

func TestManagedTransport_OversizedAndClosed(t *testing.T) {
	a, _, _ := newTestTransport(t, WithMaxFrameSize(8))
	_, epB, _ := newTestTransport(t)

	assert.False(t, sendAndWait(t, a, epB, make([]byte, 9)))

	require.NoError(t, a.Close())
	assert.False(t, sendAndWait(t, a, epB, []byte("late")))
}

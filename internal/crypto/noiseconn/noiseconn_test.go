package noiseconn

import (
	"crypto/rand"
	"net"
	"testing"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) noise.DHKey {
	t.Helper()
	k, err := noise.DH25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return k
}

func TestHandshakeAndFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ka := genKey(t)
	kb := genKey(t)

	type res struct {
		hr  *HandshakeResult
		err error
	}
	srvCh := make(chan res, 1)
	go func() {
		hr, err := NewSecureServer(b, kb.Private, kb.Public, []byte("server"))
		srvCh <- res{hr, err}
	}()

	cli, err := NewSecureClient(a, ka.Private, ka.Public, []byte("client"))
	require.NoError(t, err)
	srv := <-srvCh
	require.NoError(t, srv.err)

	assert.Equal(t, kb.Public, cli.RemoteStatic)
	assert.Equal(t, ka.Public, srv.hr.RemoteStatic)
	assert.Equal(t, []byte("server"), cli.RemotePayload)
	assert.Equal(t, []byte("client"), srv.hr.RemotePayload)

	go func() { _ = cli.Conn.WriteFrame([]byte("hello overlay")) }()
	got, err := srv.hr.Conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello overlay"), got)
}

func TestWriteFrameTooLarge(t *testing.T) {
	c := &SecureConn{}
	err := c.WriteFrame(make([]byte, MaxPlaintext+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

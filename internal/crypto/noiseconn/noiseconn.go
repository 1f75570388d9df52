package noiseconn

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"
)

// MaxPlaintext is the largest frame a single Noise transport message can carry.
const MaxPlaintext = noise.MaxMsgLen - 16

var ErrFrameTooLarge = errors.New("noiseconn: frame too large")

// SecureConn wraps an underlying stream with Noise cipher states. Each
// WriteFrame produces exactly one ReadFrame on the remote side.
type SecureConn struct {
	underlying io.ReadWriteCloser

	readMu sync.Mutex
	readCS *noise.CipherState

	writeMu sync.Mutex
	writeCS *noise.CipherState
}

// HandshakeResult is a secured connection plus what the remote proved during
// the handshake.
type HandshakeResult struct {
	Conn          *SecureConn
	RemoteStatic  []byte
	RemotePayload []byte
}

// ReadFrame reads a single length-prefixed encrypted frame and decrypts it.
func (c *SecureConn) ReadFrame() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.underlying, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > noise.MaxMsgLen {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}

	ct := make([]byte, n)
	if _, err := io.ReadFull(c.underlying, ct); err != nil {
		return nil, err
	}
	return c.readCS.Decrypt(nil, nil, ct)
}

// WriteFrame encrypts p as a single frame and writes it with a length prefix.
func (c *SecureConn) WriteFrame(p []byte) error {
	if len(p) > MaxPlaintext {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ct, err := c.writeCS.Encrypt(nil, nil, p)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(ct))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(ct)))
	copy(buf[4:], ct)
	_, err = c.underlying.Write(buf)
	return err
}

func (c *SecureConn) Close() error {
	return c.underlying.Close()
}

func newHandshake(initiator bool, staticPriv, staticPub []byte) (*noise.HandshakeState, error) {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	return noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: noise.DHKey{Private: staticPriv, Public: staticPub},
	})
}

// NewSecureClient runs a Noise_XX handshake as initiator. payload is delivered
// to the responder encrypted in the final handshake message.
func NewSecureClient(underlying io.ReadWriteCloser, staticPriv, staticPub, payload []byte) (*HandshakeResult, error) {
	hs, err := newHandshake(true, staticPriv, staticPub)
	if err != nil {
		return nil, err
	}

	// -> e
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- e, ee, s, es
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, in)
	if err != nil {
		return nil, err
	}

	// -> s, se
	msg, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	return &HandshakeResult{
		Conn:          &SecureConn{underlying: underlying, readCS: cs2, writeCS: cs1},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}

// NewSecureServer runs a Noise_XX handshake as responder.
func NewSecureServer(underlying io.ReadWriteCloser, staticPriv, staticPub, payload []byte) (*HandshakeResult, error) {
	hs, err := newHandshake(false, staticPriv, staticPub)
	if err != nil {
		return nil, err
	}

	// <- e
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, in); err != nil {
		return nil, err
	}

	// -> e, ee, s, es
	msg, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- s, se
	in, err = readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, in)
	if err != nil {
		return nil, err
	}

	// For responder, cipher state order is swapped relative to initiator.
	return &HandshakeResult{
		Conn:          &SecureConn{underlying: underlying, readCS: cs1, writeCS: cs2},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}

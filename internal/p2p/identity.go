package p2p

import (
	"crypto/ed25519"
	"errors"

	"overlay-node/internal/identity"
	"overlay-node/internal/netx"
	"overlay-node/internal/proto"
)

var ErrIdentityMismatch = errors.New("p2p: handshake identity does not bind the noise key")

// handshakeOptions proves our signing key during every Noise handshake and
// requires the remote to do the same.
func (n *Node) handshakeOptions() ([]netx.TransportOption, error) {
	_, noisePub, err := n.keys.NoiseKeypair()
	if err != nil {
		return nil, err
	}
	sig, err := n.keys.Sign(noisePub)
	if err != nil {
		return nil, err
	}
	payload := proto.MustMarshal(proto.NoiseIdentityPayload{
		PublicKey: n.keys.Public,
		Signature: sig,
	})
	return []netx.TransportOption{
		netx.WithHandshakePayload(payload),
		netx.WithPeerVerifier(verifyHandshake),
	}, nil
}

func verifyHandshake(remoteStatic, payload []byte) error {
	var ip proto.NoiseIdentityPayload
	if err := proto.Unmarshal(payload, &ip); err != nil {
		return err
	}
	if len(ip.PublicKey) != ed25519.PublicKeySize {
		return ErrIdentityMismatch
	}
	if !identity.Verify(ed25519.PublicKey(ip.PublicKey), remoteStatic, ip.Signature) {
		return ErrIdentityMismatch
	}
	return nil
}

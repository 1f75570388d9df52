package proto

// NoiseIdentityPayload is sent inside the Noise handshake payload.
// It binds the overlay signing key to the Noise static key: Signature is the
// ed25519 signature over the sender's Noise static public key.
type NoiseIdentityPayload struct {
	PublicKey []byte `msgpack:"public_key"`
	Signature []byte `msgpack:"signature"`
	Listen    string `msgpack:"listen"`
}

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

var ErrBadKey = errors.New("identity: malformed private key")

// Keys are the node's long-lived credentials. ID is derived from Public and is
// the overlay identifier other nodes route toward.
type Keys struct {
	ID      [32]byte
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// IDFromPublic derives the overlay identifier for a signing key.
func IDFromPublic(pub ed25519.PublicKey) [32]byte {
	return blake2b.Sum256(pub)
}

func Generate() (Keys, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return Keys{}, err
	}
	return FromSeed(seed)
}

func FromSeed(seed []byte) (Keys, error) {
	if len(seed) != ed25519.SeedSize {
		return Keys{}, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return Keys{
		ID:      IDFromPublic(pub),
		Public:  pub,
		Private: priv,
	}, nil
}

// Sign signs data with the private key. ed25519 signatures are deterministic,
// so signing the same data twice yields the same bytes.
func (k Keys) Sign(data []byte) ([]byte, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return nil, ErrBadKey
	}
	return ed25519.Sign(k.Private, data), nil
}

func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// NoiseKeypair converts the signing seed into the X25519 static keypair used by
// the transport handshake.
func (k Keys) NoiseKeypair() (priv, pub []byte, err error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return nil, nil, ErrBadKey
	}
	h := sha512.Sum512(k.Private.Seed())
	priv = make([]byte, curve25519.ScalarSize)
	copy(priv, h[:curve25519.ScalarSize])
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// LoadOrCreate reads a hex encoded seed from path, or generates and persists
// a new one when the file does not exist.
func LoadOrCreate(path string) (Keys, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return Keys{}, fmt.Errorf("identity: decode %s: %w", path, err)
		}
		return FromSeed(seed)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Keys{}, err
	}

	keys, err := Generate()
	if err != nil {
		return Keys{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Keys{}, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(keys.Private.Seed())), 0o600); err != nil {
		return Keys{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Keys{}, err
	}
	return keys, nil
}

// Package crypto provides the cryptographic primitives consumed by the
// connection protocol: random key generation, authenticated asymmetric
// encryption for key agreement, authenticated symmetric encryption for
// application messages, and signing. See Specification Section 6 ("Crypto
// interface").
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
)

// KeySize is the length in bytes of a symmetric key, a curve25519 key, and
// an ed25519 seed. Every key in this package is 256 bits.
const KeySize = 32

// Errors returned by this package.
var (
	ErrShortRandom     = errors.New("crypto: short read from random source")
	ErrInvalidKeySize  = errors.New("crypto: key must be 32 bytes")
	ErrOpenFailed      = errors.New("crypto: decryption failed")
	ErrInvalidSignature = errors.New("crypto: signature verification failed")
)

// Random returns n cryptographically secure random bytes.
func Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, ErrShortRandom
	}
	return buf, nil
}

// Random32 returns a 256-bit cryptographically secure random value. It is
// used for key-agreement seeds.
func Random32() ([32]byte, error) {
	var out [32]byte
	if _, err := io.ReadFull(rand.Reader, out[:]); err != nil {
		return out, ErrShortRandom
	}
	return out, nil
}

// SigningKeyPair is an ed25519 keypair used to sign chain links, invitation
// proofs, and identity challenges.
type SigningKeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// NewSigningKeyPair generates a fresh ed25519 signing keypair.
func NewSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, err
	}
	return SigningKeyPair{PublicKey: pub, SecretKey: priv}, nil
}

// SigningKeyPairFromSeed deterministically derives a signing keypair from a
// 32-byte seed. Used by the invitation helper to derive starter keys.
func SigningKeyPairFromSeed(seed []byte) (SigningKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return SigningKeyPair{}, ErrInvalidKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return SigningKeyPair{PublicKey: priv.Public().(ed25519.PublicKey), SecretKey: priv}, nil
}

// Sign signs a message with the given secret key.
func Sign(secretKey ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(secretKey, message)
}

// Verify reports whether signature is a valid ed25519 signature of message
// under publicKey.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(publicKey, message, signature)
}

package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"
)

// EncryptionKeyPair is a curve25519 keypair used for authenticated
// asymmetric encryption (the "asymmetric box" of Specification Section 6).
type EncryptionKeyPair struct {
	PublicKey [32]byte
	SecretKey [32]byte
}

// NewEncryptionKeyPair generates a fresh curve25519 keypair for box
// encryption.
func NewEncryptionKeyPair() (EncryptionKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return EncryptionKeyPair{}, err
	}
	return EncryptionKeyPair{PublicKey: *pub, SecretKey: *priv}, nil
}

// BoxEncrypt encrypts message for recipientPublicKey, authenticated by
// senderSecretKey. The returned ciphertext is self-contained: a random
// 24-byte nonce is prepended.
func BoxEncrypt(message []byte, recipientPublicKey, senderSecretKey [32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, ErrShortRandom
	}
	sealed := box.Seal(nonce[:], message, &nonce, &recipientPublicKey, &senderSecretKey)
	return sealed, nil
}

// BoxDecrypt decrypts a ciphertext produced by BoxEncrypt, verifying it was
// sent by the holder of senderPublicKey.
func BoxDecrypt(ciphertext []byte, senderPublicKey, recipientSecretKey [32]byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, ErrOpenFailed
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	opened, ok := box.Open(nil, ciphertext[24:], &nonce, &senderPublicKey, &recipientSecretKey)
	if !ok {
		return nil, ErrOpenFailed
	}
	return opened, nil
}

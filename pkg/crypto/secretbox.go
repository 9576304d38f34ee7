package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"
)

// SecretEncrypt symmetrically encrypts message under key (the "symmetric
// AEAD" primitive of Specification Section 6), used for ENCRYPTED_MESSAGE
// application payloads once a session key is established. The returned
// ciphertext is self-contained: a random 24-byte nonce is prepended.
func SecretEncrypt(message []byte, key [KeySize]byte) []byte {
	var nonce [24]byte
	// rand.Read on crypto/rand never returns a short read without an error;
	// a failure here is unrecoverable, so panic rather than let Seal run on
	// a zero nonce that could repeat across messages.
	if _, err := rand.Read(nonce[:]); err != nil {
		panic("crypto: failed to read nonce: " + err.Error())
	}
	return secretbox.Seal(nonce[:], message, &nonce, &key)
}

// SecretDecrypt reverses SecretEncrypt.
func SecretDecrypt(ciphertext []byte, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, ErrOpenFailed
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	opened, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return opened, nil
}

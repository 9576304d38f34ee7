package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives length bytes of key material from inputKey, salt and
// info using HKDF-SHA256 (RFC 5869). Mirrors the teacher stack's
// Crypto_KDF() helper: HKDF-Expand(PRK := HKDF-Extract(salt, IKM), info, L).
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package sessionkey implements Specification Section 4.D: combining two
// peer-contributed 256-bit seeds into a single symmetric session key that
// both peers derive identically regardless of role.
package sessionkey

import (
	"bytes"
	"errors"

	"github.com/bmpi-dev/auth/pkg/crypto"
)

// Size is the length in bytes of a derived session key.
const Size = crypto.KeySize

// info is the fixed HKDF context string that domain-separates session-key
// derivation from other uses of HKDF-SHA256 in this module.
var info = []byte("auth session key v1")

// ErrInvalidSeed reports a seed that is not exactly Size bytes. Derive
// takes fixed-size arrays and never returns it.
var ErrInvalidSeed = errors.New("sessionkey: seed must be 32 bytes")

// Derive combines the local peer's seed and the remote peer's seed into a
// 256-bit session key. Derive(a, b) == Derive(b, a): the two seeds are
// sorted lexicographically before being concatenated, so it does not
// matter which side calls it with which argument first.
func Derive(localSeed, remoteSeed [32]byte) ([Size]byte, error) {
	var out [Size]byte

	first, second := localSeed, remoteSeed
	if bytes.Compare(localSeed[:], remoteSeed[:]) > 0 {
		first, second = remoteSeed, localSeed
	}

	ikm := make([]byte, 0, 64)
	ikm = append(ikm, first[:]...)
	ikm = append(ikm, second[:]...)

	derived, err := crypto.HKDFSHA256(ikm, nil, info, Size)
	if err != nil {
		return out, err
	}
	copy(out[:], derived)
	return out, nil
}

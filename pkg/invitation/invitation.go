// Package invitation implements Specification Section 4.B: deterministic
// starter-key derivation from an invitation seed, and generation/packaging
// of a proof-of-invitation that binds a prospective member or device to
// that seed. It is the newcomer-side half of the handshake; verification
// of a received proof is delegated to the Team (pkg/chain).
package invitation

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/member"
)

// starterKeyInfo domain-separates starter-key derivation from other HKDF
// uses in this module.
var starterKeyInfo = []byte("auth invitation starter keys v1")

// ErrEmptySeed is returned when a seed is empty or only whitespace once
// normalized.
var ErrEmptySeed = errors.New("invitation: seed must not be empty")

// StarterKeys is the deterministic signing keypair an invitee derives from
// their invitation seed, before they have any real keys on the chain. The
// inviter derives the same public key independently (given the seed it
// handed out) in order to recognize the invitee's proof.
//
// The derivation is a function of the seed alone, not of the invitee name
// the proof later claims: the starter keypair proves possession of the
// seed, and the invitee name is a separate claim the Team checks against
// its own record of who that seed was issued to (Specification Section 8,
// scenario 3 — a proof signed with the right seed but claiming the wrong
// name is rejected for the name, not treated as an unknown invitation).
type StarterKeys = authcrypto.SigningKeyPair

// GenerateStarterKeys deterministically derives a signing keypair from
// seed. The same seed always yields the same keys, on both the inviter's
// and the invitee's side, regardless of which invitee name a proof built
// from it later claims.
func GenerateStarterKeys(seed string) (StarterKeys, error) {
	normalized := NormalizeSeed(seed)
	if strings.TrimSpace(normalized) == "" {
		return StarterKeys{}, ErrEmptySeed
	}

	ikm := []byte(normalized)
	derivedSeed, err := authcrypto.HKDFSHA256(ikm, nil, starterKeyInfo, ed25519.SeedSize)
	if err != nil {
		return StarterKeys{}, err
	}
	return authcrypto.SigningKeyPairFromSeed(derivedSeed)
}

// ProofOfInvitation binds an invitee's identity to the starter keys derived
// from their invitation seed. It is presented to the inviter's Team for
// verification (Specification Section 4.B, `team.validateInvitation`).
type ProofOfInvitation struct {
	Invitee   member.Invitee `json:"invitee"`
	Signature []byte         `json:"signature"`
}

// transcript is the exact byte sequence that gets signed: a
// deterministic JSON encoding of the invitee. Using JSON (rather than a
// bespoke binary format) keeps the proof trivially reproducible by the
// Team side, which only needs encoding/json to re-derive the same bytes.
func transcript(invitee member.Invitee) ([]byte, error) {
	return json.Marshal(invitee)
}

// GenerateProof derives starter keys from seed and signs invitee's
// transcript with them, producing a ProofOfInvitation ready to send in a
// HELLO message.
func GenerateProof(seed string, invitee member.Invitee) (ProofOfInvitation, error) {
	keys, err := GenerateStarterKeys(seed)
	if err != nil {
		return ProofOfInvitation{}, err
	}
	msg, err := transcript(invitee)
	if err != nil {
		return ProofOfInvitation{}, err
	}
	return ProofOfInvitation{
		Invitee:   invitee,
		Signature: authcrypto.Sign(keys.SecretKey, msg),
	}, nil
}

// Verify checks that proof was signed by the starter keypair for publicKey
// over the invitee it claims. It only confirms possession of the seed that
// key was derived from; it says nothing about whether that seed was issued
// for the claimed invitee name — the Team checks that separately against
// its own invitation record.
func Verify(proof ProofOfInvitation, publicKey ed25519.PublicKey) bool {
	msg, err := transcript(proof.Invitee)
	if err != nil {
		return false
	}
	return authcrypto.Verify(publicKey, msg, proof.Signature)
}

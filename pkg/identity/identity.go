// Package identity implements Specification Section 4.C: the
// challenge/response exchange a peer uses to prove it controls the device
// key behind its declared identity claim. Verification of the resulting
// signature against the chain's record of that device's public key is
// delegated to the Team (pkg/chain); this package only shapes and signs
// the challenge.
package identity

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/member"
)

// NonceSize is the length in bytes of a challenge nonce (256 bits).
const NonceSize = 32

// Challenge is issued by one peer to the other to prove control of the
// device key behind claim.
type Challenge struct {
	Claim member.Claim `json:"claim"`
	Nonce []byte       `json:"nonce"`
}

// NewChallenge issues a fresh challenge naming claim as the identity the
// peer must prove.
func NewChallenge(claim member.Claim) (Challenge, error) {
	nonce, err := crypto.Random(NonceSize)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Claim: claim, Nonce: nonce}, nil
}

// Proof is the signed response to a Challenge.
type Proof struct {
	Challenge Challenge `json:"challenge"`
	Signature []byte    `json:"signature"`
}

// transcript returns the exact bytes that get signed for a challenge: its
// deterministic JSON encoding.
func transcript(c Challenge) ([]byte, error) {
	return json.Marshal(c)
}

// Prove signs challenge with the device signing key, producing a Proof
// ready to send as PROVE_IDENTITY.
func Prove(challenge Challenge, signingKey ed25519.PrivateKey) (Proof, error) {
	msg, err := transcript(challenge)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Challenge: challenge,
		Signature: crypto.Sign(signingKey, msg),
	}, nil
}

// Verify checks that proof was signed by the holder of publicKey. Callers
// verifying a peer's PROVE_IDENTITY should additionally confirm that
// publicKey is the key the chain has on record for proof.Challenge.Claim —
// that binding is the Team's `verifyIdentityProof` responsibility, not this
// package's.
func Verify(proof Proof, publicKey ed25519.PublicKey) bool {
	msg, err := transcript(proof.Challenge)
	if err != nil {
		return false
	}
	return crypto.Verify(publicKey, msg, proof.Signature)
}

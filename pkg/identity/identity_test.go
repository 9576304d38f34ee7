package identity

import (
	"testing"

	"github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/member"
)

func TestChallengeNonceIsRandom(t *testing.T) {
	claim := member.Claim{Kind: member.KindDevice, Name: "alice::laptop"}

	a, err := NewChallenge(claim)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	b, err := NewChallenge(claim)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	if string(a.Nonce) == string(b.Nonce) {
		t.Fatalf("two challenges produced identical nonces")
	}
}

func TestProveAndVerifyRoundTrip(t *testing.T) {
	keys, err := crypto.NewSigningKeyPair()
	if err != nil {
		t.Fatalf("NewSigningKeyPair: %v", err)
	}
	claim := member.Claim{Kind: member.KindDevice, Name: "alice::laptop"}

	challenge, err := NewChallenge(claim)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	proof, err := Prove(challenge, keys.SecretKey)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if !Verify(proof, keys.PublicKey) {
		t.Fatalf("Verify rejected a valid proof")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	keys, _ := crypto.NewSigningKeyPair()
	impostor, _ := crypto.NewSigningKeyPair()
	claim := member.Claim{Kind: member.KindDevice, Name: "alice::laptop"}

	challenge, _ := NewChallenge(claim)
	proof, err := Prove(challenge, impostor.SecretKey)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if Verify(proof, keys.PublicKey) {
		t.Fatalf("Verify accepted a proof signed by the wrong key")
	}
}

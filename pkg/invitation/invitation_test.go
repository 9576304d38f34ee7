package invitation

import (
	"testing"

	"github.com/bmpi-dev/auth/pkg/member"
)

func TestGenerateStarterKeysIsDeterministic(t *testing.T) {
	a, err := GenerateStarterKeys("passw0rd")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}
	b, err := GenerateStarterKeys("passw0rd")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}
	if string(a.PublicKey) != string(b.PublicKey) {
		t.Fatalf("same seed produced different starter keys")
	}
}

func TestSeedNormalizationToleratesTranscription(t *testing.T) {
	spaced, err := GenerateStarterKeys("abc def ghi")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}
	plussed, err := GenerateStarterKeys("abc+def+ghi")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}
	if string(spaced.PublicKey) != string(plussed.PublicKey) {
		t.Fatalf("seed normalization failed: space and + forms derived different keys")
	}

	upper, err := GenerateStarterKeys("ABC+DEF+GHI")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}
	if string(upper.PublicKey) != string(spaced.PublicKey) {
		t.Fatalf("seed normalization failed: case differed")
	}
}

func TestGenerateAndVerifyProof(t *testing.T) {
	invitee := member.Invitee{Kind: member.KindMember, Name: "bob"}

	proof, err := GenerateProof("passw0rd", invitee)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	keys, err := GenerateStarterKeys("passw0rd")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}

	if !Verify(proof, keys.PublicKey) {
		t.Fatalf("Verify rejected a valid proof")
	}
}

func TestForgedInviteeNameStillVerifiesAgainstTheSeedsKey(t *testing.T) {
	// Eve obtains the seed issued for "bob" and signs a proof claiming to
	// be "eve". The starter keypair is a function of the seed alone, so
	// the signature verifies fine against bob's starter public key —
	// distinguishing a forged name from an unknown invitation is the
	// Team's job (pkg/chain), not this package's.
	bobKeys, err := GenerateStarterKeys("passw0rd")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}

	forged, err := GenerateProof("passw0rd", member.Invitee{Kind: member.KindMember, Name: "eve"})
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	if !Verify(forged, bobKeys.PublicKey) {
		t.Fatalf("expected a proof signed with the right seed to verify regardless of claimed name")
	}
}

func TestWrongSeedFailsVerification(t *testing.T) {
	bobKeys, err := GenerateStarterKeys("passw0rd")
	if err != nil {
		t.Fatalf("GenerateStarterKeys: %v", err)
	}

	wrongSeed, err := GenerateProof("not-the-real-seed", member.Invitee{Kind: member.KindMember, Name: "bob"})
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	if Verify(wrongSeed, bobKeys.PublicKey) {
		t.Fatalf("expected a proof signed with a different seed to fail verification")
	}
}

func TestGenerateStarterKeysRejectsEmptySeed(t *testing.T) {
	if _, err := GenerateStarterKeys("   "); err != ErrEmptySeed {
		t.Fatalf("expected ErrEmptySeed, got %v", err)
	}
}

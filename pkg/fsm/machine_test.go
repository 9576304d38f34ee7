package fsm

import (
	"testing"

	"github.com/bmpi-dev/auth/pkg/chain"
	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
	"github.com/bmpi-dev/auth/pkg/message"
)

// deliver converts an Outbound into a wire-decoded Envelope, round-tripping
// through the real codec so these tests also exercise pkg/message.
func deliver(t *testing.T, ob Outbound) message.Envelope {
	t.Helper()
	raw, err := message.Encode(ob.Kind, 0, ob.Payload)
	if err != nil {
		t.Fatalf("Encode(%s): %v", ob.Kind, err)
	}
	env, err := message.Decode(raw)
	if err != nil {
		t.Fatalf("Decode(%s): %v", ob.Kind, err)
	}
	return env
}

// run alternately steps a and b with their outbound messages until both
// queues drain or a safety bound is hit. Returns every event each side
// produced, in emission order.
func run(t *testing.T, a, b *Machine) (aEvents, bEvents []Event) {
	t.Helper()

	var aInbox, bInbox []message.Envelope

	readyA, err := a.Step(message.Envelope{Type: message.KindReady})
	if err != nil {
		t.Fatalf("a READY: %v", err)
	}
	for _, ob := range readyA.Outbound {
		bInbox = append(bInbox, deliver(t, ob))
	}
	aEvents = append(aEvents, readyA.Events...)

	readyB, err := b.Step(message.Envelope{Type: message.KindReady})
	if err != nil {
		t.Fatalf("b READY: %v", err)
	}
	for _, ob := range readyB.Outbound {
		aInbox = append(aInbox, deliver(t, ob))
	}
	bEvents = append(bEvents, readyB.Events...)

	for i := 0; i < 100 && (len(aInbox) > 0 || len(bInbox) > 0); i++ {
		if len(aInbox) > 0 {
			env := aInbox[0]
			aInbox = aInbox[1:]
			res, err := a.Step(env)
			if err == ErrTerminal {
				// a has already failed or disconnected; messages still in
				// flight to it are simply dropped, same as a torn-down
				// connection driver would do.
			} else if err != nil {
				t.Fatalf("a.Step(%s): %v", env.Type, err)
			} else {
				for _, ob := range res.Outbound {
					bInbox = append(bInbox, deliver(t, ob))
				}
				aEvents = append(aEvents, res.Events...)
			}
		}
		if len(bInbox) > 0 {
			env := bInbox[0]
			bInbox = bInbox[1:]
			res, err := b.Step(env)
			if err == ErrTerminal {
			} else if err != nil {
				t.Fatalf("b.Step(%s): %v", env.Type, err)
			} else {
				for _, ob := range res.Outbound {
					aInbox = append(aInbox, deliver(t, ob))
				}
				bEvents = append(bEvents, res.Events...)
			}
		}
	}
	return aEvents, bEvents
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// foundedTeam returns a chain with alice as founder/admin and bob admitted
// and joined as an ordinary member, plus the LocalDevice each side should
// use (their real, on-chain keys).
func foundedTeam(t *testing.T) (aliceChain *chain.Chain, aliceDevice LocalDevice, bobChain *chain.Chain, bobDevice LocalDevice) {
	t.Helper()
	aliceSigning, err := authcrypto.NewSigningKeyPair()
	if err != nil {
		t.Fatalf("NewSigningKeyPair: %v", err)
	}
	aliceEnc, err := authcrypto.NewEncryptionKeyPair()
	if err != nil {
		t.Fatalf("NewEncryptionKeyPair: %v", err)
	}
	ac, err := chain.New("acme", "alice", "laptop", aliceSigning, aliceEnc)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	aliceDevice = LocalDevice{DeviceName: "laptop", Signing: aliceSigning, Encryption: aliceEnc}

	invitee := member.Invitee{Kind: member.KindMember, Name: "bob"}
	if _, err := ac.Invite(invitee, "passw0rd"); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	proof, err := invitation.GenerateProof("passw0rd", invitee)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	if err := ac.Admit(proof); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	blob, err := ac.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	bobSigning, _ := authcrypto.NewSigningKeyPair()
	bc, err := chain.Load(blob, bobSigning.SecretKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	identityResult, err := bc.Join(invitee, "passw0rd", "phone")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	bobDevice = LocalDevice{DeviceName: identityResult.DeviceName, Signing: identityResult.Signing, Encryption: identityResult.Encryption}

	// Fold bob's JOIN link back into alice's replica so both sides agree on
	// the chain before the connection handshake begins (out of band, as a
	// prior sync would have done).
	missing := bc.GetMissingLinks(ac.State())
	if err := ac.ReceiveMissingLinks(missing); err != nil {
		t.Fatalf("ReceiveMissingLinks: %v", err)
	}

	return ac, aliceDevice, bc, bobDevice
}

func TestHappyPathTwoExistingMembers(t *testing.T) {
	aliceChain, aliceDevice, bobChain, bobDevice := foundedTeam(t)

	alice := New(Config{Device: aliceDevice, User: &LocalUser{UserName: "alice"}, Team: aliceChain})
	bob := New(Config{Device: bobDevice, User: &LocalUser{UserName: "bob"}, Team: bobChain})

	aEvents, bEvents := run(t, alice, bob)

	if alice.Phase() != PhaseConnected {
		t.Fatalf("alice did not reach connected, phase=%s err=%v", alice.Phase(), alice.Context().Error)
	}
	if bob.Phase() != PhaseConnected {
		t.Fatalf("bob did not reach connected, phase=%s err=%v", bob.Phase(), bob.Context().Error)
	}
	if !hasEvent(aEvents, EventConnected) || !hasEvent(bEvents, EventConnected) {
		t.Fatalf("expected both sides to emit connected")
	}

	aliceKey := alice.Context().SessionKey
	bobKey := bob.Context().SessionKey
	if aliceKey == nil || bobKey == nil {
		t.Fatalf("expected both sides to have a session key")
	}
	if *aliceKey != *bobKey {
		t.Fatalf("session keys differ between alice and bob")
	}
}

func TestInviteeJoins(t *testing.T) {
	aliceSigning, _ := authcrypto.NewSigningKeyPair()
	aliceEnc, _ := authcrypto.NewEncryptionKeyPair()
	aliceChain, err := chain.New("acme", "alice", "laptop", aliceSigning, aliceEnc)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	aliceDevice := LocalDevice{DeviceName: "laptop", Signing: aliceSigning, Encryption: aliceEnc}

	invitee := member.Invitee{Kind: member.KindMember, Name: "bob"}
	if _, err := aliceChain.Invite(invitee, "passw0rd"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	bobSigning, _ := authcrypto.NewSigningKeyPair()
	bobEnc, _ := authcrypto.NewEncryptionKeyPair()
	bobDevice := LocalDevice{DeviceName: "phone", Signing: bobSigning, Encryption: bobEnc}

	alice := New(Config{Device: aliceDevice, User: &LocalUser{UserName: "alice"}, Team: aliceChain})
	bob := New(Config{Device: bobDevice, Invitee: &invitee, InvitationSeed: "passw0rd"})

	aEvents, bEvents := run(t, alice, bob)
	_ = aEvents

	if bob.Phase() != PhaseConnected {
		t.Fatalf("bob did not reach connected, phase=%s err=%v", bob.Phase(), bob.Context().Error)
	}
	if alice.Phase() != PhaseConnected {
		t.Fatalf("alice did not reach connected, phase=%s err=%v", alice.Phase(), alice.Context().Error)
	}
	if !hasEvent(bEvents, EventJoined) {
		t.Fatalf("expected bob to emit joined")
	}
	if bob.Context().User == nil || bob.Context().User.UserName != "bob" {
		t.Fatalf("expected bob's context to carry its new user identity")
	}
}

func TestForgedInviteeNameEndsInFailure(t *testing.T) {
	aliceSigning, _ := authcrypto.NewSigningKeyPair()
	aliceEnc, _ := authcrypto.NewEncryptionKeyPair()
	aliceChain, err := chain.New("acme", "alice", "laptop", aliceSigning, aliceEnc)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	aliceDevice := LocalDevice{DeviceName: "laptop", Signing: aliceSigning, Encryption: aliceEnc}

	if _, err := aliceChain.Invite(member.Invitee{Kind: member.KindMember, Name: "bob"}, "passw0rd"); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	forged := member.Invitee{Kind: member.KindMember, Name: "eve"}
	eveSigning, _ := authcrypto.NewSigningKeyPair()
	eveEnc, _ := authcrypto.NewEncryptionKeyPair()
	eveDevice := LocalDevice{DeviceName: "phone", Signing: eveSigning, Encryption: eveEnc}

	alice := New(Config{Device: aliceDevice, User: &LocalUser{UserName: "alice"}, Team: aliceChain})
	eve := New(Config{Device: eveDevice, Invitee: &forged, InvitationSeed: "passw0rd"})

	run(t, alice, eve)

	if alice.Phase() != PhaseFailure {
		t.Fatalf("expected alice to end in failure, got %s", alice.Phase())
	}
	if alice.Context().Error == nil || alice.Context().Error.Code != ErrCodeUserNameMismatch {
		t.Fatalf("expected alice's context to carry ErrCodeUserNameMismatch, got %+v", alice.Context().Error)
	}
}

func TestRevokedInvitationEndsInFailure(t *testing.T) {
	aliceSigning, _ := authcrypto.NewSigningKeyPair()
	aliceEnc, _ := authcrypto.NewEncryptionKeyPair()
	aliceChain, err := chain.New("acme", "alice", "laptop", aliceSigning, aliceEnc)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	aliceDevice := LocalDevice{DeviceName: "laptop", Signing: aliceSigning, Encryption: aliceEnc}

	invitee := member.Invitee{Kind: member.KindMember, Name: "charlie"}
	id, err := aliceChain.Invite(invitee, "seed-value")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := aliceChain.RevokeInvitation(id); err != nil {
		t.Fatalf("RevokeInvitation: %v", err)
	}

	charlieSigning, _ := authcrypto.NewSigningKeyPair()
	charlieEnc, _ := authcrypto.NewEncryptionKeyPair()
	charlieDevice := LocalDevice{DeviceName: "phone", Signing: charlieSigning, Encryption: charlieEnc}

	alice := New(Config{Device: aliceDevice, User: &LocalUser{UserName: "alice"}, Team: aliceChain})
	charlie := New(Config{Device: charlieDevice, Invitee: &invitee, InvitationSeed: "seed-value"})

	run(t, alice, charlie)

	if alice.Phase() != PhaseFailure {
		t.Fatalf("expected alice to end in failure, got %s", alice.Phase())
	}
	if alice.Context().Error == nil || alice.Context().Error.Code != ErrCodeInvitationRevoked {
		t.Fatalf("expected INVITATION_REVOKED, got %+v", alice.Context().Error)
	}
}

// TestPeerRemovedMidSyncEndsInFailure exercises the guard `peerWasRemoved`:
// bob is removed from alice's chain after identity is established but before
// synchronizing concludes, and alice's next processed message must fail the
// connection with PEER_REMOVED rather than carry on to connected.
func TestPeerRemovedMidSyncEndsInFailure(t *testing.T) {
	aliceChain, aliceDevice, bobChain, bobDevice := foundedTeam(t)

	alice := New(Config{Device: aliceDevice, User: &LocalUser{UserName: "alice"}, Team: aliceChain})
	bob := New(Config{Device: bobDevice, User: &LocalUser{UserName: "bob"}, Team: bobChain})

	var aInbox, bInbox []message.Envelope
	removed := false

	readyA, err := alice.Step(message.Envelope{Type: message.KindReady})
	if err != nil {
		t.Fatalf("alice READY: %v", err)
	}
	for _, ob := range readyA.Outbound {
		bInbox = append(bInbox, deliver(t, ob))
	}

	readyB, err := bob.Step(message.Envelope{Type: message.KindReady})
	if err != nil {
		t.Fatalf("bob READY: %v", err)
	}
	for _, ob := range readyB.Outbound {
		aInbox = append(aInbox, deliver(t, ob))
	}

	for i := 0; i < 100 && (len(aInbox) > 0 || len(bInbox) > 0); i++ {
		if len(aInbox) > 0 {
			env := aInbox[0]
			aInbox = aInbox[1:]
			res, err := alice.Step(env)
			if err != nil && err != ErrTerminal {
				t.Fatalf("alice.Step(%s): %v", env.Type, err)
			}
			if err == nil {
				for _, ob := range res.Outbound {
					bInbox = append(bInbox, deliver(t, ob))
				}
			}
		}

		// Remove bob the moment alice first reaches synchronizing, so the
		// removal lands mid-handshake rather than before or long after.
		if !removed && alice.Phase() == PhaseSynchronizing {
			if err := aliceChain.RemoveMember("bob"); err != nil {
				t.Fatalf("RemoveMember: %v", err)
			}
			removed = true
		}

		if len(bInbox) > 0 {
			env := bInbox[0]
			bInbox = bInbox[1:]
			res, err := bob.Step(env)
			if err != nil && err != ErrTerminal {
				t.Fatalf("bob.Step(%s): %v", env.Type, err)
			}
			if err == nil {
				for _, ob := range res.Outbound {
					aInbox = append(aInbox, deliver(t, ob))
				}
			}
		}
	}

	if !removed {
		t.Fatalf("test did not observe alice reach synchronizing; cannot exercise mid-sync removal")
	}
	if alice.Phase() != PhaseFailure {
		t.Fatalf("expected alice to end in failure after bob was removed mid-sync, got %s", alice.Phase())
	}
	if alice.Context().Error == nil || alice.Context().Error.Code != ErrCodePeerRemoved {
		t.Fatalf("expected PEER_REMOVED, got %+v", alice.Context().Error)
	}
}

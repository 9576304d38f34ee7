package chain

import (
	"crypto/ed25519"

	"github.com/bmpi-dev/auth/pkg/identity"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
)

// ValidationResult is the outcome of ValidateInvitation.
type ValidationResult struct {
	IsValid bool
	Error   error
}

// ValidateInvitation checks proof against the chain's record of the
// invitation it claims to satisfy, without consuming it. Used by the
// `invitationProofIsValid` guard (Specification Section 4.E) before the
// FSM decides whether to call Admit.
func (c *Chain) ValidateInvitation(proof invitation.ProofOfInvitation) ValidationResult {
	inv, err := c.findInvitationForProof(proof)
	if err != nil {
		return ValidationResult{Error: err}
	}
	if inv.Revoked {
		return ValidationResult{Error: ErrInvitationRevoked}
	}
	if inv.Admitted {
		return ValidationResult{Error: ErrInvitationAlreadyUsed}
	}
	return ValidationResult{IsValid: true}
}

// LookupIdentity resolves a peer's declared identity claim to an
// IdentityOutcome, used by the `confirmIdentityExists` action.
func (c *Chain) LookupIdentity(claim member.Claim) IdentityOutcome {
	userName, deviceName := splitDeviceClaim(claim.Name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[userName]
	if !ok {
		return OutcomeMemberUnknown
	}
	if m.Removed {
		return OutcomeMemberRemoved
	}
	d, ok := m.Devices[deviceName]
	if !ok {
		return OutcomeDeviceUnknown
	}
	if d.Removed {
		return OutcomeDeviceRemoved
	}
	return OutcomeValidDevice
}

// VerifyIdentityProof checks that proof's signature verifies against the
// chain's recorded public key for the device named in the original
// challenge, binding the signature to that device's on-chain key rather
// than trusting whatever key the peer happens to present.
//
// A newcomer's JOIN link only reaches this replica once the two sides
// complete their first chain sync, which happens after identity is
// established — so immediately after Admit, this replica has a
// MemberRecord but no DeviceRecord yet for them. In that window it falls
// back to the admitted invitation's starter public key, which Join uses as
// the device's permanent signing key (Specification Section 4.B).
func (c *Chain) VerifyIdentityProof(proof identity.Proof) bool {
	userName, deviceName := splitDeviceClaim(proof.Challenge.Claim.Name)

	c.mu.RLock()
	m, ok := c.members[userName]
	var d *DeviceRecord
	if ok {
		d, ok = m.Devices[deviceName]
	}
	c.mu.RUnlock()
	if ok && d != nil {
		return identity.Verify(proof, d.SigningPublicKey)
	}

	if key, ok := c.admittedStarterKey(userName, proof.Challenge.Claim.Name); ok {
		return identity.Verify(proof, key)
	}
	return false
}

// admittedStarterKey looks up the starter public key of an admitted,
// unrevoked invitation naming either userName (a member invite) or
// fullClaimName (a device invite), for the pre-sync fallback above.
func (c *Chain) admittedStarterKey(userName, fullClaimName string) (ed25519.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inv := range c.invitations {
		if !inv.Admitted || inv.Revoked {
			continue
		}
		if inv.Invitee.Kind == member.KindMember && inv.Invitee.Name == userName {
			return inv.StarterPublicKey, true
		}
		if inv.Invitee.Kind == member.KindDevice && inv.Invitee.Name == fullClaimName {
			return inv.StarterPublicKey, true
		}
	}
	return nil, false
}

// Peer identifies the on-chain record behind a confirmed identity claim,
// returned by `storePeer` once identity has been established.
type Peer struct {
	UserName string
	Member   *MemberRecord
	Device   *DeviceRecord
}

// ResolvePeer resolves a peer's claim to its MemberRecord/DeviceRecord, or
// ok=false if the peer was removed in the meantime.
func (c *Chain) ResolvePeer(claim member.Claim) (Peer, bool) {
	userName, deviceName := splitDeviceClaim(claim.Name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[userName]
	if !ok || m.Removed {
		return Peer{}, false
	}
	d, ok := m.Devices[deviceName]
	if !ok || d.Removed {
		return Peer{}, false
	}
	return Peer{UserName: userName, Member: m, Device: d}, true
}

// SyncState is the {root, head, hashes} payload exchanged in an UPDATE
// message.
type SyncState struct {
	Root   Hash
	Head   Hash
	Hashes []Hash
}

// State returns this replica's current sync state for an outbound UPDATE.
func (c *Chain) State() SyncState {
	return SyncState{Root: c.Root(), Head: c.Head(), Hashes: c.Hashes()}
}

// GetMissingLinks computes the links this replica holds that the link set
// described by theirState does not, in chain order. Returns nil if there is
// nothing to send.
func (c *Chain) GetMissingLinks(theirState SyncState) []*Link {
	known := make(map[Hash]bool, len(theirState.Hashes))
	for _, h := range theirState.Hashes {
		known[h] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []*Link
	for _, l := range c.links {
		h, err := l.Hash()
		if err != nil {
			continue
		}
		if !known[h] {
			missing = append(missing, l)
		}
	}
	return missing
}

// ReceiveMissingLinks folds links received from a peer into the chain,
// verifying and applying each in order. Links the replica already holds
// are skipped rather than failing the whole batch, since the peer may have
// sent them interleaved with new ones; an unseen link that does not extend
// the current head fails the call with ErrChainFork.
func (c *Chain) ReceiveMissingLinks(links []*Link) error {
	applied := false
	for _, l := range links {
		h, err := l.Hash()
		if err != nil {
			return err
		}
		c.mu.RLock()
		_, have := c.byHash[h]
		c.mu.RUnlock()
		if have {
			continue
		}
		if err := c.appendAndApply(l); err != nil {
			return err
		}
		applied = true
	}
	if applied {
		c.notifyUpdated()
	}
	return nil
}

// splitDeviceClaim splits a "user::device" claim name into its parts.
func splitDeviceClaim(name string) (userName, deviceName string) {
	for i := 0; i < len(name)-1; i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[:i], name[i+2:]
		}
	}
	return name, ""
}

package chain

import (
	"github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
)

// Invite issues an invitation for invitee, derived from seed, authored by
// this replica's local identity. Returns the invitation's id, used to
// revoke it later.
func (c *Chain) Invite(invitee member.Invitee, seed string) (string, error) {
	starter, err := invitation.GenerateStarterKeys(seed)
	if err != nil {
		return "", err
	}

	id, err := randomID()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	prev := c.currentHeadLocked()
	l, err := newLink(LinkInvite, InvitePayload{
		ID:               id,
		Invitee:          invitee,
		StarterPublicKey: starter.PublicKey,
	}, prev, c.author)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	err = c.appendAndApplyLocked(l)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	c.notifyUpdated()
	return id, nil
}

// RevokeInvitation invalidates a previously issued invitation. Any
// subsequent Admit of a proof naming that invitation fails with
// ErrInvitationRevoked.
func (c *Chain) RevokeInvitation(invitationID string) error {
	c.mu.Lock()
	prev := c.currentHeadLocked()
	l, err := newLink(LinkRevokeInvitation, RevokeInvitationPayload{InvitationID: invitationID}, prev, c.author)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.appendAndApplyLocked(l)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyUpdated()
	return nil
}

// Admit accepts a presented proof of invitation, appending an ADMIT link.
// It is the inviter side of Specification Section 4.E's `acceptInvitation`
// action.
func (c *Chain) Admit(proof invitation.ProofOfInvitation) error {
	inv, err := c.findInvitationForProof(proof)
	if err != nil {
		return err
	}
	if inv.Revoked {
		return ErrInvitationRevoked
	}
	if inv.Admitted {
		return ErrInvitationAlreadyUsed
	}

	c.mu.Lock()
	prev := c.currentHeadLocked()
	l, err := newLink(LinkAdmit, AdmitPayload{InvitationID: inv.ID}, prev, c.author)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.appendAndApplyLocked(l)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyUpdated()
	return nil
}

// LocalIdentity is the caller's permanent identity, minted by Join.
type LocalIdentity struct {
	UserName   string
	DeviceName string
	Signing    crypto.SigningKeyPair
	Encryption crypto.EncryptionKeyPair
}

// ContainsInvitation reports whether the chain already holds an invitation
// (admitted or not) matching invitee. It backs the `joinedTheRightTeam`
// guard: a newcomer checks this against the chain it just received in
// ACCEPT_INVITATION, before trusting it enough to call Join.
func (c *Chain) ContainsInvitation(invitee member.Invitee) bool {
	_, err := c.findInvitationFor(invitee)
	return err == nil
}

// Join completes a newcomer's admission: it appends a JOIN link
// authenticated by the starter key derived from seed (proving continuity
// with the invitation), and returns the identity the caller should install
// as its own. The permanent device signing key is the starter key itself
// rather than a freshly minted one — the inviter already knows this public
// key from the INVITE link, so identity can be verified the moment Admit
// runs, without waiting for this JOIN link to propagate back over a chain
// sync. Only the encryption keypair, used solely for session-key
// negotiation after sync, is freshly minted. This is the invitee side of
// Specification Section 4.E's `joinTeam` action.
func (c *Chain) Join(invitee member.Invitee, seed string, deviceName string) (*LocalIdentity, error) {
	inv, err := c.findInvitationFor(invitee)
	if err != nil {
		return nil, err
	}
	if inv.Revoked {
		return nil, ErrInvitationRevoked
	}

	starter, err := invitation.GenerateStarterKeys(seed)
	if err != nil {
		return nil, err
	}
	if string(starter.PublicKey) != string(inv.StarterPublicKey) {
		return nil, ErrUserNameMismatch
	}

	signing := starter
	encryption, err := crypto.NewEncryptionKeyPair()
	if err != nil {
		return nil, err
	}

	userName := invitee.Name
	if invitee.Kind == member.KindDevice {
		userName = ownerOfDeviceInvitee(invitee.Name)
		deviceName = deviceNameFromInvitee(invitee.Name)
	}

	c.mu.Lock()
	prev := c.currentHeadLocked()
	// The JOIN link is authored by the starter key itself, which is also
	// the permanent signing key being installed below.
	l, err := newLink(LinkJoin, JoinPayload{
		InvitationID:        inv.ID,
		DeviceName:          deviceName,
		SigningPublicKey:    signing.PublicKey,
		EncryptionPublicKey: encryption.PublicKey,
	}, prev, starter.SecretKey)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	err = c.appendAndApplyLocked(l)
	if err == nil {
		c.author = signing.SecretKey
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.notifyUpdated()

	return &LocalIdentity{
		UserName:   userName,
		DeviceName: deviceName,
		Signing:    signing,
		Encryption: encryption,
	}, nil
}

// RemoveMember removes memberName (and all of their devices) from the team.
func (c *Chain) RemoveMember(memberName string) error {
	c.mu.Lock()
	prev := c.currentHeadLocked()
	l, err := newLink(LinkRemoveMember, RemoveMemberPayload{MemberName: memberName}, prev, c.author)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.appendAndApplyLocked(l)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyUpdated()
	return nil
}

func (c *Chain) currentHeadLocked() Hash {
	if len(c.links) == 0 {
		return Hash{}
	}
	h, _ := c.links[len(c.links)-1].Hash()
	return h
}

func (c *Chain) findInvitationFor(invitee member.Invitee) (*InvitationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inv := range c.invitations {
		if inv.Invitee.Kind == invitee.Kind && inv.Invitee.Name == invitee.Name {
			return inv, nil
		}
	}
	return nil, ErrInvitationNotFound
}

// findInvitationForProof locates the invitation a presented proof actually
// authenticates against, by starter-key signature rather than by the name
// the proof claims. Starter keys are derived from the seed alone
// (Specification Section 4.B), so a proof signed with the seed issued for
// one invitee verifies against that invitation's recorded key no matter
// what name the proof claims — which is what lets a forged name be told
// apart from an invitation that simply doesn't exist (Specification
// Section 8, scenario 3).
func (c *Chain) findInvitationForProof(proof invitation.ProofOfInvitation) (*InvitationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var byName *InvitationRecord
	for _, inv := range c.invitations {
		sameName := inv.Invitee.Kind == proof.Invitee.Kind && inv.Invitee.Name == proof.Invitee.Name
		if sameName {
			byName = inv
		}
		if invitation.Verify(proof, inv.StarterPublicKey) {
			if !sameName {
				return nil, ErrUserNameMismatch
			}
			return inv, nil
		}
	}
	if byName != nil {
		return nil, ErrInvalidProof
	}
	return nil, ErrInvitationNotFound
}

func randomID() (string, error) {
	b, err := crypto.Random(16)
	if err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0xf]
	}
	return string(out), nil
}

func deviceNameFromInvitee(name string) string {
	for i := 0; i < len(name)-1; i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[i+2:]
		}
	}
	return name
}

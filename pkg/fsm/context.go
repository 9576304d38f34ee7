package fsm

import (
	"github.com/bmpi-dev/auth/pkg/chain"
	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/identity"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
)

// LocalDevice is this side's device identity: a stable device name and the
// keypairs it signs and encrypts with. Required for every connection.
type LocalDevice struct {
	DeviceName string
	Signing    authcrypto.SigningKeyPair
	Encryption authcrypto.EncryptionKeyPair
}

// LocalUser is this side's user identity. Absent iff this side is an
// unjoined invitee (Specification Section 3).
type LocalUser struct {
	UserName string
}

// Context is the per-connection mutable state described in Specification
// Section 3. It is only ever mutated through applyPatch, so every write
// flows through one code path regardless of which action produced it —
// resolving Section 9's "mixing assign and direct writes" concern.
type Context struct {
	Device LocalDevice
	User   *LocalUser

	Invitee        *member.Invitee
	InvitationSeed string

	Team *chain.Chain

	TheirIdentityClaim     *member.Claim
	TheyHaveInvitation     bool
	TheirProofOfInvitation *invitation.ProofOfInvitation

	Peer *chain.Peer

	Challenge          *identity.Challenge
	Seed               *[32]byte
	TheirEncryptedSeed []byte
	SessionKey         *[32]byte

	TheirHead *chain.Hash

	Error *ErrorInfo
}

// Claim returns this side's identity claim as declared in HELLO: the
// device-kind claim naming "user::device", using Invitee's name in place of
// User's while still unjoined.
func (c *Context) Claim() member.Claim {
	userName := ""
	if c.User != nil {
		userName = c.User.UserName
	} else if c.Invitee != nil {
		userName = c.Invitee.Name
	}
	return member.Claim{Kind: member.KindDevice, Name: member.DeviceID(userName, c.Device.DeviceName)}
}

// ContextPatch carries the subset of Context an action wants to change.
// Every field is optional; applyPatch copies only the non-nil ones.
type ContextPatch struct {
	Device *LocalDevice
	User   *LocalUser
	Team   *chain.Chain

	TheirIdentityClaim     *member.Claim
	TheyHaveInvitationSet  bool
	TheyHaveInvitation     bool
	TheirProofOfInvitation *invitation.ProofOfInvitation

	Peer *chain.Peer

	Challenge          *identity.Challenge
	Seed               *[32]byte
	TheirEncryptedSeed []byte
	SessionKey         *[32]byte
	TheirHead          *chain.Hash

	Error *ErrorInfo
}

// applyPatch merges patch into ctx. This is the single mutation path every
// action goes through.
func applyPatch(ctx *Context, patch ContextPatch) {
	if patch.Device != nil {
		ctx.Device = *patch.Device
	}
	if patch.User != nil {
		ctx.User = patch.User
	}
	if patch.Team != nil {
		ctx.Team = patch.Team
	}
	if patch.TheirIdentityClaim != nil {
		ctx.TheirIdentityClaim = patch.TheirIdentityClaim
	}
	if patch.TheyHaveInvitationSet {
		ctx.TheyHaveInvitation = patch.TheyHaveInvitation
	}
	if patch.TheirProofOfInvitation != nil {
		ctx.TheirProofOfInvitation = patch.TheirProofOfInvitation
	}
	if patch.Peer != nil {
		ctx.Peer = patch.Peer
	}
	if patch.Challenge != nil {
		ctx.Challenge = patch.Challenge
	}
	if patch.Seed != nil {
		ctx.Seed = patch.Seed
	}
	if patch.TheirEncryptedSeed != nil {
		ctx.TheirEncryptedSeed = patch.TheirEncryptedSeed
	}
	if patch.SessionKey != nil {
		ctx.SessionKey = patch.SessionKey
	}
	if patch.TheirHead != nil {
		ctx.TheirHead = patch.TheirHead
	}
	if patch.Error != nil {
		ctx.Error = patch.Error
	}
}

package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"

	"github.com/bmpi-dev/auth/pkg/member"
)

// Hash identifies a Link by the SHA-256 digest of its signed contents.
type Hash [32]byte

// IsZero reports whether h is the zero hash, used as the PrevHash of the
// chain's root link.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// LinkType discriminates the payload carried by a Link.
type LinkType int

const (
	// LinkRoot founds a new team, naming its first admin member and device.
	LinkRoot LinkType = iota
	// LinkInvite records an invitation issued to a prospective member or device.
	LinkInvite
	// LinkAdmit records that a presented proof of invitation was accepted.
	LinkAdmit
	// LinkJoin records a newcomer presenting their permanent keys, authenticated
	// by the starter key recorded in the corresponding LinkInvite.
	LinkJoin
	// LinkRevokeInvitation records that an outstanding invitation is no longer valid.
	LinkRevokeInvitation
	// LinkRemoveMember records that a member (and all of their devices) was removed.
	LinkRemoveMember
)

// String returns a human-readable link type name.
func (t LinkType) String() string {
	switch t {
	case LinkRoot:
		return "ROOT"
	case LinkInvite:
		return "INVITE"
	case LinkAdmit:
		return "ADMIT"
	case LinkJoin:
		return "JOIN"
	case LinkRevokeInvitation:
		return "REVOKE_INVITATION"
	case LinkRemoveMember:
		return "REMOVE_MEMBER"
	default:
		return "UNKNOWN"
	}
}

// RootPayload is the LinkRoot payload: it founds the team and its first
// admin member and device.
type RootPayload struct {
	TeamName                string          `json:"teamName"`
	FounderName              string         `json:"founderName"`
	FounderDeviceName        string         `json:"founderDeviceName"`
	FounderSigningPublicKey  ed25519.PublicKey `json:"founderSigningPublicKey"`
	FounderEncryptionPublicKey [32]byte     `json:"founderEncryptionPublicKey"`
}

// InvitePayload is the LinkInvite payload.
type InvitePayload struct {
	ID               string         `json:"id"`
	Invitee          member.Invitee `json:"invitee"`
	StarterPublicKey ed25519.PublicKey `json:"starterPublicKey"`
}

// AdmitPayload is the LinkAdmit payload.
type AdmitPayload struct {
	InvitationID string `json:"invitationId"`
}

// JoinPayload is the LinkJoin payload. It is signed by the starter secret
// key derived from the invitation seed, proving the joiner is the same
// party the invitation named, and carries the permanent keys that party
// will use from now on.
type JoinPayload struct {
	InvitationID          string            `json:"invitationId"`
	DeviceName            string            `json:"deviceName"`
	SigningPublicKey      ed25519.PublicKey `json:"signingPublicKey"`
	EncryptionPublicKey   [32]byte          `json:"encryptionPublicKey"`
}

// RevokeInvitationPayload is the LinkRevokeInvitation payload.
type RevokeInvitationPayload struct {
	InvitationID string `json:"invitationId"`
}

// RemoveMemberPayload is the LinkRemoveMember payload.
type RemoveMemberPayload struct {
	MemberName string `json:"memberName"`
}

// Link is one hash-linked, signed entry in a team's signature chain.
type Link struct {
	Type      LinkType          `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	PrevHash  Hash              `json:"prevHash"`
	Author    ed25519.PublicKey `json:"author"`
	Signature []byte            `json:"signature"`
}

// signedBytes returns the exact bytes a Link's Signature covers: its type,
// payload, previous hash, and author, but not the signature itself.
func (l *Link) signedBytes() ([]byte, error) {
	type signed struct {
		Type     LinkType        `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		PrevHash Hash            `json:"prevHash"`
		Author   ed25519.PublicKey `json:"author"`
	}
	return json.Marshal(signed{Type: l.Type, Payload: l.Payload, PrevHash: l.PrevHash, Author: l.Author})
}

// Hash returns the content hash identifying this link in the chain.
func (l *Link) Hash() (Hash, error) {
	b, err := l.signedBytes()
	if err != nil {
		return Hash{}, err
	}
	full := sha256.Sum256(b)
	var h Hash
	copy(h[:], full[:])
	return h, nil
}

// Verify checks the link's signature against its Author public key.
func (l *Link) Verify() (bool, error) {
	b, err := l.signedBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(l.Author, b, l.Signature), nil
}

func newLink(t LinkType, payload interface{}, prevHash Hash, author ed25519.PrivateKey) (*Link, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	l := &Link{
		Type:     t,
		Payload:  raw,
		PrevHash: prevHash,
		Author:   author.Public().(ed25519.PublicKey),
	}
	signed, err := l.signedBytes()
	if err != nil {
		return nil, err
	}
	l.Signature = ed25519.Sign(author, signed)
	return l, nil
}

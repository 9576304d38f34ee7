package chain

import (
	"crypto/ed25519"

	"github.com/bmpi-dev/auth/pkg/member"
)

// DeviceRecord is one device belonging to a MemberRecord.
type DeviceRecord struct {
	Name              string
	SigningPublicKey  ed25519.PublicKey
	EncryptionPublicKey [32]byte
	Removed           bool
}

// MemberRecord is a team member as replayed from the chain.
type MemberRecord struct {
	Name    string
	Admin   bool
	Removed bool
	Devices map[string]*DeviceRecord
}

// Device looks up one of the member's devices by name.
func (m *MemberRecord) Device(name string) (*DeviceRecord, bool) {
	d, ok := m.Devices[name]
	return d, ok
}

// InvitationRecord is an outstanding or resolved invitation.
type InvitationRecord struct {
	ID               string
	Invitee          member.Invitee
	StarterPublicKey ed25519.PublicKey
	Revoked          bool
	Admitted         bool
}

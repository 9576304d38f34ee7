// Package chain is the reference implementation of the "Team" external
// collaborator described in Specification Section 6: a hash-linked,
// append-only log of signed membership operations. The connection
// protocol's core (pkg/fsm, pkg/connection) only depends on the methods
// this package exposes — admit, join, save/load, getMissingLinks,
// receiveMissingLinks, validateInvitation, lookupIdentity,
// verifyIdentityProof, has, members, OnUpdate, and the chain's
// root/head/links — never on its internal replay logic.
package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"

	"github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/member"
)

// Chain is one local replica of a team's signature chain.
//
// Thread-safe for concurrent use, matching the table types in the teacher
// stack (pkg/fabric.Table, pkg/session.Table).
type Chain struct {
	mu sync.RWMutex

	teamName string
	author   ed25519.PrivateKey // signs new links appended locally

	links  []*Link
	byHash map[Hash]int // hash -> index into links

	members     map[string]*MemberRecord
	invitations map[string]*InvitationRecord // keyed by InvitePayload.ID

	listeners      map[int]func()
	nextListenerID int
}

// New founds a brand new team, naming founderName/founderDeviceName as its
// first (admin) member and device, authored and signed by founderKeys.
func New(teamName, founderName, founderDeviceName string, founderKeys crypto.SigningKeyPair, founderEncryption crypto.EncryptionKeyPair) (*Chain, error) {
	root, err := newLink(LinkRoot, RootPayload{
		TeamName:                   teamName,
		FounderName:                founderName,
		FounderDeviceName:          founderDeviceName,
		FounderSigningPublicKey:    founderKeys.PublicKey,
		FounderEncryptionPublicKey: founderEncryption.PublicKey,
	}, Hash{}, founderKeys.SecretKey)
	if err != nil {
		return nil, err
	}

	c := newEmptyChain(teamName, founderKeys.SecretKey)
	if err := c.appendAndApply(root); err != nil {
		return nil, err
	}
	return c, nil
}

func newEmptyChain(teamName string, author ed25519.PrivateKey) *Chain {
	return &Chain{
		teamName:    teamName,
		author:      author,
		byHash:      make(map[Hash]int),
		members:     make(map[string]*MemberRecord),
		invitations: make(map[string]*InvitationRecord),
		listeners:   make(map[int]func()),
	}
}

// Save serializes the chain to an opaque blob suitable for transmission in
// an ACCEPT_INVITATION message or persistence by the host.
func (c *Chain) Save() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.links)
}

// Load rebuilds a Chain from a blob produced by Save, verifying every
// link's signature and hash-chain continuity as it replays them. author is
// the signing key this local replica will use to author any links it
// appends going forward (Join signs its own link with the starter key and
// then replaces author with it).
func Load(source []byte, author ed25519.PrivateKey) (*Chain, error) {
	var links []*Link
	if err := json.Unmarshal(source, &links); err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrInvalidLink
	}

	c := newEmptyChain("", author)
	for _, l := range links {
		if err := c.appendAndApply(l); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Root returns the hash of the chain's founding link.
func (c *Chain) Root() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.links) == 0 {
		return Hash{}
	}
	h, _ := c.links[0].Hash()
	return h
}

// Head returns the hash of the chain's most recent link.
func (c *Chain) Head() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.links) == 0 {
		return Hash{}
	}
	h, _ := c.links[len(c.links)-1].Hash()
	return h
}

// Links returns the full ordered list of links currently held. The slice
// is a copy; mutating it does not affect the chain.
func (c *Chain) Links() []*Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Link, len(c.links))
	copy(out, c.links)
	return out
}

// Hashes returns the set of hashes for every link currently held, as sent
// in an UPDATE message.
func (c *Chain) Hashes() []Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Hash, len(c.links))
	for i, l := range c.links {
		h, _ := l.Hash()
		out[i] = h
	}
	return out
}

// Has reports whether userName is a member of the team and has not been
// removed.
func (c *Chain) Has(userName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[userName]
	return ok && !m.Removed
}

// Members looks up a member's record by username.
func (c *Chain) Members(userName string) (*MemberRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[userName]
	return m, ok
}

// appendAndApply validates that l extends the current head, verifies its
// signature, applies its side effects to members/invitations, and appends
// it to the chain. Callers must hold no lock; appendAndApply takes its own.
func (c *Chain) appendAndApply(l *Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendAndApplyLocked(l)
}

func (c *Chain) appendAndApplyLocked(l *Link) error {
	var expectedPrev Hash
	if len(c.links) > 0 {
		expectedPrev, _ = c.links[len(c.links)-1].Hash()
	}
	if l.PrevHash != expectedPrev {
		return ErrChainFork
	}

	ok, err := l.Verify()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidLink
	}

	if err := c.apply(l); err != nil {
		return err
	}

	h, err := l.Hash()
	if err != nil {
		return err
	}
	c.links = append(c.links, l)
	c.byHash[h] = len(c.links) - 1
	return nil
}

// apply folds one link's payload into the replayed members/invitations
// state. It does not touch c.links; appendAndApplyLocked does that once
// apply succeeds.
func (c *Chain) apply(l *Link) error {
	switch l.Type {
	case LinkRoot:
		var p RootPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		if c.teamName == "" {
			c.teamName = p.TeamName
		}
		c.members[p.FounderName] = &MemberRecord{
			Name:  p.FounderName,
			Admin: true,
			Devices: map[string]*DeviceRecord{
				p.FounderDeviceName: {
					Name:                p.FounderDeviceName,
					SigningPublicKey:    p.FounderSigningPublicKey,
					EncryptionPublicKey: p.FounderEncryptionPublicKey,
				},
			},
		}
		return nil

	case LinkInvite:
		if !c.authorIsAdmin(l) {
			return ErrNotAdmin
		}
		var p InvitePayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		c.invitations[p.ID] = &InvitationRecord{
			ID:               p.ID,
			Invitee:          p.Invitee,
			StarterPublicKey: p.StarterPublicKey,
		}
		return nil

	case LinkRevokeInvitation:
		if !c.authorIsAdmin(l) {
			return ErrNotAdmin
		}
		var p RevokeInvitationPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		inv, ok := c.invitations[p.InvitationID]
		if !ok {
			return ErrInvitationNotFound
		}
		inv.Revoked = true
		return nil

	case LinkAdmit:
		if !c.authorIsAdmin(l) {
			return ErrNotAdmin
		}
		var p AdmitPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		inv, ok := c.invitations[p.InvitationID]
		if !ok {
			return ErrInvitationNotFound
		}
		inv.Admitted = true
		if inv.Invitee.Kind == member.KindMember {
			if _, exists := c.members[inv.Invitee.Name]; !exists {
				c.members[inv.Invitee.Name] = &MemberRecord{
					Name:    inv.Invitee.Name,
					Devices: make(map[string]*DeviceRecord),
				}
			}
		}
		return nil

	case LinkJoin:
		var p JoinPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		inv, ok := c.invitations[p.InvitationID]
		if !ok {
			return ErrInvitationNotFound
		}
		userName := inv.Invitee.Name
		if inv.Invitee.Kind == member.KindDevice {
			userName = ownerOfDeviceInvitee(inv.Invitee.Name)
		}
		m, ok := c.members[userName]
		if !ok {
			m = &MemberRecord{Name: userName, Devices: make(map[string]*DeviceRecord)}
			c.members[userName] = m
		}
		m.Devices[p.DeviceName] = &DeviceRecord{
			Name:                p.DeviceName,
			SigningPublicKey:    p.SigningPublicKey,
			EncryptionPublicKey: p.EncryptionPublicKey,
		}
		return nil

	case LinkRemoveMember:
		if !c.authorIsAdmin(l) {
			return ErrNotAdmin
		}
		var p RemoveMemberPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			return err
		}
		m, ok := c.members[p.MemberName]
		if !ok {
			return ErrUnknownMember
		}
		m.Removed = true
		for _, d := range m.Devices {
			d.Removed = true
		}
		return nil

	default:
		return ErrInvalidLink
	}
}

// authorIsAdmin reports whether l's signer is a current, non-removed admin
// member's device. Invite/RevokeInvitation/Admit/RemoveMember are
// admin-only team mutations (Specification Section 4.D); this is checked
// inside apply so it holds equally for locally authored links and links
// folded in via ReceiveMissingLinks from a peer.
func (c *Chain) authorIsAdmin(l *Link) bool {
	for _, m := range c.members {
		if m.Removed || !m.Admin {
			continue
		}
		for _, d := range m.Devices {
			if !d.Removed && string(d.SigningPublicKey) == string(l.Author) {
				return true
			}
		}
	}
	return false
}

// ownerOfDeviceInvitee splits a "user::device" device-invitee name into its
// owning username.
func ownerOfDeviceInvitee(name string) string {
	for i := 0; i < len(name)-1; i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[:i]
		}
	}
	return name
}

// notifyUpdated invokes every registered listener. Callers must not hold
// c.mu when calling this.
func (c *Chain) notifyUpdated() {
	c.mu.RLock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// OnUpdate registers a callback invoked after any local or remote mutation
// (admit, join, receiveMissingLinks). It returns an unsubscribe function;
// callers must invoke it on disconnect to avoid leaking the listener
// (Specification Section 9).
func (c *Chain) OnUpdate(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

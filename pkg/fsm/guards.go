package fsm

// guardIHaveInvitation: invitee set and team absent (Specification Section
// 4.E guard `iHaveInvitation`).
func (m *Machine) guardIHaveInvitation() bool {
	return m.ctx.Invitee != nil && m.ctx.Team == nil
}

// guardBothHaveInvitation: this side and the peer are both unjoined
// invitees — two strangers, always fatal (guard `bothHaveInvitation`).
func (m *Machine) guardBothHaveInvitation() bool {
	return m.guardIHaveInvitation() && m.ctx.TheyHaveInvitation
}

// guardHeadsAreEqual: both sides' current chain heads match (guard
// `headsAreEqual`).
func (m *Machine) guardHeadsAreEqual() bool {
	if m.ctx.Team == nil || m.ctx.TheirHead == nil {
		return false
	}
	return m.ctx.Team.Head() == *m.ctx.TheirHead
}

// guardPeerWasRemoved: the resolved peer is no longer a team member (guard
// `peerWasRemoved`).
func (m *Machine) guardPeerWasRemoved() bool {
	if m.ctx.Team == nil || m.ctx.Peer == nil {
		return false
	}
	return !m.ctx.Team.Has(m.ctx.Peer.UserName)
}

// guardDontHaveSessionKey gates re-entering negotiating (guard
// `dontHaveSessionkey`).
func (m *Machine) guardDontHaveSessionKey() bool {
	return m.ctx.SessionKey == nil
}

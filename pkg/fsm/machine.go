// Package fsm implements Specification Section 4.E: the hierarchical
// connection state machine that is the heart of the protocol. It has no
// knowledge of transport or serialization — callers feed it decoded
// message.Envelope values via Step and receive outbound messages and
// lifecycle events back; the connection driver (pkg/connection) is the only
// thing that talks to a transport.
//
// The source library's statechart is replaced by an explicit Phase enum
// plus two parallel sub-phases (Specification Section 9), and every action
// mutates context by building a ContextPatch and passing it to one function
// (apply) rather than writing fields directly.
package fsm

import (
	"sync"

	"github.com/bmpi-dev/auth/pkg/chain"
	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/identity"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
	"github.com/bmpi-dev/auth/pkg/message"
	"github.com/bmpi-dev/auth/pkg/sessionkey"
)

// Config constructs a Machine's initial Context. Exactly one of (User,
// Team) or (Invitee, InvitationSeed) should be set, mirroring Specification
// Section 3's invariant that `team` and `invitee` are mutually exclusive at
// the start of a connection.
type Config struct {
	Device LocalDevice

	// Already a team member:
	User *LocalUser
	Team *chain.Chain

	// Unjoined invitee:
	Invitee        *member.Invitee
	InvitationSeed string
}

// Machine is one connection's protocol state machine. Safe for concurrent
// use; callers are nonetheless expected to serialize Step calls per the
// single-threaded cooperative model of Specification Section 5.
type Machine struct {
	mu sync.Mutex

	ctx Context

	phase     Phase
	invPhase  InvitationPhase
	authPhase AuthPhase

	started  bool
	terminal bool

	// The identity region runs two independent exchanges concurrently: us
	// proving our identity in response to the peer's challenge, and us
	// verifying the peer's proof then awaiting their acceptance. Each flag
	// below guards one message's idempotency; authPhase only reflects
	// whether both have concluded (Specification Section 9's guidance to
	// avoid conflating independent sub-flows into one linear state).
	respondedToChallenge bool
	verifiedPeer         bool
	gotPeerAccept        bool
}

// New constructs a fresh Machine in the disconnected state.
func New(cfg Config) *Machine {
	return &Machine{
		ctx: Context{
			Device:         cfg.Device,
			User:           cfg.User,
			Team:           cfg.Team,
			Invitee:        cfg.Invitee,
			InvitationSeed: cfg.InvitationSeed,
		},
		phase: PhaseDisconnected,
	}
}

// Phase returns the machine's current top-level phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Context returns a copy of the machine's current context, for callers that
// need to inspect sessionKey, peer, or error after reaching a terminal or
// connected state.
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// apply is the single path every action mutates context through.
func (m *Machine) apply(patch ContextPatch) {
	applyPatch(&m.ctx, patch)
}

// Step feeds one decoded message into the machine and returns the outbound
// messages and lifecycle events it produced. Step returns ErrTerminal if
// the machine has already reached failure or disconnected.
func (m *Machine) Step(env message.Envelope) (StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal {
		return StepResult{}, ErrTerminal
	}

	switch env.Type {
	case message.KindReady:
		return m.handleReady()
	case message.KindReconnect:
		return m.handleReconnect()
	case message.KindHello:
		var p message.HelloPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleHello(p)
	case message.KindAcceptInvitation:
		var p message.AcceptInvitationPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleAcceptInvitation(p)
	case message.KindChallengeIdentity:
		var p message.ChallengeIdentityPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleChallengeIdentity(p)
	case message.KindProveIdentity:
		var p message.ProveIdentityPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleProveIdentity(p)
	case message.KindAcceptIdentity:
		return m.handleAcceptIdentity()
	case message.KindUpdate:
		var p message.UpdatePayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleUpdate(p)
	case message.KindMissingLinks:
		var p message.MissingLinksPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleMissingLinks(p)
	case message.KindLocalUpdate:
		var p message.LocalUpdatePayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleLocalUpdate(p)
	case message.KindSeed:
		var p message.SeedPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleSeed(p)
	case message.KindEncryptedMessage:
		var p message.EncryptedMessagePayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleEncryptedMessage(p)
	case message.KindDisconnect:
		return m.handleDisconnect()
	case message.KindError:
		var p message.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return StepResult{}, err
		}
		return m.handleError(p)
	default:
		return StepResult{}, ErrUnexpectedMessage
	}
}

// fail implements every `fail*` action: it records the error, transitions
// to the terminal failure phase, emits an outbound ERROR, and fires
// onDisconnected.
func (m *Machine) fail(code, detail string) StepResult {
	m.apply(ContextPatch{Error: &ErrorInfo{Code: code, Message: detail}})
	m.phase = PhaseFailure
	m.terminal = true
	return StepResult{
		Outbound: []Outbound{{Kind: message.KindError, Payload: message.ErrorPayload{Message: code, Details: detail}}},
		Events:   []Event{{Kind: EventDisconnected, Reason: code}},
	}
}

// handleReady starts the connection: enters PhaseConnecting, evaluates
// iHaveInvitation to pick the invitation region's initial sub-state, and
// runs claimingIdentity's entry action (sendHello).
func (m *Machine) handleReady() (StepResult, error) {
	if m.started {
		return StepResult{}, ErrUnexpectedMessage
	}
	m.started = true
	m.phase = PhaseConnecting
	if m.guardIHaveInvitation() {
		m.invPhase = InvWaiting
	} else {
		m.invPhase = InvDoingNothing
	}
	m.authPhase = AuthClaimingIdentity

	out, err := m.sendHello()
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outbound: []Outbound{out}}, nil
}

// handleReconnect restarts an in-progress connection's authentication and
// invitation regions without discarding an already-established User/Team,
// mirroring `start()`'s "start FSM if fresh, else send RECONNECT" rule.
func (m *Machine) handleReconnect() (StepResult, error) {
	m.phase = PhaseConnecting
	if m.guardIHaveInvitation() {
		m.invPhase = InvWaiting
	} else {
		m.invPhase = InvDoingNothing
	}
	m.authPhase = AuthClaimingIdentity

	out, err := m.sendHello()
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Outbound: []Outbound{out}}, nil
}

func (m *Machine) sendHello() (Outbound, error) {
	var proof *invitation.ProofOfInvitation
	if m.ctx.Team == nil && m.ctx.Invitee != nil {
		p, err := invitation.GenerateProof(m.ctx.InvitationSeed, *m.ctx.Invitee)
		if err != nil {
			return Outbound{}, err
		}
		proof = &p
	}
	return Outbound{
		Kind: message.KindHello,
		Payload: message.HelloPayload{
			IdentityClaim:     m.ctx.Claim(),
			ProofOfInvitation: proof,
		},
	}, nil
}

// handleHello implements claimingIdentity's `on HELLO` transition
// (receiveHello, confirmIdentityExists), its automatic move into
// challengingIdentity (challengeIdentity), and — when the peer presented a
// proof of invitation — the invitation region's validating branch.
func (m *Machine) handleHello(p message.HelloPayload) (StepResult, error) {
	if m.phase != PhaseConnecting || m.authPhase != AuthClaimingIdentity {
		return StepResult{}, ErrUnexpectedMessage
	}

	m.apply(ContextPatch{
		TheirIdentityClaim:     &p.IdentityClaim,
		TheyHaveInvitationSet:  true,
		TheyHaveInvitation:     p.ProofOfInvitation != nil,
		TheirProofOfInvitation: p.ProofOfInvitation,
	})

	var result StepResult

	// confirmIdentityExists only applies to a peer claiming to already be a
	// member: an invitee presenting a proof of invitation is by definition
	// not yet on the chain, and is checked by the invitation region instead.
	if m.ctx.Team != nil && p.ProofOfInvitation == nil {
		outcome := m.ctx.Team.LookupIdentity(p.IdentityClaim)
		if outcome != chain.OutcomeValidDevice {
			return m.fail(identityErrorCode(outcome), "peer's declared identity does not resolve on the chain"), nil
		}
	}

	// Invitation region: validating branch, only reachable when the peer
	// presented a proof.
	if p.ProofOfInvitation != nil {
		if m.guardBothHaveInvitation() {
			return m.fail(ErrCodeNeitherIsMember, "neither side of this connection is a member yet"), nil
		}
		if m.ctx.Team != nil {
			validation := m.ctx.Team.ValidateInvitation(*p.ProofOfInvitation)
			if !validation.IsValid {
				detail := "invitation proof is invalid"
				if validation.Error != nil {
					detail = validation.Error.Error()
				}
				code := ErrCodeInvitationInvalid
				switch validation.Error {
				case chain.ErrInvitationRevoked:
					code = ErrCodeInvitationRevoked
				case chain.ErrUserNameMismatch:
					code = ErrCodeUserNameMismatch
				}
				return m.fail(code, detail), nil
			}
			if err := m.ctx.Team.Admit(*p.ProofOfInvitation); err != nil {
				return m.fail(ErrCodeInvitationInvalid, err.Error()), nil
			}
			blob, err := m.ctx.Team.Save()
			if err != nil {
				return StepResult{}, err
			}
			m.invPhase = InvSuccess
			result.Outbound = append(result.Outbound, Outbound{
				Kind:    message.KindAcceptInvitation,
				Payload: message.AcceptInvitationPayload{Chain: blob},
			})
		}
	}

	// challengeIdentity: entry action for challengingIdentity.
	challenge, err := identity.NewChallenge(p.IdentityClaim)
	if err != nil {
		return StepResult{}, err
	}
	m.apply(ContextPatch{Challenge: &challenge})
	m.authPhase = AuthChallengingIdentity
	result.Outbound = append(result.Outbound, Outbound{
		Kind:    message.KindChallengeIdentity,
		Payload: message.ChallengeIdentityPayload{Challenge: challenge},
	})

	m.maybeEnterSynchronizing(&result)
	return result, nil
}

// handleAcceptInvitation implements the invitation region's `waiting` state:
// the invitee side receiving the inviter's chain.
func (m *Machine) handleAcceptInvitation(p message.AcceptInvitationPayload) (StepResult, error) {
	if m.invPhase != InvWaiting {
		return StepResult{}, ErrUnexpectedMessage
	}

	loaded, err := chain.Load(p.Chain, m.ctx.Device.Signing.SecretKey)
	if err != nil {
		return m.fail(ErrCodeWrongTeam, "could not load team chain from inviter"), nil
	}
	if !loaded.ContainsInvitation(*m.ctx.Invitee) {
		return m.fail(ErrCodeWrongTeam, "received chain does not contain our invitation"), nil
	}

	identityResult, err := loaded.Join(*m.ctx.Invitee, m.ctx.InvitationSeed, m.ctx.Device.DeviceName)
	if err != nil {
		return m.fail(ErrCodeInvitationInvalid, err.Error()), nil
	}

	device := LocalDevice{
		DeviceName: identityResult.DeviceName,
		Signing:    identityResult.Signing,
		Encryption: identityResult.Encryption,
	}
	m.apply(ContextPatch{
		Device: &device,
		User:   &LocalUser{UserName: identityResult.UserName},
		Team:   loaded,
	})
	m.invPhase = InvSuccess

	result := StepResult{Events: []Event{{Kind: EventJoined, Team: loaded}}}
	m.maybeEnterSynchronizing(&result)
	return result, nil
}

// handleChallengeIdentity implements challengingIdentity's `on
// CHALLENGE_IDENTITY` transition (proveIdentity). This is the half of the
// identity region where we prove our own identity to the peer; it runs
// independently of verifiedPeer/gotPeerAccept below, since the peer's
// challenge and their response to ours can arrive in either order.
func (m *Machine) handleChallengeIdentity(p message.ChallengeIdentityPayload) (StepResult, error) {
	if m.phase != PhaseConnecting || m.respondedToChallenge {
		return StepResult{}, ErrUnexpectedMessage
	}
	proof, err := identity.Prove(p.Challenge, m.ctx.Device.Signing.SecretKey)
	if err != nil {
		return StepResult{}, err
	}
	m.respondedToChallenge = true
	return StepResult{Outbound: []Outbound{{
		Kind:    message.KindProveIdentity,
		Payload: message.ProveIdentityPayload{Challenge: p.Challenge, Proof: proof.Signature},
	}}}, nil
}

// handleProveIdentity implements challengingIdentity's `on PROVE_IDENTITY`
// transition (identityProofIsValid guard, acceptIdentity/storePeer actions):
// the peer has answered our earlier challenge.
func (m *Machine) handleProveIdentity(p message.ProveIdentityPayload) (StepResult, error) {
	if m.phase != PhaseConnecting || m.verifiedPeer {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.Team == nil {
		return m.fail(ErrCodeIdentityProofInvalid, "no team available yet to verify identity proof"), nil
	}
	proof := identity.Proof{Challenge: p.Challenge, Signature: p.Proof}
	if !m.ctx.Team.VerifyIdentityProof(proof) {
		return m.fail(ErrCodeIdentityProofInvalid, "identity proof failed verification"), nil
	}

	m.storePeer(p.Challenge.Claim)
	m.verifiedPeer = true
	m.authPhase = AuthAwaitingIdentityAcceptance

	result := StepResult{Outbound: []Outbound{{Kind: message.KindAcceptIdentity, Payload: message.AcceptIdentityPayload{}}}}
	m.checkAuthDone(&result)
	return result, nil
}

// handleAcceptIdentity implements awaitingIdentityAcceptance's implicit
// move to accepted on ACCEPT_IDENTITY: the peer has accepted our proof.
func (m *Machine) handleAcceptIdentity() (StepResult, error) {
	if m.phase != PhaseConnecting || m.gotPeerAccept {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.TheirIdentityClaim != nil {
		m.storePeer(*m.ctx.TheirIdentityClaim)
	}
	m.gotPeerAccept = true

	var result StepResult
	m.checkAuthDone(&result)
	return result, nil
}

// checkAuthDone moves the identity region to accepted once we have both
// verified the peer's proof and been told the peer accepted ours.
func (m *Machine) checkAuthDone(result *StepResult) {
	if !m.verifiedPeer || !m.gotPeerAccept {
		return
	}
	m.authPhase = AuthAccepted
	m.maybeEnterSynchronizing(result)
}

// storePeer resolves claim against the team, leaving Peer unset if the
// member was removed (Specification Section 4.E action `storePeer`).
func (m *Machine) storePeer(claim member.Claim) {
	if m.ctx.Team == nil {
		return
	}
	if peer, ok := m.ctx.Team.ResolvePeer(claim); ok {
		m.apply(ContextPatch{Peer: &peer})
	}
}

// maybeEnterSynchronizing transitions connecting -> synchronizing once both
// parallel regions have concluded successfully, running synchronizing's
// entry action sendUpdate. The companion entry action, listenForTeamUpdates,
// is a driver-level concern (Specification Section 9's cancellation-token
// note): the connection driver subscribes to ctx.Team once it observes this
// phase transition and forwards updates back in as KindLocalUpdate events.
func (m *Machine) maybeEnterSynchronizing(result *StepResult) {
	if m.phase != PhaseConnecting {
		return
	}
	invDone := m.invPhase == InvSuccess || m.invPhase == InvDoingNothing
	if !invDone || m.authPhase != AuthAccepted {
		return
	}
	m.phase = PhaseSynchronizing

	if m.ctx.Team != nil {
		result.Outbound = append(result.Outbound, Outbound{
			Kind:    message.KindUpdate,
			Payload: message.UpdatePayload(m.ctx.Team.State()),
		})
	}
}

// handleUpdate implements synchronizing's `on UPDATE` transition
// (recordTheirHead, sendMissingLinks) and connected's `on UPDATE ->
// synchronizing` re-entry.
func (m *Machine) handleUpdate(p message.UpdatePayload) (StepResult, error) {
	if m.phase != PhaseSynchronizing && m.phase != PhaseConnected {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.Team == nil {
		return StepResult{}, ErrMissingTeam
	}
	m.phase = PhaseSynchronizing
	head := p.Head
	m.apply(ContextPatch{TheirHead: &head})

	var result StepResult
	missing := m.ctx.Team.GetMissingLinks(chain.SyncState{Root: p.Root, Head: p.Head, Hashes: p.Hashes})
	if len(missing) > 0 {
		result.Outbound = append(result.Outbound, Outbound{
			Kind:    message.KindMissingLinks,
			Payload: message.MissingLinksPayload{Head: m.ctx.Team.Head(), Links: missing},
		})
	}
	m.checkSyncGuards(&result)
	return result, nil
}

// handleMissingLinks implements synchronizing's `on MISSING_LINKS`
// transition (receiveMissingLinks, sendUpdate).
func (m *Machine) handleMissingLinks(p message.MissingLinksPayload) (StepResult, error) {
	if m.phase != PhaseSynchronizing {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.Team == nil {
		return StepResult{}, ErrMissingTeam
	}
	if err := m.ctx.Team.ReceiveMissingLinks(p.Links); err != nil {
		return m.fail(ErrCodeInvitationInvalid, err.Error()), nil
	}

	result := StepResult{Outbound: []Outbound{{
		Kind:    message.KindUpdate,
		Payload: message.UpdatePayload(m.ctx.Team.State()),
	}}}
	m.checkSyncGuards(&result)
	return result, nil
}

// handleLocalUpdate implements synchronizing's and connected's `on
// LOCAL_UPDATE` transitions (sendUpdate, re-entering synchronizing from
// connected).
func (m *Machine) handleLocalUpdate(_ message.LocalUpdatePayload) (StepResult, error) {
	if m.phase != PhaseSynchronizing && m.phase != PhaseConnected {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.Team == nil {
		return StepResult{}, ErrMissingTeam
	}
	m.phase = PhaseSynchronizing

	result := StepResult{Outbound: []Outbound{{
		Kind:    message.KindUpdate,
		Payload: message.UpdatePayload(m.ctx.Team.State()),
	}}}
	m.checkSyncGuards(&result)
	return result, nil
}

// checkSyncGuards applies synchronizing's always-on guard checks: fail if
// the peer was removed, otherwise advance once both heads agree — to
// negotiating for a first-time session key, or straight back to connected
// with onUpdated if a sync round was re-entered from connected and the
// session key from before is still good.
func (m *Machine) checkSyncGuards(result *StepResult) {
	if m.phase != PhaseSynchronizing {
		return
	}
	// A peer admitted just before this connection may not have resolved at
	// identity-acceptance time yet (their JOIN link hadn't synced back to
	// us); retry now that a sync round has run.
	if m.ctx.Peer == nil && m.ctx.TheirIdentityClaim != nil {
		m.storePeer(*m.ctx.TheirIdentityClaim)
	}
	if m.guardPeerWasRemoved() {
		failed := m.fail(ErrCodePeerRemoved, "peer was removed from the team during synchronization")
		result.Outbound = append(result.Outbound, failed.Outbound...)
		result.Events = append(result.Events, failed.Events...)
		return
	}
	if !m.guardHeadsAreEqual() {
		return
	}
	if m.guardDontHaveSessionKey() {
		m.enterNegotiating(result)
		return
	}
	m.phase = PhaseConnected
	result.Events = append(result.Events, Event{Kind: EventUpdated, Team: m.ctx.Team})
}

// enterNegotiating runs negotiating's entry actions (generateSeed,
// sendSeed).
func (m *Machine) enterNegotiating(result *StepResult) {
	m.phase = PhaseNegotiating

	seed, err := authcrypto.Random32()
	if err != nil {
		failed := m.fail(ErrCodeDecryptionFailed, err.Error())
		result.Outbound = append(result.Outbound, failed.Outbound...)
		result.Events = append(result.Events, failed.Events...)
		return
	}
	m.apply(ContextPatch{Seed: &seed})

	if m.ctx.Peer == nil {
		failed := m.fail(ErrCodePeerRemoved, "no resolved peer to exchange a session seed with")
		result.Outbound = append(result.Outbound, failed.Outbound...)
		result.Events = append(result.Events, failed.Events...)
		return
	}
	ciphertext, err := authcrypto.BoxEncrypt(seed[:], m.ctx.Peer.Device.EncryptionPublicKey, m.ctx.Device.Encryption.SecretKey)
	if err != nil {
		failed := m.fail(ErrCodeDecryptionFailed, err.Error())
		result.Outbound = append(result.Outbound, failed.Outbound...)
		result.Events = append(result.Events, failed.Events...)
		return
	}
	result.Outbound = append(result.Outbound, Outbound{
		Kind:    message.KindSeed,
		Payload: message.SeedPayload{EncryptedSeed: ciphertext},
	})
}

// handleSeed implements negotiating's `on SEED` transition (receiveSeed,
// deriveSharedKey) and connected's entry action (onConnected).
func (m *Machine) handleSeed(p message.SeedPayload) (StepResult, error) {
	if m.phase != PhaseNegotiating {
		return StepResult{}, ErrUnexpectedMessage
	}
	if m.ctx.Peer == nil || m.ctx.Seed == nil {
		return StepResult{}, ErrMissingPeer
	}
	m.apply(ContextPatch{TheirEncryptedSeed: p.EncryptedSeed})

	plaintext, err := authcrypto.BoxDecrypt(p.EncryptedSeed, m.ctx.Peer.Device.EncryptionPublicKey, m.ctx.Device.Encryption.SecretKey)
	if err != nil || len(plaintext) != 32 {
		return m.fail(ErrCodeDecryptionFailed, "could not decrypt peer's session seed"), nil
	}
	var theirSeed [32]byte
	copy(theirSeed[:], plaintext)

	key, err := sessionkey.Derive(*m.ctx.Seed, theirSeed)
	if err != nil {
		return m.fail(ErrCodeDecryptionFailed, err.Error()), nil
	}
	m.apply(ContextPatch{SessionKey: &key})
	m.phase = PhaseConnected

	return StepResult{Events: []Event{{Kind: EventConnected}}}, nil
}

// handleEncryptedMessage implements connected's `on ENCRYPTED_MESSAGE`
// transition (receiveEncryptedMessage).
func (m *Machine) handleEncryptedMessage(p message.EncryptedMessagePayload) (StepResult, error) {
	if m.phase != PhaseConnected {
		return StepResult{}, ErrUnexpectedMessage
	}
	plaintext, err := authcrypto.SecretDecrypt(p.Payload, *m.ctx.SessionKey)
	if err != nil {
		return m.fail(ErrCodeDecryptionFailed, "could not decrypt application message"), nil
	}
	return StepResult{Events: []Event{{Kind: EventMessage, Message: plaintext}}}, nil
}

// handleDisconnect implements the global `on DISCONNECT -> disconnected`
// transition, valid from connected (and, generously, from any
// non-terminal phase, matching the driver's own idempotent stop()).
func (m *Machine) handleDisconnect() (StepResult, error) {
	m.phase = PhaseDisconnected
	m.terminal = true
	return StepResult{Events: []Event{{Kind: EventDisconnected, Reason: "peer disconnected"}}}, nil
}

// handleError implements the global `on ERROR -> failure` transition
// (receiveError).
func (m *Machine) handleError(p message.ErrorPayload) (StepResult, error) {
	m.apply(ContextPatch{Error: &ErrorInfo{Code: ErrCodePeerError, Message: p.Message}})
	m.phase = PhaseFailure
	m.terminal = true
	return StepResult{Events: []Event{{Kind: EventDisconnected, Reason: p.Message}}}, nil
}

// FailTimeout is called by the connection driver when a per-phase timer
// elapses (Specification Section 4.E's global timeout handler).
func (m *Machine) FailTimeout() StepResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return StepResult{}
	}
	return m.fail(ErrCodeTimeout, "handshake or sync phase timed out")
}

// identityErrorCode maps a chain.IdentityOutcome to the wire error code
// `confirmIdentityExists` reports it as (Specification Section 4.E).
func identityErrorCode(outcome chain.IdentityOutcome) string {
	switch outcome {
	case chain.OutcomeMemberUnknown:
		return ErrCodeMemberUnknown
	case chain.OutcomeMemberRemoved:
		return ErrCodeMemberRemoved
	case chain.OutcomeDeviceUnknown:
		return ErrCodeDeviceUnknown
	case chain.OutcomeDeviceRemoved:
		return ErrCodeDeviceRemoved
	default:
		return ErrCodeMemberUnknown
	}
}

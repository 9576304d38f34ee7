package message

import (
	"encoding/json"

	"github.com/bmpi-dev/auth/pkg/chain"
	"github.com/bmpi-dev/auth/pkg/identity"
	"github.com/bmpi-dev/auth/pkg/invitation"
	"github.com/bmpi-dev/auth/pkg/member"
)

// ReadyPayload is the READY payload: empty, it only announces that the
// sender's transport is up.
type ReadyPayload struct{}

// HelloPayload is the HELLO payload. ProofOfInvitation is present only on
// the first HELLO sent by an unjoined invitee (Specification Section 3,
// invariant 5); once team is populated, later HELLOs omit it.
type HelloPayload struct {
	IdentityClaim     member.Claim                   `json:"identityClaim"`
	ProofOfInvitation *invitation.ProofOfInvitation `json:"proofOfInvitation,omitempty"`
}

// AcceptInvitationPayload is the ACCEPT_INVITATION payload: the inviter's
// full chain blob, as produced by chain.Chain.Save.
type AcceptInvitationPayload struct {
	Chain []byte `json:"chain"`
}

// ChallengeIdentityPayload is the CHALLENGE_IDENTITY payload.
type ChallengeIdentityPayload struct {
	Challenge identity.Challenge `json:"challenge"`
}

// ProveIdentityPayload is the PROVE_IDENTITY payload: the challenge being
// answered and the signature over it. Challenge is carried again here
// (rather than looked up by some correlation id) since the protocol is
// otherwise stateless between messages.
type ProveIdentityPayload struct {
	Challenge identity.Challenge `json:"challenge"`
	Proof     []byte             `json:"proof"`
}

// AcceptIdentityPayload is the ACCEPT_IDENTITY payload: empty.
type AcceptIdentityPayload struct{}

// UpdatePayload is the UPDATE payload: a summary of the sender's current
// chain, used by the recipient to compute what it's missing.
type UpdatePayload struct {
	Root   chain.Hash   `json:"root"`
	Head   chain.Hash   `json:"head"`
	Hashes []chain.Hash `json:"hashes"`
}

// MissingLinksPayload is the MISSING_LINKS payload: the sender's head at
// send time, plus any links the recipient's UPDATE indicated it lacked.
type MissingLinksPayload struct {
	Head  chain.Hash    `json:"head"`
	Links []*chain.Link `json:"links"`
}

// LocalUpdatePayload is injected by the connection driver into its own FSM
// when the local team replica changes; it never reaches the wire.
type LocalUpdatePayload struct {
	Head chain.Hash `json:"head"`
}

// SeedPayload is the SEED payload: the sender's key-agreement seed,
// box-encrypted to the recipient's encryption key and authenticated by the
// sender's encryption secret key (no separate signature).
type SeedPayload struct {
	EncryptedSeed []byte `json:"encryptedSeed"`
}

// EncryptedMessagePayload is the ENCRYPTED_MESSAGE payload: an application
// payload, symmetric-encrypted under the session key.
type EncryptedMessagePayload struct {
	Payload []byte `json:"payload"`
}

// DisconnectPayload is the DISCONNECT payload: empty.
type DisconnectPayload struct{}

// ErrorPayload is the ERROR payload, matching Specification Section 7's
// taxonomy: Message is one of the named error codes, Details is optional
// human-readable context.
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ReconnectPayload is injected locally to restart a stopped FSM; it never
// reaches the wire.
type ReconnectPayload struct{}

// Decode unmarshals e.Payload into out, a pointer to one of the payload
// types above. Callers are expected to already know out's type from
// e.Type.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

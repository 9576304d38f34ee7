// Package message implements Specification Section 4.G: the tagged-union
// wire message set exchanged by two connection peers, and its JSON codec.
// Every outbound message except the two purely-local kinds (LOCAL_UPDATE,
// RECONNECT) carries a strictly increasing index, assigned by the sender at
// serialization (Specification Section 6).
package message

import (
	"encoding/json"
	"errors"
)

// Kind discriminates the payload carried by an Envelope.
type Kind string

// The full wire message set (Specification Section 4.G).
const (
	KindReady             Kind = "READY"
	KindHello             Kind = "HELLO"
	KindAcceptInvitation  Kind = "ACCEPT_INVITATION"
	KindChallengeIdentity Kind = "CHALLENGE_IDENTITY"
	KindProveIdentity     Kind = "PROVE_IDENTITY"
	KindAcceptIdentity    Kind = "ACCEPT_IDENTITY"
	KindUpdate            Kind = "UPDATE"
	KindMissingLinks      Kind = "MISSING_LINKS"
	KindLocalUpdate       Kind = "LOCAL_UPDATE" // internal; never serialized to the wire
	KindSeed              Kind = "SEED"
	KindEncryptedMessage  Kind = "ENCRYPTED_MESSAGE"
	KindDisconnect        Kind = "DISCONNECT"
	KindError             Kind = "ERROR"
	KindReconnect         Kind = "RECONNECT" // internal; never serialized to the wire
)

// ErrNotIndexed reports that a message kind is purely local and carries no
// wire index. Encode does not return it: for such kinds it omits the index.
var ErrNotIndexed = errors.New("message: kind does not carry a wire index")

// internal reports whether k is never sent over the wire.
func (k Kind) internal() bool {
	return k == KindLocalUpdate || k == KindReconnect
}

// Envelope is one message as it travels the wire: a type tag, an optional
// strictly-increasing index (absent for internal kinds), and the
// type-specific payload as raw JSON.
type Envelope struct {
	Type    Kind            `json:"type"`
	Index   *int64          `json:"index,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals kind/payload into an Envelope's wire bytes, stamping index
// unless kind is internal-only (in which case index is ignored and the
// field omitted).
func Encode(kind Kind, index int64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{Type: kind, Payload: raw}
	if !kind.internal() {
		env.Index = &index
	}
	return json.Marshal(env)
}

// Decode parses raw wire bytes into an Envelope without interpreting its
// payload; callers dispatch on Type and call Envelope.Decode with the
// matching payload type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

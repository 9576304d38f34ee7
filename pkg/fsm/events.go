package fsm

import (
	"github.com/bmpi-dev/auth/pkg/chain"
	"github.com/bmpi-dev/auth/pkg/message"
)

// Outbound is a message an action wants sent to the peer. The machine never
// assigns indices or serializes; that is the connection driver's job
// (Specification Section 4.F owns the outbound index counter).
type Outbound struct {
	Kind    message.Kind
	Payload any
}

// EventKind discriminates the lifecycle events a Step can produce
// (Specification Section 4.F observables).
type EventKind int

const (
	EventConnected EventKind = iota
	EventJoined
	EventUpdated
	EventDisconnected
	EventMessage
)

// Event is one lifecycle notification the host should be told about.
type Event struct {
	Kind EventKind

	// Team is set on EventJoined: the newly-joined team replica.
	Team *chain.Chain
	// Reason is set on EventDisconnected.
	Reason string
	// Message is set on EventMessage: the decrypted application payload.
	Message []byte
}

// StepResult is everything a single Step call produced: messages to send
// and lifecycle events to notify the host of.
type StepResult struct {
	Outbound []Outbound
	Events   []Event
}

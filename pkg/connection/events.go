package connection

import (
	"github.com/bmpi-dev/auth/pkg/chain"
	"github.com/bmpi-dev/auth/pkg/fsm"
)

// EventKind re-exports fsm.EventKind so callers need not import pkg/fsm for
// the common case of just watching Events.
type EventKind = fsm.EventKind

// Event is one lifecycle notification surfaced to the host, carrying the
// phase the machine was in immediately after producing it. This is the
// typed observer registry Specification Section 9 calls for in place of a
// generic EventEmitter: one channel (Connection.Events), ranged over for
// every kind, rather than a callback registered per event name.
type Event struct {
	Kind    EventKind
	Phase   fsm.Phase
	Team    *chain.Chain
	Reason  string
	Message []byte
}

// Summary is a read-only snapshot of a Connection's observable state,
// mirroring Commissioner.State()/CurrentDevice()'s read-accessor pattern: a
// single call a host can poll instead of reconstructing state by replaying
// the event stream.
type Summary struct {
	Phase              fsm.Phase
	Peer               *chain.Peer
	SessionEstablished bool
	LastError          *fsm.ErrorInfo
}

// Summary returns a point-in-time snapshot of the connection's state.
func (c *Connection) Summary() Summary {
	ctx := c.Context()
	return Summary{
		Phase:              c.Phase(),
		Peer:               ctx.Peer,
		SessionEstablished: ctx.SessionKey != nil,
		LastError:          ctx.Error,
	}
}

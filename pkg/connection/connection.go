// Package connection implements Specification Section 4.F: the driver that
// owns a pkg/fsm.Machine's wiring to a real transport. It assigns the
// outbound message index, reassembles the inbound stream into order
// through pkg/buffer, forwards local team mutations into the machine as
// LOCAL_UPDATE, enforces the handshake and sync timeouts, and republishes
// the machine's lifecycle events on a channel the host can range over.
//
// The machine itself (pkg/fsm) never touches a transport or an index
// counter; this package is the only thing that does.
package connection

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"

	"github.com/bmpi-dev/auth/pkg/buffer"
	"github.com/bmpi-dev/auth/pkg/chain"
	"github.com/bmpi-dev/auth/pkg/fsm"
	"github.com/bmpi-dev/auth/pkg/member"
	"github.com/bmpi-dev/auth/pkg/message"
)

// DefaultHandshakeTimeout bounds how long PhaseConnecting may run before the
// connection fails with TIMEOUT.
const DefaultHandshakeTimeout = 30 * time.Second

// DefaultSyncTimeout bounds how long a single PhaseSynchronizing round may
// run, counted from each entry into synchronizing.
const DefaultSyncTimeout = 60 * time.Second

// Errors returned directly by Connection's own methods, as opposed to wire
// error codes carried in an ERROR message.
var (
	ErrNotConnected   = errors.New("connection: not in the connected phase")
	ErrAlreadyStarted = errors.New("connection: already started")
)

// Transport is the duplex conduit a Connection drives the protocol over.
// Each Write must carry exactly one encoded message.Envelope and each Read
// must return exactly one, the same message-oriented semantics
// internal/pipe's in-memory bridge provides — Connection does no framing
// of its own.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Config configures a Connection. Exactly one of (User, Team) or (Invitee,
// InvitationSeed) should be set, mirroring fsm.Config's invariant.
type Config struct {
	Device fsm.LocalDevice

	User *fsm.LocalUser
	Team *chain.Chain

	Invitee        *member.Invitee
	InvitationSeed string

	Transport Transport

	// HandshakeTimeout bounds PhaseConnecting. Defaults to
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// SyncTimeout bounds one PhaseSynchronizing round. Defaults to
	// DefaultSyncTimeout.
	SyncTimeout time.Duration

	// LoggerFactory builds this connection's logger. Defaults to
	// logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

// Connection drives one fsm.Machine over a Transport.
type Connection struct {
	mu sync.Mutex

	machine   *fsm.Machine
	transport Transport
	log       logging.LeveledLogger

	outIndex int64
	inbox    *buffer.Buffer

	handshakeTimeout time.Duration
	syncTimeout      time.Duration
	handshakeTimer   *time.Timer
	syncTimer        *time.Timer

	unsubscribeTeam func()

	events  chan Event
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New constructs a Connection. The machine does not start running until
// Start is called.
func New(cfg Config) *Connection {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Connection{
		machine: fsm.New(fsm.Config{
			Device:         cfg.Device,
			User:           cfg.User,
			Team:           cfg.Team,
			Invitee:        cfg.Invitee,
			InvitationSeed: cfg.InvitationSeed,
		}),
		transport:        cfg.Transport,
		log:              loggerFactory.NewLogger("connection"),
		inbox:            buffer.New(),
		handshakeTimeout: cfg.HandshakeTimeout,
		syncTimeout:      cfg.SyncTimeout,
		events:           make(chan Event, 32),
	}
}

// Events returns the channel of lifecycle notifications. It is closed once
// Stop has finished tearing the connection down.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Phase returns the underlying machine's current phase.
func (c *Connection) Phase() fsm.Phase {
	return c.machine.Phase()
}

// Context returns a copy of the underlying machine's context.
func (c *Connection) Context() fsm.Context {
	return c.machine.Context()
}

// Start begins the connection: it feeds READY (or, if storedMessages is
// non-nil, RECONNECT) into its own machine, which answers with HELLO, starts
// the background read loop, and then replays storedMessages through the
// inbound buffer. No READY message is sent to the peer. storedMessages lets a
// host that tore down a Connection mid-handshake and is now retrying hand
// back whatever raw messages it had already received but not yet
// delivered.
func (c *Connection) Start(storedMessages [][]byte) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	reconnecting := storedMessages != nil
	c.mu.Unlock()

	if reconnecting {
		c.step(message.Envelope{Type: message.KindReconnect})
	} else {
		c.step(message.Envelope{Type: message.KindReady})
	}
	c.resetHandshakeTimer()

	c.wg.Add(1)
	go c.readLoop()

	for _, raw := range storedMessages {
		c.deliverRaw(raw)
	}
	return nil
}

// Stop idempotently tears the connection down: it cancels outstanding
// timers, unsubscribes from team updates, closes the transport (unblocking
// the read loop), waits for that loop to exit, and closes Events.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	if c.syncTimer != nil {
		c.syncTimer.Stop()
	}
	if c.unsubscribeTeam != nil {
		c.unsubscribeTeam()
		c.unsubscribeTeam = nil
	}
	c.mu.Unlock()

	var closeErr error
	if c.transport != nil {
		closeErr = c.transport.Close()
	}
	c.wg.Wait()
	close(c.events)
	return closeErr
}

// Send encrypts plaintext under the established session key and sends it
// as an ENCRYPTED_MESSAGE. Only valid once Phase is PhaseConnected.
func (c *Connection) Send(plaintext []byte) error {
	c.mu.Lock()
	if c.machine.Phase() != fsm.PhaseConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ctx := c.machine.Context()
	ciphertext := authcrypto.SecretEncrypt(plaintext, *ctx.SessionKey)
	raw, err := c.encodeLocked(message.KindEncryptedMessage, message.EncryptedMessagePayload{Payload: ciphertext})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = c.transport.Write(raw)
	return err
}

// Disconnect tells the peer we're leaving, then tears the connection down
// locally. Unlike handleDisconnect (the receiving side's transition), a
// self-initiated disconnect doesn't need the machine's involvement: there
// is nothing further it could usefully do with the connection once we've
// stopped driving it.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	raw, err := c.encodeLocked(message.KindDisconnect, message.DisconnectPayload{})
	c.mu.Unlock()
	if err == nil && c.transport != nil {
		_, _ = c.transport.Write(raw)
	}
	return c.Stop()
}

// encodeLocked assigns the next outbound index and encodes kind/payload.
// Callers must hold c.mu.
func (c *Connection) encodeLocked(kind message.Kind, payload any) ([]byte, error) {
	idx := c.outIndex
	c.outIndex++
	return message.Encode(kind, idx, payload)
}

// indexedEnvelope adapts a decoded message.Envelope to buffer.Indexed:
// Envelope.Index is a nilable *int64 (nil only for the two internal-only
// kinds, which never arrive over a real Transport and so never reach this
// adapter), while Buffer wants a plain uint64.
type indexedEnvelope struct {
	env message.Envelope
}

func (e indexedEnvelope) Index() uint64 {
	if e.env.Index == nil {
		return 0
	}
	return uint64(*e.env.Index)
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.transport.Read(buf)
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			if !stopped {
				c.log.Warnf("transport closed: %v", err)
			}
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		c.deliverRaw(raw)
	}
}

func (c *Connection) deliverRaw(raw []byte) {
	env, err := message.Decode(raw)
	if err != nil {
		c.log.Warnf("discarding undecodable message: %v", err)
		return
	}
	for _, ready := range c.inbox.Deliver(indexedEnvelope{env}) {
		c.step(ready.(indexedEnvelope).env)
	}
}

// step feeds one envelope into the machine, assigns indices to and sends
// whatever it produced, republishes its events, and reacts to any phase
// transition (subscribing to team updates on entering synchronizing,
// cancelling timers on reaching a terminal phase).
func (c *Connection) step(env message.Envelope) {
	c.mu.Lock()
	prevPhase := c.machine.Phase()
	res, err := c.machine.Step(env)
	if err != nil {
		c.mu.Unlock()
		if err != fsm.ErrTerminal {
			c.log.Warnf("step(%s) rejected: %v", env.Type, err)
		}
		return
	}

	var toSend [][]byte
	for _, ob := range res.Outbound {
		raw, encErr := c.encodeLocked(ob.Kind, ob.Payload)
		if encErr != nil {
			c.log.Errorf("encode %s: %v", ob.Kind, encErr)
			continue
		}
		toSend = append(toSend, raw)
	}
	newPhase := c.machine.Phase()
	c.mu.Unlock()

	for _, raw := range toSend {
		if _, err := c.transport.Write(raw); err != nil {
			c.log.Warnf("transport write error: %v", err)
			break
		}
	}
	for _, ev := range res.Events {
		c.emit(ev, newPhase)
	}

	if prevPhase != fsm.PhaseSynchronizing && newPhase == fsm.PhaseSynchronizing {
		c.onEnterSynchronizing()
	}
	switch newPhase {
	case fsm.PhaseConnected:
		c.stopTimers()
	case fsm.PhaseFailure, fsm.PhaseDisconnected:
		c.stopTimers()
		c.mu.Lock()
		if c.unsubscribeTeam != nil {
			c.unsubscribeTeam()
			c.unsubscribeTeam = nil
		}
		c.mu.Unlock()
	}
}

func (c *Connection) emit(ev fsm.Event, phase fsm.Phase) {
	c.events <- Event{Kind: ev.Kind, Phase: phase, Team: ev.Team, Reason: ev.Reason, Message: ev.Message}
}

// onEnterSynchronizing is synchronizing's companion entry action to
// sendUpdate (which the machine already emitted as an outbound UPDATE):
// listenForTeamUpdates, run here because subscribing to a team replica is a
// driver-level side effect, not something the machine can do on its own
// (Specification Section 9). The callback hops onto its own goroutine
// before calling back into step, since notifyUpdated may itself be called
// from inside a step already holding c.mu (e.g. MISSING_LINKS applying new
// links to our own replica).
//
// This also runs when a connected Connection re-enters synchronizing for a
// post-connection team update: the subscription from the first entry is
// still live (it is dropped only by Stop or on reaching a terminal phase),
// so only the sync timer needs resetting on that path.
func (c *Connection) onEnterSynchronizing() {
	c.mu.Lock()
	team := c.machine.Context().Team
	if team != nil && c.unsubscribeTeam == nil {
		c.wg.Add(1)
		c.unsubscribeTeam = team.OnUpdate(func() {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.step(message.Envelope{Type: message.KindLocalUpdate})
			}()
		})
		c.wg.Done()
	}
	c.mu.Unlock()

	c.resetSyncTimer()
}

func (c *Connection) resetHandshakeTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	c.handshakeTimer = time.AfterFunc(c.handshakeTimeout, c.onTimeout)
}

func (c *Connection) resetSyncTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.syncTimer != nil {
		c.syncTimer.Stop()
	}
	c.syncTimer = time.AfterFunc(c.syncTimeout, c.onTimeout)
}

func (c *Connection) stopTimers() {
	c.mu.Lock()
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	if c.syncTimer != nil {
		c.syncTimer.Stop()
	}
	c.mu.Unlock()
}

// onTimeout fires FailTimeout directly rather than going through step's
// Step dispatch, since FailTimeout is not a message the peer sent us.
func (c *Connection) onTimeout() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	res := c.machine.FailTimeout()
	var toSend [][]byte
	for _, ob := range res.Outbound {
		raw, err := c.encodeLocked(ob.Kind, ob.Payload)
		if err == nil {
			toSend = append(toSend, raw)
		}
	}
	newPhase := c.machine.Phase()
	c.mu.Unlock()

	for _, raw := range toSend {
		// Best-effort: the peer may already be gone, which is exactly why
		// we timed out.
		_, _ = c.transport.Write(raw)
	}
	for _, ev := range res.Events {
		c.emit(ev, newPhase)
	}
	c.stopTimers()
}

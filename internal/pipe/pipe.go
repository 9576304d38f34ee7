// Package pipe provides an in-memory, message-preserving duplex transport
// for connection tests and the demo, adapted from the teacher stack's
// virtual-network pipe: two net.Conn endpoints bridged entirely in process,
// with no real socket or serialization involved.
package pipe

import (
	"sync"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/bmpi-dev/auth/pkg/connection"
)

// DefaultTickInterval is how often a Pipe's background goroutine pumps
// queued writes across the bridge.
const DefaultTickInterval = time.Millisecond

// Pipe is a bidirectional in-memory conduit between two endpoints, each
// exposed as a connection.Transport. Every Write on one side is delivered
// whole to a single Read on the other, matching test.Bridge's
// packet-preserving semantics.
type Pipe struct {
	bridge *test.Bridge

	mu      sync.Mutex
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	ticking bool
}

// New creates a Pipe with its background pump already running.
func New() *Pipe {
	p := &Pipe{bridge: test.NewBridge(), stopCh: make(chan struct{})}
	p.startPump()
	return p
}

func (p *Pipe) startPump() {
	p.ticking = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(DefaultTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Ends returns the two sides of the pipe as connection.Transport values,
// ready to hand to connection.Config.Transport.
func (p *Pipe) Ends() (a, b connection.Transport) {
	return p.bridge.GetConn0(), p.bridge.GetConn1()
}

// Close stops the pump and closes both underlying connections.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.ticking {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

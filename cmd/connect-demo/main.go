// Command connect-demo wires two in-memory peers through internal/pipe and
// drives them through the full connection handshake: a founding member
// (alice) and a newcomer (bob) who joins using an invitation seed typed in
// out of band. It prints each side's lifecycle events as they occur and,
// once both reach PhaseConnected, exchanges one application message over
// the resulting session key.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/pion/logging"

	"github.com/bmpi-dev/auth/internal/pipe"
	"github.com/bmpi-dev/auth/pkg/chain"
	"github.com/bmpi-dev/auth/pkg/connection"
	authcrypto "github.com/bmpi-dev/auth/pkg/crypto"
	"github.com/bmpi-dev/auth/pkg/fsm"
	"github.com/bmpi-dev/auth/pkg/member"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	aliceSigning, err := authcrypto.NewSigningKeyPair()
	if err != nil {
		return err
	}
	aliceEnc, err := authcrypto.NewEncryptionKeyPair()
	if err != nil {
		return err
	}
	aliceChain, err := chain.New("acme", "alice", "laptop", aliceSigning, aliceEnc)
	if err != nil {
		return err
	}
	aliceDevice := fsm.LocalDevice{DeviceName: "laptop", Signing: aliceSigning, Encryption: aliceEnc}

	const seed = "correct horse battery staple"
	invitee := member.Invitee{Kind: member.KindMember, Name: "bob"}
	if _, err := aliceChain.Invite(invitee, seed); err != nil {
		return err
	}

	bobSigning, err := authcrypto.NewSigningKeyPair()
	if err != nil {
		return err
	}
	bobEnc, err := authcrypto.NewEncryptionKeyPair()
	if err != nil {
		return err
	}
	bobDevice := fsm.LocalDevice{DeviceName: "phone", Signing: bobSigning, Encryption: bobEnc}

	loggerFactory := logging.NewDefaultLoggerFactory()
	p := pipe.New()
	defer p.Close()
	aliceTransport, bobTransport := p.Ends()

	alice := connection.New(connection.Config{
		Device:        aliceDevice,
		User:          &fsm.LocalUser{UserName: "alice"},
		Team:          aliceChain,
		Transport:     aliceTransport,
		LoggerFactory: loggerFactory,
	})
	bob := connection.New(connection.Config{
		Device:         bobDevice,
		Invitee:        &invitee,
		InvitationSeed: seed,
		Transport:      bobTransport,
		LoggerFactory:  loggerFactory,
	})
	defer alice.Stop()
	defer bob.Stop()

	go printEvents("alice", alice)
	go printEvents("bob", bob)

	if err := alice.Start(nil); err != nil {
		return err
	}
	if err := bob.Start(nil); err != nil {
		return err
	}

	if !waitConnected(alice) || !waitConnected(bob) {
		return fmt.Errorf("connection did not reach connected state")
	}

	if err := alice.Send([]byte("welcome to the team")); err != nil {
		return err
	}

	time.Sleep(200 * time.Millisecond)
	return nil
}

func printEvents(label string, conn *connection.Connection) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case fsm.EventJoined:
			fmt.Printf("[%s] joined team\n", label)
		case fsm.EventConnected:
			fmt.Printf("[%s] connected\n", label)
		case fsm.EventMessage:
			fmt.Printf("[%s] received message: %s\n", label, ev.Message)
		case fsm.EventDisconnected:
			fmt.Printf("[%s] disconnected: %s\n", label, ev.Reason)
		}
	}
}

func waitConnected(conn *connection.Connection) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Phase() == fsm.PhaseConnected {
			return true
		}
		if conn.Phase() == fsm.PhaseFailure {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

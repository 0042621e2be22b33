package orchestrator

import (
	"sync"

	"github.com/metanode/chaincore/pkg/ibft"
)

// Envelope carries exactly one IBFT message plus the authenticated
// sender identity the transport layer attached to it. The core never
// trusts a sender index embedded in the message itself — it trusts
// only what the transport asserts, matching the external-interfaces
// contract that treats transport as an unreliable, separately
// authenticated channel.
type Envelope struct {
	SenderIndex int
	PrePrepare  *ibft.PrePrepare
	Prepare     *ibft.Prepare
	Commit      *ibft.Commit
}

// Transport is the pluggable boundary between the consensus core and
// whatever carries messages between validators. The core only ever
// broadcasts and receives through this interface; how an Envelope
// reaches other validators (HTTP, gossip, a test loopback) is a
// deployment concern outside this module's scope.
type Transport interface {
	Broadcast(Envelope) error
	Inbound() <-chan Envelope
	Close() error
}

// LoopbackTransport is a single-process reference Transport: every
// broadcast is delivered back to its own inbound channel, tagged with
// selfIndex. It is what a single-validator devnet runs on, and what
// this package's tests drive the orchestrator with, standing in for
// the HTTP peer-to-peer transport a multi-validator deployment would
// supply instead.
type LoopbackTransport struct {
	selfIndex int

	mu     sync.Mutex
	closed bool
	inbox  chan Envelope
}

// NewLoopbackTransport builds a transport that echoes every broadcast
// back to the same process as selfIndex.
func NewLoopbackTransport(selfIndex int) *LoopbackTransport {
	return &LoopbackTransport{selfIndex: selfIndex, inbox: make(chan Envelope, 256)}
}

func (t *LoopbackTransport) Broadcast(env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	env.SenderIndex = t.selfIndex
	t.inbox <- env
	return nil
}

func (t *LoopbackTransport) Inbound() <-chan Envelope { return t.inbox }

func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.inbox)
	return nil
}
